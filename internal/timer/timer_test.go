package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)}
}

func TestTimer_ElapsedStartsAtZero(t *testing.T) {
	clk := newClock()
	tm := New("record", nil, WithClock(clk.Now))
	if tm.Elapsed() != 0 {
		t.Fatalf("expected zero before start")
	}
	tm.Start()
	defer tm.Reset()
	if tm.Elapsed() != 0 {
		t.Fatalf("expected zero right after start, got %v", tm.Elapsed())
	}
	clk.Advance(5 * time.Second)
	if tm.Seconds() != 5 {
		t.Fatalf("expected 5s, got %d", tm.Seconds())
	}
}

func TestTimer_StopPreservesFinalElapsed(t *testing.T) {
	clk := newClock()
	tm := New("call", nil, WithClock(clk.Now))
	tm.Start()
	clk.Advance(42 * time.Second)
	tm.Stop()
	clk.Advance(time.Minute)

	if tm.Running() {
		t.Fatalf("expected timer stopped")
	}
	if !tm.Started() {
		t.Fatalf("stop must keep the start time")
	}
	if tm.Seconds() != 42 {
		t.Fatalf("expected frozen 42s, got %d", tm.Seconds())
	}

	tm.Reset()
	if tm.Started() || tm.Elapsed() != 0 {
		t.Fatalf("expected reset to clear start time")
	}
}

func TestTimer_ResumeKeepsOriginalStart(t *testing.T) {
	clk := newClock()
	tm := New("record", nil, WithClock(clk.Now))
	tm.Resume()
	if tm.Running() {
		t.Fatalf("resume without start must be a no-op")
	}

	tm.Start()
	clk.Advance(30 * time.Second)
	tm.Stop()
	clk.Advance(5 * time.Second)
	tm.Resume()
	defer tm.Reset()

	if !tm.Running() || tm.Seconds() != 35 {
		t.Fatalf("expected running timer at 35s, got running=%v %ds", tm.Running(), tm.Seconds())
	}
}

func TestTimer_InstancesAreIndependent(t *testing.T) {
	clk := newClock()
	call := New("call", nil, WithClock(clk.Now))
	record := New("record", nil, WithClock(clk.Now))
	record.Start()
	call.Start()
	defer record.Reset()

	clk.Advance(10 * time.Second)
	call.Stop()
	clk.Advance(10 * time.Second)

	if !record.Running() {
		t.Fatalf("stopping call timer must not stop record timer")
	}
	if call.Seconds() != 10 || record.Seconds() != 20 {
		t.Fatalf("unexpected elapsed call=%d record=%d", call.Seconds(), record.Seconds())
	}
}

func TestTimer_TicksReportElapsed(t *testing.T) {
	ticks := make(chan time.Duration, 16)
	tm := New("call", func(name string, d time.Duration) {
		if name != "call" {
			t.Errorf("unexpected timer name %q", name)
		}
		select {
		case ticks <- d:
		default:
		}
	}, WithInterval(10*time.Millisecond))

	tm.Start()
	defer tm.Stop()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("expected at least one tick")
	}
}

func TestTimer_NoTicksAfterStop(t *testing.T) {
	var mu sync.Mutex
	count := 0
	tm := New("call", func(string, time.Duration) {
		mu.Lock()
		count++
		mu.Unlock()
	}, WithInterval(5*time.Millisecond))

	tm.Start()
	time.Sleep(30 * time.Millisecond)
	tm.Stop()

	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// One in-flight callback may still land right after Stop.
	if count > after+1 {
		t.Fatalf("expected ticks to stop, before=%d after=%d", after, count)
	}
}

func TestFormat(t *testing.T) {
	cases := map[int]string{
		0:      "0:00",
		5:      "0:05",
		59:     "0:59",
		60:     "1:00",
		754:    "12:34",
		3599:   "59:59",
		3600:   "1:00:00",
		3725:   "1:02:05",
		359999: "99:59:59",
	}
	for secs, want := range cases {
		if got := FormatSeconds(secs); got != want {
			t.Fatalf("FormatSeconds(%d) = %q, want %q", secs, got, want)
		}
	}
	if got := Format(90*time.Second + 900*time.Millisecond); got != "1:30" {
		t.Fatalf("expected truncation to 1:30, got %q", got)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "5", "1:5", "0:60", "60:00", "0:00:10", "a:bc", "1:-1"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 1000
	properties := gopter.NewProperties(parameters)

	properties.Property("parse(format(n)) == n", prop.ForAll(
		func(n int) bool {
			got, err := Parse(FormatSeconds(n))
			return err == nil && got == n
		},
		gen.IntRange(0, 359999),
	))

	properties.TestingRun(t)
}
