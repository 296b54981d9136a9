package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agent-console/internal/calls"
	"agent-console/internal/fault"
	"agent-console/internal/telephony"
	"agent-console/internal/timer"
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

type fakeTransport struct {
	mu       sync.Mutex
	placeErr error
	endErr   error
	ends     int
	dropped  chan struct{}
	block    chan struct{}
}

func (f *fakeTransport) Name() string                { return "fake" }
func (f *fakeTransport) Supports(calls.Contact) bool { return true }

func (f *fakeTransport) Place(_ context.Context, c calls.Contact) (telephony.Placement, error) {
	if f.block != nil {
		<-f.block
	}
	if f.placeErr != nil {
		return telephony.Placement{}, f.placeErr
	}
	return telephony.Placement{CallID: "call-" + c.ID, TransportSessionID: "sid-1", Transport: "fake", Dropped: f.dropped}, nil
}

func (f *fakeTransport) End(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return f.endErr
}

func (f *fakeTransport) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends
}

type fixedPicker struct{ t telephony.Transport }

func (p fixedPicker) Select(calls.Contact) (telephony.Transport, error) { return p.t, nil }

var contact = calls.Contact{ID: "c1", Name: "Jana", Phone: "+420111"}

func newSession(tr *fakeTransport, clk *fakeClock, opts Options) (*Session, *timer.Timer, *timer.Timer) {
	callT := timer.New("call", nil, timer.WithClock(clk.Now))
	recordT := timer.New("record", nil, timer.WithClock(clk.Now))
	recordT.Start()
	return New(contact, fixedPicker{tr}, callT, recordT, opts), callT, recordT
}

func TestSession_DialActivatesAndStartsCallTimer(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)}
	s, callT, recordT := newSession(&fakeTransport{}, clk, Options{})
	defer recordT.Reset()
	defer callT.Reset()

	if c := s.Controls(); !c.CanDial || c.CanEnd || c.CanClassify {
		t.Fatalf("unexpected idle controls %+v", c)
	}
	if err := s.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if s.State() != Active || s.CallID() != "call-c1" {
		t.Fatalf("expected active call, got %s %q", s.State(), s.CallID())
	}
	if callT.Seconds() != 0 || !callT.Running() {
		t.Fatalf("expected call timer running from 0")
	}
	clk.Advance(3 * time.Second)
	if callT.Seconds() != 3 {
		t.Fatalf("expected call timer to advance, got %d", callT.Seconds())
	}
	if c := s.Controls(); c.CanDial || !c.CanEnd || c.CanClassify {
		t.Fatalf("classification must be disabled while active: %+v", c)
	}
	if err := s.Dial(context.Background()); !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected double dial to be refused, got %v", err)
	}
}

func TestSession_DialFailureRevertsToIdle(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	tr := &fakeTransport{placeErr: errors.New("provider rejected")}
	s, _, recordT := newSession(tr, clk, Options{})
	defer recordT.Reset()

	err := s.Dial(context.Background())
	if !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if s.State() != Idle || s.Busy() {
		t.Fatalf("expected idle after failed dial, got %s", s.State())
	}

	tr.placeErr = nil
	if err := s.Dial(context.Background()); err != nil {
		t.Fatalf("retry should be allowed: %v", err)
	}
}

func TestSession_EndStopsCallTimerOnly(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	tr := &fakeTransport{}
	s, callT, recordT := newSession(tr, clk, Options{})
	defer recordT.Reset()

	_ = s.Dial(context.Background())
	clk.Advance(20 * time.Second)
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	clk.Advance(10 * time.Second)

	if s.State() != Ended || callT.Running() || callT.Seconds() != 20 {
		t.Fatalf("expected ended call frozen at 20s, state=%s running=%v %ds", s.State(), callT.Running(), callT.Seconds())
	}
	if !recordT.Running() {
		t.Fatalf("record timer must keep running after the call ends")
	}
	if c := s.Controls(); !c.CanClassify || c.CanEnd || c.CanDial {
		t.Fatalf("expected classification enabled, got %+v", c)
	}
}

func TestSession_EndIsIdempotent(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	tr := &fakeTransport{}
	s, _, recordT := newSession(tr, clk, Options{})
	defer recordT.Reset()

	_ = s.Dial(context.Background())
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if tr.endCount() != 1 || s.State() != Ended {
		t.Fatalf("expected a single hangup, got %d", tr.endCount())
	}
}

func TestSession_EndWithoutCallIsPrecondition(t *testing.T) {
	s, _, recordT := newSession(&fakeTransport{}, &fakeClock{t: time.Now()}, Options{})
	defer recordT.Reset()
	if err := s.End(context.Background()); !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestSession_HangupFailureStillEnds(t *testing.T) {
	var reported error
	tr := &fakeTransport{endErr: errors.New("hangup lost")}
	s, _, recordT := newSession(tr, &fakeClock{t: time.Now()}, Options{OnEndFailed: func(err error) { reported = err }})
	defer recordT.Reset()

	_ = s.Dial(context.Background())
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("end must swallow transport errors, got %v", err)
	}
	if s.State() != Ended || reported == nil {
		t.Fatalf("expected ended state and reported failure, state=%s err=%v", s.State(), reported)
	}
}

func TestSession_DroppedTransportEndsCall(t *testing.T) {
	dropped := make(chan struct{})
	fired := make(chan struct{})
	tr := &fakeTransport{dropped: dropped}
	s, _, recordT := newSession(tr, &fakeClock{t: time.Now()}, Options{OnDropped: func() { close(fired) }})
	defer recordT.Reset()

	_ = s.Dial(context.Background())
	close(dropped)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected drop callback")
	}
	if s.State() != Ended || tr.endCount() != 1 {
		t.Fatalf("expected implicit end, state=%s ends=%d", s.State(), tr.endCount())
	}
}

func TestSession_OutcomeRequiresEndedCall(t *testing.T) {
	s, _, recordT := newSession(&fakeTransport{}, &fakeClock{t: time.Now()}, Options{})
	defer recordT.Reset()

	if _, err := s.Outcome(calls.OutcomeLead, "", nil, ""); !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected precondition without call id, got %v", err)
	}
	_ = s.Dial(context.Background())
	if _, err := s.Outcome(calls.OutcomeLead, "", nil, ""); !errors.Is(err, ErrNotEnded) {
		t.Fatalf("expected classification refused while active, got %v", err)
	}
}

func TestSession_OutcomeFreezesTimers(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	s, callT, recordT := newSession(&fakeTransport{}, clk, Options{})

	clk.Advance(5 * time.Second) // contact shown, agent reads
	_ = s.Dial(context.Background())
	clk.Advance(42 * time.Second)
	_ = s.End(context.Background())
	clk.Advance(8 * time.Second)

	out, err := s.Outcome(calls.OutcomeLead, "interested", nil, "Europe/Prague")
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if callT.Running() || recordT.Running() {
		t.Fatalf("expected both timers stopped")
	}
	if out.CallDurationSeconds != 42 || out.RecordDurationSeconds != 55 {
		t.Fatalf("unexpected durations %+v", out)
	}
	if out.Timezone != "" {
		t.Fatalf("timezone only travels with a callback date")
	}

	s.Reopen()
	defer recordT.Reset()
	if !recordT.Running() {
		t.Fatalf("expected record timer resumed")
	}
}

func TestSession_CloseWhileDialingHangsUp(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	s, _, recordT := newSession(tr, &fakeClock{t: time.Now()}, Options{})
	defer recordT.Reset()

	done := make(chan error, 1)
	go func() { done <- s.Dial(context.Background()) }()
	for s.State() != Dialing {
		time.Sleep(time.Millisecond)
	}
	s.Close(context.Background())
	close(tr.block)

	if err := <-done; err != nil {
		t.Fatalf("dial: %v", err)
	}
	if s.State() != Ended || tr.endCount() != 1 {
		t.Fatalf("expected immediate hangup, state=%s ends=%d", s.State(), tr.endCount())
	}
}

func TestSession_DialingNeverEnds(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)}
	tr := &fakeTransport{block: make(chan struct{}), placeErr: errors.New("no answer from provider")}
	s, callT, recordT := newSession(tr, clk, Options{})
	defer recordT.Reset()

	done := make(chan error, 1)
	go func() { done <- s.Dial(context.Background()) }()
	for s.State() != Dialing {
		time.Sleep(time.Millisecond)
	}
	if c := s.Controls(); c.CanDial || c.CanEnd || c.CanClassify {
		t.Fatalf("every control must be disabled while dialing: %+v", c)
	}
	if err := s.End(context.Background()); !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected end to be refused while dialing, got %v", err)
	}
	if _, err := s.Outcome(calls.OutcomeNoAnswer, "", nil, ""); !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected outcome to be refused while dialing, got %v", err)
	}

	clk.Advance(4 * time.Second)
	close(tr.block)
	if err := <-done; !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if s.State() != Idle || tr.endCount() != 0 {
		t.Fatalf("expected idle without hangup, state=%s ends=%d", s.State(), tr.endCount())
	}
	callSec, recordSec := s.Durations()
	if callSec != 0 || callT.Running() || recordSec != 4 {
		t.Fatalf("unexpected durations call=%d record=%d", callSec, recordSec)
	}
}
