package worktime

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
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

func newTracker(store Store, clk *fakeClock) *Tracker {
	return NewTracker(store, Options{Namespace: "agent-1", Location: time.UTC, Now: clk.Now, Autosave: time.Hour})
}

func TestTracker_AccumulatesAcrossSessions(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, clk)
	if err := tr.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	tr.StartSession()
	clk.Advance(10 * time.Minute)
	if err := tr.StopSession(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	clk.Advance(time.Hour) // paused time does not count

	tr.StartSession()
	clk.Advance(5 * time.Minute)
	if got := tr.Total(); got != 15*time.Minute {
		t.Fatalf("expected 15m while open, got %v", got)
	}
	if err := tr.StopSession(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rec, ok, _ := store.Load(ctx, "agent-1:2026-10-16")
	if !ok || rec.TotalTime != 900 {
		t.Fatalf("expected 900s persisted, got %+v ok=%v", rec, ok)
	}
}

func TestTracker_RestoresTodayAfterReload(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	_ = store.Save(ctx, "agent-1:2026-10-16", Record{TotalTime: 120})
	_ = store.Save(ctx, "agent-1:2026-10-15", Record{TotalTime: 9999})

	tr := newTracker(store, clk)
	if err := tr.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tr.Total(); got != 2*time.Minute {
		t.Fatalf("expected today's 2m only, got %v", got)
	}
}

func TestTracker_NewDayStartsAtZero(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 23, 50, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, clk)
	_ = tr.Load(ctx)

	tr.StartSession()
	clk.Advance(20 * time.Minute) // 00:10 next day
	if got := tr.Total(); got != 10*time.Minute {
		t.Fatalf("expected only post-midnight 10m, got %v", got)
	}
	if err := tr.StopSession(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	prev, ok, _ := store.Load(ctx, "agent-1:2026-10-16")
	if !ok || prev.TotalTime != 600 {
		t.Fatalf("expected 600s on previous day, got %+v", prev)
	}
	today, ok, _ := store.Load(ctx, "agent-1:2026-10-17")
	if !ok || today.TotalTime != 600 {
		t.Fatalf("expected 600s on new day, got %+v", today)
	}
}

func TestTracker_CloseSavesOpenInterval(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, clk)
	_ = tr.Load(ctx)

	tr.StartSession()
	clk.Advance(90 * time.Second)
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec, _, _ := store.Load(ctx, "agent-1:2026-10-16")
	if rec.TotalTime != 90 {
		t.Fatalf("expected 90s saved on close, got %d", rec.TotalTime)
	}
}

func TestTracker_DisplayTicksWhileOpen(t *testing.T) {
	got := make(chan time.Duration, 4)
	tr := NewTracker(NewMemoryStore(), Options{OnDisplay: func(d time.Duration) {
		select {
		case got <- d:
		default:
		}
	}})
	_ = tr.Load(context.Background())
	tr.StartSession()
	defer tr.StopSession(context.Background())

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a display tick")
	}
}

func TestBoltStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "worktime.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Load(ctx, "a:2026-10-16"); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	saved := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, "a:2026-10-16", Record{TotalTime: 3600, LastSaved: saved}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, ok, err := s.Load(ctx, "a:2026-10-16")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.TotalTime != 3600 || !rec.LastSaved.Equal(saved) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestBoltStore_SecondOpenIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worktime.db")
	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := OpenBoltStore(path); !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("expected locked store, got %v", err)
	}
}

func TestStores_RejectEmptyKey(t *testing.T) {
	if err := NewMemoryStore().Save(context.Background(), "", Record{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
