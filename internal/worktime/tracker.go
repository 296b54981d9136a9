package worktime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agent-console/internal/calendar"
)

const (
	DefaultAutosaveInterval = 30 * time.Second
	displayInterval         = time.Second
)

// Tracker accumulates active work time for the current local calendar day.
//
// Only today's key is ever read back; earlier days stay in the store untouched.
// The tracker never talks to the backend.
type Tracker struct {
	store     Store
	namespace string
	loc       *time.Location
	now       func() time.Time
	autosave  time.Duration
	onDisplay func(total time.Duration)
	log       *slog.Logger

	mu           sync.Mutex
	dateKey      string
	accumulated  time.Duration
	sessionStart time.Time
	open         bool
	stopLoop     chan struct{}
	loopDone     chan struct{}
}

type Options struct {
	// Namespace prefixes every key, typically the agent id.
	Namespace string
	Location  *time.Location
	Now       func() time.Time
	// Autosave defaults to 30s.
	Autosave time.Duration
	// OnDisplay receives the running total once per second while a session is open.
	OnDisplay func(total time.Duration)
	Logger    *slog.Logger
}

func NewTracker(store Store, opts Options) *Tracker {
	t := &Tracker{
		store:     store,
		namespace: opts.Namespace,
		loc:       opts.Location,
		now:       opts.Now,
		autosave:  opts.Autosave,
		onDisplay: opts.OnDisplay,
		log:       opts.Logger,
	}
	if t.loc == nil {
		t.loc = time.Local
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.autosave <= 0 {
		t.autosave = DefaultAutosaveInterval
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

// Key returns the storage key for the local date of ts.
func (t *Tracker) Key(ts time.Time) string {
	day := calendar.DateKey(ts.In(t.loc))
	if t.namespace == "" {
		return day
	}
	return t.namespace + ":" + day
}

// Load restores today's accumulated seconds, or starts from zero.
func (t *Tracker) Load(ctx context.Context) error {
	now := t.now()
	key := t.Key(now)

	rec, ok, err := t.store.Load(ctx, key)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dateKey = key
	t.accumulated = 0
	if ok && rec.TotalTime > 0 {
		t.accumulated = time.Duration(rec.TotalTime) * time.Second
	}
	return nil
}

// StartSession opens a work interval and starts the display/autosave loop.
// A second call while a session is open is a no-op.
func (t *Tracker) StartSession() {
	now := t.now()

	t.mu.Lock()
	pending := t.rollLocked(now)
	if !t.open {
		t.open = true
		t.sessionStart = now
	}
	if t.stopLoop == nil {
		t.stopLoop = make(chan struct{})
		t.loopDone = make(chan struct{})
		go t.loop(t.stopLoop, t.loopDone)
	}
	t.mu.Unlock()

	t.flush(context.Background(), pending)
}

// StopSession folds the open interval into the day's total and persists it.
func (t *Tracker) StopSession(ctx context.Context) error {
	now := t.now()

	t.mu.Lock()
	pending := t.rollLocked(now)
	if t.open {
		t.accumulated += nonNegative(now.Sub(t.sessionStart))
		t.open = false
		t.sessionStart = time.Time{}
	}
	stop, done := t.stopLoop, t.loopDone
	t.stopLoop, t.loopDone = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	t.flush(ctx, pending)
	return t.Save(ctx)
}

// Open reports whether a work interval is running.
func (t *Tracker) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Total returns today's accumulated time plus the open interval.
func (t *Tracker) Total() time.Duration {
	now := t.now()

	t.mu.Lock()
	pending := t.rollLocked(now)
	total := t.totalLocked(now)
	t.mu.Unlock()

	t.flush(context.Background(), pending)
	return total
}

func (t *Tracker) totalLocked(now time.Time) time.Duration {
	total := t.accumulated
	if t.open {
		total += nonNegative(now.Sub(t.sessionStart))
	}
	return total
}

// Save persists today's total, including the open interval, under today's key.
func (t *Tracker) Save(ctx context.Context) error {
	now := t.now()

	t.mu.Lock()
	pending := t.rollLocked(now)
	key := t.dateKey
	rec := Record{TotalTime: int(t.totalLocked(now) / time.Second), LastSaved: now.UTC()}
	t.mu.Unlock()

	t.flush(ctx, pending)
	return t.store.Save(ctx, key, rec)
}

// Close persists the current total and stops background work. It is the
// unload path: the open interval is saved but not folded.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stopLoop, t.loopDone
	t.stopLoop, t.loopDone = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return t.Save(ctx)
}

type pendingSave struct {
	key string
	rec Record
}

// rollLocked handles a local date change: the part of the open interval before
// midnight goes to the old day, and the new day starts at zero.
func (t *Tracker) rollLocked(now time.Time) *pendingSave {
	key := t.Key(now)
	if t.dateKey == "" {
		t.dateKey = key
		return nil
	}
	if key == t.dateKey {
		return nil
	}

	local := now.In(t.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)

	old := t.accumulated
	if t.open && t.sessionStart.Before(midnight) {
		old += midnight.Sub(t.sessionStart)
		t.sessionStart = midnight
	}
	p := &pendingSave{key: t.dateKey, rec: Record{TotalTime: int(old / time.Second), LastSaved: now.UTC()}}

	t.dateKey = key
	t.accumulated = 0
	return p
}

func (t *Tracker) flush(ctx context.Context, p *pendingSave) {
	if p == nil {
		return
	}
	if err := t.store.Save(ctx, p.key, p.rec); err != nil {
		t.log.Warn("worktime: saving previous day failed", "key", p.key, "err", err)
	}
}

func (t *Tracker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	display := time.NewTicker(displayInterval)
	defer display.Stop()
	autosave := time.NewTicker(t.autosave)
	defer autosave.Stop()

	for {
		select {
		case <-stop:
			return
		case <-display.C:
			if t.onDisplay != nil && t.Open() {
				t.onDisplay(t.Total())
			}
		case <-autosave.C:
			if err := t.Save(context.Background()); err != nil {
				t.log.Warn("worktime: autosave failed", "err", err)
			}
		}
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
