package timer

import (
	"sync"
	"time"
)

// TickInterval is the display refresh rate of a running timer.
const TickInterval = time.Second

// Timer tracks elapsed time since Start and reports it once per tick.
//
// Stop halts ticking but keeps the start time, so Elapsed can still be read
// after the timer was stopped; the value is frozen at the moment of Stop.
// Reset clears everything.
//
// Independent instances never share state: stopping one does not affect another.
type Timer struct {
	name     string
	now      func() time.Time
	interval time.Duration
	onTick   func(name string, elapsed time.Duration)

	mu        sync.Mutex
	startTime time.Time
	stopTime  time.Time
	running   bool
	stopCh    chan struct{}
}

type Option func(*Timer)

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// New creates a stopped timer. onTick may be nil.
func New(name string, onTick func(name string, elapsed time.Duration), opts ...Option) *Timer {
	t := &Timer{
		name:     name,
		now:      time.Now,
		interval: TickInterval,
		onTick:   onTick,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Timer) Name() string { return t.name }

// Start records the start time and begins ticking. Starting a running timer
// restarts it from zero.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.startTime = t.now()
	t.stopTime = time.Time{}
	t.running = true
	t.stopCh = make(chan struct{})
	go t.loop(t.stopCh)
}

// Stop halts ticking. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.stopTime = t.now()
	t.stopLocked()
}

// Resume continues a stopped timer from its original start time, as if it
// had never been stopped. No-op when running or never started.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.startTime.IsZero() {
		return
	}
	t.stopTime = time.Time{}
	t.running = true
	t.stopCh = make(chan struct{})
	go t.loop(t.stopCh)
}

// Reset stops the timer and clears the start time.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.startTime = time.Time{}
	t.stopTime = time.Time{}
}

func (t *Timer) stopLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	t.running = false
}

// Running reports whether the timer is ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Started reports whether a start time is set (running or stopped, not reset).
func (t *Timer) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.startTime.IsZero()
}

// StartTime returns the recorded start time, zero after Reset.
func (t *Timer) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// Elapsed returns the time since Start, frozen at Stop. Zero when never started.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *Timer) elapsedLocked() time.Duration {
	if t.startTime.IsZero() {
		return 0
	}
	end := t.stopTime
	if t.running || end.IsZero() {
		end = t.now()
	}
	d := end.Sub(t.startTime)
	if d < 0 {
		return 0
	}
	return d
}

// Seconds returns Elapsed truncated to whole seconds.
func (t *Timer) Seconds() int {
	return int(t.Elapsed() / time.Second)
}

func (t *Timer) loop(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			// A Stop/Start pair may have replaced our channel between the tick and the lock.
			if t.stopCh != stop {
				t.mu.Unlock()
				return
			}
			elapsed := t.elapsedLocked()
			cb := t.onTick
			t.mu.Unlock()

			if cb != nil {
				cb(t.name, elapsed)
			}
		}
	}
}
