package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"agent-console/internal/calls"
	"agent-console/internal/fault"
	"agent-console/internal/telephony"
	"agent-console/internal/timer"
)

// State of one call.
type State string

const (
	Idle    State = "idle"
	Dialing State = "dialing"
	Active  State = "active"
	Ended   State = "ended"
)

// Picker chooses the transport for a contact.
type Picker interface {
	Select(c calls.Contact) (telephony.Transport, error)
}

// Controls is what the agent may press right now.
type Controls struct {
	CanDial     bool `json:"can_dial"`
	CanEnd      bool `json:"can_end"`
	CanClassify bool `json:"can_classify"`
}

type Options struct {
	Logger *slog.Logger
	// OnDropped runs after the transport lost the call and the session moved
	// to Ended on its own.
	OnDropped func()
	// OnEndFailed receives hangup errors. They never block the transition.
	OnEndFailed func(err error)
}

// Session drives one call: Idle -> Dialing -> Active -> Ended.
//
// Dialing never reaches Ended directly: a failed placement returns to Idle
// and a session closed while Dialing is hung up right after activation.
//
// The call timer runs only while Active. The record timer is started by the
// owner when the contact is shown; the session only reads and freezes it.
type Session struct {
	contact     calls.Contact
	picker      Picker
	callTimer   *timer.Timer
	recordTimer *timer.Timer
	log         *slog.Logger
	onDropped   func()
	onEndFailed func(error)

	mu        sync.Mutex
	state     State
	transport telephony.Transport
	placement telephony.Placement
	closed    bool
	stopWatch chan struct{}
}

func New(contact calls.Contact, picker Picker, callTimer, recordTimer *timer.Timer, opts Options) *Session {
	s := &Session{
		contact:     contact,
		picker:      picker,
		callTimer:   callTimer,
		recordTimer: recordTimer,
		log:         opts.Logger,
		onDropped:   opts.OnDropped,
		onEndFailed: opts.OnEndFailed,
		state:       Idle,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Session) Contact() calls.Contact { return s.contact }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID is empty until a placement succeeded.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placement.CallID
}

func (s *Session) Placement() telephony.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placement
}

// Busy reports whether the session blocks stopping work: a call is being
// placed, is running, or ended without a saved outcome.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Idle
}

func (s *Session) Controls() Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return controlsFor(s.state)
}

func controlsFor(st State) Controls {
	return Controls{
		CanDial:     st == Idle,
		CanEnd:      st == Active,
		CanClassify: st == Ended,
	}
}

// Dial places the call. On failure the session returns to Idle and the
// agent may dial again.
func (s *Session) Dial(ctx context.Context) error {
	const op = "session.dial"

	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		return fault.Precondition(op, "call is already "+string(st))
	}
	s.state = Dialing
	s.mu.Unlock()

	t, err := s.picker.Select(s.contact)
	if err == nil {
		var p telephony.Placement
		p, err = t.Place(ctx, s.contact)
		if err == nil {
			if s.activate(t, p) {
				// Closed while dialing: hang up right away.
				s.end(context.WithoutCancel(ctx))
			}
			return nil
		}
	}

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	if fault.KindOf(err) == nil {
		err = fault.Transport(op, err)
	}
	return err
}

// activate moves to Active. It reports whether the session was closed in
// the meantime.
func (s *Session) activate(t telephony.Transport, p telephony.Placement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transport = t
	s.placement = p
	s.state = Active
	s.callTimer.Start()

	if p.Dropped != nil {
		s.stopWatch = make(chan struct{})
		go s.watch(p.Dropped, s.stopWatch)
	}
	s.log.Info("call active", "call_id", p.CallID, "transport", p.Transport, "contact_id", s.contact.ID)
	return s.closed
}

func (s *Session) watch(dropped <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-dropped:
		s.log.Warn("transport dropped the call", "call_id", s.CallID())
		if s.end(context.Background()) && s.onDropped != nil {
			s.onDropped()
		}
	}
}

// End hangs up. Transport failures are logged and reported to OnEndFailed but
// the session still moves to Ended. Ending an ended call is a no-op.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	switch st {
	case Ended:
		return nil
	case Idle, Dialing:
		return fault.Precondition("session.end", "no active call to end")
	}
	s.end(ctx)
	return nil
}

// end performs the Active -> Ended transition. It reports whether this call
// made the transition.
func (s *Session) end(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return false
	}
	s.state = Ended
	s.callTimer.Stop()
	if s.stopWatch != nil {
		close(s.stopWatch)
		s.stopWatch = nil
	}
	t, p := s.transport, s.placement
	s.mu.Unlock()

	if err := t.End(ctx, p.CallID, p.TransportSessionID); err != nil {
		s.log.Warn("hangup failed", "call_id", p.CallID, "transport", t.Name(), "err", err)
		if s.onEndFailed != nil {
			s.onEndFailed(err)
		}
	}
	return true
}

// Durations returns the call and record durations in whole seconds. The
// call timer only runs while Active, so it reads 0 for a call that never
// connected.
func (s *Session) Durations() (callSeconds, recordSeconds int) {
	return s.callTimer.Seconds(), s.recordTimer.Seconds()
}

var ErrNotEnded = errors.New("session: outcome can only be classified after the call ended")

// Outcome freezes both timers and builds the outcome payload. The caller
// resumes the record timer with Reopen if submission fails.
func (s *Session) Outcome(outcome calls.Outcome, notes string, callbackAt *time.Time, timezone string) (calls.CallOutcome, error) {
	const op = "session.outcome"

	s.mu.Lock()
	callID, st := s.placement.CallID, s.state
	s.mu.Unlock()

	if callID == "" {
		return calls.CallOutcome{}, fault.Precondition(op, "no open call record; dial again")
	}
	if st != Ended {
		return calls.CallOutcome{}, &fault.Error{Kind: fault.ErrPrecondition, Op: op, Err: ErrNotEnded}
	}

	s.callTimer.Stop()
	s.recordTimer.Stop()
	callSec, recordSec := s.Durations()

	out := calls.CallOutcome{
		CallID:                callID,
		Outcome:               outcome,
		Notes:                 notes,
		CallDurationSeconds:   callSec,
		RecordDurationSeconds: recordSec,
		CallbackDate:          callbackAt,
	}
	if callbackAt != nil {
		out.Timezone = timezone
	}
	if err := out.Validate(); err != nil {
		s.recordTimer.Resume()
		return calls.CallOutcome{}, fault.Validation(op, "outcome", err.Error())
	}
	return out, nil
}

// Reopen undoes the timer freeze of a failed submission.
func (s *Session) Reopen() {
	s.recordTimer.Resume()
}

// Close releases the transport of a live call without waiting for the agent.
// It is the hard cancellation path.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end(ctx)
}
