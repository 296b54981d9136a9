package scheduler

import (
	"fmt"
	"strings"
	"time"

	"agent-console/internal/calendar"
	"agent-console/internal/fault"
)

// Verdict is the result of validating a proposed callback time.
type Verdict string

const (
	Ok                   Verdict = "ok"
	PastDateTime         Verdict = "past_datetime"
	NonWorkingDay        Verdict = "non_working_day"
	OutsideBusinessHours Verdict = "outside_business_hours"
)

// Business hours are inclusive on both ends.
const (
	DefaultOpenHour    = 8
	DefaultCloseHour   = 21
	DefaultCorrectHour = 9
)

// Scheduler checks callback times against the business calendar.
type Scheduler struct {
	cal         *calendar.Calendar
	loc         *time.Location
	now         func() time.Time
	openHour    int
	closeHour   int
	correctHour int
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHours overrides the business window and the hour used when moving a
// callback to the next working day.
func WithHours(openHour, closeHour, correctHour int) Option {
	return func(s *Scheduler) {
		s.openHour, s.closeHour, s.correctHour = openHour, closeHour, correctHour
	}
}

func New(cal *calendar.Calendar, opts ...Option) *Scheduler {
	s := &Scheduler{
		cal:         cal,
		loc:         time.Local,
		now:         time.Now,
		openHour:    DefaultOpenHour,
		closeHour:   DefaultCloseHour,
		correctHour: DefaultCorrectHour,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// Validate classifies at. The past check wins over the calendar checks, and
// the working-day check wins over business hours.
func (s *Scheduler) Validate(at time.Time) Verdict {
	if !at.After(s.now()) {
		return PastDateTime
	}
	local := at.In(s.loc)
	if !s.cal.IsWorkingDay(local) {
		return NonWorkingDay
	}
	if !s.withinHours(local) {
		return OutsideBusinessHours
	}
	return Ok
}

func (s *Scheduler) withinHours(local time.Time) bool {
	opens := calendar.At(local, s.openHour, 0)
	closes := calendar.At(local, s.closeHour, 0)
	return !local.Before(opens) && !local.After(closes)
}

// Plan is a callback time ready for agent confirmation. A plan is submitted
// only after Confirm.
type Plan struct {
	Requested time.Time
	At        time.Time
	Notes     string
	// Verdict is the result for the requested time.
	Verdict Verdict
	Notices []string

	confirmed bool
}

// Corrected reports whether At differs from the requested time.
func (p *Plan) Corrected() bool { return !p.At.Equal(p.Requested) }

func (p *Plan) Confirm() { p.confirmed = true }

func (p *Plan) Confirmed() bool { return p != nil && p.confirmed }

// Confirmation renders the final date, time and notes for the agent.
func (p *Plan) Confirmation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Callback on %s at %s (%s)",
		p.At.Format("Monday, 2006-01-02"), p.At.Format("15:04"), p.At.Location())
	for _, n := range p.Notices {
		b.WriteString("\n")
		b.WriteString(n)
	}
	if p.Notes != "" {
		b.WriteString("\nNotes: ")
		b.WriteString(p.Notes)
	}
	return b.String()
}

// Plan validates at and applies the auto-corrections: a non-working day moves
// to the next working day at the correction hour; a time outside business
// hours is clamped to the nearest bound. A past time is rejected.
func (s *Scheduler) Plan(at time.Time, notes string) (*Plan, error) {
	const op = "scheduler.plan"

	local := at.In(s.loc)
	p := &Plan{Requested: local, At: local, Notes: strings.TrimSpace(notes)}
	p.Verdict = s.Validate(local)

	switch p.Verdict {
	case Ok:
		return p, nil
	case PastDateTime:
		return nil, fault.Validation(op, string(PastDateTime), "callback time must be in the future")
	case NonWorkingDay:
		p.At = calendar.At(s.cal.NextWorkingDay(local), s.correctHour, 0)
		p.Notices = append(p.Notices, fmt.Sprintf("%s is not a working day; moved to %s at %02d:00.",
			local.Format("Monday 2006-01-02"), p.At.Format("Monday 2006-01-02"), s.correctHour))
	case OutsideBusinessHours:
		if local.Before(calendar.At(local, s.openHour, 0)) {
			p.At = calendar.At(local, s.openHour, 0)
		} else {
			p.At = calendar.At(local, s.closeHour, 0)
		}
		p.Notices = append(p.Notices, fmt.Sprintf("%s is outside business hours %02d:00-%02d:00; moved to %s.",
			local.Format("15:04"), s.openHour, s.closeHour, p.At.Format("15:04")))
	}

	// A correction must itself be a valid time.
	if v := s.Validate(p.At); v != Ok {
		return nil, fault.Validation(op, string(v), fmt.Sprintf("corrected callback time %s is not valid", p.At.Format("2006-01-02 15:04")))
	}
	return p, nil
}

// Check reports the verdict for at as an error: nil for Ok, a validation
// fault naming the rule otherwise.
func (s *Scheduler) Check(at time.Time) error {
	v := s.Validate(at)
	if v == Ok {
		return nil
	}
	return fault.Validation("scheduler.check", string(v), "callback time violates "+strings.ReplaceAll(string(v), "_", " "))
}
