package calls

import (
	"errors"
	"fmt"
	"time"
)

// Contact is a queue entry to be called.
//
// The backend is the source of truth; the console only reads these fields and
// replaces its copy on every fetch instead of mutating it.
type Contact struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone,omitempty"`
	Email        string     `json:"email,omitempty"`
	Company      string     `json:"company,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Priority     Priority   `json:"priority"`
	CallbackDate *time.Time `json:"callback_date,omitempty"`
}

// HasPhone reports whether the contact has a dialable destination.
func (c Contact) HasPhone() bool { return c.Phone != "" }

type Priority string

const (
	PriorityNew      Priority = "new"
	PriorityCallback Priority = "callback"
)

// Outcome classifies a finished call.
type Outcome string

const (
	OutcomeLead        Outcome = "lead"
	OutcomeRejection   Outcome = "rejection"
	OutcomeNoAnswer    Outcome = "no_answer"
	OutcomeBusy        Outcome = "busy"
	OutcomeWrongNumber Outcome = "wrong_number"
	OutcomeBlacklist   Outcome = "blacklist"
	OutcomeCallback    Outcome = "callback"
)

// Outcomes lists every accepted outcome in display order.
var Outcomes = []Outcome{
	OutcomeLead,
	OutcomeRejection,
	OutcomeNoAnswer,
	OutcomeBusy,
	OutcomeWrongNumber,
	OutcomeBlacklist,
	OutcomeCallback,
}

func (o Outcome) Valid() bool {
	for _, v := range Outcomes {
		if o == v {
			return true
		}
	}
	return false
}

var (
	ErrUnknownOutcome       = errors.New("calls: unknown outcome")
	ErrMissingCallID        = errors.New("calls: call_id is required")
	ErrCallbackDateRequired = errors.New("calls: callback outcome requires callback_date")
	ErrUnexpectedCallback   = errors.New("calls: callback_date is only allowed for callback outcome")
	ErrNegativeDuration     = errors.New("calls: durations must not be negative")
)

// CallOutcome is the write-once classification submitted for a call.
//
// Invariant: CallbackDate is set if and only if Outcome == OutcomeCallback.
// Business-calendar rules for the date are enforced by the scheduler before
// the outcome is built.
type CallOutcome struct {
	CallID                string     `json:"call_id"`
	Outcome               Outcome    `json:"outcome"`
	Notes                 string     `json:"notes"`
	CallDurationSeconds   int        `json:"call_duration_seconds"`
	RecordDurationSeconds int        `json:"record_duration_seconds"`
	CallbackDate          *time.Time `json:"callback_date,omitempty"`
	Timezone              string     `json:"timezone,omitempty"`
}

func (o CallOutcome) Validate() error {
	if o.CallID == "" {
		return ErrMissingCallID
	}
	if !o.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, o.Outcome)
	}
	if o.CallDurationSeconds < 0 || o.RecordDurationSeconds < 0 {
		return ErrNegativeDuration
	}
	if o.Outcome == OutcomeCallback && o.CallbackDate == nil {
		return ErrCallbackDateRequired
	}
	if o.Outcome != OutcomeCallback && o.CallbackDate != nil {
		return ErrUnexpectedCallback
	}
	return nil
}

// CallKind selects how the backend opens a call record.
type CallKind string

const (
	CallKindBridge CallKind = "bridge" // provider-mediated phone call
	CallKindLocal  CallKind = "local"  // bookkeeping record only
	CallKindWebRTC CallKind = "webrtc" // browser/peer audio session
)

// CallRecord is the backend's answer to opening a call.
type CallRecord struct {
	CallID             string    `json:"call_id"`
	StartTime          time.Time `json:"start_time"`
	TransportSessionID string    `json:"transport_session_id,omitempty"`
}

// HistoryEntry is one past call with a contact. Display only.
type HistoryEntry struct {
	CallID          string    `json:"call_id"`
	StartedAt       time.Time `json:"started_at"`
	Outcome         Outcome   `json:"outcome,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Agent           string    `json:"agent,omitempty"`
}

// QueueStatus summarizes due callbacks for the selected campaign.
type QueueStatus struct {
	PendingCallbacks int        `json:"pending_callbacks"`
	NextCallbackAt   *time.Time `json:"next_callback_at,omitempty"`
}
