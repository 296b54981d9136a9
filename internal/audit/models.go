package audit

import "time"

// Event is an immutable, append-only record of something an agent did at
// the console.
//
// Invariants:
// - Events are never updated or deleted.
// - agent_id and type are required.
// - Audit is best-effort; a failing append never blocks the console.
//
// Storage (Postgres): table console_events, INSERT-only.
type Event struct {
	ID      string    `json:"id" db:"id"`
	AgentID string    `json:"agent_id" db:"agent_id"`
	Type    EventType `json:"type" db:"type"`

	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`
	Outcome    string `json:"outcome,omitempty" db:"outcome"`

	// Message is a short human-readable description.
	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON with full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventWorkStarted       EventType = "work_started"
	EventWorkStopped       EventType = "work_stopped"
	EventCallPlaced        EventType = "call_placed"
	EventCallEnded         EventType = "call_ended"
	EventCallDropped       EventType = "call_dropped"
	EventOutcomeSaved      EventType = "outcome_saved"
	EventCallbackScheduled EventType = "callback_scheduled"
	EventNoteAdded         EventType = "note_added"
)
