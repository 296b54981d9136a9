package reporting

import (
	"time"

	"agent-console/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutcomeRow is one saved outcome as seen by reporting.
type OutcomeRow struct {
	AgentID       string        `json:"agent_id"`
	CampaignID    string        `json:"campaign_id,omitempty"`
	CallID        string        `json:"call_id"`
	Outcome       calls.Outcome `json:"outcome"`
	CallSeconds   int           `json:"call_seconds"`
	RecordSeconds int           `json:"record_seconds"`
	CallbackDate  *time.Time    `json:"callback_date,omitempty"`
	SavedAt       time.Time     `json:"saved_at"`
}

// DaySummaryRequest asks for one agent's tally over a range, typically today.
type DaySummaryRequest struct {
	AgentID    string    `json:"agent_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

// DaySummary is the tally shown next to the work-time readout.
type DaySummary struct {
	AgentID    string `json:"agent_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	TotalCalls int                   `json:"total_calls"`
	ByOutcome  map[calls.Outcome]int `json:"by_outcome"`
	Leads      int                   `json:"leads"`
	Callbacks  int                   `json:"callbacks"`
	// Connected counts calls with a non-zero call duration.
	Connected int `json:"connected"`

	TalkSeconds        int `json:"talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
	RecordSeconds      int `json:"record_seconds"`

	ConversionRate float64 `json:"conversion_rate"`
}
