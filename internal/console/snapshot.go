package console

import (
	"time"

	"agent-console/internal/calls"
	"agent-console/internal/notify"
	"agent-console/internal/reporting"
	"agent-console/internal/session"
	"agent-console/internal/timer"
)

// TickView is a display update for one running clock.
type TickView struct {
	Timer   string `json:"timer"`
	Elapsed string `json:"elapsed"`
}

// Controls are the actions the UI may offer right now.
type Controls struct {
	CanStartWork   bool `json:"can_start_work"`
	CanStopWork    bool `json:"can_stop_work"`
	CanNextContact bool `json:"can_next_contact"`
	CanDial        bool `json:"can_dial"`
	CanEnd         bool `json:"can_end"`
	CanClassify    bool `json:"can_classify"`
}

type CallView struct {
	CallID    string        `json:"call_id,omitempty"`
	Transport string        `json:"transport,omitempty"`
	State     session.State `json:"state"`
}

type CallbackView struct {
	At           time.Time `json:"at"`
	Corrected    bool      `json:"corrected"`
	Notices      []string  `json:"notices,omitempty"`
	Confirmation string    `json:"confirmation"`
	Confirmed    bool      `json:"confirmed"`
}

type QueueView struct {
	PendingCallbacks int        `json:"pending_callbacks"`
	NextCallbackAt   *time.Time `json:"next_callback_at,omitempty"`
	Countdown        string     `json:"countdown,omitempty"`
	Due              bool       `json:"due"`
	FetchedAt        *time.Time `json:"fetched_at,omitempty"`
}

// Snapshot is the whole view model of the console. The UI renders it and
// keeps no state of its own.
type Snapshot struct {
	AgentID    string `json:"agent_id"`
	Status     Status `json:"status"`
	CampaignID string `json:"campaign_id,omitempty"`
	Pending    string `json:"pending,omitempty"`

	Contact  *calls.Contact       `json:"contact,omitempty"`
	History  []calls.HistoryEntry `json:"history,omitempty"`
	Call     *CallView            `json:"call,omitempty"`
	Callback *CallbackView        `json:"callback,omitempty"`
	Controls Controls             `json:"controls"`

	CallTimer        string `json:"call_timer"`
	RecordTimer      string `json:"record_timer"`
	WorkToday        string `json:"work_today"`
	WorkTodaySeconds int    `json:"work_today_seconds"`

	Queue       QueueView             `json:"queue"`
	LastOutcome *calls.CallOutcome    `json:"last_outcome,omitempty"`
	Stats       *reporting.DaySummary `json:"stats,omitempty"`
	Notices     []notify.Event        `json:"notices,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	work := c.work.Total()

	c.mu.Lock()
	now := c.now()
	s := Snapshot{
		AgentID:          c.agentID,
		Status:           c.status,
		CampaignID:       c.campaignID,
		Pending:          c.pending,
		CallTimer:        timer.Format(c.callTimer.Elapsed()),
		RecordTimer:      timer.Format(c.recordTimer.Elapsed()),
		WorkToday:        timer.Format(work),
		WorkTodaySeconds: int(work / time.Second),
		LastOutcome:      c.lastOutcome,
	}
	if c.contact != nil {
		contact := *c.contact
		s.Contact = &contact
		s.History = append([]calls.HistoryEntry(nil), c.history...)
	}

	var sc session.Controls
	if c.sess != nil {
		p := c.sess.Placement()
		s.Call = &CallView{CallID: p.CallID, Transport: p.Transport, State: c.sess.State()}
		sc = c.sess.Controls()
	}
	if c.plan != nil {
		s.Callback = &CallbackView{
			At:           c.plan.At,
			Corrected:    c.plan.Corrected(),
			Notices:      append([]string(nil), c.plan.Notices...),
			Confirmation: c.plan.Confirmation(),
			Confirmed:    c.plan.Confirmed(),
		}
	}

	busy := c.sess != nil && c.sess.Busy()
	idle := c.pending == "" && !c.disposed
	s.Controls = Controls{
		CanStartWork:   idle && c.status == Inactive,
		CanStopWork:    idle && c.status == Active && !busy,
		CanNextContact: idle && c.status == Active && c.campaignID != "" && !busy,
		CanDial:        idle && sc.CanDial,
		CanEnd:         sc.CanEnd,
		CanClassify:    idle && sc.CanClassify,
	}

	if c.queue.fetched {
		q := c.queue.status
		fetchedAt := c.queue.fetchedAt
		s.Queue = QueueView{
			PendingCallbacks: q.PendingCallbacks,
			NextCallbackAt:   q.NextCallbackAt,
			Due:              c.queue.due(now),
			FetchedAt:        &fetchedAt,
		}
		if d, ok := c.queue.countdown(now); ok {
			s.Queue.Countdown = timer.Format(d)
		}
	}
	campaignID := c.campaignID
	c.mu.Unlock()

	if c.deps.Stats != nil {
		if sum, err := c.deps.Stats.Today(c.ctx, c.agentID, campaignID); err == nil {
			s.Stats = &sum
		}
	}
	s.Notices = c.notify.Recent()
	return s
}
