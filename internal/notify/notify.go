package notify

import (
	"errors"
	"sync"
	"time"

	"agent-console/internal/fault"
)

type Level string

const (
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Kinds of events.
const (
	KindNotice = "notice"
	KindTick   = "tick"
	KindState  = "state"
)

// Event is one message for the agent's UI.
type Event struct {
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	AgentID string    `json:"agent_id"`
	Kind    string    `json:"kind"`
	Level   Level     `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	// Rule names the violated rule of a validation notice.
	Rule string `json:"rule,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Sink receives every event. Publish must not block for long.
type Sink interface {
	Publish(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

const recentLimit = 20

// Notifier is the single user-visible notification surface of one agent's
// console. Notices are kept in a short history; ticks are only forwarded.
type Notifier struct {
	agentID string
	now     func() time.Time

	mu     sync.Mutex
	seq    uint64
	recent []Event
	sinks  []Sink
}

func New(agentID string, sinks ...Sink) *Notifier {
	return &Notifier{agentID: agentID, now: time.Now, sinks: sinks}
}

// Attach adds a sink.
func (n *Notifier) Attach(s Sink) {
	n.mu.Lock()
	n.sinks = append(n.sinks, s)
	n.mu.Unlock()
}

func (n *Notifier) Success(msg string) { n.notice(Success, msg, "") }

func (n *Notifier) Warning(msg string) { n.notice(Warning, msg, "") }

// Fail reports err as an error notice. Network failures get a generic text.
func (n *Notifier) Fail(err error) {
	if err == nil {
		return
	}
	n.notice(Error, Message(err), fault.RuleOf(err))
}

// Message renders err for the agent.
func Message(err error) string {
	switch {
	case errors.Is(err, fault.ErrNetwork):
		return "The request failed. Please try again."
	case errors.Is(err, fault.ErrTransport):
		return "The call could not be connected: " + err.Error()
	default:
		return err.Error()
	}
}

func (n *Notifier) notice(level Level, msg, rule string) {
	n.publish(Event{Kind: KindNotice, Level: level, Message: msg, Rule: rule}, true)
}

// Display forwards a display update, such as a timer tick, without keeping it.
func (n *Notifier) Display(kind string, data any) {
	n.publish(Event{Kind: kind, Data: data}, false)
}

func (n *Notifier) publish(ev Event, keep bool) {
	n.mu.Lock()
	n.seq++
	ev.Seq = n.seq
	ev.At = n.now()
	ev.AgentID = n.agentID
	if keep {
		n.recent = append(n.recent, ev)
		if len(n.recent) > recentLimit {
			n.recent = n.recent[len(n.recent)-recentLimit:]
		}
	}
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.Unlock()

	for _, s := range sinks {
		s.Publish(ev)
	}
}

// Recent returns the latest notices, oldest first.
func (n *Notifier) Recent() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.recent...)
}

// Last returns the most recent notice.
func (n *Notifier) Last() (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.recent) == 0 {
		return Event{}, false
	}
	return n.recent[len(n.recent)-1], true
}
