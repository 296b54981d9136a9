package telephony

import (
	"context"
	"time"

	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/fault"
)

// Transport places and ends the audio leg of a call.
//
// Rules:
//   - Place fails with a fault.ErrTransport when the contact has no usable
//     destination or the attempt is rejected.
//   - End is best-effort: callers log its error and move on, a call must
//     always be closeable locally.
type Transport interface {
	Name() string
	// Supports reports whether this transport can reach the contact.
	Supports(c calls.Contact) bool
	Place(ctx context.Context, c calls.Contact) (Placement, error)
	End(ctx context.Context, callID, transportSessionID string) error
}

// Placement identifies a placed call.
type Placement struct {
	CallID             string
	TransportSessionID string
	Transport          string
	StartTime          time.Time
	// Dropped is closed when the transport loses the call on its own (peer
	// connection failed, provider reported hangup). Nil when not supported.
	Dropped <-chan struct{}
}

// CallRecords is the part of the backend that transports need.
type CallRecords interface {
	OpenCall(ctx context.Context, req backend.OpenCallRequest) (calls.CallRecord, error)
	EndCall(ctx context.Context, callID, transportSessionID string) error
}

// Selector picks the first transport that supports a contact. The order
// given to NewSelector is the preference order.
type Selector struct {
	transports []Transport
}

func NewSelector(transports ...Transport) *Selector {
	out := make([]Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			out = append(out, t)
		}
	}
	return &Selector{transports: out}
}

func (s *Selector) Select(c calls.Contact) (Transport, error) {
	for _, t := range s.transports {
		if t.Supports(c) {
			return t, nil
		}
	}
	return nil, fault.Transportf("telephony.select", "no transport can reach contact "+c.ID)
}

// Names lists the configured transports in preference order.
func (s *Selector) Names() []string {
	out := make([]string, 0, len(s.transports))
	for _, t := range s.transports {
		out = append(out, t.Name())
	}
	return out
}

func startTime(rec calls.CallRecord) time.Time {
	if rec.StartTime.IsZero() {
		return time.Now()
	}
	return rec.StartTime
}
