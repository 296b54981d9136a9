package telephony

import (
	"context"
	"log/slog"
	"sync"

	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/fault"
)

// Bridge places calls through the backend's telephony provider. The only
// local state is the returned identifiers and a drop signal per live call.
type Bridge struct {
	records CallRecords
	log     *slog.Logger

	mu   sync.Mutex
	live map[string]*bridgeCall // by provider session id
}

type bridgeCall struct {
	callID  string
	dropped chan struct{}
	once    sync.Once
}

func (b *bridgeCall) drop() { b.once.Do(func() { close(b.dropped) }) }

func NewBridge(records CallRecords, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{records: records, log: log, live: map[string]*bridgeCall{}}
}

func (b *Bridge) Name() string { return string(calls.CallKindBridge) }

func (b *Bridge) Supports(c calls.Contact) bool { return c.HasPhone() }

func (b *Bridge) Place(ctx context.Context, c calls.Contact) (Placement, error) {
	const op = "telephony.bridge.place"
	if !c.HasPhone() {
		return Placement{}, fault.Transportf(op, "contact has no phone number")
	}

	rec, err := b.records.OpenCall(ctx, backend.OpenCallRequest{ContactID: c.ID, Kind: calls.CallKindBridge, Phone: c.Phone})
	if err != nil {
		return Placement{}, fault.Transport(op, err)
	}
	if rec.TransportSessionID == "" {
		if err := b.records.EndCall(context.WithoutCancel(ctx), rec.CallID, ""); err != nil {
			b.log.Warn("closing unaccepted call record failed", "call_id", rec.CallID, "err", err)
		}
		return Placement{}, fault.Transportf(op, "provider did not accept the call")
	}

	bc := &bridgeCall{callID: rec.CallID, dropped: make(chan struct{})}
	b.mu.Lock()
	b.live[rec.TransportSessionID] = bc
	b.mu.Unlock()

	return Placement{
		CallID:             rec.CallID,
		TransportSessionID: rec.TransportSessionID,
		Transport:          b.Name(),
		StartTime:          startTime(rec),
		Dropped:            bc.dropped,
	}, nil
}

func (b *Bridge) End(ctx context.Context, callID, transportSessionID string) error {
	b.mu.Lock()
	delete(b.live, transportSessionID)
	b.mu.Unlock()

	if err := b.records.EndCall(ctx, callID, transportSessionID); err != nil {
		return fault.Transport("telephony.bridge.end", err)
	}
	return nil
}

// ProviderStatus applies a provider status callback. A terminal status drops
// the matching live call. It reports whether a live call matched.
func (b *Bridge) ProviderStatus(transportSessionID string, status CallStatus) bool {
	if !status.Terminal() {
		b.mu.Lock()
		_, ok := b.live[transportSessionID]
		b.mu.Unlock()
		return ok
	}

	b.mu.Lock()
	bc, ok := b.live[transportSessionID]
	delete(b.live, transportSessionID)
	b.mu.Unlock()

	if ok {
		bc.drop()
	}
	return ok
}

// Live returns the number of calls the bridge is tracking.
func (b *Bridge) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}
