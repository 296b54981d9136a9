package telephony

import (
	"context"

	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/fault"
)

// Fallback opens a bookkeeping call record with no audio, so timers and
// classification work the same when nothing can carry the call.
type Fallback struct {
	records CallRecords
}

func NewFallback(records CallRecords) *Fallback { return &Fallback{records: records} }

func (f *Fallback) Name() string { return string(calls.CallKindLocal) }

func (f *Fallback) Supports(calls.Contact) bool { return true }

func (f *Fallback) Place(ctx context.Context, c calls.Contact) (Placement, error) {
	rec, err := f.records.OpenCall(ctx, backend.OpenCallRequest{ContactID: c.ID, Kind: calls.CallKindLocal, Phone: c.Phone})
	if err != nil {
		return Placement{}, fault.Transport("telephony.fallback.place", err)
	}
	return Placement{
		CallID:    rec.CallID,
		Transport: f.Name(),
		StartTime: startTime(rec),
	}, nil
}

func (f *Fallback) End(ctx context.Context, callID, _ string) error {
	if err := f.records.EndCall(ctx, callID, ""); err != nil {
		return fault.Transport("telephony.fallback.end", err)
	}
	return nil
}
