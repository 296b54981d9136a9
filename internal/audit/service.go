package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records console events. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return ErrNotConfigured
	}
	if e.AgentID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event with optional metadata marshaled to JSON.
func (s *Service) Record(ctx context.Context, agentID string, typ EventType, ref Ref, message string, metadata any) error {
	e := Event{
		AgentID:    agentID,
		Type:       typ,
		CampaignID: ref.CampaignID,
		ContactID:  ref.ContactID,
		CallID:     ref.CallID,
		Outcome:    ref.Outcome,
		Message:    message,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		e.Metadata = string(raw)
	}
	return s.Append(ctx, e)
}

// Ref carries the identifiers an event is about.
type Ref struct {
	CampaignID string
	ContactID  string
	CallID     string
	Outcome    string
}
