package reporting

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo keeps outcome rows in memory. It enforces agent isolation on reads.
type MemoryRepo struct {
	mu   sync.Mutex
	Rows []OutcomeRow
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) AddOutcome(_ context.Context, row OutcomeRow) error {
	if row.AgentID == "" {
		return errors.New("agent_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.Rows {
		if existing.CallID == row.CallID {
			return nil
		}
	}
	r.Rows = append(r.Rows, row)
	return nil
}

func (r *MemoryRepo) ListOutcomes(_ context.Context, agentID string, from, to time.Time, campaignID string) ([]OutcomeRow, error) {
	if agentID == "" {
		return nil, errors.New("agent_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeRow, 0)
	for _, row := range r.Rows {
		if row.AgentID != agentID {
			continue
		}
		if row.SavedAt.Before(from) || !row.SavedAt.Before(to) {
			continue
		}
		if campaignID != "" && row.CampaignID != campaignID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
