package reporting

import (
	"context"
	"errors"
	"time"

	"agent-console/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Reads must filter by agent.
type Repository interface {
	AddOutcome(ctx context.Context, row OutcomeRow) error
	ListOutcomes(ctx context.Context, agentID string, from, to time.Time, campaignID string) ([]OutcomeRow, error)
}

type Service struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, now: time.Now}
}

func (s *Service) Location() *time.Location { return s.loc }

// RecordOutcome stores a saved outcome for later tallies.
func (s *Service) RecordOutcome(ctx context.Context, agentID, campaignID string, out calls.CallOutcome) error {
	if agentID == "" || out.CallID == "" {
		return ErrInvalidRequest
	}
	if s.repo == nil {
		return errors.New("reporting: repository not configured")
	}
	return s.repo.AddOutcome(ctx, OutcomeRow{
		AgentID:       agentID,
		CampaignID:    campaignID,
		CallID:        out.CallID,
		Outcome:       out.Outcome,
		CallSeconds:   out.CallDurationSeconds,
		RecordSeconds: out.RecordDurationSeconds,
		CallbackDate:  out.CallbackDate,
		SavedAt:       s.now(),
	})
}

// Today returns the agent's tally for the current local day.
func (s *Service) Today(ctx context.Context, agentID, campaignID string) (DaySummary, error) {
	now := s.now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return s.DaySummary(ctx, DaySummaryRequest{
		AgentID:    agentID,
		CampaignID: campaignID,
		Range:      TimeRange{From: from, To: from.AddDate(0, 0, 1)},
	})
}

func (s *Service) DaySummary(ctx context.Context, req DaySummaryRequest) (DaySummary, error) {
	if req.AgentID == "" {
		return DaySummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return DaySummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return DaySummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListOutcomes(ctx, req.AgentID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return DaySummary{}, err
	}

	out := DaySummary{AgentID: req.AgentID, CampaignID: req.CampaignID, ByOutcome: map[calls.Outcome]int{}}
	for _, r := range rows {
		out.TotalCalls++
		out.ByOutcome[r.Outcome]++
		out.TalkSeconds += r.CallSeconds
		out.RecordSeconds += r.RecordSeconds
		if r.CallSeconds > 0 {
			out.Connected++
		}
		switch r.Outcome {
		case calls.OutcomeLead:
			out.Leads++
		case calls.OutcomeCallback:
			out.Callbacks++
		}
	}
	if out.Connected > 0 {
		out.AverageTalkSeconds = out.TalkSeconds / out.Connected
	}
	if out.TotalCalls > 0 {
		out.ConversionRate = float64(out.Leads) / float64(out.TotalCalls)
	}
	return out, nil
}
