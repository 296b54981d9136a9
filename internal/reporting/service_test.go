package reporting

import (
	"context"
	"testing"
	"time"

	"agent-console/internal/calls"
)

func TestReporting_AgentIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Rows = []OutcomeRow{
		{AgentID: "a1", CampaignID: "camp", CallID: "c1", Outcome: calls.OutcomeLead, CallSeconds: 30, SavedAt: now},
		{AgentID: "a2", CampaignID: "camp", CallID: "c2", Outcome: calls.OutcomeLead, CallSeconds: 50, SavedAt: now},
	}
	svc := NewService(repo, time.UTC)

	out, err := svc.DaySummary(context.Background(), DaySummaryRequest{AgentID: "a1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TalkSeconds != 30 {
		t.Fatalf("expected only a1's call, got %+v", out)
	}
}

func TestReporting_TodayTalliesOutcomes(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, time.UTC)
	today := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return today }

	cb := today.Add(72 * time.Hour)
	for _, out := range []calls.CallOutcome{
		{CallID: "c1", Outcome: calls.OutcomeLead, CallDurationSeconds: 40, RecordDurationSeconds: 60},
		{CallID: "c2", Outcome: calls.OutcomeNoAnswer, RecordDurationSeconds: 15},
		{CallID: "c3", Outcome: calls.OutcomeCallback, CallDurationSeconds: 20, RecordDurationSeconds: 30, CallbackDate: &cb},
	} {
		if err := svc.RecordOutcome(context.Background(), "a1", "camp", out); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	// Yesterday's row must not count.
	repo.Rows = append(repo.Rows, OutcomeRow{AgentID: "a1", CallID: "old", Outcome: calls.OutcomeLead, SavedAt: today.Add(-24 * time.Hour)})

	s, err := svc.Today(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if s.TotalCalls != 3 || s.Leads != 1 || s.Callbacks != 1 || s.Connected != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.TalkSeconds != 60 || s.AverageTalkSeconds != 30 || s.RecordSeconds != 105 {
		t.Fatalf("unexpected durations %+v", s)
	}
	if s.ByOutcome[calls.OutcomeNoAnswer] != 1 {
		t.Fatalf("expected one no_answer, got %v", s.ByOutcome)
	}
}

func TestReporting_RejectsInvalidRequests(t *testing.T) {
	svc := NewService(NewMemoryRepo(), time.UTC)
	now := time.Now()
	if _, err := svc.DaySummary(context.Background(), DaySummaryRequest{Range: TimeRange{From: now, To: now.Add(time.Hour)}}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request without agent, got %v", err)
	}
	if _, err := svc.DaySummary(context.Background(), DaySummaryRequest{AgentID: "a1", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request for empty range, got %v", err)
	}
	if err := svc.RecordOutcome(context.Background(), "a1", "", calls.CallOutcome{}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request without call id, got %v", err)
	}
}
