package reporting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agent-console/internal/calls"
	"agent-console/pkg/utils"
)

// PostgresRepo keeps saved outcomes in console_outcomes. The call id is the
// idempotency key: a resubmitted outcome is stored once.
//
//	CREATE TABLE console_outcomes (
//	  call_id        text PRIMARY KEY,
//	  agent_id       text NOT NULL,
//	  campaign_id    text,
//	  outcome        text NOT NULL,
//	  call_seconds   int  NOT NULL,
//	  record_seconds int  NOT NULL,
//	  callback_date  timestamptz,
//	  saved_at       timestamptz NOT NULL
//	);
//	CREATE INDEX console_outcomes_agent_saved ON console_outcomes (agent_id, saved_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) AddOutcome(ctx context.Context, row OutcomeRow) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		exists, err := outcomeExists(ctx, tx, row.CallID)
		if err != nil {
			return fmt.Errorf("reporting: lookup outcome: %w", err)
		}
		if exists {
			return nil
		}
		if err := insertOutcome(ctx, tx, row); err != nil {
			return fmt.Errorf("reporting: insert outcome: %w", err)
		}
		return nil
	})
}

func outcomeExists(ctx context.Context, tx *sql.Tx, callID string) (bool, error) {
	const q = `SELECT 1 FROM console_outcomes WHERE call_id = $1 FOR UPDATE`
	var one int
	err := tx.QueryRowContext(ctx, q, callID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func insertOutcome(ctx context.Context, tx *sql.Tx, row OutcomeRow) error {
	const q = `
INSERT INTO console_outcomes (
  call_id, agent_id, campaign_id, outcome, call_seconds, record_seconds, callback_date, saved_at
) VALUES (
  $1,$2,NULLIF($3, ''),$4,$5,$6,$7,$8
)
ON CONFLICT (call_id) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q,
		row.CallID,
		row.AgentID,
		row.CampaignID,
		string(row.Outcome),
		row.CallSeconds,
		row.RecordSeconds,
		row.CallbackDate,
		row.SavedAt,
	)
	return err
}

func (r *PostgresRepo) ListOutcomes(ctx context.Context, agentID string, from, to time.Time, campaignID string) ([]OutcomeRow, error) {
	const q = `
SELECT call_id, agent_id, COALESCE(campaign_id, ''), outcome, call_seconds, record_seconds, callback_date, saved_at
FROM console_outcomes
WHERE agent_id = $1 AND saved_at >= $2 AND saved_at < $3 AND ($4 = '' OR campaign_id = $4)
ORDER BY saved_at
`
	rows, err := r.db.QueryContext(ctx, q, agentID, from, to, campaignID)
	if err != nil {
		return nil, fmt.Errorf("reporting: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var (
			row      OutcomeRow
			outcome  string
			callback sql.NullTime
		)
		if err := rows.Scan(
			&row.CallID,
			&row.AgentID,
			&row.CampaignID,
			&outcome,
			&row.CallSeconds,
			&row.RecordSeconds,
			&callback,
			&row.SavedAt,
		); err != nil {
			return nil, fmt.Errorf("reporting: scan outcome: %w", err)
		}
		row.Outcome = calls.Outcome(outcome)
		if callback.Valid {
			t := callback.Time
			row.CallbackDate = &t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
