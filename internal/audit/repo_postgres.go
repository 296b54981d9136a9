package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends events to the console_events table.
//
//	CREATE TABLE console_events (
//	  id          uuid PRIMARY KEY,
//	  agent_id    text NOT NULL,
//	  type        text NOT NULL,
//	  campaign_id text,
//	  contact_id  text,
//	  call_id     text,
//	  outcome     text,
//	  message     text,
//	  metadata    jsonb,
//	  created_at  timestamptz NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const insertEventSQL = `INSERT INTO console_events
  (id, agent_id, type, campaign_id, contact_id, call_id, outcome, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, '')::jsonb, $10)`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.ID, e.AgentID, string(e.Type), e.CampaignID, e.ContactID, e.CallID, e.Outcome, e.Message, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
