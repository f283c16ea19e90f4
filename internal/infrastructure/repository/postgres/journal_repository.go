package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

// JournalRepository stores the workflow event history.
type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS workflow_events (
	id TEXT PRIMARY KEY,
	document_id BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_workflow_events_document ON workflow_events(document_id, occurred_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Append is idempotent on the event id; redelivered events are ignored.
func (r *JournalRepository) Append(ctx context.Context, event domain.WorkflowEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO workflow_events (id, document_id, event_type, stage, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`,
		event.ID, int64(event.DocumentID), string(event.Type), event.Stage, event.Detail, event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert workflow event: %w", err)
	}
	return nil
}

// ListByDocument returns the latest limit events, oldest first.
func (r *JournalRepository) ListByDocument(ctx context.Context, id domain.DocumentID, limit int) ([]domain.WorkflowEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, event_type, stage, detail, occurred_at
FROM (
	SELECT id, document_id, event_type, stage, detail, occurred_at
	FROM workflow_events
	WHERE document_id = $1
	ORDER BY occurred_at DESC
	LIMIT $2
) latest
ORDER BY occurred_at ASC
`, int64(id), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list workflow events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.WorkflowEvent, 0)
	for rows.Next() {
		var (
			event     domain.WorkflowEvent
			docID     int64
			eventType string
		)
		if err := rows.Scan(&event.ID, &docID, &eventType, &event.Stage, &event.Detail, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		event.DocumentID = domain.DocumentID(docID)
		event.Type = domain.EventType(eventType)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow events: %w", err)
	}
	return out, nil
}
