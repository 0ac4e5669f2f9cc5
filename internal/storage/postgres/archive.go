// internal/storage/postgres/archive.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS command_events (
		id             UUID PRIMARY KEY,
		seq            BIGINT NOT NULL,
		type           TEXT NOT NULL,
		source         TEXT NOT NULL,
		priority       TEXT NOT NULL,
		correlation_id TEXT,
		payload        JSONB,
		occurred_at    TIMESTAMPTZ NOT NULL,
		archived_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS command_events_occurred_at_idx ON command_events (occurred_at DESC);`

// Archive copies the in-memory event log into Postgres for later inspection
type Archive struct {
	db *sql.DB
}

func NewArchive(cfg config.PostgresConfig) (*Archive, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// EnsureSchema creates the archive table when missing
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// StoreEvents inserts events in one transaction. Events already archived are skipped.
func (a *Archive) StoreEvents(ctx context.Context, events []models.CommandEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO command_events
		(id, seq, type, source, priority, correlation_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload of event %s: %w", e.ID, err)
		}

		var correlationID *string
		if e.CorrelationID != "" {
			correlationID = &e.CorrelationID
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID,
			int64(e.Seq),
			e.Type,
			e.Source,
			e.Priority,
			correlationID,
			payload,
			e.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to archive event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns up to limit archived events, newest first. Payloads come back
// as raw JSON.
func (a *Archive) RecentEvents(ctx context.Context, limit int) ([]models.CommandEvent, error) {
	query := `
		SELECT id, seq, type, source, priority, COALESCE(correlation_id, ''), payload, occurred_at
		FROM command_events
		ORDER BY occurred_at DESC
		LIMIT $1`

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived events: %w", err)
	}
	defer rows.Close()

	var out []models.CommandEvent
	for rows.Next() {
		var e models.CommandEvent
		var seq int64
		var payload []byte
		if err := rows.Scan(&e.ID, &seq, &e.Type, &e.Source, &e.Priority, &e.CorrelationID, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan archived event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
