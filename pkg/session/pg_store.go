package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	request     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	snapshot    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_status_updated_idx ON sessions (status, updated_at);
`

// PGStore persists session snapshots in Postgres, one JSONB row per session.
type PGStore struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	clock clockwork.Clock
}

// NewPGStore bootstraps the sessions table and returns the store.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, clock clockwork.Clock) (*PGStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("bootstrap sessions table: %w", err)
	}
	return &PGStore{pool: pool, log: log, clock: clock}, nil
}

// Create builds a new session and persists it immediately.
func (ps *PGStore) Create(ctx context.Context, request string) (*Session, error) {
	s := New(request)
	if err := ps.Save(ctx, s); err != nil {
		return nil, err
	}
	if ps.log != nil {
		ps.log.Info("created session", "id", s.ID)
	}
	return s, nil
}

// Save upserts the full snapshot. Last writer wins.
func (ps *PGStore) Save(ctx context.Context, s *Session) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO sessions (id, status, request, created_at, updated_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			snapshot = EXCLUDED.snapshot`,
		s.ID, string(s.Status()), s.Request, s.CreatedAt, s.LastUpdated, snapshot)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Load reads the snapshot for the id, returning ErrNotFound when absent.
func (ps *PGStore) Load(ctx context.Context, id string) (*Session, error) {
	var snapshot []byte
	err := ps.pool.QueryRow(ctx, `SELECT snapshot FROM sessions WHERE id = $1`, id).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(snapshot, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

// List returns summaries ordered by last update, newest first.
func (ps *PGStore) List(ctx context.Context, statusFilter Status, limit int) ([]Summary, error) {
	query := `SELECT id, created_at, updated_at, status, request FROM sessions`
	args := []any{}
	if statusFilter != "" {
		query += ` WHERE status = $1`
		args = append(args, string(statusFilter))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var status string
		if err := rows.Scan(&sum.ID, &sum.CreatedAt, &sum.LastUpdated, &status, &sum.Request); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Status = Status(status)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes the row. Deleting a missing session is not an error.
func (ps *PGStore) Delete(ctx context.Context, id string) error {
	_, err := ps.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Sweep deletes terminal sessions older than the per-status retention age.
func (ps *PGStore) Sweep(ctx context.Context, policy RetentionPolicy) (int, error) {
	now := ps.clock.Now()
	deleted := 0

	for status, age := range map[Status]time.Duration{
		StatusCompleted: policy.CompletedAge,
		StatusFailed:    policy.FailedAge,
	} {
		if age <= 0 {
			continue
		}
		cutoff := now.Add(-age)
		tag, err := ps.pool.Exec(ctx,
			`DELETE FROM sessions WHERE status = $1 AND updated_at < $2`,
			string(status), cutoff)
		if err != nil {
			return deleted, fmt.Errorf("sweep %s sessions: %w", status, err)
		}
		deleted += int(tag.RowsAffected())
	}

	if deleted > 0 && ps.log != nil {
		ps.log.Info("swept expired sessions", "count", deleted)
	}
	return deleted, nil
}
