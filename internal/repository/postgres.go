// Package repository persists closed sessions and alert history to
// PostgreSQL for post-interview review.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/signal"
)

// ErrSessionNotFound is returned when a session row does not exist.
var ErrSessionNotFound = errors.New("session not found")

// PostgresRepository implements session.Store using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			candidate     TEXT NOT NULL,
			state         TEXT NOT NULL,
			final_score   DOUBLE PRECISION NOT NULL,
			last_seq      BIGINT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			last_event_at TIMESTAMPTZ,
			closed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id                 TEXT PRIMARY KEY,
			session_id         TEXT NOT NULL,
			triggered_at       TIMESTAMPTZ NOT NULL,
			score_at_trigger   DOUBLE PRECISION NOT NULL,
			reason_signal_type TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_session_id ON alerts (session_id);
	`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveSession upserts the final row for a session.
func (r *PostgresRepository) SaveSession(ctx context.Context, snap session.Snapshot) error {
	query := `
		INSERT INTO sessions (id, candidate, state, final_score, last_seq, created_at, last_event_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			final_score = EXCLUDED.final_score,
			last_seq = EXCLUDED.last_seq,
			last_event_at = EXCLUDED.last_event_at,
			closed_at = now()
	`

	var lastEvent *time.Time
	if !snap.LastEventAt.IsZero() {
		lastEvent = &snap.LastEventAt
	}
	_, err := r.pool.Exec(ctx, query,
		snap.SessionID, snap.Candidate, string(snap.State), snap.Score,
		int64(snap.LastSeq), snap.CreatedAt, lastEvent,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// AppendAlert records one raised alert. Alerts are append-only.
func (r *PostgresRepository) AppendAlert(ctx context.Context, alert session.Alert) error {
	query := `
		INSERT INTO alerts (id, session_id, triggered_at, score_at_trigger, reason_signal_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		alert.ID, alert.SessionID, alert.TriggeredAt, alert.Score, string(alert.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// GetSession retrieves a closed session row by ID.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (session.Snapshot, error) {
	query := `
		SELECT id, candidate, state, final_score, last_seq, created_at, last_event_at
		FROM sessions
		WHERE id = $1
	`

	var (
		snap      session.Snapshot
		state     string
		lastSeq   int64
		lastEvent *time.Time
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&snap.SessionID, &snap.Candidate, &state, &snap.Score,
		&lastSeq, &snap.CreatedAt, &lastEvent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Snapshot{}, ErrSessionNotFound
		}
		return session.Snapshot{}, fmt.Errorf("failed to get session: %w", err)
	}
	snap.State = session.State(state)
	snap.LastSeq = uint64(lastSeq)
	if lastEvent != nil {
		snap.LastEventAt = *lastEvent
	}
	return snap, nil
}

// ListAlerts retrieves the alert history for a session, oldest first.
func (r *PostgresRepository) ListAlerts(ctx context.Context, sessionID string) ([]session.Alert, error) {
	query := `
		SELECT id, session_id, triggered_at, score_at_trigger, reason_signal_type
		FROM alerts
		WHERE session_id = $1
		ORDER BY triggered_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []session.Alert
	for rows.Next() {
		var (
			a      session.Alert
			reason string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.TriggeredAt, &a.Score, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Reason = signal.Type(reason)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
