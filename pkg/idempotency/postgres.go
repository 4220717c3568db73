package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the delivery inbox table.
const Schema = `
CREATE TABLE IF NOT EXISTS delivery_inbox (
	idempotency_key TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS delivery_inbox_expires_at ON delivery_inbox (expires_at);
`

// PostgresLedger stores inbox entries in PostgreSQL so that several
// dispatcher replicas share one view of delivered reminders.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	config Config
}

// NewPostgresLedger creates a ledger on pool.
func NewPostgresLedger(pool *pgxpool.Pool, cfg Config) *PostgresLedger {
	return &PostgresLedger{pool: pool, config: cfg}
}

// Migrate creates the inbox table if needed.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, Schema)
	return err
}

// Claim implements Ledger.
func (l *PostgresLedger) Claim(ctx context.Context, key string, now time.Time) (Status, error) {
	query := `
		INSERT INTO delivery_inbox (idempotency_key, status, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		WHERE delivery_inbox.status = 'RECOVERABLE'
		   OR (delivery_inbox.status = 'STARTED' AND delivery_inbox.updated_at < $5)
		RETURNING idempotency_key
	`

	var returned string
	err := l.pool.QueryRow(ctx, query,
		key, StatusStarted, now, now.Add(l.config.TTL), now.Add(-l.config.RecoveryTimeout),
	).Scan(&returned)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	var status Status
	if err := l.pool.QueryRow(ctx,
		`SELECT status FROM delivery_inbox WHERE idempotency_key = $1`, key,
	).Scan(&status); err != nil {
		return "", err
	}
	return status, nil
}

// Settle implements Ledger.
func (l *PostgresLedger) Settle(ctx context.Context, key string, status Status, now time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE delivery_inbox
		SET status = $1, updated_at = $2, expires_at = $3
		WHERE idempotency_key = $4
	`, status, now, now.Add(l.config.TTL), key)
	return err
}

// Purge implements Ledger.
func (l *PostgresLedger) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM delivery_inbox WHERE expires_at < $1 AND status <> 'STARTED'`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
