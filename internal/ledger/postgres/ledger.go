// Package postgres keeps the fetch ledger in a shared Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Ledger stores fetch state rows in Postgres.
type Ledger struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects to Postgres and ensures the ledger table exists.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fetch_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: p, table: table, now: time.Now}, nil
}

// Migrate creates the ledger table if it does not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source     TEXT        NOT NULL,
	scope      TEXT        NOT NULL,
	item_id    TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	reason     TEXT        NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, scope, item_id)
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Status returns the recorded status, or StatusAbsent when the key has no row.
func (l *Ledger) Status(ctx context.Context, key archive.Key) (archive.Status, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE source = $1 AND scope = $2 AND item_id = $3`, l.table)
	var status string
	err := l.pool.QueryRow(ctx, query, string(key.Source), key.Scope, key.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.StatusAbsent, nil
	}
	if err != nil {
		return archive.StatusAbsent, fmt.Errorf("query status of %s: %w", key, err)
	}
	return archive.Status(status), nil
}

// IsFetched reports whether the key completed.
func (l *Ledger) IsFetched(ctx context.Context, key archive.Key) (bool, error) {
	status, err := l.Status(ctx, key)
	return status == archive.StatusComplete, err
}

// Begin marks the key pending.
func (l *Ledger) Begin(ctx context.Context, key archive.Key) error {
	return l.upsert(ctx, key, archive.StatusPending, "")
}

// Complete marks the key complete.
func (l *Ledger) Complete(ctx context.Context, key archive.Key) error {
	return l.upsert(ctx, key, archive.StatusComplete, "")
}

// Fail marks the key failed with reason.
func (l *Ledger) Fail(ctx context.Context, key archive.Key, reason string) error {
	return l.upsert(ctx, key, archive.StatusFailed, reason)
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() error {
	if l == nil || l.pool == nil {
		return nil
	}
	l.pool.Close()
	return nil
}

func (l *Ledger) upsert(ctx context.Context, key archive.Key, status archive.Status, reason string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source, scope, item_id, status, reason, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source, scope, item_id) DO UPDATE SET
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	updated_at = EXCLUDED.updated_at`, l.table)
	args := []any{string(key.Source), key.Scope, key.ID, string(status), reason, l.now().UTC()}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record %s as %s: %w", key, status, err)
	}
	return nil
}
