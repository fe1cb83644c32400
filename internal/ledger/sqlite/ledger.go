// Package sqlite keeps the fetch ledger in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Ledger stores fetch state rows in SQLite.
type Ledger struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// New opens (and if necessary creates) the database at path.
func New(ctx context.Context, path, table string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if table == "" {
		table = "fetch_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, table: table, now: time.Now}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source     TEXT NOT NULL,
	scope      TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (source, scope, item_id)
)`, l.table)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Status returns the recorded status, or StatusAbsent when the key has no row.
func (l *Ledger) Status(ctx context.Context, key archive.Key) (archive.Status, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE source = ? AND scope = ? AND item_id = ?`, l.table)
	var status string
	err := l.db.QueryRowContext(ctx, query, string(key.Source), key.Scope, key.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
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

// Close closes the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close sqlite ledger: %w", err)
	}
	return nil
}

func (l *Ledger) upsert(ctx context.Context, key archive.Key, status archive.Status, reason string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source, scope, item_id, status, reason, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source, scope, item_id) DO UPDATE SET
	status = excluded.status,
	reason = excluded.reason,
	updated_at = excluded.updated_at`, l.table)
	_, err := l.db.ExecContext(ctx, query,
		string(key.Source), key.Scope, key.ID, string(status), reason,
		l.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record %s as %s: %w", key, status, err)
	}
	return nil
}
