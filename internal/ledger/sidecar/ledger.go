// Package sidecar records fetch status in a small JSON file inside each item directory.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

// FileName is the status file written into every item directory.
const FileName = ".fetch-status.json"

type entry struct {
	Status    archive.Status `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
	Reason    string         `json:"reason,omitempty"`
}

// Ledger stores one status file per item. A directory without the file is incomplete.
type Ledger struct {
	dataRoot string
	now      func() time.Time
}

// New returns a sidecar ledger rooted at dataRoot.
func New(dataRoot string) *Ledger {
	return &Ledger{dataRoot: dataRoot, now: time.Now}
}

func (l *Ledger) path(key archive.Key) string {
	return filepath.Join(key.Dir(l.dataRoot), FileName)
}

// Status reads the item's status file.
func (l *Ledger) Status(_ context.Context, key archive.Key) (archive.Status, error) {
	raw, err := os.ReadFile(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return archive.StatusAbsent, nil
	}
	if err != nil {
		return archive.StatusAbsent, fmt.Errorf("read status of %s: %w", key, err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return archive.StatusAbsent, fmt.Errorf("decode status of %s: %w", key, err)
	}
	return e.Status, nil
}

// IsFetched reports whether the item completed.
func (l *Ledger) IsFetched(ctx context.Context, key archive.Key) (bool, error) {
	status, err := l.Status(ctx, key)
	return status == archive.StatusComplete, err
}

// Begin creates the item directory and marks it pending.
func (l *Ledger) Begin(_ context.Context, key archive.Key) error {
	if err := os.MkdirAll(key.Dir(l.dataRoot), 0o750); err != nil {
		return fmt.Errorf("create item directory %s: %w", key, err)
	}
	return l.write(key, entry{Status: archive.StatusPending})
}

// Complete marks the item complete.
func (l *Ledger) Complete(_ context.Context, key archive.Key) error {
	if err := os.MkdirAll(key.Dir(l.dataRoot), 0o750); err != nil {
		return fmt.Errorf("create item directory %s: %w", key, err)
	}
	return l.write(key, entry{Status: archive.StatusComplete})
}

// Fail marks the item failed. When the item directory was already removed there is nothing to
// record: a missing directory is retried anyway.
func (l *Ledger) Fail(_ context.Context, key archive.Key, reason string) error {
	if _, err := os.Stat(key.Dir(l.dataRoot)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return l.write(key, entry{Status: archive.StatusFailed, Reason: reason})
}

// Close is a no-op.
func (l *Ledger) Close() error { return nil }

func (l *Ledger) write(key archive.Key, e entry) error {
	e.UpdatedAt = l.now().UTC()
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", key, err)
	}
	path := l.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write status of %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit status of %s: %w", key, err)
	}
	return nil
}
