// Package ledger selects the fetch ledger backend.
package ledger

import (
	"context"
	"fmt"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/config"
	"github.com/zeynepaki/tgv-prototype/internal/ledger/dir"
	"github.com/zeynepaki/tgv-prototype/internal/ledger/postgres"
	"github.com/zeynepaki/tgv-prototype/internal/ledger/sidecar"
	"github.com/zeynepaki/tgv-prototype/internal/ledger/sqlite"
)

// Open builds the ledger named by cfg.Backend.
func Open(ctx context.Context, cfg config.LedgerConfig, dataRoot string) (archive.Ledger, error) {
	switch cfg.Backend {
	case "dir":
		return dir.New(dataRoot), nil
	case "", "sidecar":
		return sidecar.New(dataRoot), nil
	case "sqlite":
		l, err := sqlite.New(ctx, cfg.SQLitePath, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return l, nil
	case "postgres":
		l, err := postgres.New(ctx, postgres.Config{DSN: cfg.PostgresDSN, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
