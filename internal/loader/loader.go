// Package loader bulk-loads a newline-delimited JSON file into a search sink.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/metrics"
)

// ErrSinkUnavailable is returned when the sink does not become healthy in time.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Config tunes a load.
type Config struct {
	Collection     string
	BatchSize      int
	WaitForHealthy bool
	HealthTimeout  time.Duration
	HealthInitial  time.Duration
	HealthMax      time.Duration
}

// Result counts what was imported.
type Result struct {
	Documents int `json:"documents"`
	Batches   int `json:"batches"`
}

// Schema returns the collection layout of normalized records.
func Schema(name string) archive.Schema {
	return archive.Schema{
		Name: name,
		Fields: []archive.Field{
			{Name: "local_path", Type: "string"},
			{Name: "source", Type: "string"},
			{Name: "title_id", Type: "string"},
			{Name: "title_full", Type: "string"},
			{Name: "datum", Type: "string", Optional: true},
			{Name: "page_number", Type: "string"},
			{Name: "remote_path", Type: "string", Optional: true},
			{Name: "image_url", Type: "string", Optional: true},
			{Name: "ocr_text_original", Type: "string", Locale: "de"},
			{Name: "ocr_text_stripped", Type: "string", Locale: "de"},
		},
	}
}

// Loader refreshes a collection from a record stream.
type Loader struct {
	sink   archive.Sink
	cfg    Config
	logger *zap.Logger
}

// New builds a Loader.
func New(sink archive.Sink, cfg Config, logger *zap.Logger) (*Loader, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.HealthInitial <= 0 {
		cfg.HealthInitial = 500 * time.Millisecond
	}
	if cfg.HealthMax < cfg.HealthInitial {
		cfg.HealthMax = cfg.HealthInitial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{sink: sink, cfg: cfg, logger: logger.Named("loader")}, nil
}

// WaitHealthy polls the sink until it reports healthy, backing off exponentially. It gives up with
// ErrSinkUnavailable once the health timeout expires.
func (l *Loader) WaitHealthy(ctx context.Context) error {
	if l.cfg.HealthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.HealthTimeout)
		defer cancel()
	}
	policy := backoff{initial: l.cfg.HealthInitial, max: l.cfg.HealthMax}

	for attempt := 0; ; attempt++ {
		ok, err := l.sink.Healthy(ctx)
		if ok && err == nil {
			l.logger.Info("Sink is healthy", zap.Int("attempts", attempt+1))
			return nil
		}
		wait := policy.delay(attempt)
		l.logger.Info("Waiting for sink",
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %d attempts", ErrSinkUnavailable, attempt+1)
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Load replaces the collection with the documents read from r, one JSON object per line.
// Blank lines are ignored; a line that is not valid JSON aborts the load.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Result, error) {
	var res Result
	if l.cfg.WaitForHealthy {
		if err := l.WaitHealthy(ctx); err != nil {
			return res, err
		}
	}

	if err := l.sink.DeleteCollection(ctx, l.cfg.Collection); err != nil {
		return res, fmt.Errorf("delete collection %s: %w", l.cfg.Collection, err)
	}
	if err := l.sink.CreateCollection(ctx, Schema(l.cfg.Collection)); err != nil {
		return res, fmt.Errorf("create collection %s: %w", l.cfg.Collection, err)
	}

	batch := make([]json.RawMessage, 0, l.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := l.sink.ImportBatch(ctx, l.cfg.Collection, batch)
		metrics.ObserveImportBatch(len(batch), err)
		if err != nil {
			return fmt.Errorf("import batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Documents += len(batch)
		l.logger.Debug("Imported batch", zap.Int("batch", res.Batches), zap.Int("documents", len(batch)))
		batch = make([]json.RawMessage, 0, l.cfg.BatchSize)
		return nil
	}

	br := bufio.NewReader(r)
	for line := 1; ; line++ {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return res, fmt.Errorf("read line %d: %w", line, readErr)
		}
		if doc := bytes.TrimSpace(raw); len(doc) > 0 {
			if !json.Valid(doc) {
				return res, fmt.Errorf("line %d is not valid JSON", line)
			}
			batch = append(batch, json.RawMessage(doc))
			if len(batch) == l.cfg.BatchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	l.logger.Info("Loaded collection",
		zap.String("collection", l.cfg.Collection),
		zap.Int("documents", res.Documents),
		zap.Int("batches", res.Batches))
	return res, nil
}

// LoadFile opens path and loads it.
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied input file
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return l.Load(ctx, f)
}
