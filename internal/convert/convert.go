// Package convert normalizes raw artifacts into records and streams them as newline-delimited JSON.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/metrics"
)

// ErrDegradedOutput reports that more records were dropped than convert.max_drop_ratio allows.
// The output written so far is complete apart from the dropped chunks.
var ErrDegradedOutput = errors.New("conversion dropped too many records")

// ChunkError is the failure of one chunk. Its records are dropped from the output.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Config tunes a conversion run.
type Config struct {
	BatchSize int
	Workers   int
	// MaxDropRatio fails the run when DroppedRecords/Files exceeds it. Zero disables the check.
	MaxDropRatio float64
}

// Report summarizes a conversion run.
type Report struct {
	RunID          string        `json:"run_id"`
	Files          int           `json:"files"`
	Chunks         int           `json:"chunks"`
	FailedChunks   int           `json:"failed_chunks"`
	Records        int           `json:"records"`
	DroppedRecords int           `json:"dropped_records"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"duration"`
}

// Converter runs the normalization stage over every processor's artifacts.
type Converter struct {
	cfg        Config
	dataRoot   string
	processors []archive.Processor
	byKind     map[archive.Kind]archive.Processor
	logger     *zap.Logger
}

// New builds a Converter reading artifacts below dataRoot.
func New(cfg Config, dataRoot string, processors []archive.Processor, logger *zap.Logger) (*Converter, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if len(processors) == 0 {
		return nil, fmt.Errorf("at least one processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byKind := make(map[archive.Kind]archive.Processor, len(processors))
	for _, p := range processors {
		byKind[p.Kind()] = p
	}
	return &Converter{
		cfg:        cfg,
		dataRoot:   dataRoot,
		processors: processors,
		byKind:     byKind,
		logger:     logger.Named("convert"),
	}, nil
}

type chunk struct {
	index     int
	artifacts []archive.Artifact
}

type chunkResult struct {
	index   int
	size    int
	lines   []byte
	records int
	err     error
}

// Run converts every artifact and writes one JSON document per line to w. Chunks are processed by
// a fixed pool of workers and written by the calling goroutine only, in completion order.
// A chunk that fails is logged and dropped; the run continues.
func (c *Converter) Run(ctx context.Context, w io.Writer) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	logger := c.logger.With(zap.String("run_id", report.RunID))

	artifacts, skipped, err := Enumerate(c.dataRoot, c.processors, logger)
	if err != nil {
		return report, err
	}
	report.Files = len(artifacts)
	report.Skipped = skipped
	metrics.ObserveSkippedPaths(skipped)

	chunks := split(artifacts, c.cfg.BatchSize)
	report.Chunks = len(chunks)
	logger.Info("Starting conversion",
		zap.Int("files", report.Files),
		zap.Int("chunks", report.Chunks),
		zap.Int("workers", c.cfg.Workers),
		zap.Int("skipped", skipped))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	jobs := make(chan chunk)
	results := make(chan chunkResult)

	g.Go(func() error {
		defer close(jobs)
		for _, ch := range chunks {
			select {
			case jobs <- ch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for ch := range jobs {
				res := c.processChunk(gctx, ch)
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var writeErr error
	for res := range results {
		if res.err != nil {
			report.FailedChunks++
			report.DroppedRecords += res.size
			metrics.ObserveChunk(true, 0, res.size)
			logger.Error("Dropping chunk",
				zap.Int("chunk", res.index),
				zap.Int("records", res.size),
				zap.Error(res.err))
			continue
		}
		if writeErr != nil {
			continue
		}
		if _, err := w.Write(res.lines); err != nil {
			writeErr = fmt.Errorf("write chunk %d: %w", res.index, err)
			cancel()
			continue
		}
		report.Records += res.records
		metrics.ObserveChunk(false, res.records, 0)
	}
	report.Duration = time.Since(start)

	if writeErr != nil {
		return report, writeErr
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("convert: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	logger.Info("Conversion finished",
		zap.Int("files", report.Files),
		zap.Int("records", report.Records),
		zap.Int("failed_chunks", report.FailedChunks),
		zap.Int("dropped_records", report.DroppedRecords),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration))

	if c.degraded(report) {
		return report, fmt.Errorf("%w: %d of %d files dropped (limit %.2f)",
			ErrDegradedOutput, report.DroppedRecords, report.Files, c.cfg.MaxDropRatio)
	}
	return report, nil
}

func (c *Converter) degraded(r Report) bool {
	if c.cfg.MaxDropRatio <= 0 || r.Files == 0 {
		return false
	}
	return float64(r.DroppedRecords)/float64(r.Files) > c.cfg.MaxDropRatio
}

func (c *Converter) processChunk(ctx context.Context, ch chunk) (res chunkResult) {
	res = chunkResult{index: ch.index, size: len(ch.artifacts)}
	defer func() {
		if r := recover(); r != nil {
			res.lines = nil
			res.err = &ChunkError{Index: ch.index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, art := range ch.artifacts {
		if err := ctx.Err(); err != nil {
			res.err = &ChunkError{Index: ch.index, Err: err}
			return res
		}
		p, ok := c.byKind[art.Source]
		if !ok {
			res.err = &ChunkError{Index: ch.index, Err: fmt.Errorf("no processor for %s", art.Source)}
			return res
		}
		rec, err := p.Process(ctx, art)
		if err != nil {
			res.err = &ChunkError{Index: ch.index, Err: fmt.Errorf("%s: %w", art.Path, err)}
			return res
		}
		if rec == nil {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			res.err = &ChunkError{Index: ch.index, Err: fmt.Errorf("encode %s: %w", art.Path, err)}
			return res
		}
		res.records++
	}
	res.lines = buf.Bytes()
	return res
}

func split(artifacts []archive.Artifact, size int) []chunk {
	var out []chunk
	for start := 0; start < len(artifacts); start += size {
		end := start + size
		if end > len(artifacts) {
			end = len(artifacts)
		}
		out = append(out, chunk{index: len(out), artifacts: artifacts[start:end]})
	}
	return out
}

// ConvertFile runs the conversion into path. The file is written under a temporary name and moved
// into place when the run completes, so readers never see a partial file. A degraded run still
// publishes its output.
func (c *Converter) ConvertFile(ctx context.Context, path string) (Report, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Report{}, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return Report{}, fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	report, runErr := c.Run(ctx, bw)
	if runErr != nil && !errors.Is(runErr, ErrDegradedOutput) {
		_ = tmp.Close()
		return report, runErr
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return report, fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return report, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return report, fmt.Errorf("publish output: %w", err)
	}
	published = true
	c.logger.Info("Wrote output", zap.String("path", path), zap.String("run_id", report.RunID))
	return report, runErr
}
