// Package output copies a finished conversion file to a blob store and announces the run.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/convert"
)

// ContentType is the media type of the conversion output.
const ContentType = "application/x-ndjson"

// Summary is the notification payload of one conversion run.
type Summary struct {
	RunID          string    `json:"run_id"`
	Output         string    `json:"output"`
	URI            string    `json:"uri,omitempty"`
	Files          int       `json:"files"`
	Records        int       `json:"records"`
	DroppedRecords int       `json:"dropped_records"`
	FailedChunks   int       `json:"failed_chunks"`
	Skipped        int       `json:"skipped"`
	Degraded       bool      `json:"degraded"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Config names the uploaded object and the notification topic.
type Config struct {
	// ObjectName is the object path in the store. Empty uses the file's base name. The token
	// {run_id} is replaced by the conversion run ID.
	ObjectName string
	Topic      string
}

// Shipper uploads and announces conversion output. Both the store and the publisher are optional.
type Shipper struct {
	store     archive.BlobStore
	publisher archive.Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Shipper.
func New(store archive.BlobStore, publisher archive.Publisher, cfg Config, logger *zap.Logger) *Shipper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shipper{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("output"),
		now:       time.Now,
	}
}

// Enabled reports whether Ship has anything to do.
func (s *Shipper) Enabled() bool {
	return s.store != nil || s.publisher != nil
}

func (s *Shipper) objectName(path, runID string) string {
	name := s.cfg.ObjectName
	if name == "" {
		name = filepath.Base(path)
	}
	return strings.ReplaceAll(name, "{run_id}", runID)
}

// Ship uploads the file at path and publishes a Summary built from report.
func (s *Shipper) Ship(ctx context.Context, path string, report convert.Report, degraded bool) (Summary, error) {
	summary := Summary{
		RunID:          report.RunID,
		Output:         path,
		Files:          report.Files,
		Records:        report.Records,
		DroppedRecords: report.DroppedRecords,
		FailedChunks:   report.FailedChunks,
		Skipped:        report.Skipped,
		Degraded:       degraded,
		FinishedAt:     s.now().UTC(),
	}

	if s.store != nil {
		uri, err := s.upload(ctx, path, s.objectName(path, report.RunID))
		if err != nil {
			return summary, err
		}
		summary.URI = uri
		s.logger.Info("Uploaded output", zap.String("path", path), zap.String("uri", uri))
	}

	if s.publisher != nil {
		id, err := s.publisher.Publish(ctx, s.cfg.Topic, summary)
		if err != nil {
			return summary, fmt.Errorf("publish run summary: %w", err)
		}
		s.logger.Info("Published run summary",
			zap.String("run_id", summary.RunID),
			zap.String("message_id", id),
			zap.Bool("degraded", degraded))
	}
	return summary, nil
}

func (s *Shipper) upload(ctx context.Context, path, object string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- conversion output chosen by the operator
	if err != nil {
		return "", fmt.Errorf("open output %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	uri, err := s.store.PutObject(ctx, object, ContentType, f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return uri, nil
}
