// Package typesensesink implements the search sink on a Typesense server.
package typesensesink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

// Config holds the connection settings of one Typesense node.
type Config struct {
	Host              string
	Port              int
	Protocol          string
	Path              string
	APIKey            string
	ConnectionTimeout time.Duration
	HealthTimeout     time.Duration
}

// ServerURL joins the node settings into a base URL.
func (c Config) ServerURL() string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = "http"
	}
	path := strings.TrimRight(c.Path, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%d%s", protocol, c.Host, c.Port, path)
}

// Sink talks to Typesense through the official client.
type Sink struct {
	client        *typesense.Client
	healthTimeout time.Duration
	logger        *zap.Logger
}

// New builds a Sink.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("typesense api key is required")
	}
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("typesense host and port are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	health := cfg.HealthTimeout
	if health <= 0 {
		health = 2 * time.Second
	}
	client := typesense.NewClient(
		typesense.WithServer(cfg.ServerURL()),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(timeout),
	)
	return &Sink{client: client, healthTimeout: health, logger: logger.Named("typesense")}, nil
}

// Healthy implements archive.Sink.
func (s *Sink) Healthy(ctx context.Context) (bool, error) {
	ok, err := s.client.Health(ctx, s.healthTimeout)
	if err != nil {
		return false, fmt.Errorf("typesense health: %w", err)
	}
	return ok, nil
}

// DeleteCollection implements archive.Sink. A missing collection is not an error.
func (s *Sink) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.client.Collection(name).Delete(ctx); err != nil {
		var httpErr *typesense.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			s.logger.Info("Collection does not exist", zap.String("collection", name))
			return nil
		}
		return fmt.Errorf("typesense delete %s: %w", name, err)
	}
	s.logger.Info("Deleted collection", zap.String("collection", name))
	return nil
}

// CreateCollection implements archive.Sink.
func (s *Sink) CreateCollection(ctx context.Context, schema archive.Schema) error {
	if _, err := s.client.Collections().Create(ctx, collectionSchema(schema)); err != nil {
		return fmt.Errorf("typesense create %s: %w", schema.Name, err)
	}
	s.logger.Info("Created collection", zap.String("collection", schema.Name), zap.Int("fields", len(schema.Fields)))
	return nil
}

func collectionSchema(schema archive.Schema) *api.CollectionSchema {
	fields := make([]api.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		field := api.Field{Name: f.Name, Type: f.Type}
		if f.Optional {
			field.Optional = pointer.True()
		}
		if f.Locale != "" {
			field.Locale = pointer.String(f.Locale)
		}
		fields = append(fields, field)
	}
	return &api.CollectionSchema{Name: schema.Name, Fields: fields}
}

type importLine struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ImportBatch implements archive.Sink. Documents the server rejects fail the batch.
func (s *Sink) ImportBatch(ctx context.Context, collection string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, doc := range docs {
		body.Write(doc)
		body.WriteByte('\n')
	}
	resp, err := s.client.Collection(collection).Documents().ImportJsonl(ctx, &body, &api.ImportDocumentsParams{})
	if err != nil {
		return fmt.Errorf("typesense import into %s: %w", collection, err)
	}
	defer resp.Close() //nolint:errcheck // response body
	return checkImport(resp)
}

// checkImport reads the per-document results of an import.
func checkImport(r io.Reader) error {
	var (
		failed int
		first  string
		line   int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var res importLine
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode import result %d: %w", line, err)
		}
		if !res.Success {
			failed++
			if first == "" {
				first = "document " + strconv.Itoa(line) + ": " + res.Error
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read import results: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d documents rejected, first: %s", failed, first)
	}
	return nil
}
