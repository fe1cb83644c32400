package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

// FileName is the persisted manifest below an item directory.
var FileName = filepath.Join("json", "manifest.json")

// Parse decodes body and checks that it describes at least a sequence list. A document without
// sequences yields *archive.ManifestError carrying the archive's message, if any.
func Parse(item string, body []byte) (*Manifest, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", item, err)
	}
	if _, ok := keys["sequences"]; !ok {
		msg := "manifest has no sequences"
		if raw, ok := keys["message"]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				msg = s
			} else {
				msg = string(raw)
			}
		}
		return nil, &archive.ManifestError{Item: item, Message: msg}
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", item, err)
	}
	return &m, nil
}

// Resolver fetches manifests, validates them and persists them below the data root.
type Resolver struct {
	getter   archive.Getter
	store    archive.BlobStore
	dataRoot string
	logger   *zap.Logger
}

// NewResolver builds a Resolver writing through store, whose base directory is dataRoot.
func NewResolver(getter archive.Getter, store archive.BlobStore, dataRoot string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{getter: getter, store: store, dataRoot: dataRoot, logger: logger}
}

// Resolve downloads the manifest of item into itemDir (relative to the data root) and returns it.
// Any failure removes itemDir so that no partial item is left behind. An already persisted manifest
// is never overwritten.
func (r *Resolver) Resolve(ctx context.Context, item, manifestURL, itemDir string) (*Manifest, error) {
	m, err := r.resolve(ctx, item, manifestURL, itemDir)
	if err != nil {
		full := filepath.Join(r.dataRoot, itemDir)
		if rmErr := os.RemoveAll(full); rmErr != nil {
			r.logger.Warn("Failed to remove item directory", zap.String("path", full), zap.Error(rmErr))
		}
		return nil, err
	}
	return m, nil
}

func (r *Resolver) resolve(ctx context.Context, item, manifestURL, itemDir string) (*Manifest, error) {
	body, err := r.getter.Get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest for %s: %w", item, err)
	}
	m, err := Parse(item, body)
	if err != nil {
		return nil, err
	}

	rel := filepath.Join(itemDir, FileName)
	if _, err := os.Stat(filepath.Join(r.dataRoot, rel)); err == nil {
		r.logger.Debug("Manifest already persisted", zap.String("item_id", item))
		return m, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat manifest for %s: %w", item, err)
	}

	pretty, err := indent(body)
	if err != nil {
		return nil, fmt.Errorf("indent manifest for %s: %w", item, err)
	}
	if _, err := r.store.PutObject(ctx, rel, "application/json", bytes.NewReader(pretty)); err != nil {
		return nil, fmt.Errorf("persist manifest for %s: %w", item, err)
	}
	return m, nil
}

// Load reads the manifest persisted in itemDir, an absolute or working-directory relative path.
func Load(itemDir string) (*Manifest, error) {
	body, err := os.ReadFile(filepath.Join(itemDir, FileName)) // #nosec G304 -- path derived from the data root layout
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", itemDir, err)
	}
	return &m, nil
}

// indent re-indents body with four spaces and keeps its key order. String literals holding \u escapes
// are re-encoded so that non-ASCII text is stored literally.
func indent(body []byte) ([]byte, error) {
	var literal bytes.Buffer
	literal.Grow(len(body))
	for i := 0; i < len(body); {
		if body[i] != '"' {
			literal.WriteByte(body[i])
			i++
			continue
		}
		end := stringEnd(body, i)
		if end < 0 {
			return nil, errors.New("unterminated string")
		}
		tok := body[i:end]
		if bytes.Contains(tok, []byte(`\u`)) {
			requoted, err := requote(tok)
			if err != nil {
				return nil, err
			}
			tok = requoted
		}
		literal.Write(tok)
		i = end
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, literal.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	pretty.WriteByte('\n')
	return pretty.Bytes(), nil
}

// stringEnd returns the index just past the string literal opening at start, or -1.
func stringEnd(b []byte, start int) int {
	for j := start + 1; j < len(b); j++ {
		switch b[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return -1
}

func requote(tok []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(tok, &s); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
