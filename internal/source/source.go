// Package source implements the per-archive adapters: how each archive is fetched, how its raw
// artifacts are laid out on disk and how they are normalized into records.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/manifest"
	"github.com/zeynepaki/tgv-prototype/internal/metrics"
)

// Deps are the capabilities shared by all adapters.
type Deps struct {
	DataRoot string
	Getter   archive.Getter
	Links    archive.LinkLister
	// Store writes artifacts; its base directory must be DataRoot.
	Store  archive.BlobStore
	Ledger archive.Ledger
	HOCR   archive.HOCRConverter
	Logger *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.DataRoot == "":
		return fmt.Errorf("data root is required")
	case d.Getter == nil:
		return fmt.Errorf("getter is required")
	case d.Store == nil:
		return fmt.Errorf("blob store is required")
	case d.Ledger == nil:
		return fmt.Errorf("ledger is required")
	}
	return nil
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// fetchItem runs download for one ledger key unless the ledger says it is already fetched.
// Download failures are recorded and counted; only ledger and context errors are returned.
func fetchItem(ctx context.Context, d Deps, logger *zap.Logger, key archive.Key, report *archive.FetchReport, download func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source := string(key.Source)
	report.Attempted++

	done, err := d.Ledger.IsFetched(ctx, key)
	if err != nil {
		return fmt.Errorf("check ledger for %s: %w", key, err)
	}
	if done {
		report.Skipped++
		metrics.ObserveItem(source, "skipped")
		logger.Debug("Already fetched", zap.String("key", key.String()))
		return nil
	}

	if err := d.Ledger.Begin(ctx, key); err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}
	logger.Info("Fetching", zap.String("key", key.String()))

	if err := download(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		report.Failed++
		report.Errors = append(report.Errors, err)
		metrics.ObserveItem(source, "failed")
		logger.Error("Fetch failed",
			zap.String("key", key.String()),
			zap.String("scope", key.Scope),
			zap.String("item_id", key.ID),
			zap.Bool("manifest_rejected", isManifestError(err)),
			zap.Error(err))
		if failErr := d.Ledger.Fail(ctx, key, err.Error()); failErr != nil {
			return fmt.Errorf("mark %s failed: %w", key, failErr)
		}
		return nil
	}

	if err := d.Ledger.Complete(ctx, key); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	report.Succeeded++
	metrics.ObserveItem(source, "succeeded")
	return nil
}

// putArtifact writes body below the data root and counts it.
func putArtifact(ctx context.Context, d Deps, kind archive.Kind, format archive.Format, rel string, body []byte) error {
	if _, err := d.Store.PutObject(ctx, rel, contentType(format), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	metrics.ObserveArtifact(string(kind), string(format))
	return nil
}

func contentType(format archive.Format) string {
	switch format {
	case archive.FormatHOCR:
		return "text/vnd.hocr+html"
	case archive.FormatHTML:
		return "text/html"
	default:
		return "text/plain; charset=utf-8"
	}
}

// fileLabel turns a canvas label into a file name stem. "~" is reserved for labelNamer's suffix.
func fileLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.NewReplacer("/", "_", "\\", "_", "~", "_", string(os.PathSeparator), "_").Replace(label)
	if label == "" || label == "." || label == ".." {
		return "_"
	}
	return label
}

// labelNamer hands out unique stems when several resources share a canvas label: the first keeps the
// label, later ones get "~2", "~3" and so on.
type labelNamer map[string]int

func (n labelNamer) next(label string) string {
	stem := fileLabel(label)
	n[stem]++
	if c := n[stem]; c > 1 {
		return stem + "~" + strconv.Itoa(c)
	}
	return stem
}

// splitStem reverses labelNamer: "12~3" yields ("12", 3), "12" yields ("12", 0).
func splitStem(stem string) (string, int) {
	i := strings.LastIndex(stem, "~")
	if i <= 0 {
		return stem, 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil || n < 2 {
		return stem, 0
	}
	return stem[:i], n
}

// nth returns the entry at a 1-based index, treating zero as the first.
func nth[T any](items []T, index int) (T, bool) {
	var zero T
	if index <= 0 {
		index = 1
	}
	if index > len(items) {
		return zero, false
	}
	return items[index-1], true
}

// findCanvas locates the canvas whose file stem equals page.
func findCanvas(m *manifest.Manifest, page string) (manifest.Canvas, bool) {
	for _, c := range m.Canvases() {
		if fileLabel(c.Label.String()) == page {
			return c, true
		}
	}
	return manifest.Canvas{}, false
}

// parseLayout splits rel (relative to an archive root) into its directory segments and page file.
// The second to last segment names the format and must match the file extension.
func parseLayout(root, rel string, dirs int) (archive.Artifact, []string, error) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	if len(parts) != dirs+2 {
		return archive.Artifact{}, nil, fmt.Errorf("%w: %s", archive.ErrUnparseablePath, rel)
	}
	format := archive.Format(parts[dirs])
	name := parts[dirs+1]
	ext := filepath.Ext(name)
	if ext != "."+string(format) || len(name) == len(ext) {
		return archive.Artifact{}, nil, fmt.Errorf("%w: %s", archive.ErrUnparseablePath, rel)
	}
	for _, p := range parts[:dirs] {
		if p == "" || p == "." || p == ".." {
			return archive.Artifact{}, nil, fmt.Errorf("%w: %s", archive.ErrUnparseablePath, rel)
		}
	}
	page, index := splitStem(strings.TrimSuffix(name, ext))
	return archive.Artifact{
		Path:   filepath.Join(root, rel),
		Page:   page,
		Index:  index,
		Format: format,
	}, parts[:dirs], nil
}

// readText returns the file's content as UTF-8. Files that are not valid UTF-8 are decoded as
// Windows-1252, which covers ISO-8859-1.
func readText(path string) (string, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from walking the data root
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return decodeText(raw)
}

func decodeText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode legacy text: %w", err)
	}
	return string(out), nil
}

// manifestCache keeps loaded manifests for the lifetime of a conversion run.
type manifestCache struct {
	mu    sync.Mutex
	items map[string]*manifest.Manifest
}

func newManifestCache() *manifestCache {
	return &manifestCache{items: make(map[string]*manifest.Manifest)}
}

func (c *manifestCache) load(itemDir string) (*manifest.Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.items[itemDir]; ok {
		return m, nil
	}
	m, err := manifest.Load(itemDir)
	if err != nil {
		return nil, err
	}
	c.items[itemDir] = m
	return m, nil
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isManifestError reports whether err carries a remote manifest rejection.
func isManifestError(err error) bool {
	var me *archive.ManifestError
	return errors.As(err, &me)
}
