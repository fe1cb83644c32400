package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/discovery"
	"github.com/zeynepaki/tgv-prototype/internal/metrics"
	"github.com/zeynepaki/tgv-prototype/internal/segment"
)

const (
	annoDatumKey  = "datum"
	annoZoomLevel = "100"
	// annoAllPages asks annoshow for every page of an issue in one document.
	annoAllPages = "x"
)

// ANNO harvests Austrian Newspapers Online. Issues are discovered by crawling a title's calendar and
// downloaded as one combined text that is split into pages.
// Layout: anno.onb.ac.at/<title>/<datum>/txt/<page>.txt
type ANNO struct {
	deps       Deps
	baseURL    string
	titleNames map[string]string
	opts       discovery.Options
	logger     *zap.Logger
}

// NewANNO builds the adapter. titleNames maps title ids to display names. deps.Links must be set.
func NewANNO(baseURL string, titleNames map[string]string, opts discovery.Options, deps Deps) (*ANNO, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Links == nil {
		return nil, fmt.Errorf("link lister is required")
	}
	names := make(map[string]string, len(titleNames))
	for id, name := range titleNames {
		names[id] = name
	}
	return &ANNO{
		deps:       deps,
		baseURL:    strings.TrimRight(baseURL, "/"),
		titleNames: names,
		opts:       opts,
		logger:     deps.logger("anno"),
	}, nil
}

// Kind implements archive.Fetcher.
func (a *ANNO) Kind() archive.Kind { return archive.KindANNO }

// TitleURL is the calendar entry page of title.
func (a *ANNO) TitleURL(title string) string {
	return fmt.Sprintf("%s/cgi-content/anno?apm=0&aid=%s", a.baseURL, title)
}

// TextURL is the OCR text of one page; page "x" returns all pages of the issue.
func (a *ANNO) TextURL(title, datum, page string) string {
	return fmt.Sprintf("%s/cgi-content/annoshow?text=%s|%s|%s", a.baseURL, title, datum, page)
}

// ImageURL is the page scan at the default zoom level.
func (a *ANNO) ImageURL(title, datum, page string) string {
	return fmt.Sprintf("%s/cgi-content/annoshow?call=%s|%s|%s|%s", a.baseURL, title, datum, page, annoZoomLevel)
}

// TitleFull returns the configured display name of title, or the id itself.
func (a *ANNO) TitleFull(title string) string {
	if name, ok := a.titleNames[title]; ok && name != "" {
		return name
	}
	return title
}

// List returns the issue dates (YYYYMMDD) published for title within [from, to] in ascending order,
// without downloading anything. A zero bound is open.
func (a *ANNO) List(ctx context.Context, title string, from, to int64) ([]string, error) {
	h, err := discovery.New(a.deps.Links, a.baseURL, a.opts, a.logger)
	if err != nil {
		return nil, err
	}
	days, err := h.HarvestLevels(ctx, a.TitleURL(title),
		discovery.Contains(annoDatumKey+"="),
		discovery.Contains(annoDatumKey+"="))
	if err != nil {
		return nil, fmt.Errorf("discover issues of %s: %w", title, err)
	}

	type datum struct {
		raw string
		n   int64
	}
	var found []datum
	for _, raw := range discovery.Identifiers(days, discovery.QueryParam(annoDatumKey)) {
		n, ok := parseDatum(raw)
		if !ok {
			continue
		}
		if (from != 0 && n < from) || (to != 0 && n > to) {
			continue
		}
		found = append(found, datum{raw: raw, n: n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]string, len(found))
	for i, d := range found {
		out[i] = d.raw
	}
	a.logger.Debug("Discovered issues",
		zap.String("title_id", title),
		zap.Int("datums", len(out)),
		zap.Int("skipped_pages", h.Skipped()))
	return out, nil
}

func parseDatum(raw string) (int64, bool) {
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Fetch downloads every issue of title req.ID within [req.Min, req.Max] not yet in the ledger.
func (a *ANNO) Fetch(ctx context.Context, req archive.FetchRequest) (archive.FetchReport, error) {
	report := archive.FetchReport{Source: archive.KindANNO}
	datums, err := a.List(ctx, req.ID, req.Min, req.Max)
	if err != nil {
		return report, err
	}
	for _, datum := range datums {
		key := archive.Key{Source: archive.KindANNO, Scope: req.ID, ID: datum}
		err := fetchItem(ctx, a.deps, a.logger, key, &report, func(ctx context.Context) error {
			return a.download(ctx, req.ID, datum)
		})
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (a *ANNO) download(ctx context.Context, title, datum string) error {
	body, err := a.deps.Getter.Get(ctx, a.TextURL(title, datum, annoAllPages))
	if err != nil {
		return fmt.Errorf("download %s issue %s: %w", title, datum, err)
	}

	issueDir := filepath.Join(string(archive.KindANNO), title, datum)
	combined := filepath.Join(issueDir, datum+".combined")
	if _, err := a.deps.Store.PutObject(ctx, combined, "text/plain", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write combined text: %w", err)
	}
	combinedPath := filepath.Join(a.deps.DataRoot, combined)
	defer func() {
		if err := os.Remove(combinedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("Failed to remove combined text", zap.String("path", combinedPath), zap.Error(err))
		}
	}()

	pages, err := segment.SplitPages(combinedPath, filepath.Join(a.deps.DataRoot, issueDir, string(archive.FormatText)))
	if err != nil {
		return fmt.Errorf("split %s issue %s: %w", title, datum, err)
	}
	for i := 0; i < pages; i++ {
		metrics.ObserveArtifact(string(archive.KindANNO), string(archive.FormatText))
	}
	if pages == 0 {
		a.logger.Warn("Issue has no page markers", zap.String("title_id", title), zap.String("datum", datum))
	}
	return nil
}

// ParseArtifact implements archive.Processor for paths of the form <title>/<datum>/txt/<page>.txt.
func (a *ANNO) ParseArtifact(rel string) (archive.Artifact, error) {
	art, dirs, err := parseLayout(archive.KindANNO.Root(a.deps.DataRoot), rel, 2)
	if err != nil {
		return archive.Artifact{}, err
	}
	art.Source = archive.KindANNO
	art.Item = dirs[0]
	art.Datum = dirs[1]
	return art, nil
}

// Process builds the record of one issue page.
func (a *ANNO) Process(_ context.Context, art archive.Artifact) (*archive.Record, error) {
	if art.Format != archive.FormatText {
		return nil, nil
	}
	text, err := readText(art.Path)
	if err != nil {
		return nil, err
	}
	rec := &archive.Record{
		LocalPath:  art.Path,
		Source:     string(archive.KindANNO),
		TitleID:    art.Item,
		TitleFull:  a.TitleFull(art.Item),
		Datum:      art.Datum,
		PageNumber: art.Page,
		RemotePath: stringPtr(a.TextURL(art.Item, art.Datum, art.Page)),
		ImageURL:   stringPtr(a.ImageURL(art.Item, art.Datum, art.Page)),
	}
	rec.SetText(text)
	return rec, nil
}
