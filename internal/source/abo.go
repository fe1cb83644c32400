package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/manifest"
)

const (
	mimeText = "text/plain"

	aboImageRegion = "/full/,2400/"
)

// ABO harvests the Austrian Books Online IIIF service, whose manifests are nested below a project.
// Layout: iiif.onb.ac.at/<project>/<item>/txt/<label>.txt, or html/<label>.html for other formats.
type ABO struct {
	deps      Deps
	baseURL   string
	project   string
	mime      string
	format    archive.Format
	resolver  *manifest.Resolver
	manifests *manifestCache
	logger    *zap.Logger
}

// NewABO builds the adapter for project (e.g. "ABO"). resourceFormat selects the canvas resources to
// download; empty means text/plain.
func NewABO(baseURL, project, resourceFormat string, deps Deps) (*ABO, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(project) == "" {
		return nil, fmt.Errorf("abo project is required")
	}
	mime := strings.TrimSpace(resourceFormat)
	if mime == "" {
		mime = mimeText
	}
	format := archive.FormatText
	if mime != mimeText {
		format = archive.FormatHTML
	}
	logger := deps.logger("abo")
	return &ABO{
		deps:      deps,
		baseURL:   strings.TrimRight(baseURL, "/"),
		project:   project,
		mime:      mime,
		format:    format,
		resolver:  manifest.NewResolver(deps.Getter, deps.Store, deps.DataRoot, logger),
		manifests: newManifestCache(),
		logger:    logger,
	}, nil
}

// Kind implements archive.Fetcher.
func (a *ABO) Kind() archive.Kind { return archive.KindABO }

// ManifestURL returns the presentation manifest address of item.
func (a *ABO) ManifestURL(item string) string {
	return fmt.Sprintf("%s/presentation/%s/%s/manifest", a.baseURL, a.project, item)
}

func (a *ABO) key(item string) archive.Key {
	return archive.Key{Source: archive.KindABO, Scope: a.project, ID: item}
}

// Fetch downloads every resource of the configured format for the item named by req.ID.
func (a *ABO) Fetch(ctx context.Context, req archive.FetchRequest) (archive.FetchReport, error) {
	report := archive.FetchReport{Source: archive.KindABO}
	err := fetchItem(ctx, a.deps, a.logger, a.key(req.ID), &report, func(ctx context.Context) error {
		return a.download(ctx, req.ID)
	})
	return report, err
}

func (a *ABO) download(ctx context.Context, item string) error {
	itemDir := filepath.Join(string(archive.KindABO), a.project, item)
	m, err := a.resolver.Resolve(ctx, item, a.ManifestURL(item), itemDir)
	if err != nil {
		return err
	}

	format := a.format
	names := make(labelNamer)
	for _, res := range m.Resources(a.mime) {
		body, err := a.deps.Getter.Get(ctx, res.URL)
		if err != nil {
			return fmt.Errorf("download %s page %s: %w", item, res.Label, err)
		}
		rel := filepath.Join(itemDir, string(format), names.next(res.Label)+"."+string(format))
		if err := putArtifact(ctx, a.deps, archive.KindABO, format, rel, body); err != nil {
			return err
		}
		a.logger.Debug("Downloaded page",
			zap.String("item_id", item),
			zap.String("label", res.Label),
			zap.String("path", rel))
	}
	return nil
}

// ParseArtifact implements archive.Processor for paths of the form <project>/<item>/txt/<label>.txt.
func (a *ABO) ParseArtifact(rel string) (archive.Artifact, error) {
	art, dirs, err := parseLayout(archive.KindABO.Root(a.deps.DataRoot), rel, 2)
	if err != nil {
		return archive.Artifact{}, err
	}
	art.Source = archive.KindABO
	art.Project = dirs[0]
	art.Item = dirs[1]
	return art, nil
}

// Process builds the record of one page, resolving links through the persisted manifest.
func (a *ABO) Process(_ context.Context, art archive.Artifact) (*archive.Record, error) {
	if art.Format != archive.FormatText {
		return nil, nil
	}
	itemDir := filepath.Join(archive.KindABO.Root(a.deps.DataRoot), art.Project, art.Item)
	m, err := a.manifests.load(itemDir)
	if err != nil {
		return nil, fmt.Errorf("abo %s/%s: %w", art.Project, art.Item, err)
	}
	text, err := readText(art.Path)
	if err != nil {
		return nil, err
	}

	rec := &archive.Record{
		LocalPath:  art.Path,
		Source:     string(archive.KindABO),
		TitleID:    art.Item,
		TitleFull:  m.Label.String(),
		PageNumber: art.Page,
	}
	rec.SetText(text)

	if canvas, ok := findCanvas(m, art.Page); ok {
		rec.PageNumber = canvas.Label.String()
		if res, ok := nth(canvas.Resources(mimeText), art.Index); ok {
			rec.RemotePath = stringPtr(res.ID)
		}
		if img, ok := canvas.ImageURL(aboImageRegion); ok {
			rec.ImageURL = stringPtr(img)
		}
	}
	return rec, nil
}
