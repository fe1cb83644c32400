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
	mimeHOCR       = "text/vnd.hocr+html"
	mdzImageRegion = "/full/2400,/"
)

// MDZ harvests the Munich Digitization Center IIIF API. Pages arrive as hOCR and are converted to text.
// Layout: api.digitale-sammlungen.de/<item>/{hocr,txt}/<label>.{hocr,txt}
type MDZ struct {
	deps      Deps
	baseURL   string
	resolver  *manifest.Resolver
	manifests *manifestCache
	logger    *zap.Logger
}

// NewMDZ builds the adapter. deps.HOCR must be set.
func NewMDZ(baseURL string, deps Deps) (*MDZ, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.HOCR == nil {
		return nil, fmt.Errorf("hocr converter is required")
	}
	logger := deps.logger("mdz")
	return &MDZ{
		deps:      deps,
		baseURL:   strings.TrimRight(baseURL, "/"),
		resolver:  manifest.NewResolver(deps.Getter, deps.Store, deps.DataRoot, logger),
		manifests: newManifestCache(),
		logger:    logger,
	}, nil
}

// Kind implements archive.Fetcher.
func (m *MDZ) Kind() archive.Kind { return archive.KindMDZ }

// ManifestURL returns the IIIF v2 manifest address of item.
func (m *MDZ) ManifestURL(item string) string {
	return fmt.Sprintf("%s/iiif/presentation/v2/%s/manifest", m.baseURL, item)
}

// Fetch downloads the hOCR of every canvas of req.ID and converts each page to text.
func (m *MDZ) Fetch(ctx context.Context, req archive.FetchRequest) (archive.FetchReport, error) {
	report := archive.FetchReport{Source: archive.KindMDZ}
	key := archive.Key{Source: archive.KindMDZ, ID: req.ID}
	err := fetchItem(ctx, m.deps, m.logger, key, &report, func(ctx context.Context) error {
		return m.download(ctx, req.ID)
	})
	return report, err
}

type hocrPage struct {
	stem string
	body []byte
}

func (m *MDZ) download(ctx context.Context, item string) error {
	itemDir := filepath.Join(string(archive.KindMDZ), item)
	man, err := m.resolver.Resolve(ctx, item, m.ManifestURL(item), itemDir)
	if err != nil {
		return err
	}

	names := make(labelNamer)
	var pages []hocrPage
	for _, link := range man.SeeAlso(mimeHOCR) {
		body, err := m.deps.Getter.Get(ctx, link.URL)
		if err != nil {
			return fmt.Errorf("download %s page %s: %w", item, link.Label, err)
		}
		stem := names.next(link.Label)
		rel := filepath.Join(itemDir, string(archive.FormatHOCR), stem+".hocr")
		if err := putArtifact(ctx, m.deps, archive.KindMDZ, archive.FormatHOCR, rel, body); err != nil {
			return err
		}
		pages = append(pages, hocrPage{stem: stem, body: body})
	}

	converted := 0
	for _, p := range pages {
		text, err := m.deps.HOCR.Convert(ctx, p.body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("hOCR conversion failed",
				zap.String("item_id", item),
				zap.String("label", p.stem),
				zap.Error(err))
			continue
		}
		rel := filepath.Join(itemDir, string(archive.FormatText), p.stem+".txt")
		if err := putArtifact(ctx, m.deps, archive.KindMDZ, archive.FormatText, rel, []byte(text)); err != nil {
			return err
		}
		converted++
	}
	m.logger.Info("Converted hOCR pages",
		zap.String("item_id", item),
		zap.Int("pages", len(pages)),
		zap.Int("converted", converted))
	return nil
}

// ParseArtifact implements archive.Processor for paths of the form <item>/txt/<label>.txt.
func (m *MDZ) ParseArtifact(rel string) (archive.Artifact, error) {
	art, dirs, err := parseLayout(archive.KindMDZ.Root(m.deps.DataRoot), rel, 1)
	if err != nil {
		return archive.Artifact{}, err
	}
	art.Source = archive.KindMDZ
	art.Item = dirs[0]
	return art, nil
}

// Process builds the record of one converted page.
func (m *MDZ) Process(_ context.Context, art archive.Artifact) (*archive.Record, error) {
	if art.Format != archive.FormatText {
		return nil, nil
	}
	man, err := m.manifests.load(filepath.Join(archive.KindMDZ.Root(m.deps.DataRoot), art.Item))
	if err != nil {
		return nil, fmt.Errorf("mdz %s: %w", art.Item, err)
	}
	text, err := readText(art.Path)
	if err != nil {
		return nil, err
	}

	rec := &archive.Record{
		LocalPath:  art.Path,
		Source:     string(archive.KindMDZ),
		TitleID:    art.Item,
		TitleFull:  man.Label.String(),
		PageNumber: art.Page,
	}
	rec.SetText(text)

	if canvas, ok := findCanvas(man, art.Page); ok {
		rec.PageNumber = canvas.Label.String()
		if link, ok := nth(canvasSeeAlso(canvas), art.Index); ok {
			rec.RemotePath = stringPtr(link.ID)
		}
		if img, ok := canvas.ImageURL(mdzImageRegion); ok {
			rec.ImageURL = stringPtr(img)
		}
	}
	return rec, nil
}

// canvasSeeAlso lists the links Fetch downloads for a canvas, in the same order.
func canvasSeeAlso(c manifest.Canvas) []manifest.Resource {
	var out []manifest.Resource
	for _, link := range c.SeeAlso {
		if link.ID == "" || (link.Format != "" && link.Format != mimeHOCR) {
			continue
		}
		out = append(out, link)
	}
	return out
}
