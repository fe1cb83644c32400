package source

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/config"
	"github.com/zeynepaki/tgv-prototype/internal/discovery"
)

// Registry maps archive kinds to their adapters and knows what the configuration asks to fetch.
type Registry struct {
	cfg    config.SourcesConfig
	abo    *ABO
	mdz    *MDZ
	anno   *ANNO
	bsb    *BSB
	logger *zap.Logger
}

// NewRegistry builds every adapter from cfg.
func NewRegistry(cfg config.SourcesConfig, deps Deps) (*Registry, error) {
	abo, err := NewABO(cfg.ABO.BaseURL, cfg.ABO.Project, cfg.ABO.ResourceFormat, deps)
	if err != nil {
		return nil, fmt.Errorf("abo: %w", err)
	}
	mdz, err := NewMDZ(cfg.MDZ.BaseURL, deps)
	if err != nil {
		return nil, fmt.Errorf("mdz: %w", err)
	}
	anno, err := NewANNO(cfg.ANNO.BaseURL, cfg.ANNO.TitleNames,
		discovery.Options{SkipFailedPages: cfg.ANNO.SkipFailedPages}, deps)
	if err != nil {
		return nil, fmt.Errorf("anno: %w", err)
	}
	bsb, err := NewBSB(cfg.BSB.BaseURL, deps.Links,
		discovery.Options{SkipFailedPages: cfg.BSB.SkipFailedPages}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("bsb: %w", err)
	}
	return &Registry{
		cfg:    cfg,
		abo:    abo,
		mdz:    mdz,
		anno:   anno,
		bsb:    bsb,
		logger: deps.logger("registry"),
	}, nil
}

// Kinds lists every archive the registry knows, in fetch order.
func (r *Registry) Kinds() []archive.Kind {
	return []archive.Kind{archive.KindABO, archive.KindMDZ, archive.KindANNO, archive.KindBSB}
}

// Processors returns the adapters that normalize artifacts.
func (r *Registry) Processors() []archive.Processor {
	return []archive.Processor{r.abo, r.mdz, r.anno}
}

// Adapter returns the fetch-and-normalize adapter of kind.
func (r *Registry) Adapter(kind archive.Kind) (archive.Adapter, bool) {
	switch kind {
	case archive.KindABO:
		return r.abo, true
	case archive.KindMDZ:
		return r.mdz, true
	case archive.KindANNO:
		return r.anno, true
	default:
		return nil, false
	}
}

// Enumerator returns the enumeration-only adapter of kind.
func (r *Registry) Enumerator(kind archive.Kind) (archive.Enumerator, bool) {
	if kind == archive.KindBSB {
		return r.bsb, true
	}
	return nil, false
}

// ANNO exposes the newspaper adapter for date listings.
func (r *Registry) ANNO() *ANNO {
	return r.anno
}

// Requests returns the configured fetch requests of kind.
func (r *Registry) Requests(kind archive.Kind) []archive.FetchRequest {
	var out []archive.FetchRequest
	switch kind {
	case archive.KindABO:
		for _, id := range r.cfg.ABO.ItemIDs {
			out = append(out, archive.FetchRequest{ID: id})
		}
	case archive.KindMDZ:
		for _, id := range r.cfg.MDZ.ItemIDs {
			out = append(out, archive.FetchRequest{ID: id})
		}
	case archive.KindANNO:
		titles := make([]string, 0, len(r.cfg.ANNO.Titles))
		for title := range r.cfg.ANNO.Titles {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		for _, title := range titles {
			bounds := r.cfg.ANNO.Titles[title]
			out = append(out, archive.FetchRequest{ID: title, Min: bounds.Min, Max: bounds.Max})
		}
	case archive.KindBSB:
		for _, id := range r.cfg.BSB.TitleIDs {
			out = append(out, archive.FetchRequest{ID: id})
		}
	}
	return out
}

// Fetch runs every configured request of kinds (all kinds when empty). Sources are harvested one
// after the other. A failing request is logged and recorded in the report; only cancellation stops
// the run early.
func (r *Registry) Fetch(ctx context.Context, kinds []archive.Kind) (archive.FetchReport, error) {
	if len(kinds) == 0 {
		kinds = r.Kinds()
	}
	var total archive.FetchReport
	for _, kind := range kinds {
		for _, req := range r.Requests(kind) {
			report, err := r.fetchOne(ctx, kind, req)
			total.Merge(report)
			if err == nil {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			total.Errors = append(total.Errors, err)
			r.logger.Error("Fetch request failed",
				zap.String("source", string(kind)),
				zap.String("request", req.ID),
				zap.Error(err))
		}
	}
	r.logger.Info("Fetch finished",
		zap.Int("attempted", total.Attempted),
		zap.Int("skipped", total.Skipped),
		zap.Int("succeeded", total.Succeeded),
		zap.Int("failed", total.Failed),
		zap.Int("errors", len(total.Errors)))
	return total, nil
}

func (r *Registry) fetchOne(ctx context.Context, kind archive.Kind, req archive.FetchRequest) (archive.FetchReport, error) {
	if adapter, ok := r.Adapter(kind); ok {
		return adapter.Fetch(ctx, req)
	}
	enum, ok := r.Enumerator(kind)
	if !ok {
		return archive.FetchReport{}, fmt.Errorf("unknown source %q", kind)
	}
	ids, err := enum.Enumerate(ctx, req.ID)
	if err != nil {
		return archive.FetchReport{Source: kind}, err
	}
	for _, id := range ids {
		r.logger.Info("Available item", zap.String("title_id", req.ID), zap.String("item_id", id))
	}
	return archive.FetchReport{Source: kind}, nil
}
