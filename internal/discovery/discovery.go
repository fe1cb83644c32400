// Package discovery harvests hyperlinks from archive pages, optionally across several levels of
// navigation, and extracts identifiers from the collected URLs.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

// Set is a deduplicated collection of absolute URLs.
type Set map[string]struct{}

// Add inserts u.
func (s Set) Add(u string) {
	s[u] = struct{}{}
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Options tunes harvesting.
type Options struct {
	// SkipFailedPages logs and skips intermediate pages that fail instead of aborting.
	// A failing seed page always aborts.
	SkipFailedPages bool
}

// Harvester collects links through an archive.LinkLister.
type Harvester struct {
	links   archive.LinkLister
	base    *url.URL
	opts    Options
	logger  *zap.Logger
	skipped int
}

// New builds a Harvester resolving relative links against baseURL.
func New(links archive.LinkLister, baseURL string, opts Options, logger *zap.Logger) (*Harvester, error) {
	if links == nil {
		return nil, fmt.Errorf("link lister is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{links: links, base: base, opts: opts, logger: logger}, nil
}

// Skipped reports how many intermediate pages were skipped because they failed.
func (h *Harvester) Skipped() int {
	return h.skipped
}

// Harvest fetches seed and returns the resolved targets of every link whose raw href satisfies keep.
func (h *Harvester) Harvest(ctx context.Context, seed string, keep Predicate) (Set, error) {
	out := make(Set)
	if err := h.collect(ctx, seed, keep, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HarvestLevels applies one predicate per navigation level. The first level is harvested from the
// seed, each following level from every URL found by the previous one. The final level is returned.
func (h *Harvester) HarvestLevels(ctx context.Context, seed string, levels ...Predicate) (Set, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("at least one level is required")
	}
	current, err := h.Harvest(ctx, seed, levels[0])
	if err != nil {
		return nil, err
	}
	for depth, keep := range levels[1:] {
		next := make(Set)
		for _, page := range current.Sorted() {
			if err := h.collect(ctx, page, keep, next); err != nil {
				if !h.opts.SkipFailedPages || ctx.Err() != nil {
					return nil, err
				}
				h.skipped++
				h.logger.Warn("Skipping failed page",
					zap.String("url", page),
					zap.Int("level", depth+2),
					zap.Error(err))
			}
		}
		current = next
	}
	return current, nil
}

func (h *Harvester) collect(ctx context.Context, page string, keep Predicate, into Set) error {
	hrefs, err := h.links.Links(ctx, page)
	if err != nil {
		return fmt.Errorf("list links on %s: %w", page, err)
	}
	for _, href := range hrefs {
		if !keep(href) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			h.logger.Debug("Ignoring malformed href", zap.String("href", href), zap.Error(err))
			continue
		}
		into.Add(h.base.ResolveReference(ref).String())
	}
	return nil
}
