package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/discovery"
)

var bsbIDPattern = regexp.MustCompile(`bsb\d+(_\d+)*_u\d+`)

// BSB enumerates the newspaper issues digipress publishes for a title by walking its calendar.
type BSB struct {
	links   archive.LinkLister
	baseURL string
	opts    discovery.Options
	logger  *zap.Logger
}

// NewBSB builds the enumerator.
func NewBSB(baseURL string, links archive.LinkLister, opts discovery.Options, logger *zap.Logger) (*BSB, error) {
	if links == nil {
		return nil, fmt.Errorf("link lister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BSB{
		links:   links,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		logger:  logger.Named("bsb"),
	}, nil
}

// Kind implements archive.Enumerator.
func (b *BSB) Kind() archive.Kind { return archive.KindBSB }

// CalendarURL is the calendar entry page of title.
func (b *BSB) CalendarURL(title string) string {
	return fmt.Sprintf("%s/calendar/newspaper/%s", b.baseURL, title)
}

// Enumerate returns the sorted item ids reachable from the title's calendar: years, then months,
// then issue views.
func (b *BSB) Enumerate(ctx context.Context, title string) ([]string, error) {
	h, err := discovery.New(b.links, b.baseURL, b.opts, b.logger)
	if err != nil {
		return nil, err
	}
	calendar := discovery.Contains("calendar", title)
	views, err := h.HarvestLevels(ctx, b.CalendarURL(title), calendar, calendar, discovery.Contains("view"))
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", title, err)
	}
	ids := discovery.Identifiers(views, discovery.Pattern(bsbIDPattern))
	b.logger.Info("Enumerated items",
		zap.String("title_id", title),
		zap.Int("items", len(ids)),
		zap.Int("skipped_pages", h.Skipped()))
	return ids, nil
}
