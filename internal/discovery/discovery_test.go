package discovery

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const base = "https://anno.onb.ac.at"

type fakeLister struct {
	mu    sync.Mutex
	pages map[string][]string
	fail  map[string]error
	calls []string
}

func (f *fakeLister) Links(_ context.Context, url string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	hrefs, ok := f.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return hrefs, nil
}

func newHarvester(t *testing.T, lister *fakeLister, opts Options) *Harvester {
	t.Helper()
	h, err := New(lister, base, opts, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestHarvestFiltersResolvesAndDeduplicates(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: map[string][]string{
		base + "/title": {
			"/cgi-content/anno?aid=sam&datum=1809",
			"/cgi-content/anno?aid=sam&datum=1809",
			"/impressum",
			"https://anno.onb.ac.at/cgi-content/anno?aid=sam&datum=1810",
		},
	}}
	h := newHarvester(t, lister, Options{})

	got, err := h.Harvest(context.Background(), base+"/title", HasQueryKey("datum"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		base + "/cgi-content/anno?aid=sam&datum=1809",
		base + "/cgi-content/anno?aid=sam&datum=1810",
	}, got.Sorted())
}

func TestHarvestLevelsDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	year1809 := base + "/cgi-content/anno?aid=sam&datum=1809"
	year1810 := base + "/cgi-content/anno?aid=sam&datum=1810"
	lister := &fakeLister{pages: map[string][]string{
		base + "/title": {"/cgi-content/anno?aid=sam&datum=1809", "/cgi-content/anno?aid=sam&datum=1810"},
		year1809: {
			"/cgi-content/anno?aid=sam&datum=18090104",
			"/cgi-content/anno?aid=sam&datum=18091230",
			"/cgi-content/anno?aid=sam&datum=18100102",
		},
		year1810: {
			"/cgi-content/anno?aid=sam&datum=18100102",
			"/cgi-content/anno?aid=sam&datum=18100105",
		},
	}}
	h := newHarvester(t, lister, Options{})

	days, err := h.HarvestLevels(context.Background(), base+"/title", HasQueryKey("datum"), HasQueryKey("datum"))
	require.NoError(t, err)
	assert.Len(t, days, 4)
	assert.Equal(t, []string{"18090104", "18091230", "18100102", "18100105"}, Identifiers(days, QueryParam("datum")))
}

func TestHarvestLevelsSeedFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	lister := &fakeLister{fail: map[string]error{base + "/title": boom}}
	h := newHarvester(t, lister, Options{SkipFailedPages: true})

	_, err := h.HarvestLevels(context.Background(), base+"/title", HasQueryKey("datum"))
	require.ErrorIs(t, err, boom)
}

func TestHarvestLevelsIntermediateFailure(t *testing.T) {
	t.Parallel()

	newLister := func() *fakeLister {
		return &fakeLister{
			pages: map[string][]string{
				base + "/title":        {"/y?datum=1809", "/y?datum=1810"},
				base + "/y?datum=1810": {"/d?datum=18100102"},
			},
			fail: map[string]error{base + "/y?datum=1809": errors.New("502")},
		}
	}

	t.Run("propagates by default", func(t *testing.T) {
		t.Parallel()
		h := newHarvester(t, newLister(), Options{})
		_, err := h.HarvestLevels(context.Background(), base+"/title", HasQueryKey("datum"), HasQueryKey("datum"))
		require.Error(t, err)
	})

	t.Run("skips when enabled", func(t *testing.T) {
		t.Parallel()
		h := newHarvester(t, newLister(), Options{SkipFailedPages: true})
		got, err := h.HarvestLevels(context.Background(), base+"/title", HasQueryKey("datum"), HasQueryKey("datum"))
		require.NoError(t, err)
		assert.Equal(t, []string{base + "/d?datum=18100102"}, got.Sorted())
		assert.Equal(t, 1, h.Skipped())
	})
}

func TestHarvestLevelsRequiresLevels(t *testing.T) {
	t.Parallel()

	h := newHarvester(t, &fakeLister{}, Options{})
	_, err := h.HarvestLevels(context.Background(), base+"/title")
	require.Error(t, err)
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	calendar := And(Contains("calendar"), Contains("bsb00000001"))
	assert.True(t, calendar("/calendar/newspaper/bsb00000001/1848"))
	assert.False(t, calendar("/calendar/newspaper/bsb00000002/1848"))
	assert.False(t, calendar("/view/bsb00000001"))

	assert.True(t, Contains("calendar", "bsb1")("/calendar/bsb1"))
	assert.True(t, HasQueryKey("datum")("/anno?aid=sam&datum=18090104"))
	assert.False(t, HasQueryKey("datum")("/anno?aid=sam&mydatum=1"))
}

func TestExtractors(t *testing.T) {
	t.Parallel()

	set := Set{}
	set.Add("https://digipress.digitale-sammlungen.de/view/bsb10502478_00005_u001")
	set.Add("https://digipress.digitale-sammlungen.de/view/bsb10502478_00005_u001?page=2")
	set.Add("https://digipress.digitale-sammlungen.de/view/bsb10502478_u002")
	set.Add("https://digipress.digitale-sammlungen.de/about")

	ids := Identifiers(set, Pattern(regexp.MustCompile(`bsb\d+(_\d+)*_u\d+`)))
	assert.Equal(t, []string{"bsb10502478_00005_u001", "bsb10502478_u002"}, ids)

	id, ok := QueryParam("datum")("https://anno.onb.ac.at/cgi-content/anno?aid=sam&datum=18090104")
	assert.True(t, ok)
	assert.Equal(t, "18090104", id)

	_, ok = QueryParam("datum")("https://anno.onb.ac.at/cgi-content/anno?aid=sam")
	assert.False(t, ok)
}
