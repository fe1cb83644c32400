package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://IIIF.onb.ac.at/presentation/ABO/+Z1/manifest", "iiif.onb.ac.at"},
		{"no scheme", "anno.onb.ac.at/cgi-content/anno", "anno.onb.ac.at"},
		{"host with port", "localhost:8108", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, harvestItemsTotal)
	require.NotNil(t, convertRecordsTotal)
	require.NotNil(t, sinkBatchesTotal)
}

func TestObserveItem(t *testing.T) {
	before := testutil.ToFloat64(counterFor(t, "test.example", "succeeded"))
	ObserveItem("test.example", "succeeded")
	ObserveItem("test.example", "succeeded")
	assert.InDelta(t, before+2, testutil.ToFloat64(counterFor(t, "test.example", "succeeded")), 1e-9)
}

func TestObserveChunk(t *testing.T) {
	Init()
	records := testutil.ToFloat64(convertRecordsTotal)
	dropped := testutil.ToFloat64(convertDroppedRecordsTotal)
	failed := testutil.ToFloat64(convertChunksTotal.WithLabelValues("failed"))

	ObserveChunk(false, 5, 0)
	ObserveChunk(true, 0, 3)

	assert.InDelta(t, records+5, testutil.ToFloat64(convertRecordsTotal), 1e-9)
	assert.InDelta(t, dropped+3, testutil.ToFloat64(convertDroppedRecordsTotal), 1e-9)
	assert.InDelta(t, failed+1, testutil.ToFloat64(convertChunksTotal.WithLabelValues("failed")), 1e-9)
}

func TestObserveImportBatch(t *testing.T) {
	Init()
	docs := testutil.ToFloat64(sinkDocumentsTotal)
	failed := testutil.ToFloat64(sinkBatchesTotal.WithLabelValues("failed"))

	ObserveImportBatch(10, nil)
	ObserveImportBatch(10, errors.New("rejected"))

	assert.InDelta(t, docs+10, testutil.ToFloat64(sinkDocumentsTotal), 1e-9)
	assert.InDelta(t, failed+1, testutil.ToFloat64(sinkBatchesTotal.WithLabelValues("failed")), 1e-9)
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRequest("https://anno.onb.ac.at/cgi-content/anno", 200, 42)
	ObserveRateLimitDelay("anno.onb.ac.at", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvest_http_requests_total")
	assert.Contains(t, rec.Body.String(), "harvest_rate_limit_delay_seconds")
}

func counterFor(t *testing.T, source, outcome string) prometheus.Counter {
	t.Helper()
	Init()
	return harvestItemsTotal.WithLabelValues(source, outcome)
}
