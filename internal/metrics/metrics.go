// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestItemsTotal          *prometheus.CounterVec
	harvestRequestsTotal       *prometheus.CounterVec
	harvestBytesTotal          *prometheus.CounterVec
	harvestArtifactsTotal      *prometheus.CounterVec
	harvestRateLimitDelays     *prometheus.HistogramVec
	convertRecordsTotal        prometheus.Counter
	convertDroppedRecordsTotal prometheus.Counter
	convertChunksTotal         *prometheus.CounterVec
	convertSkippedPathsTotal   prometheus.Counter
	sinkDocumentsTotal         prometheus.Counter
	sinkBatchesTotal           *prometheus.CounterVec
	apiRequestDuration         *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_items_total",
				Help: "Fetch units processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		harvestRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_http_requests_total",
				Help: "Archive HTTP requests, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		harvestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_bytes_total",
				Help: "Response bytes received from archives, labeled by host.",
			},
			[]string{"host"},
		)

		harvestArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_artifacts_total",
				Help: "Raw artifacts written, labeled by source and format.",
			},
			[]string{"source", "format"},
		)

		harvestRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		convertRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "convert_records_total",
				Help: "Records written to the conversion output.",
			},
		)

		convertDroppedRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "convert_dropped_records_total",
				Help: "Artifacts lost because their chunk failed.",
			},
		)

		convertChunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convert_chunks_total",
				Help: "Conversion chunks processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		convertSkippedPathsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "convert_skipped_paths_total",
				Help: "Text files that did not match any source layout.",
			},
		)

		sinkDocumentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sink_documents_total",
				Help: "Documents imported into the search sink.",
			},
		)

		sinkBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_batches_total",
				Help: "Import batches sent to the search sink, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		apiRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "Latency of status API requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one fetch unit outcome (succeeded, failed, skipped).
func ObserveItem(source, outcome string) {
	Init()
	harvestItemsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRequest counts an archive request and the bytes it returned.
func ObserveRequest(rawURL string, code int, bytesFetched int) {
	Init()
	host := SanitizeHost(rawURL)
	harvestRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		harvestBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveArtifact counts a raw artifact written to disk.
func ObserveArtifact(source, format string) {
	Init()
	harvestArtifactsTotal.WithLabelValues(source, format).Inc()
}

// ObserveRateLimitDelay records how long a request waited for its politeness token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	harvestRateLimitDelays.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveChunk counts one conversion chunk and the records it produced or lost.
func ObserveChunk(failed bool, records, dropped int) {
	Init()
	if failed {
		convertChunksTotal.WithLabelValues("failed").Inc()
		convertDroppedRecordsTotal.Add(float64(dropped))
		return
	}
	convertChunksTotal.WithLabelValues("succeeded").Inc()
	convertRecordsTotal.Add(float64(records))
}

// ObserveSkippedPaths counts text files no source layout could parse.
func ObserveSkippedPaths(n int) {
	Init()
	convertSkippedPathsTotal.Add(float64(n))
}

// ObserveImportBatch counts an import batch and, on success, its documents.
func ObserveImportBatch(docs int, err error) {
	Init()
	if err != nil {
		sinkBatchesTotal.WithLabelValues("failed").Inc()
		return
	}
	sinkBatchesTotal.WithLabelValues("succeeded").Inc()
	sinkDocumentsTotal.Add(float64(docs))
}

// ObserveHTTPRequest records the latency of one status API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	apiRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
