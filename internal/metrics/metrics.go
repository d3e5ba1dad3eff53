// Package metrics exposes Prometheus collectors for the robots history scraper.
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

// Archive endpoints used as label values.
const (
	EndpointIndex   = "index"
	EndpointContent = "content"
)

// Request outcomes used as label values.
const (
	OutcomeOK             = "ok"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
	OutcomeMalformed      = "malformed"
	OutcomeEmpty          = "empty"
)

var (
	archiveRequestsTotal          *prometheus.CounterVec
	archiveRequestDurationSeconds *prometheus.HistogramVec
	archiveBytesTotal             *prometheus.CounterVec
	robotsRecordsTotal            *prometheus.CounterVec
	robotsDomainsTotal            *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	rateLimitDelaySeconds         prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiveRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_requests_total",
				Help: "Total number of Wayback Machine requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		archiveRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_request_duration_seconds",
				Help:    "Histogram of Wayback Machine request latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_bytes_total",
				Help: "Total number of bytes received from the Wayback Machine, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		robotsRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robots_records_total",
				Help: "Total number of (snapshot, user-agent) records emitted, labeled by site.",
			},
			[]string{"site"},
		)

		robotsDomainsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robots_domains_total",
				Help: "Total number of domains processed, labeled by whether they produced records.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archive_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the archive rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or bare domain.
// It returns "unknown" if the input cannot be parsed.
func SanitizeSite(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveArchiveRequest records the outcome and latency of one archive call.
func ObserveArchiveRequest(endpoint, outcome string, duration time.Duration, bytesReceived int) {
	Init()
	archiveRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	archiveRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
	if bytesReceived > 0 {
		archiveBytesTotal.WithLabelValues(endpoint).Add(float64(bytesReceived))
	}
}

// ObserveRecords adds count emitted records for the domain.
func ObserveRecords(domain string, count int) {
	Init()
	if count <= 0 {
		return
	}
	robotsRecordsTotal.WithLabelValues(SanitizeSite(domain)).Add(float64(count))
}

// ObserveDomain records whether a domain produced any records.
func ObserveDomain(produced bool) {
	Init()
	status := "empty"
	if produced {
		status = "records"
	}
	robotsDomainsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}
