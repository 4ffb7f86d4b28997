// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	OracleCallsTotal    prometheus.Counter
	OracleFailuresTotal prometheus.Counter
	OracleTokensTotal   prometheus.Counter

	Templates prometheus.Gauge
}

// NewMetrics creates and registers the pipeline's collectors. Registration
// happens once per process; later calls return the same set.
//
// Metrics:
//   - extraction_requests_total{method} - requests served, by producing path
//   - extraction_request_seconds{method} - request latency
//   - extraction_cache_hits_total{tier} - cache hits, by serving tier
//   - extraction_cache_misses_total - requests no tier could serve
//   - extraction_oracle_calls_total - oracle invocations, full or scoped
//   - extraction_oracle_failures_total - failed oracle invocations
//   - extraction_oracle_tokens_total - tokens consumed by the oracle
//   - extraction_templates - currently stored templates
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extraction_requests_total",
					Help: "Total extraction requests served, by producing path",
				},
				[]string{"method"},
			),

			RequestSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "extraction_request_seconds",
					Help:    "Extraction request latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
				},
				[]string{"method"},
			),

			CacheHitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extraction_cache_hits_total",
					Help: "Total cache hits, by serving tier",
				},
				[]string{"tier"},
			),

			CacheMissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extraction_cache_misses_total",
					Help: "Total requests no cache tier could serve",
				},
			),

			OracleCallsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extraction_oracle_calls_total",
					Help: "Total oracle invocations, full or scoped",
				},
			),

			OracleFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extraction_oracle_failures_total",
					Help: "Total failed oracle invocations",
				},
			),

			OracleTokensTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extraction_oracle_tokens_total",
					Help: "Total tokens consumed by the oracle",
				},
			),

			Templates: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "extraction_templates",
					Help: "Number of stored templates",
				},
			),
		}
	})

	return globalMetrics
}

// RecordRequest records one served request and its latency.
func (m *Metrics) RecordRequest(method string, seconds float64) {
	m.RequestsTotal.WithLabelValues(method).Inc()
	m.RequestSeconds.WithLabelValues(method).Observe(seconds)
}

// RecordCacheHit records a hit on the named tier.
func (m *Metrics) RecordCacheHit(tier string) {
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a request that fell through every tier.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMissesTotal.Inc()
}

// RecordOracleCall records one oracle invocation.
func (m *Metrics) RecordOracleCall() {
	m.OracleCallsTotal.Inc()
}

// RecordOracleFailure records a failed oracle invocation.
func (m *Metrics) RecordOracleFailure() {
	m.OracleFailuresTotal.Inc()
}

// RecordOracleTokens adds the tokens one successful call consumed.
func (m *Metrics) RecordOracleTokens(tokens int) {
	m.OracleTokensTotal.Add(float64(tokens))
}

// SetTemplateCount updates the stored-template gauge.
func (m *Metrics) SetTemplateCount(n int) {
	m.Templates.Set(float64(n))
}
