// Package metrics holds the process-wide Prometheus instruments. One Set is
// built at wire time and shared by every component; handlers expose it via
// promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every instrument the indexer records.
type Set struct {
	registry *prometheus.Registry

	// OrderUpserts counts per-order upsert outcomes by status
	// (success, already-exists, redundant, rejected).
	OrderUpserts *prometheus.CounterVec
	// OrderRejections counts structural rejections by reason.
	OrderRejections *prometheus.CounterVec
	// EventsRouted counts on-chain logs handled by the router, by event kind.
	EventsRouted *prometheus.CounterVec
	// FillsDropped counts fills discarded for lack of a native price.
	FillsDropped prometheus.Counter
	// JobsProcessed counts background jobs by name and result.
	JobsProcessed *prometheus.CounterVec
	// RelaySubmissions counts order relay attempts by outcome.
	RelaySubmissions *prometheus.CounterVec
	// FeedReconnects counts websocket feed reconnections.
	FeedReconnects prometheus.Counter
	// UpsertBatchSeconds observes end-to-end batch reconciliation latency.
	UpsertBatchSeconds prometheus.Histogram
	// HTTPRequests counts API requests by route and status class.
	HTTPRequests *prometheus.CounterVec
}

// New builds a Set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	s := &Set{
		registry: reg,
		OrderUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "order_upserts_total",
			Help:      "Per-order upsert outcomes.",
		}, []string{"status"}),
		OrderRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "order_rejections_total",
			Help:      "Structural order rejections by reason.",
		}, []string{"reason"}),
		EventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "events_routed_total",
			Help:      "On-chain logs handled by the event router.",
		}, []string{"kind"}),
		FillsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "fills_dropped_total",
			Help:      "Fills discarded because no native price was available.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "jobs_processed_total",
			Help:      "Background jobs by name and result.",
		}, []string{"name", "result"}),
		RelaySubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "relay_submissions_total",
			Help:      "Order relay attempts by outcome.",
		}, []string{"outcome"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "feed_reconnects_total",
			Help:      "Websocket feed reconnections.",
		}),
		UpsertBatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nftindex",
			Name:      "upsert_batch_seconds",
			Help:      "End-to-end batch reconciliation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftindex",
			Name:      "http_requests_total",
			Help:      "API requests by route and status class.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		s.OrderUpserts,
		s.OrderRejections,
		s.EventsRouted,
		s.FillsDropped,
		s.JobsProcessed,
		s.RelaySubmissions,
		s.FeedReconnects,
		s.UpsertBatchSeconds,
		s.HTTPRequests,
	)
	return s
}

// Handler returns the scrape endpoint for this Set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
