// Package metrics exposes Payguard's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payguard"

// Collector owns a private registry so tests and multiple servers in one
// process never collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	TradesIngested    *prometheus.CounterVec
	PayoutsAssessed   *prometheus.CounterVec
	PayoutsReviewed   *prometheus.CounterVec
	PatternMatches    *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	AssessmentLatency prometheus.Histogram
	PayoutScore       prometheus.Histogram
	GraphNodes        prometheus.Gauge
	GraphEdges        prometheus.Gauge
	StoredTrades      prometheus.Gauge
	StreamClients     prometheus.Gauge
	GeoIPLookups      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// New creates a collector with Go runtime and process collectors attached.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		TradesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_ingested_total",
			Help:      "Trades ingested, by per-trade risk level.",
		}, []string{"risk_level"}),
		PayoutsAssessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_assessed_total",
			Help:      "Payout requests scored, by engine decision.",
		}, []string{"decision"}),
		PayoutsReviewed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_reviewed_total",
			Help:      "Reviewer verdicts, by decision and agreement with the engine.",
		}, []string{"decision", "outcome"}),
		PatternMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_matches_total",
			Help:      "Top embedding matches, by pattern category.",
		}, []string{"category"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised, by severity.",
		}, []string{"severity"}),
		AssessmentLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Time spent scoring a payout request.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		PayoutScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_risk_score",
			Help:      "Distribution of payout risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		GraphNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the relationship graph.",
		}),
		GraphEdges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Edges in the relationship graph.",
		}),
		StoredTrades: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_trades",
			Help:      "Trades held in the in-memory trade log.",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected live stream clients.",
		}),
		GeoIPLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geoip_lookups_total",
			Help:      "Trade country lookups, by result (hit or miss).",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route pattern and status code.",
		}, []string{"route", "status"}),
	}
}

// ObserveAssessment records one scored payout.
func (c *Collector) ObserveAssessment(decision string, score float64, category string, took time.Duration) {
	if c == nil {
		return
	}
	c.PayoutsAssessed.WithLabelValues(decision).Inc()
	c.PayoutScore.Observe(score)
	c.AssessmentLatency.Observe(took.Seconds())
	if category != "" {
		c.PatternMatches.WithLabelValues(category).Inc()
	}
}

// ObserveGraph sets the graph size gauges.
func (c *Collector) ObserveGraph(nodes, edges int64) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphEdges.Set(float64(edges))
}

// ObserveGeoIP counts one country lookup.
func (c *Collector) ObserveGeoIP(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.GeoIPLookups.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
