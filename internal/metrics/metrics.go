// Package metrics exposes the service's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service records. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry      *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	toursCreated  *prometheus.CounterVec
	auditDuration prometheus.Histogram
	ruleResults   *prometheus.CounterVec
	remediations  *prometheus.CounterVec
	runsSwept     prometheus.Counter
	cacheLookups  *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaudit_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courseaudit_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		toursCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaudit_tours_created_total",
			Help: "Tour creation attempts by outcome",
		}, []string{"outcome"}),
		auditDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "courseaudit_audit_duration_seconds",
			Help:    "Time taken to audit a course and build its tour",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ruleResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaudit_rule_results_total",
			Help: "Rule outcomes recorded in audit runs",
		}, []string{"rule_key", "status"}),
		remediations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaudit_remediations_total",
			Help: "Remediation calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		runsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "courseaudit_runs_swept_total",
			Help: "Audit runs deleted by the retention sweeper",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaudit_analysis_cache_lookups_total",
			Help: "Section analysis cache lookups by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveTour records one tour creation attempt.
func (c *Collector) ObserveTour(err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.toursCreated.WithLabelValues(outcome).Inc()
	c.auditDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveRuleResult(ruleKey string, passed bool) {
	if c == nil {
		return
	}
	status := "fail"
	if passed {
		status = "pass"
	}
	c.ruleResults.WithLabelValues(ruleKey, status).Inc()
}

func (c *Collector) ObserveRemediation(endpoint string, success bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.remediations.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) AddSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.runsSwept.Add(float64(n))
}

// ObserveCacheLookup records a section analysis cache hit or miss.
func (c *Collector) ObserveCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}
