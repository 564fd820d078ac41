package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/result"
)

// Event outcomes for ObserveEvent.
const (
	EventDispatched    = "dispatched"
	EventUnmatched     = "unmatched"
	EventInvalid       = "invalid"
	EventUnknownTenant = "unknown_tenant"
	EventMappingError  = "mapping_error"
	EventAbandoned     = "abandoned"
)

// Mapping load kinds for ObserveMappingLoad.
const (
	LoadCached = "cached"
	LoadForced = "forced"
	LoadFailed = "failed"
)

// Metrics groups the service's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Results          *prometheus.CounterVec
	Attempts         prometheus.Counter
	Retries          *prometheus.CounterVec
	AttemptDuration  prometheus.Histogram
	InFlight         prometheus.Gauge
	Commits          *prometheus.CounterVec
	DeferredCommits  prometheus.Counter
	DeadLetters      *prometheus.CounterVec
	BreakerOpen      *prometheus.GaugeVec
	Events           *prometheus.CounterVec
	MappingRefreshes *prometheus.CounterVec
}

// NewMetrics registers every instrument on reg; nil gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_dispatch_results_total",
			Help: "Final dispatch results per (event, mapping) task.",
		}, []string{"result"}),
		Attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "mapdispatch_dispatch_attempts_total",
			Help: "Engine calls attempted, retries included.",
		}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_dispatch_retries_total",
			Help: "Retries scheduled, by the retryable result that caused them.",
		}, []string{"result"}),
		AttemptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapdispatch_dispatch_attempt_duration_seconds",
			Help:    "Latency of single engine calls.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "mapdispatch_dispatch_in_flight",
			Help: "Dispatch tasks currently running.",
		}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_offset_commits_total",
			Help: "Offset commits by kind (retry, advance, flush, failed).",
		}, []string{"kind"}),
		DeferredCommits: f.NewCounter(prometheus.CounterOpts{
			Name: "mapdispatch_offset_commits_deferred_total",
			Help: "Terminal outcomes whose offset advance was deferred.",
		}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_dead_letters_total",
			Help: "Dead letters published, by result.",
		}, []string{"result"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapdispatch_engine_breaker_open",
			Help: "1 while a tenant's engine circuit breaker is open.",
		}, []string{"tenant"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_events_total",
			Help: "Consumed events by outcome (dispatched, unmatched, invalid, unknown_tenant, mapping_error, abandoned).",
		}, []string{"outcome"}),
		MappingRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapdispatch_mapping_loads_total",
			Help: "Mapping loads by kind (cached, forced, failed).",
		}, []string{"kind"}),
	}
	// every result series exists from the first scrape
	for _, r := range result.All {
		m.Results.WithLabelValues(r.String())
	}
	return m
}

func (m *Metrics) ObserveResult(r fmt.Stringer) {
	if m != nil {
		m.Results.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) ObserveAttempt(d time.Duration) {
	if m != nil {
		m.Attempts.Inc()
		m.AttemptDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveRetry(r fmt.Stringer) {
	if m != nil {
		m.Retries.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) TaskStarted() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) TaskDone() {
	if m != nil {
		m.InFlight.Dec()
	}
}

func (m *Metrics) ObserveCommit(kind string) {
	if m != nil {
		m.Commits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveDeferred() {
	if m != nil {
		m.DeferredCommits.Inc()
	}
}

func (m *Metrics) ObserveDeadLetter(r fmt.Stringer) {
	if m != nil {
		m.DeadLetters.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) ObserveEvent(outcome string) {
	if m != nil {
		m.Events.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveMappingLoad(kind string) {
	if m != nil {
		m.MappingRefreshes.WithLabelValues(kind).Inc()
	}
}

// BreakerHook returns a callback for downstream.WithBreaker.
func (m *Metrics) BreakerHook(tenant string) func(open bool) {
	return func(open bool) {
		if m == nil {
			return
		}
		v := 0.0
		if open {
			v = 1
		}
		m.BreakerOpen.WithLabelValues(tenant).Set(v)
	}
}

// Expose serves /metrics for g on port in the background. The returned
// server is shut down by the caller.
func Expose(port int, g prometheus.Gatherer) *http.Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics endpoint stopped", "port", port, "error", err)
		}
	}()
	return srv
}
