// Package metrics exposes Prometheus counters and histograms for the
// catchment service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/catchment-cli/internal/model"
)

const namespace = "catchment"

// Metrics holds the service collectors. The zero value is not usable; a
// nil *Metrics is a no-op recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamCache   *prometheus.CounterVec
	UpstreamMembers prometheus.Histogram
	Truncated       prometheus.Counter
	Superseded      prometheus.Counter
	BreakerState    *prometheus.GaugeVec
	BasinsLoaded    *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Service requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Service request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"operation"}),
		UpstreamCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_cache_total",
			Help:      "Upstream set cache lookups by result.",
		}, []string{"result"}),
		UpstreamMembers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_members",
			Help:      "Number of basins in resolved upstream sets.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		Truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_truncated_total",
			Help:      "Upstream expansions stopped by the iteration cap.",
		}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_total",
			Help:      "Requests discarded because a newer request for the session started.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 open, 2 half-open).",
		}, []string{"operation"}),
		BasinsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "basins_loaded",
			Help:      "Basins stored per hierarchy level.",
		}, []string{"level"}),
	}
	reg.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.UpstreamCache,
		m.UpstreamMembers,
		m.Truncated,
		m.Superseded,
		m.BreakerState,
		m.BasinsLoaded,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	m.Requests.WithLabelValues(op, outcome).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
	if outcome == "superseded" {
		m.Superseded.Inc()
	}
}

// CacheLookup records an upstream cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.UpstreamCache.WithLabelValues(result).Inc()
}

// ObserveUpstream records the size of a freshly resolved upstream set.
func (m *Metrics) ObserveUpstream(set *model.UpstreamSet) {
	if m == nil || set == nil {
		return
	}
	m.UpstreamMembers.Observe(float64(len(set.Members)))
	if set.Truncated {
		m.Truncated.Inc()
	}
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(op string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(op).Set(float64(state))
}

// SetBasinsLoaded records the basin count of a level.
func (m *Metrics) SetBasinsLoaded(level string, n int64) {
	if m == nil {
		return
	}
	m.BasinsLoaded.WithLabelValues(level).Set(float64(n))
}

// Outcome maps an error to its outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch model.KindOf(err) {
	case model.ErrSuperseded:
		return "superseded"
	case model.ErrInvalidParameter:
		return "invalid_parameter"
	case model.ErrEmptySelection:
		return "empty_selection"
	case model.ErrUpstreamUnavailable:
		return "upstream_unavailable"
	case model.ErrClassificationUnavailable:
		return "classification_unavailable"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
