package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PollerMetrics records tick outcomes for the drain and mirror pollers, labeled
// by poller name and target store.
type PollerMetrics struct {
	tickDuration *prometheus.HistogramVec
	tickSuccess  *prometheus.CounterVec
	tickFailure  *prometheus.CounterVec
	backlog      *prometheus.GaugeVec
}

// NewPollerMetrics registers the poller metrics on the provided registerer.
func NewPollerMetrics(reg prometheus.Registerer) *PollerMetrics {
	if reg == nil {
		return &PollerMetrics{}
	}
	tickDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poller_tick_duration_seconds",
		Help:    "Duration of poller ticks in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"poller", "store"})
	tickSuccess := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_tick_success",
		Help: "Successful poller ticks.",
	}, []string{"poller", "store"})
	tickFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_tick_failure",
		Help: "Failed poller ticks.",
	}, []string{"poller", "store"})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_undelivered_backlog",
		Help: "Undelivered outbox rows observed at the last drain tick.",
	}, []string{"store"})
	reg.MustRegister(tickDuration, tickSuccess, tickFailure, backlog)
	return &PollerMetrics{
		tickDuration: tickDuration,
		tickSuccess:  tickSuccess,
		tickFailure:  tickFailure,
		backlog:      backlog,
	}
}

// ObserveTick records the duration for one tick of the named poller.
func (p *PollerMetrics) ObserveTick(poller, store string, duration time.Duration) {
	if p == nil || p.tickDuration == nil {
		return
	}
	p.tickDuration.WithLabelValues(normalizeLabel(poller), normalizeLabel(store)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named poller.
func (p *PollerMetrics) IncSuccess(poller, store string) {
	if p == nil || p.tickSuccess == nil {
		return
	}
	p.tickSuccess.WithLabelValues(normalizeLabel(poller), normalizeLabel(store)).Inc()
}

// IncFailure increments the failure counter for the named poller.
func (p *PollerMetrics) IncFailure(poller, store string) {
	if p == nil || p.tickFailure == nil {
		return
	}
	p.tickFailure.WithLabelValues(normalizeLabel(poller), normalizeLabel(store)).Inc()
}

// SetBacklog records the undelivered outbox row count seen for a store.
func (p *PollerMetrics) SetBacklog(store string, count int) {
	if p == nil || p.backlog == nil {
		return
	}
	p.backlog.WithLabelValues(normalizeLabel(store)).Set(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
