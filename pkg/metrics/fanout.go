package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Discard reasons reported by the activity factory.
const (
	DiscardGateRejected   = "gate_rejected"
	DiscardNoRecipients   = "no_recipients"
	DiscardNoDestinations = "no_destinations"
)

// FanoutMetrics counts activity creation outcomes.
type FanoutMetrics struct {
	created        *prometheus.CounterVec
	discarded      *prometheus.CounterVec
	pluginFailures *prometheus.CounterVec
}

// NewFanoutMetrics registers the fan-out metrics on the provided registerer.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	if reg == nil {
		return &FanoutMetrics{}
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_activities_created_total",
		Help: "Activities persisted by template.",
	}, []string{"template"})
	discarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_activities_discarded_total",
		Help: "Creation calls that produced no activity.",
	}, []string{"template", "reason"})
	pluginFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_plugin_failures_total",
		Help: "Gate, resolver and destination failures isolated by the factory.",
	}, []string{"kind", "plugin"})
	reg.MustRegister(created, discarded, pluginFailures)
	return &FanoutMetrics{
		created:        created,
		discarded:      discarded,
		pluginFailures: pluginFailures,
	}
}

func (m *FanoutMetrics) IncCreated(template string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(template)).Inc()
}

func (m *FanoutMetrics) IncDiscarded(template, reason string) {
	if m == nil || m.discarded == nil {
		return
	}
	m.discarded.WithLabelValues(normalizeLabel(template), reason).Inc()
}

func (m *FanoutMetrics) IncPluginFailure(kind, plugin string) {
	if m == nil || m.pluginFailures == nil {
		return
	}
	m.pluginFailures.WithLabelValues(kind, normalizeLabel(plugin)).Inc()
}

// DigestMetrics records digest sweep outcomes per frequency.
type DigestMetrics struct {
	sent      *prometheus.CounterVec
	failed    *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	sweep     prometheus.Histogram
}

// NewDigestMetrics registers the digest metrics on the provided registerer.
func NewDigestMetrics(reg prometheus.Registerer) *DigestMetrics {
	if reg == nil {
		return &DigestMetrics{}
	}
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_emails_enqueued_total",
		Help: "Digest emails handed to the mail queue.",
	}, []string{"frequency"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_delivery_failures_total",
		Help: "Digest deliveries that failed and will be retried.",
	}, []string{"frequency"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_delivery_exhausted_total",
		Help: "Digest deliveries abandoned after the retry limit.",
	}, []string{"frequency"})
	sweep := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_sweep_duration_seconds",
		Help:    "Duration of digest sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(sent, failed, exhausted, sweep)
	return &DigestMetrics{sent: sent, failed: failed, exhausted: exhausted, sweep: sweep}
}

func (m *DigestMetrics) IncSent(frequency string) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.WithLabelValues(normalizeLabel(frequency)).Inc()
}

func (m *DigestMetrics) IncFailed(frequency string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(frequency)).Inc()
}

func (m *DigestMetrics) IncExhausted(frequency string) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.WithLabelValues(normalizeLabel(frequency)).Inc()
}

func (m *DigestMetrics) ObserveSweep(duration time.Duration) {
	if m == nil || m.sweep == nil {
		return
	}
	m.sweep.Observe(duration.Seconds())
}
