package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/attrstore/internal/ir"
)

// Metrics holds the store's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so tests and embedded
// stores need not register collectors.
type Metrics struct {
	commits             *prometheus.CounterVec
	commitFailures      *prometheus.CounterVec
	logLength           prometheus.Gauge
	headSeq             prometheus.Gauge
	activeSubscriptions prometheus.Gauge
	eventsDelivered     *prometheus.CounterVec
	compactions         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attrstore_commits_total",
			Help: "Total number of committed mutations by operation",
		}, []string{"op"}),
		commitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attrstore_commit_failures_total",
			Help: "Total number of rejected or failed writes by error code",
		}, []string{"code"}),
		logLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "attrstore_log_records",
			Help: "Current number of mutation records retained in memory",
		}),
		headSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "attrstore_head_seq",
			Help: "Sequence of the last committed mutation",
		}),
		activeSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "attrstore_watch_subscriptions",
			Help: "Current number of open watch subscriptions",
		}),
		eventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attrstore_watch_events_total",
			Help: "Total number of watch events delivered by type",
		}, []string{"type"}),
		compactions: f.NewCounter(prometheus.CounterOpts{
			Name: "attrstore_compactions_total",
			Help: "Total number of compaction passes",
		}),
	}
}

func (m *Metrics) commit(op ir.MutationOp, seq ir.Seq, logLen int) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(string(op)).Inc()
	m.headSeq.Set(float64(seq))
	m.logLength.Set(float64(logLen))
}

func (m *Metrics) commitFailed(err error) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(string(CodeOf(err))).Inc()
}

func (m *Metrics) compacted(logLen int) {
	if m == nil {
		return
	}
	m.compactions.Inc()
	m.logLength.Set(float64(logLen))
}

func (m *Metrics) subscriptionOpened() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Inc()
}

func (m *Metrics) subscriptionClosed() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Dec()
}

func (m *Metrics) delivered(t ir.EventType) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(string(t)).Inc()
}
