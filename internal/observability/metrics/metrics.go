// Package metrics exposes relay counters to Prometheus. It uses its own
// registry so tests and multiple instances never collide on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lotebot/internal/relay"
)

const namespace = "lotebot"

// Relay implements relay.Observer.
type Relay struct {
	reg *prometheus.Registry

	enqueued       prometheus.Counter
	queueLen       prometheus.Gauge
	state          *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	batches        prometheus.Counter
	items          *prometheus.CounterVec
	deleteWarnings prometheus.Counter
	batchSize      prometheus.Histogram
	batchDuration  prometheus.Histogram
	lastBatch      prometheus.Gauge
}

var _ relay.Observer = (*Relay)(nil)

// New builds the collectors. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Relay {
	m := &Relay{
		reg: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_enqueued_total",
			Help: "Media items accepted into the pending queue",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length",
			Help: "Items currently waiting for the next fire",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduler_state",
			Help: "1 for the current scheduler state, 0 otherwise",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_transitions_total",
			Help: "Scheduler state transitions by target state",
		}, []string{"to"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total",
			Help: "Fires that drained at least one item",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_dispatched_total",
			Help: "Dispatched items by result (forwarded, failed)",
		}, []string{"result"}),
		deleteWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delete_warnings_total",
			Help: "Forwarded items whose original could not be deleted",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_size",
			Help:    "Items per dispatched batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Wall time spent dispatching one batch",
			Buckets: prometheus.DefBuckets,
		}),
		lastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_batch_timestamp_seconds",
			Help: "Unix time of the last dispatched batch",
		}),
	}
	m.reg.MustRegister(m.enqueued, m.queueLen, m.state, m.transitions, m.batches,
		m.items, m.deleteWarnings, m.batchSize, m.batchDuration, m.lastBatch)
	if withRuntime {
		m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, s := range []relay.State{relay.StateIdle, relay.StateArmed, relay.StateDraining} {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	m.state.WithLabelValues(relay.StateIdle.String()).Set(1)
	return m
}

func (m *Relay) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Relay) ItemEnqueued(queueLen int) {
	m.enqueued.Inc()
	m.queueLen.Set(float64(queueLen))
}

func (m *Relay) StateChanged(from, to relay.State) {
	m.state.WithLabelValues(from.String()).Set(0)
	m.state.WithLabelValues(to.String()).Set(1)
	m.transitions.WithLabelValues(to.String()).Inc()
}

func (m *Relay) BatchDone(r relay.BatchReport, queueLen int) {
	m.batches.Inc()
	m.items.WithLabelValues("forwarded").Add(float64(r.Forwarded))
	m.items.WithLabelValues("failed").Add(float64(r.Failed))
	m.deleteWarnings.Add(float64(r.DeleteWarnings))
	m.batchSize.Observe(float64(r.Size()))
	m.batchDuration.Observe(r.Took.Seconds())
	if !r.FiredAt.IsZero() {
		m.lastBatch.Set(float64(r.FiredAt.Unix()))
	}
	m.queueLen.Set(float64(queueLen))
}
