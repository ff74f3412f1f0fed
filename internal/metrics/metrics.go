// Package metrics exposes sync engine observations as Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/agentworkforce/fieldsync/internal/offlinesync"
	"github.com/prometheus/client_golang/prometheus"
)

type SyncMetrics struct {
	Online         prometheus.Gauge
	Syncing        prometheus.Gauge
	Pending        prometheus.Gauge
	Replays        *prometheus.CounterVec
	ReplayDuration prometheus.Histogram
	Enqueued       prometheus.Counter
	Dispatches     *prometheus.CounterVec
}

func New() *SyncMetrics {
	return &SyncMetrics{
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "1 while the engine considers the network reachable.",
		}),
		Syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_syncing",
			Help: "1 while a drain is running.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_pending_mutations",
			Help: "Mutations waiting in the durable queue.",
		}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_replays_total",
			Help: "Queued mutations replayed, by result.",
		}, []string{"result"}),
		ReplayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldsync_replay_duration_seconds",
			Help:    "Latency of a single replayed mutation.",
			Buckets: prometheus.DefBuckets,
		}),
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_enqueued_total",
			Help: "Mutations queued while offline.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_dispatches_total",
			Help: "Sync dispatches, by outcome.",
		}, []string{"outcome"}),
	}
}

// Register adds every collector to reg (the default registerer if nil).
// Collectors that are already registered are not an error.
func (m *SyncMetrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		m.Online, m.Syncing, m.Pending, m.Replays, m.ReplayDuration, m.Enqueued, m.Dispatches,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

func (m *SyncMetrics) ObserveState(state offlinesync.State) {
	m.Online.Set(boolGauge(state.Online))
	m.Syncing.Set(boolGauge(state.Syncing))
	m.Pending.Set(float64(state.Pending))
}

func (m *SyncMetrics) ObserveReplay(success bool, elapsed time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.Replays.WithLabelValues(result).Inc()
	m.ReplayDuration.Observe(elapsed.Seconds())
}

func (m *SyncMetrics) ObserveEnqueue() {
	m.Enqueued.Inc()
}

func (m *SyncMetrics) ObserveDispatch(outcome offlinesync.DispatchOutcome) {
	m.Dispatches.WithLabelValues(string(outcome)).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
