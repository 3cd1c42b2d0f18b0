package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the worker pool's operational gauges/counters under
// /metrics (SPEC_FULL.md §13), grounded the same way the teacher's
// RPC handlers are observed with counters in the broader example pack.
type Metrics struct {
	QueueDepth   prometheus.Gauge
	InFlight     prometheus.Gauge
	Retries      prometheus.Counter
	Processed    prometheus.Counter
	Failed       prometheus.Counter
	CascadesSent prometheus.Counter
}

// NewMetrics registers the pool's collectors on reg. Pass
// prometheus.NewRegistry() in production and a throwaway registry in tests
// to avoid duplicate-registration panics across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "gamification", Subsystem: "worker", Name: "queue_depth", Help: "Admitted-but-unprocessed event count."}),
		InFlight:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "gamification", Subsystem: "worker", Name: "in_flight", Help: "Events currently being processed."}),
		Retries:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gamification", Subsystem: "worker", Name: "retries_total", Help: "Transient-failure retries attempted."}),
		Processed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gamification", Subsystem: "worker", Name: "processed_total", Help: "Events processed to a terminal outcome."}),
		Failed:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gamification", Subsystem: "worker", Name: "failed_total", Help: "Events that ended in a terminal failure."}),
		CascadesSent: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gamification", Subsystem: "worker", Name: "cascades_total", Help: "Cascade events re-enqueued by the executor."}),
	}
	if reg != nil {
		reg.MustRegister(m.QueueDepth, m.InFlight, m.Retries, m.Processed, m.Failed, m.CascadesSent)
	}
	return m
}
