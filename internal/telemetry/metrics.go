package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики интерпретатора.
//
// Все метрики с префиксом interflow_. Nil *Metrics допустим:
// все методы в этом случае ничего не делают.
type Metrics struct {
	nodesDispatched   *prometheus.CounterVec
	nodeFailures      *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	nodeRetries       *prometheus.CounterVec
	runs              *prometheus.CounterVec
	ticks             prometheus.Counter
	inflightNodes     prometheus.Gauge
	provenanceDropped prometheus.Counter
	scheduledRuns     *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в registry.
// Если registry == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		nodesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "nodes_dispatched_total",
			Help:      "Total number of node executions dispatched by the scheduler loop",
		}, []string{"kind"}),

		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "node_failures_total",
			Help:      "Total number of nodes that ended in FAILED",
		}, []string{"kind"}),

		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "interflow",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration from dispatch to completion",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"kind", "state"}),

		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "node_retries_total",
			Help:      "Total number of invoker retry attempts",
		}, []string{"service"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "runs_total",
			Help:      "Total number of finished workflow runs by status",
		}, []string{"status"}),

		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "ticks_total",
			Help:      "Total number of scheduler loop ticks",
		}),

		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "interflow",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing concurrently",
		}),

		provenanceDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "provenance_dropped_total",
			Help:      "Provenance records dropped because the queue was full",
		}),

		scheduledRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interflow",
			Name:      "scheduled_runs_total",
			Help:      "Runs started by the scheduler, by schedule and result",
		}, []string{"schedule", "result"}),
	}
}

// NodeDispatched отмечает запуск узла.
func (m *Metrics) NodeDispatched(kind string) {
	if m == nil {
		return
	}
	m.nodesDispatched.WithLabelValues(kind).Inc()
	m.inflightNodes.Inc()
}

// NodeCompleted отмечает завершение узла с итоговым состоянием.
func (m *Metrics) NodeCompleted(kind, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeDuration.WithLabelValues(kind, state).Observe(d.Seconds())
	if state == "FAILED" {
		m.nodeFailures.WithLabelValues(kind).Inc()
	}
}

// NodeRetried отмечает повторную попытку вызова сервиса.
func (m *Metrics) NodeRetried(service string) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(service).Inc()
}

// RunFinished отмечает завершение run.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// Tick отмечает такт цикла планировщика.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// ProvenanceDropped отмечает потерянную запись provenance.
func (m *Metrics) ProvenanceDropped() {
	if m == nil {
		return
	}
	m.provenanceDropped.Inc()
}

// ScheduleFired отмечает срабатывание расписания.
// result: "submitted" или "failed".
func (m *Metrics) ScheduleFired(schedule, result string) {
	if m == nil {
		return
	}
	m.scheduledRuns.WithLabelValues(schedule, result).Inc()
}
