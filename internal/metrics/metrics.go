// Package metrics 暴露评估引擎的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sigtrack"

// Metrics 持有引擎使用的全部指标，每个实例使用独立的 registry。
type Metrics struct {
	registry *prometheus.Registry

	SignalsSubmitted   *prometheus.CounterVec
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	Transitions        *prometheus.CounterVec
	BarsApplied        prometheus.Counter
	SupplierErrors     *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	SweepBacklog       prometheus.Gauge
	BreakerOpen        prometheus.Gauge
	LastSweep          prometheus.Gauge
}

// New 创建并注册指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SignalsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "signals_total",
			Help: "Signals accepted or rejected at submission",
		}, []string{"result"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "evaluations_total",
			Help: "Evaluation attempts by result",
		}, []string{"result"}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "evaluation_duration_seconds",
			Help:    "Wall time of a single signal evaluation",
			Buckets: prometheus.DefBuckets,
		}, []string{"timeframe"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "transitions_total",
			Help: "Committed outcome state transitions",
		}, []string{"to"}),
		BarsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "bars_applied_total",
			Help: "Price bars consumed by committed evaluations",
		}),
		SupplierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "market", Name: "window_errors_total",
			Help: "Price window fetch failures",
		}, []string{"timeframe"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "sweep_duration_seconds",
			Help:    "Duration of a full evaluation sweep",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		SweepBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "non_terminal_signals",
			Help: "Non-terminal signals seen by the last sweep",
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "store_breaker_open",
			Help: "1 when the store circuit breaker is open",
		}),
		LastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		}),
	}
	reg.MustRegister(
		m.SignalsSubmitted, m.Evaluations, m.EvaluationDuration, m.Transitions,
		m.BarsApplied, m.SupplierErrors, m.SweepDuration, m.SweepBacklog,
		m.BreakerOpen, m.LastSweep,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 使用的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSubmit 记录一次提交结果。nil receiver 安全。
func (m *Metrics) ObserveSubmit(ok bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !ok {
		result = "rejected"
	}
	m.SignalsSubmitted.WithLabelValues(result).Inc()
}

// ObserveEvaluation 记录一次评估。result 取 unchanged/committed/conflict/error 等。
func (m *Metrics) ObserveEvaluation(timeframe, result string, took time.Duration, bars int, to []string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(result).Inc()
	m.EvaluationDuration.WithLabelValues(timeframe).Observe(took.Seconds())
	if bars > 0 {
		m.BarsApplied.Add(float64(bars))
	}
	for _, s := range to {
		m.Transitions.WithLabelValues(s).Inc()
	}
}

func (m *Metrics) ObserveSupplierError(timeframe string) {
	if m == nil {
		return
	}
	m.SupplierErrors.WithLabelValues(timeframe).Inc()
}

// ObserveSweep 记录一次完整扫描。
func (m *Metrics) ObserveSweep(took time.Duration, backlog int, at time.Time) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(took.Seconds())
	m.SweepBacklog.Set(float64(backlog))
	m.LastSweep.Set(float64(at.Unix()))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
