package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ruleEvaluation *prometheus.HistogramVec
	executions     *prometheus.CounterVec
	sinkFailures   prometheus.Counter
	signerFailures prometheus.Counter
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ruleEvaluation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attest_rule_evaluation_seconds",
			Help:    "Time spent evaluating a single rule.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"unit", "decision"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_executions_total",
			Help: "Executions by unit and final decision.",
		}, []string{"unit", "decision"}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attest_sink_failures_total",
			Help: "Receipts the sink failed to accept.",
		}),
		signerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attest_signer_failures_total",
			Help: "Receipts left unsigned because the signer failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ruleEvaluation, m.executions, m.sinkFailures, m.signerFailures)
	}
	return m
}

func (m *Metrics) observeRule(unit string, decision string, ns int64) {
	if m == nil {
		return
	}
	m.ruleEvaluation.WithLabelValues(unit, decision).Observe(float64(ns) / 1e9)
}

func (m *Metrics) observeExecution(unit string, decision string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(unit, decision).Inc()
}

func (m *Metrics) sinkFailed() {
	if m == nil {
		return
	}
	m.sinkFailures.Inc()
}

func (m *Metrics) signerFailed() {
	if m == nil {
		return
	}
	m.signerFailures.Inc()
}
