// Package metrics exposes prometheus counters for quote, execution and
// settlement activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	quotes      *prometheus.CounterVec
	staleQuotes prometheus.Counter
	executions  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	settlement  *prometheus.CounterVec
	activePolls prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_quotes_total",
			Help: "Quote acquisitions by source (cache, network, error).",
		}, []string{"source"}),
		staleQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_quotes_stale_total",
			Help: "Quote responses dropped because a newer request superseded them.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_executions_total",
			Help: "Trade execution attempts by outcome.",
		}, []string{"flow", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_submit_retries_total",
			Help: "Automatic submission retries by error kind.",
		}, []string{"kind"}),
		settlement: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_settlement_status_changes_total",
			Help: "Observed bridge order status transitions by new status.",
		}, []string{"status"}),
		activePolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeflow_settlement_active_polls",
			Help: "Number of running settlement poll sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.quotes, m.staleQuotes, m.executions, m.retries, m.settlement, m.activePolls)
	}
	return m
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) ObserveQuote(source string) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(label(source)).Inc()
}

func (m *Metrics) IncStaleQuote() {
	if m == nil {
		return
	}
	m.staleQuotes.Inc()
}

func (m *Metrics) ObserveExecution(flow, outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(label(flow), label(outcome)).Inc()
}

func (m *Metrics) IncSubmitRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) ObserveSettlementStatus(status string) {
	if m == nil {
		return
	}
	m.settlement.WithLabelValues(label(status)).Inc()
}

func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.activePolls.Inc()
}

func (m *Metrics) PollStopped() {
	if m == nil {
		return
	}
	m.activePolls.Dec()
}

// Collectors exposes the raw collectors for assertions in tests
func (m *Metrics) Collectors() (quotes *prometheus.CounterVec, stale prometheus.Counter, executions *prometheus.CounterVec) {
	return m.quotes, m.staleQuotes, m.executions
}
