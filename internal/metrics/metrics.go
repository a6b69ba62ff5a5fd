// Package metrics provides Prometheus metrics collection for perpengine.
// It defines and manages all performance, trading, and system metrics that
// are exposed via the Prometheus metrics endpoint for monitoring and
// alerting.
//
// The package includes metrics for order execution, risk gate decisions,
// market-data connectivity, reconciliation, and strategy health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trading engine. It provides
// counters, gauges, and histograms for comprehensive monitoring of trading
// operations and system performance.
type Metrics struct {
	// Order flow
	OrdersSubmitted        prometheus.Counter
	OrdersFilled           prometheus.Counter
	OrdersRejected         prometheus.Counter
	OrderTimeouts          prometheus.Counter
	OrderRetries           prometheus.Counter
	OrderExecutionDuration prometheus.Histogram

	// Risk gate
	RiskVetoes       *prometheus.CounterVec
	EmergencyStopped prometheus.Gauge

	// Positions and PnL
	ActivePositions prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	UnrealizedPnL   prometheus.Gauge

	// Reconciliation
	ReconciliationRuns  prometheus.Counter
	PositionsAdopted    prometheus.Counter
	PositionsDeadClosed prometheus.Counter
	StopsResynced       prometheus.Counter

	// Market data
	WSReconnects  prometheus.Counter
	CandlesClosed prometheus.Counter

	// Strategy health supervisor
	StrategyStateTransitions *prometheus.CounterVec
	StrategiesEnabled        prometheus.Gauge

	// System
	ErrorsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		OrdersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_submitted_total",
			Help: "Total number of orders submitted to the exchange",
		}),
		OrdersFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_filled_total",
			Help: "Total number of orders reaching FILLED",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of orders ending unfilled (REJECTED, FAILED or CANCELED)",
		}),
		OrderTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_timeouts_total",
			Help: "Total number of order status-poll timeouts",
		}),
		OrderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_retries_total",
			Help: "Total number of order placement retries",
		}),
		OrderExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_execution_duration_seconds",
			Help:    "Duration of order placement to terminal status in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		RiskVetoes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_vetoes_total",
			Help: "Total number of signals vetoed by the risk gate, by reason",
		}, []string{"reason"}),
		EmergencyStopped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "risk_emergency_stopped",
			Help: "1 if the risk gate is in the STOPPED state, else 0",
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Number of currently tracked open positions",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realized_pnl",
			Help: "Cumulative realized PnL",
		}),
		UnrealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "unrealized_pnl",
			Help: "Current unrealized PnL across tracked positions",
		}),
		ReconciliationRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Total number of reconciliation passes run",
		}),
		PositionsAdopted: factory.NewCounter(prometheus.CounterOpts{
			Name: "positions_adopted_total",
			Help: "Total number of exchange positions adopted during reconciliation",
		}),
		PositionsDeadClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "positions_dead_closed_total",
			Help: "Total number of tracked positions closed because the exchange no longer held them",
		}),
		StopsResynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "stops_resynced_total",
			Help: "Total number of protective stops re-synced during reconciliation",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of market-data WebSocket reconnections",
		}),
		CandlesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "candles_closed_total",
			Help: "Total number of closed-candle events dispatched to strategies",
		}),
		StrategyStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strategy_state_transitions_total",
			Help: "Total number of strategy health state transitions, by target state",
		}, []string{"state"}),
		StrategiesEnabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "strategies_enabled",
			Help: "Number of strategies currently in the ENABLED health state",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// UpdatePositions updates the active positions gauge from a snapshot of
// tracked position quantities keyed by pair string. It counts the number of
// non-zero positions and updates the gauge.
func (m *Metrics) UpdatePositions(positions map[string]float64) {
	count := 0
	for _, qty := range positions {
		if qty != 0 {
			count++
		}
	}
	m.ActivePositions.Set(float64(count))
}

// GetErrorRate calculates the current error rate based on total submitted
// orders and total errors. Returns 0 if no orders have been submitted yet.
func (m *Metrics) GetErrorRate() float64 {
	var totalOps, totalErrors float64

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "orders_submitted_total":
			for _, mm := range mf.GetMetric() {
				totalOps = mm.GetCounter().GetValue()
			}
		case "errors_total":
			for _, mm := range mf.GetMetric() {
				totalErrors = mm.GetCounter().GetValue()
			}
		}
	}

	if totalOps == 0 {
		return 0
	}
	return totalErrors / totalOps
}
