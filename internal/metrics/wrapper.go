package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports between this package and
// internal/execution / internal/risk.
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

// MetricsWrapper provides a narrow interface for the execution and risk
// packages to record metrics without importing prometheus directly.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) OrdersSubmitted() MetricsCounter {
	return &CounterWrapper{w.m.OrdersSubmitted}
}

func (w *MetricsWrapper) OrdersFilled() MetricsCounter {
	return &CounterWrapper{w.m.OrdersFilled}
}

func (w *MetricsWrapper) OrdersRejected() MetricsCounter {
	return &CounterWrapper{w.m.OrdersRejected}
}

func (w *MetricsWrapper) OrderTimeouts() MetricsCounter {
	return &CounterWrapper{w.m.OrderTimeouts}
}

func (w *MetricsWrapper) OrderRetries() MetricsCounter {
	return &CounterWrapper{w.m.OrderRetries}
}

func (w *MetricsWrapper) OrderExecutionDuration() MetricsHistogram {
	return &HistogramWrapper{w.m.OrderExecutionDuration}
}

func (w *MetricsWrapper) RiskVeto(reason string) MetricsCounter {
	return &CounterWrapper{w.m.RiskVetoes.WithLabelValues(reason)}
}

func (w *MetricsWrapper) EmergencyStopped() MetricsGauge {
	return &GaugeWrapper{w.m.EmergencyStopped}
}

func (w *MetricsWrapper) RealizedPnL() MetricsGauge {
	return &GaugeWrapper{w.m.RealizedPnL}
}

func (w *MetricsWrapper) UnrealizedPnL() MetricsGauge {
	return &GaugeWrapper{w.m.UnrealizedPnL}
}

func (w *MetricsWrapper) ReconciliationRuns() MetricsCounter {
	return &CounterWrapper{w.m.ReconciliationRuns}
}

func (w *MetricsWrapper) PositionsAdopted() MetricsCounter {
	return &CounterWrapper{w.m.PositionsAdopted}
}

func (w *MetricsWrapper) PositionsDeadClosed() MetricsCounter {
	return &CounterWrapper{w.m.PositionsDeadClosed}
}

func (w *MetricsWrapper) StopsResynced() MetricsCounter {
	return &CounterWrapper{w.m.StopsResynced}
}

func (w *MetricsWrapper) WSReconnects() MetricsCounter {
	return &CounterWrapper{w.m.WSReconnects}
}

func (w *MetricsWrapper) CandlesClosed() MetricsCounter {
	return &CounterWrapper{w.m.CandlesClosed}
}

func (w *MetricsWrapper) StrategyStateTransition(state string) MetricsCounter {
	return &CounterWrapper{w.m.StrategyStateTransitions.WithLabelValues(state)}
}

func (w *MetricsWrapper) StrategiesEnabled() MetricsGauge {
	return &GaugeWrapper{w.m.StrategiesEnabled}
}

func (w *MetricsWrapper) ErrorsTotal() MetricsCounter {
	return &CounterWrapper{w.m.ErrorsTotal}
}

func (w *MetricsWrapper) UpdatePositions(positions map[string]float64) {
	w.m.UpdatePositions(positions)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
