package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != m {
		t.Error("wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_CounterOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	submitted := wrapper.OrdersSubmitted()
	if submitted == nil {
		t.Fatal("OrdersSubmitted returned nil counter")
	}

	if v := testutil.ToFloat64(m.OrdersSubmitted); v != 0 {
		t.Errorf("expected initial counter value 0, got %f", v)
	}

	submitted.Inc()
	if v := testutil.ToFloat64(m.OrdersSubmitted); v != 1 {
		t.Errorf("expected counter value 1 after increment, got %f", v)
	}

	submitted.Inc()
	if v := testutil.ToFloat64(m.OrdersSubmitted); v != 2 {
		t.Errorf("expected counter value 2 after second increment, got %f", v)
	}
}

func TestMetricsWrapper_GaugeOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	pnl := wrapper.RealizedPnL()
	if pnl == nil {
		t.Fatal("RealizedPnL returned nil gauge")
	}

	pnl.Set(123.45)
	if v := testutil.ToFloat64(m.RealizedPnL); v != 123.45 {
		t.Errorf("expected gauge value 123.45, got %f", v)
	}

	pnl.Add(10.55)
	if v := testutil.ToFloat64(m.RealizedPnL); v != 134.0 {
		t.Errorf("expected gauge value 134.0 after add, got %f", v)
	}

	pnl.Add(-20.0)
	if v := testutil.ToFloat64(m.RealizedPnL); v != 114.0 {
		t.Errorf("expected gauge value 114.0 after negative add, got %f", v)
	}
}

func TestMetricsWrapper_HistogramOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	latency := wrapper.OrderExecutionDuration()
	if latency == nil {
		t.Fatal("OrderExecutionDuration returned nil histogram")
	}

	testValues := []float64{0.1, 0.2, 0.5, 1.0, 2.0}
	for _, v := range testValues {
		latency.Observe(v)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var count uint64
	for _, mf := range families {
		if mf.GetName() == "order_execution_duration_seconds" {
			count = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	if count != uint64(len(testValues)) {
		t.Errorf("expected %d observations, got %d", len(testValues), count)
	}
}

func TestMetricsWrapper_UpdatePositions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	positions := map[string]float64{
		"BTCUSDT": 0.5,
		"ETHUSDT": -0.3,
		"ADAUSDT": 0.0,
	}

	wrapper.UpdatePositions(positions)

	activeCount := testutil.ToFloat64(m.ActivePositions)
	if activeCount != 2.0 {
		t.Errorf("expected 2 active positions, got %f", activeCount)
	}
}

func TestMetricsWrapper_RiskVetoLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	wrapper.RiskVeto("emergency_stop").Inc()
	wrapper.RiskVeto("emergency_stop").Inc()
	wrapper.RiskVeto("max_drawdown").Inc()

	if v := testutil.ToFloat64(m.RiskVetoes.WithLabelValues("emergency_stop")); v != 2 {
		t.Errorf("expected 2 emergency_stop vetoes, got %f", v)
	}
	if v := testutil.ToFloat64(m.RiskVetoes.WithLabelValues("max_drawdown")); v != 1 {
		t.Errorf("expected 1 max_drawdown veto, got %f", v)
	}
}

func TestMetricsWrapper_StrategyStateTransitions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	wrapper.StrategyStateTransition("DEGRADED").Inc()
	wrapper.StrategyStateTransition("DISABLED").Inc()

	if v := testutil.ToFloat64(m.StrategyStateTransitions.WithLabelValues("DEGRADED")); v != 1 {
		t.Errorf("expected 1 DEGRADED transition, got %f", v)
	}
	if v := testutil.ToFloat64(m.StrategyStateTransitions.WithLabelValues("DISABLED")); v != 1 {
		t.Errorf("expected 1 DISABLED transition, got %f", v)
	}
}

func TestMetricsWrapper_ConcurrentAccess(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	wrapper := NewWrapper(m)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				wrapper.OrdersSubmitted().Inc()
				wrapper.OrderExecutionDuration().Observe(0.01)
				wrapper.ErrorsTotal().Inc()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	submitted := testutil.ToFloat64(m.OrdersSubmitted)
	errs := testutil.ToFloat64(m.ErrorsTotal)

	expected := 1000.0
	if submitted != expected {
		t.Errorf("expected %f orders submitted after concurrent access, got %f", expected, submitted)
	}
	if errs != expected {
		t.Errorf("expected %f errors after concurrent access, got %f", expected, errs)
	}
}

func TestCounterWrapper_DirectUsage(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter for unit tests",
	})

	wrapper := &CounterWrapper{c: counter}

	wrapper.Inc()
	if v := testutil.ToFloat64(counter); v != 1 {
		t.Errorf("expected counter value 1, got %f", v)
	}
}

func TestGaugeWrapper_DirectUsage(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge for unit tests",
	})

	wrapper := &GaugeWrapper{g: gauge}

	wrapper.Set(42.0)
	if v := testutil.ToFloat64(gauge); v != 42.0 {
		t.Errorf("expected gauge value 42.0, got %f", v)
	}

	wrapper.Add(8.0)
	if v := testutil.ToFloat64(gauge); v != 50.0 {
		t.Errorf("expected gauge value 50.0 after add, got %f", v)
	}
}

func TestHistogramWrapper_DirectUsage(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "Test histogram for unit tests",
		Buckets: prometheus.DefBuckets,
	})

	wrapper := &HistogramWrapper{h: histogram}
	wrapper.Observe(0.5)
}
