// Package health implements the Strategy Health Supervisor: a rolling
// expected-value calculator per strategy feeding an ENABLED/DEGRADED/
// DISABLED state machine, persisted atomically to disk so state survives a
// restart.
package health

import (
	"sync"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// State is one of the three health states a strategy can be in.
type State string

const (
	StateEnabled  State = "ENABLED"
	StateDegraded State = "DEGRADED"
	StateDisabled State = "DISABLED"
)

// Config parameterizes the supervisor, mirrored from internal/cfg.HealthConfig.
type Config struct {
	WindowSize            int
	MinSampleSize         int
	MinEVNegativeTrades   int
	MinEV                 domain.Decimal
	MaxConsecutiveLosses  int
	AutoEnable            bool
	StatePath             string
}

// Snapshot is the computed rolling statistics for one strategy's trade
// window.
type Snapshot struct {
	SampleSize        int
	WinRate           domain.Decimal
	AvgWin            domain.Decimal
	AvgLoss           domain.Decimal
	RollingEV         domain.Decimal
	ConsecutiveLosses int
}

// rollingEVCalculator keeps the bounded FIFO of the last WindowSize
// ClosedTrades for one strategy, behind a mutex since trades are recorded
// from the engine's dispatch path and read from the health-check path.
type rollingEVCalculator struct {
	window int
	trades []domain.ClosedTrade
}

func newRollingEVCalculator(window int) *rollingEVCalculator {
	return &rollingEVCalculator{window: window, trades: make([]domain.ClosedTrade, 0, window)}
}

func (r *rollingEVCalculator) add(trade domain.ClosedTrade) {
	r.trades = append(r.trades, trade)
	if len(r.trades) > r.window {
		r.trades = r.trades[len(r.trades)-r.window:]
	}
}

func (r *rollingEVCalculator) snapshot() Snapshot {
	k := len(r.trades)
	if k == 0 {
		return Snapshot{}
	}

	wins := 0
	var winSum, lossSum domain.Decimal
	winSum, lossSum = domain.Zero, domain.Zero
	for _, t := range r.trades {
		if t.IsWin() {
			wins++
			winSum = winSum.Add(t.NetPnl)
		} else if t.IsLoss() {
			lossSum = lossSum.Add(t.NetPnl.Abs())
		}
	}

	kDec := domain.FromFloatQuantity(float64(k))
	winRate := domain.FromFloatQuantity(float64(wins)).Div(kDec).AsPercent()

	var avgWin, avgLoss domain.Decimal
	avgWin, avgLoss = domain.Zero, domain.Zero
	if wins > 0 {
		avgWin = winSum.Div(domain.FromFloatQuantity(float64(wins))).AsPrice()
	}
	losses := k - wins
	if losses > 0 {
		avgLoss = lossSum.Div(domain.FromFloatQuantity(float64(losses))).AsPrice()
	}

	oneMinusWinRate := domain.FromFloatPercent(1).Sub(winRate)
	rollingEV := winRate.Mul(avgWin).Sub(oneMinusWinRate.Mul(avgLoss)).AsPrice()

	consecutiveLosses := 0
	for i := len(r.trades) - 1; i >= 0; i-- {
		if !r.trades[i].IsLoss() {
			break
		}
		consecutiveLosses++
	}

	return Snapshot{
		SampleSize: k, WinRate: winRate, AvgWin: avgWin, AvgLoss: avgLoss,
		RollingEV: rollingEV, ConsecutiveLosses: consecutiveLosses,
	}
}

// strategyHealth is the per-strategy mutable state the Checker tracks.
type strategyHealth struct {
	state State
	calc  *rollingEVCalculator
}

// Checker is the ENABLED/DEGRADED/DISABLED state machine keyed by
// strategyId.
type Checker struct {
	cfg Config

	mu         sync.Mutex
	strategies map[string]*strategyHealth
}

// NewChecker constructs a Checker with no prior state. Call Load to
// restore persisted state from cfg.StatePath.
func NewChecker(cfg Config) *Checker {
	return &Checker{cfg: cfg, strategies: make(map[string]*strategyHealth)}
}

func (c *Checker) entry(strategyId string) *strategyHealth {
	sh, ok := c.strategies[strategyId]
	if !ok {
		sh = &strategyHealth{state: StateEnabled, calc: newRollingEVCalculator(c.cfg.WindowSize)}
		c.strategies[strategyId] = sh
	}
	return sh
}

// IsStrategyEnabled reports whether analyze should be called for this
// strategy this bar. DEGRADED strategies still trade (the down-sizing hook
// is left optional and unused here), only DISABLED blocks analysis.
func (c *Checker) IsStrategyEnabled(strategyId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sh := c.entry(strategyId)
	return sh.state != StateDisabled
}

// State returns a strategy's current health state.
func (c *Checker) State(strategyId string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(strategyId).state
}

// RecordTrade feeds a newly closed trade into the strategy's rolling window
// and re-evaluates the state machine transitions.
func (c *Checker) RecordTrade(strategyId string, trade domain.ClosedTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh := c.entry(strategyId)
	sh.calc.add(trade)
	snap := sh.calc.snapshot()

	if snap.SampleSize < c.cfg.MinSampleSize {
		return
	}

	prev := sh.state
	sh.state = c.nextState(sh.state, snap)
	if sh.state != prev {
		log.Info().Str("strategy", strategyId).Str("from", string(prev)).Str("to", string(sh.state)).
			Int("sample_size", snap.SampleSize).Msg("strategy health state transition")
	}
}

func (c *Checker) nextState(current State, snap Snapshot) State {
	if snap.ConsecutiveLosses >= c.cfg.MaxConsecutiveLosses {
		return StateDisabled
	}
	switch current {
	case StateEnabled:
		if snap.SampleSize >= c.cfg.MinEVNegativeTrades && snap.RollingEV.LessThan(c.cfg.MinEV) {
			return StateDegraded
		}
	case StateDegraded:
		if snap.RollingEV.GreaterThanOrEqual(c.cfg.MinEV) && snap.ConsecutiveLosses < c.cfg.MaxConsecutiveLosses {
			return StateEnabled
		}
	case StateDisabled:
		if c.cfg.AutoEnable {
			return StateEnabled
		}
	}
	return current
}

// EnableStrategy explicitly re-enables a DISABLED strategy, the only path
// out of DISABLED when AutoEnable is false.
func (c *Checker) EnableStrategy(strategyId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sh := c.entry(strategyId)
	sh.state = StateEnabled
}

// Snapshot returns the current rolling-window statistics for a strategy.
func (c *Checker) Snapshot(strategyId string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(strategyId).calc.snapshot()
}
