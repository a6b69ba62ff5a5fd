package cfg

import (
	"fmt"
	"os"
	"time"
)

// validate runs each configuration section's checks in sequence —
// credentials, URLs, risk, live-trading restrictions, execution, backtest,
// health, system — so the first failure reported is always the
// lowest-numbered section, not whichever check happened to run first.
func validate(c *CoreConfig) error {
	if err := validateCredentials(c); err != nil {
		return err
	}
	if err := validateURLs(c); err != nil {
		return err
	}
	if err := validateRisk(c); err != nil {
		return err
	}
	if err := validateLiveTradingRestrictions(c); err != nil {
		return err
	}
	if err := validateExecution(c); err != nil {
		return err
	}
	if err := validateBacktest(c); err != nil {
		return err
	}
	if err := validateHealth(c); err != nil {
		return err
	}
	if err := validateSystem(c); err != nil {
		return err
	}
	return nil
}

func validateCredentials(c *CoreConfig) error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf(errMsgAPIKeyRequired)
	}
	return nil
}

func validateURLs(c *CoreConfig) error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange base URL is required")
	}
	if c.Exchange.WsURL == "" {
		return fmt.Errorf("exchange websocket URL is required")
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	return nil
}

func validateRisk(c *CoreConfig) error {
	r := c.Risk
	if r.RiskPerTrade <= 0 || r.RiskPerTrade > 0.1 {
		return fmt.Errorf("riskPerTrade must be between 0 and 0.1, got %g", r.RiskPerTrade)
	}
	if r.MaxPositionRatio <= 0 || r.MaxPositionRatio > 1 {
		return fmt.Errorf("maxPositionRatio must be between 0 and 1, got %g", r.MaxPositionRatio)
	}
	if r.MaxStopLossPercent <= 0 || r.MaxStopLossPercent > 1 {
		return fmt.Errorf("maxStopLossPercent must be between 0 and 1, got %g", r.MaxStopLossPercent)
	}
	if r.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("maxConsecutiveLosses must be >= 1")
	}
	if r.MaxDrawdownPercent <= 0 || r.MaxDrawdownPercent > 1 {
		return fmt.Errorf("maxDrawdownPercent must be between 0 and 1, got %g", r.MaxDrawdownPercent)
	}
	if r.Leverage < 1 || r.Leverage > 125 {
		return fmt.Errorf("leverage must be between 1 and 125, got %d", r.Leverage)
	}
	if r.MarginBuffer < 1 {
		return fmt.Errorf("marginBuffer must be >= 1, got %g", r.MarginBuffer)
	}
	return nil
}

// validateLiveTradingRestrictions requires an explicit
// FORCE_LIVE_TRADING=true override for live (non-dry-run) trading and caps
// the riskier knobs tighter than dry-run/backtest allows.
func validateLiveTradingRestrictions(c *CoreConfig) error {
	if c.DryRun {
		return nil
	}
	if os.Getenv(EnvForceLiveTrading) != "true" {
		return fmt.Errorf("live trading requires %s=true to be set explicitly", EnvForceLiveTrading)
	}
	if c.Risk.MaxPositionRatio > 0.5 {
		return fmt.Errorf("maxPositionRatio too high for live trading (max 0.5)")
	}
	if c.Risk.MaxDrawdownPercent > 0.3 {
		return fmt.Errorf("maxDrawdownPercent too high for live trading (max 0.3)")
	}
	return nil
}

func validateExecution(c *CoreConfig) error {
	e := c.Execution
	if e.OrderExecutionTimeout < 10*time.Second || e.OrderExecutionTimeout > 5*time.Minute {
		return fmt.Errorf("orderExecutionTimeout must be between 10s and 5m")
	}
	if e.OrderStatusCheckInterval < 1*time.Second || e.OrderStatusCheckInterval > 30*time.Second {
		return fmt.Errorf("orderStatusCheckInterval must be between 1s and 30s")
	}
	if e.MaxOrderRetries < 1 || e.MaxOrderRetries > 10 {
		return fmt.Errorf("maxOrderRetries must be between 1 and 10")
	}
	if e.ReconciliationInterval < 1*time.Second {
		return fmt.Errorf("reconciliationInterval must be >= 1s")
	}
	return nil
}

func validateBacktest(c *CoreConfig) error {
	b := c.Backtest
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest initialCapital must be positive")
	}
	if b.MakerFee < 0 || b.TakerFee < 0 || b.Slippage < 0 || b.Spread < 0 {
		return fmt.Errorf("backtest fee/slippage/spread values must be non-negative")
	}
	if b.LimitOrderMaxBars < 0 {
		return fmt.Errorf("backtest limitOrderMaxBars must be >= 0")
	}
	return nil
}

func validateHealth(c *CoreConfig) error {
	h := c.Health
	if h.WindowSize < 1 {
		return fmt.Errorf("health windowSize must be >= 1")
	}
	if h.MinSampleSize < 1 {
		return fmt.Errorf("health minSampleSize must be >= 1")
	}
	if h.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("health maxConsecutiveLosses must be >= 1")
	}
	if h.StatePath == "" {
		return fmt.Errorf("health statePath is required")
	}
	return nil
}

func validateSystem(c *CoreConfig) error {
	if c.System.MetricsPort < minMetricsPort || c.System.MetricsPort > maxMetricsPort {
		return fmt.Errorf("metricsPort must be between %d and %d", minMetricsPort, maxMetricsPort)
	}
	if c.System.DataPath == "" {
		return fmt.Errorf("dataPath is required")
	}
	return nil
}
