package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"perpengine/internal/cfg"
	"perpengine/internal/domain"
	"perpengine/internal/exchange/ccex"
	"perpengine/internal/execution"
	"perpengine/internal/health"
	"perpengine/internal/httpapi"
	"perpengine/internal/marketdata"
	"perpengine/internal/metrics"
	"perpengine/internal/notify"
	"perpengine/internal/risk"
	"perpengine/internal/storage"
	"perpengine/internal/strategy"
)

// tradingInterval is the candle cadence the reference strategy trades on.
// Not a config key: per-strategy parameters (indicator periods, interval)
// belong to the strategy itself rather than the externally configurable
// exchange/risk/execution/health/notify settings.
const tradingInterval = domain.Interval5m

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.System)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mx := metrics.NewWrapper(m)

	var store *storage.Store
	if c.System.DataPath != "" {
		store, err = storage.New(c.System.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		} else {
			defer store.Close()
		}
	}

	var orderStore *storage.OrderStore
	if c.System.DataPath != "" {
		orderStore, err = storage.NewOrderStore(c.System.DataPath + "/orders")
		if err != nil {
			log.Warn().Err(err).Msg("order store initialization failed, continuing without order persistence")
		}
	}

	exchange := ccex.New(c.Exchange, mx)
	defer exchange.Close()

	symbols := make([]domain.Symbol, 0, len(c.Exchange.Symbols))
	for _, raw := range c.Exchange.Symbols {
		sym, err := domain.ParseSymbol(raw)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", raw).Msg("invalid configured symbol")
		}
		symbols = append(symbols, sym)
		if err := exchange.SetLeverage(ctx, sym, c.Risk.Leverage); err != nil {
			log.Warn().Err(err).Str("symbol", sym.String()).Msg("failed to set leverage, continuing with exchange default")
		}
	}

	notifier := notify.New(notify.Config{
		NetworkEnabled:      c.Notify.ExchangeNetworkEnabled,
		NetworkWebhookURL:   c.Notify.ExchangeNetworkWebhookURL,
		NetworkCooldown:     time.Duration(c.Notify.ExchangeNetworkCooldownSec) * time.Second,
		TradeFillEnabled:    c.Notify.TradeFillEnabled,
		TradeFillWebhookURL: c.Notify.TradeFillWebhookURL,
	}, "ccex")

	healthChecker := health.NewChecker(health.Config{
		WindowSize:           c.Health.WindowSize,
		MinSampleSize:        c.Health.MinSampleSize,
		MinEVNegativeTrades:  c.Health.MinEVNegativeTrades,
		MinEV:                domain.FromFloatPrice(c.Health.MinEV),
		MaxConsecutiveLosses: c.Health.MaxConsecutiveLosses,
		AutoEnable:           c.Health.AutoEnable,
		StatePath:            c.Health.StatePath,
	})
	if c.Health.StatePath != "" {
		if err := healthChecker.Load(); err != nil {
			log.Warn().Err(err).Msg("health state load failed, starting every strategy ENABLED")
		}
	}

	gate := risk.NewGate(risk.Config{
		RiskPerTrade:         domain.FromFloatPercent(c.Risk.RiskPerTrade),
		MaxPositionRatio:     domain.FromFloatPercent(c.Risk.MaxPositionRatio),
		MaxStopLossPercent:   domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		MaxDrawdownPercent:   domain.FromFloatPercent(c.Risk.MaxDrawdownPercent),
		Leverage:             c.Risk.Leverage,
		MarginBuffer:         domain.FromFloatPercent(c.Risk.MarginBuffer),
	}, startingEquity(ctx, exchange))

	engine := execution.New(exchange, gate, healthChecker, notifier, mx, execution.Config{
		EntryRepriceEnabled:        c.Execution.EntryRepriceEnabled,
		OrderSubmitMaxRetries:      c.Execution.MaxOrderRetries,
		OrderSubmitBaseBackoff:     time.Second,
		OrderSubmitMaxBackoff:      30 * time.Second,
		OrderPollInterval:          c.Execution.OrderStatusCheckInterval,
		OrderPollTimeout:           c.Execution.OrderExecutionTimeout,
		DefaultStopDistancePercent: domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
		Leverage:                   c.Risk.Leverage,
		ExchangeName:               "ccex",
	})
	if orderStore != nil {
		engine.SetOrderPersister(orderStore)
	}

	strategyEngine := strategy.NewEngine(engine, engine, healthChecker)
	for _, sym := range symbols {
		id := "emacross-" + sym.PairString()
		s := strategy.NewEMACrossStrategy(id, sym, tradingInterval, strategy.EMACrossConfig{
			FastPeriod:      12,
			SlowPeriod:      26,
			RSIPeriod:       14,
			RSIOverbought:   domain.FromFloatPercent(70),
			RSIOversold:     domain.FromFloatPercent(30),
			CooldownBars:    3,
			RiskStopPercent: domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
		})
		strategyEngine.Register(s)
		engine.RegisterStrategy(id, sym, s)
	}

	feed := marketdata.NewFeed(exchange, c.MarketData.BufferSize)
	for _, sym := range symbols {
		sym := sym
		feed.Subscribe(ctx, sym, tradingInterval, func(k domain.KLine) {
			mx.CandlesClosed().Inc()
			if store != nil {
				if err := store.StoreKLine(k); err != nil {
					log.Warn().Err(err).Msg("failed to persist candle")
				}
			}
			buf := feed.Buffer(sym, tradingInterval)
			if buf == nil {
				return
			}
			strategyEngine.OnCandleClose(sym, tradingInterval, buf.Snapshot())
		})
	}

	if err := engine.RefreshAccount(ctx); err != nil {
		log.Warn().Err(err).Msg("initial account refresh failed, risk gate starting from zero equity")
	}
	go engine.RunReconciliationLoop(ctx, c.Execution.ReconciliationInterval)

	api := httpapi.NewServer(fmt.Sprintf(":%d", c.System.MetricsPort), engine, gate)
	go func() {
		if err := api.Start(); err != nil {
			log.Error().Err(err).Msg("httpapi server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context cancelled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("httpapi shutdown did not complete cleanly")
	}
	if c.Health.StatePath != "" {
		if err := healthChecker.Save(); err != nil {
			log.Warn().Err(err).Msg("health state save failed")
		}
	}
	cancel()
}

func setupLogging(sc cfg.SystemConfig) {
	level, err := zerolog.ParseLevel(sc.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if sc.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func startingEquity(ctx context.Context, exchange domain.Exchange) domain.Decimal {
	info, err := exchange.GetAccountInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch starting equity, risk gate starting from zero")
		return domain.Decimal{}
	}
	return info.TotalEquity
}
