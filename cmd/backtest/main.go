package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"perpengine/internal/backtest"
	"perpengine/internal/cfg"
	"perpengine/internal/domain"
	"perpengine/internal/risk"
	"perpengine/internal/storage"
	"perpengine/internal/strategy"
)

// tradingInterval mirrors cmd/bitrader's hardcoded strategy cadence so a
// backtest replays candles at the same granularity the live strategy trades.
const tradingInterval = domain.Interval5m

func main() {
	var (
		dataPath   = flag.String("data", "", "Path to data directory or file (overrides system.dataPath)")
		outputPath = flag.String("output", "reports", "Output directory for reports")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		symbolsArg = flag.String("symbols", "", "Comma-separated symbols to test (overrides exchange.symbols)")
		startDate  = flag.String("start", "", "Start date (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "End date (YYYY-MM-DD)")
		dataFormat = flag.String("format", "auto", "Data format: auto, csv, boltdb")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	symbolStrings := c.Exchange.Symbols
	if *symbolsArg != "" {
		symbolStrings = parseSymbols(*symbolsArg)
	}
	symbols := make([]domain.Symbol, 0, len(symbolStrings))
	for _, raw := range symbolStrings {
		sym, err := domain.ParseSymbol(raw)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", raw).Msg("invalid configured symbol")
		}
		symbols = append(symbols, sym)
	}

	startTime := time.Now().AddDate(0, -1, 0)
	if *startDate != "" {
		startTime, err = time.Parse("2006-01-02", *startDate)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid start date")
		}
	}
	endTime := time.Now()
	if *endDate != "" {
		endTime, err = time.Parse("2006-01-02", *endDate)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid end date")
		}
	}

	path := *dataPath
	if path == "" {
		path = c.System.DataPath
	}

	loader := backtest.NewDataLoader()
	if err := loadData(loader, *dataFormat, path, symbols, startTime, endTime); err != nil {
		log.Fatal().Err(err).Msg("failed to load backtest data")
	}

	strategies := make([]strategy.Strategy, 0, len(symbols))
	for _, sym := range symbols {
		strategies = append(strategies, strategy.NewEMACrossStrategy(
			"emacross-"+sym.PairString(), sym, tradingInterval, strategy.EMACrossConfig{
				FastPeriod:      12,
				SlowPeriod:      26,
				RSIPeriod:       14,
				RSIOverbought:   domain.FromFloatPercent(70),
				RSIOversold:     domain.FromFloatPercent(30),
				CooldownBars:    3,
				RiskStopPercent: domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
			}))
	}

	engine := backtest.NewEngine(backtest.Config{
		InitialCapital:             domain.FromFloatPrice(c.Backtest.InitialCapital),
		MakerFee:                   domain.FromFloatPrice(c.Backtest.MakerFee),
		TakerFee:                   domain.FromFloatPrice(c.Backtest.TakerFee),
		Slippage:                   domain.FromFloatPrice(c.Backtest.Slippage),
		Spread:                     domain.FromFloatPrice(c.Backtest.Spread),
		Leverage:                   c.Risk.Leverage,
		DefaultStopDistancePercent: domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
		LimitOrderMaxBars:          c.Backtest.LimitOrderMaxBars,
	}, risk.Config{
		RiskPerTrade:         domain.FromFloatPercent(c.Risk.RiskPerTrade),
		MaxPositionRatio:     domain.FromFloatPercent(c.Risk.MaxPositionRatio),
		MaxStopLossPercent:   domain.FromFloatPercent(c.Risk.MaxStopLossPercent),
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		MaxDrawdownPercent:   domain.FromFloatPercent(c.Risk.MaxDrawdownPercent),
		Leverage:             c.Risk.Leverage,
		MarginBuffer:         domain.FromFloatPercent(c.Risk.MarginBuffer),
	}, nil, strategies)

	log.Info().Time("start", startTime).Time("end", endTime).Int("symbols", len(symbols)).Msg("starting backtest")
	results, err := engine.Run(context.Background(), loader.Series())
	if err != nil {
		log.Fatal().Err(err).Msg("backtest run failed")
	}

	reporter := backtest.NewReporter(results, *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("failed to generate reports")
	}
	reporter.PrintSummary()

	log.Info().Str("output", *outputPath).Msg("backtest completed")
}

// loadData dispatches to the requested loader format, auto-detecting from
// path's shape when format is "auto".
func loadData(loader *backtest.DataLoader, format, path string, symbols []domain.Symbol, start, end time.Time) error {
	switch format {
	case "csv":
		return loadCSVDir(loader, path, symbols)
	case "boltdb":
		return loadFromStore(loader, path, symbols, start, end)
	case "auto":
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat data path: %w", err)
		}
		if info.IsDir() {
			if hasCSVFiles(path, symbols) {
				return loadCSVDir(loader, path, symbols)
			}
			return loadFromStore(loader, path, symbols, start, end)
		}
		return loadCSVDir(loader, path, symbols)
	default:
		return fmt.Errorf("unknown data format: %s", format)
	}
}

func hasCSVFiles(dir string, symbols []domain.Symbol) bool {
	for _, sym := range symbols {
		if _, err := os.Stat(fmt.Sprintf("%s/%s.csv", dir, sym.PairString())); err == nil {
			return true
		}
	}
	return false
}

// loadCSVDir loads one CSV file per symbol, named <pair>.csv within dir (or,
// if dir itself is a file, treats it as the single configured symbol's CSV).
func loadCSVDir(loader *backtest.DataLoader, dir string, symbols []domain.Symbol) error {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		if len(symbols) != 1 {
			return fmt.Errorf("a single CSV file path requires exactly one configured symbol, got %d", len(symbols))
		}
		return loader.LoadFromCSV(dir, symbols[0], tradingInterval)
	}
	for _, sym := range symbols {
		file := fmt.Sprintf("%s/%s.csv", dir, sym.PairString())
		if err := loader.LoadFromCSV(file, sym, tradingInterval); err != nil {
			return fmt.Errorf("symbol %s: %w", sym.String(), err)
		}
	}
	return nil
}

func loadFromStore(loader *backtest.DataLoader, path string, symbols []domain.Symbol, start, end time.Time) error {
	store, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("failed to open storage at %s: %w", path, err)
	}
	defer store.Close()

	for _, sym := range symbols {
		if err := loader.LoadFromStore(store, sym, tradingInterval, start, end); err != nil {
			return fmt.Errorf("symbol %s: %w", sym.String(), err)
		}
	}
	return nil
}

func parseSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
