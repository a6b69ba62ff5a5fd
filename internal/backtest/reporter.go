package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// Reporter generates the output report formats: a human-readable summary,
// the trade log CSV, the JSON results, and a per-bar metrics CSV.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{results: results, outputPath: outputPath}
}

// GenerateReport generates all report formats.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateTradeLog(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	if err := r.generateMetricsReport(); err != nil {
		return err
	}
	return nil
}

// generateSummary generates a human-readable summary.
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "backtest_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "BACKTEST RESULTS SUMMARY\n")
	fmt.Fprintf(file, "========================\n\n")

	fmt.Fprintf(file, "Time Period: %s to %s\n",
		r.results.Start.Format("2006-01-02 15:04:05"), r.results.End.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Duration: %s\n\n", r.results.End.Sub(r.results.Start))

	fmt.Fprintf(file, "PERFORMANCE METRICS\n")
	fmt.Fprintf(file, "-------------------\n")
	fmt.Fprintf(file, "Initial Capital: %s\n", r.results.InitialCapital)
	fmt.Fprintf(file, "Final Equity: %s\n", r.results.FinalEquity)
	fmt.Fprintf(file, "Total Return: %s%%\n", r.results.TotalReturnPercent)
	fmt.Fprintf(file, "Annualized Return: %s%%\n\n", r.results.AnnualizedReturnPercent)

	fmt.Fprintf(file, "TRADING STATISTICS\n")
	fmt.Fprintf(file, "-----------------\n")
	fmt.Fprintf(file, "Total Trades: %d\n", r.results.TotalTrades)
	fmt.Fprintf(file, "Winning Trades: %d\n", r.results.Wins)
	fmt.Fprintf(file, "Losing Trades: %d\n", r.results.Losses)
	fmt.Fprintf(file, "Win Rate: %s%%\n", r.results.WinRatePercent)
	fmt.Fprintf(file, "Profit Factor: %.2f\n", r.results.ProfitFactor)
	fmt.Fprintf(file, "Average Win: %s\n", r.results.AvgWin)
	fmt.Fprintf(file, "Average Loss: %s\n\n", r.results.AvgLoss)

	fmt.Fprintf(file, "RISK METRICS\n")
	fmt.Fprintf(file, "------------\n")
	fmt.Fprintf(file, "Max Drawdown: %s%%\n", r.results.MaxDrawdownPercent)
	fmt.Fprintf(file, "Sharpe Ratio: %.2f\n", r.results.SharpeRatio)

	symbolStats := r.calculateSymbolStats()
	if len(symbolStats) > 0 {
		fmt.Fprintf(file, "\nPERFORMANCE BY SYMBOL\n")
		fmt.Fprintf(file, "--------------------\n")
		for symbol, stats := range symbolStats {
			fmt.Fprintf(file, "%s: %d trades, %.2f%% win rate, %s net PnL\n",
				symbol, stats.Count, stats.WinRate*100, stats.NetPnl)
		}
	}

	log.Info().Str("file", summaryPath).Msg("backtest summary report generated")
	return nil
}

// generateTradeLog writes trade_log.csv with columns: entry_time,
// exit_time, strategy_id, symbol, side, entry_price, exit_price, quantity,
// pnl, fee, net_pnl, atr_pct, rsi, ema20, ema200, exit_reason.
func (r *Reporter) generateTradeLog() error {
	csvPath := filepath.Join(r.outputPath, "trade_log.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create trade log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"entry_time", "exit_time", "strategy_id", "symbol", "side",
		"entry_price", "exit_price", "quantity", "pnl", "fee", "net_pnl",
		"atr_pct", "rsi", "ema20", "ema200", "exit_reason",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, t := range r.results.Trades {
		record := []string{
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			t.StrategyId,
			t.Symbol.String(),
			string(t.Side),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Quantity.String(),
			t.GrossPnl.String(),
			t.Fee.String(),
			t.NetPnl.String(),
			t.Snapshot.AtrPercent.String(),
			t.Snapshot.Rsi.String(),
			t.Snapshot.Ema20.String(),
			t.Snapshot.Ema200.String(),
			t.ExitReason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", csvPath).Msg("trade log generated")
	return nil
}

// generateJSONReport generates backtest_results.json with the full summary
// and trade list.
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "backtest_results.json")

	report := map[string]interface{}{
		"summary": map[string]interface{}{
			"start_time":          r.results.Start,
			"end_time":            r.results.End,
			"initial_capital":     r.results.InitialCapital,
			"final_equity":        r.results.FinalEquity,
			"total_return_pct":    r.results.TotalReturnPercent,
			"annualized_return_pct": r.results.AnnualizedReturnPercent,
			"max_drawdown_pct":    r.results.MaxDrawdownPercent,
			"sharpe_ratio":        r.results.SharpeRatio,
			"total_trades":        r.results.TotalTrades,
			"winning_trades":      r.results.Wins,
			"losing_trades":       r.results.Losses,
			"win_rate_pct":        r.results.WinRatePercent,
			"profit_factor":       r.results.ProfitFactor,
			"avg_win":             r.results.AvgWin,
			"avg_loss":            r.results.AvgLoss,
		},
		"trades":       r.results.Trades,
		"equity_curve": r.results.EquityCurve,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// generateMetricsReport writes a per-equity-sample CSV for external
// charting/analysis.
func (r *Reporter) generateMetricsReport() error {
	metricsPath := filepath.Join(r.outputPath, "metrics_report.csv")
	file, err := os.Create(metricsPath)
	if err != nil {
		return fmt.Errorf("failed to create metrics report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"time", "equity"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, p := range r.results.EquityCurve {
		record := []string{p.Time.Format(time.RFC3339), p.Equity.String()}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", metricsPath).Msg("metrics report generated")
	return nil
}

// SymbolStats holds aggregate statistics for one symbol, used by the
// per-symbol breakdown in the text summary.
type SymbolStats struct {
	Count   int
	NetPnl  domain.Decimal
	WinRate float64

	wins int
}

// calculateSymbolStats aggregates trade counts, net PnL, and win rate by
// symbol for generateSummary's per-symbol breakdown.
func (r *Reporter) calculateSymbolStats() map[string]*SymbolStats {
	stats := make(map[string]*SymbolStats)
	for _, t := range r.results.Trades {
		key := t.Symbol.String()
		s, ok := stats[key]
		if !ok {
			s = &SymbolStats{}
			stats[key] = s
		}
		s.Count++
		s.NetPnl = s.NetPnl.Add(t.NetPnl)
		if t.IsWin() {
			s.wins++
		}
	}
	for _, s := range stats {
		if s.Count > 0 {
			s.WinRate = float64(s.wins) / float64(s.Count)
		}
	}
	return stats
}

// PrintSummary prints a one-shot console summary after a backtest run.
func (r *Reporter) PrintSummary() {
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Period: %s to %s\n", r.results.Start.Format("2006-01-02"), r.results.End.Format("2006-01-02"))
	fmt.Printf("Initial Capital: %s\n", r.results.InitialCapital)
	fmt.Printf("Final Equity: %s\n", r.results.FinalEquity)
	fmt.Printf("Total Return: %s%%\n", r.results.TotalReturnPercent)
	fmt.Printf("Total Trades: %d\n", r.results.TotalTrades)
	fmt.Printf("Win Rate: %s%%\n", r.results.WinRatePercent)
	fmt.Printf("Profit Factor: %.2f\n", r.results.ProfitFactor)
	fmt.Printf("Max Drawdown: %s%%\n", r.results.MaxDrawdownPercent)
	fmt.Printf("Sharpe Ratio: %.2f\n", r.results.SharpeRatio)
	fmt.Println("=======================")
}
