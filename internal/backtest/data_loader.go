package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
	"perpengine/internal/storage"
)

// DataLoader assembles the per-symbol domain.KLine series Engine.Run
// replays, sourced from either CSV files or the persisted candle store.
type DataLoader struct {
	series map[domain.Symbol][]domain.KLine
}

// NewDataLoader creates an empty DataLoader.
func NewDataLoader() *DataLoader {
	return &DataLoader{series: make(map[domain.Symbol][]domain.KLine)}
}

// LoadFromStore loads one symbol's candle history for interval between
// start and end from the bbolt-backed archival store.
func (dl *DataLoader) LoadFromStore(store *storage.Store, symbol domain.Symbol, interval domain.Interval, start, end time.Time) error {
	log.Info().Str("symbol", symbol.String()).Str("interval", string(interval)).
		Time("start", start).Time("end", end).Msg("loading backtest candles from storage")

	klines, err := store.GetKLines(symbol, interval, start, end)
	if err != nil {
		return fmt.Errorf("failed to load klines for %s: %w", symbol.String(), err)
	}
	dl.appendSorted(symbol, klines)

	log.Info().Str("symbol", symbol.String()).Int("candles", len(klines)).Msg("candles loaded from storage")
	return nil
}

// LoadFromCSV loads one symbol's candle series from a CSV file with columns
// open_time,open,high,low,close,volume,close_time (close_time optional —
// derived from open_time+interval when absent).
func (dl *DataLoader) LoadFromCSV(filePath string, symbol domain.Symbol, interval domain.Interval) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[col] = i
	}

	var klines []domain.KLine
	barDuration := time.Duration(interval.Minutes()) * time.Minute
	for {
		record, err := reader.Read()
		if err != nil {
			break // EOF or malformed trailing row
		}

		openTime, err := parseCSVTime(record[indices["open_time"]])
		if err != nil {
			continue
		}
		open, oerr := parsePrice(record[indices["open"]])
		high, herr := parsePrice(record[indices["high"]])
		low, lerr := parsePrice(record[indices["low"]])
		closePrice, cerr := parsePrice(record[indices["close"]])
		if oerr != nil || herr != nil || lerr != nil || cerr != nil {
			continue
		}
		volume := domain.Zero
		if idx, ok := indices["volume"]; ok {
			if v, err := parsePrice(record[idx]); err == nil {
				volume = v
			}
		}
		closeTime := openTime.Add(barDuration)
		if idx, ok := indices["close_time"]; ok {
			if t, err := parseCSVTime(record[idx]); err == nil {
				closeTime = t
			}
		}

		klines = append(klines, domain.KLine{
			Symbol: symbol, Interval: interval,
			OpenTime: openTime, CloseTime: closeTime,
			Open: open, High: high, Low: low, Close: closePrice, Volume: volume,
		})
	}

	dl.appendSorted(symbol, klines)
	log.Info().Str("file", filePath).Str("symbol", symbol.String()).Int("candles", len(klines)).
		Msg("candles loaded from CSV")
	return nil
}

func parseCSVTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func parsePrice(s string) (domain.Decimal, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Zero, err
	}
	return domain.FromFloatPrice(f), nil
}

func (dl *DataLoader) appendSorted(symbol domain.Symbol, klines []domain.KLine) {
	sort.Slice(klines, func(i, j int) bool { return klines[i].OpenTime.Before(klines[j].OpenTime) })
	dl.series[symbol] = append(dl.series[symbol], klines...)
}

// Series returns the accumulated per-symbol candle series, ready to hand to
// Engine.Run.
func (dl *DataLoader) Series() map[domain.Symbol][]domain.KLine {
	return dl.series
}
