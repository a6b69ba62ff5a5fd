// Package storage provides persistent data storage for perpengine. Store is
// a BoltDB-backed archive of historical K-lines and closed trades — the
// feed internal/backtest.DataLoader replays and longer-horizon analysis
// would draw on. OrderStore (orderstore.go) covers the separate per-order
// JSON persistence contract.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"perpengine/internal/domain"
)

const (
	klinesBucket = "klines" // bucket for historical OHLCV candles
	tradesBucket = "trades" // bucket for closed trades
)

// Store provides persistent storage for historical candles and closed
// trades using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New creates a new storage instance with the specified data path. It
// initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "perpengine-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(klinesBucket)); err != nil {
			return fmt.Errorf("create klines bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(tradesBucket)); err != nil {
			return fmt.Errorf("create trades bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreKLine archives a closed candle, keyed "symbol_interval_openTimeNano"
// for efficient time-range scans per symbol+interval.
func (s *Store) StoreKLine(k domain.KLine) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(klinesBucket))
		data, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("marshal kline: %w", err)
		}
		key := klineKey(k.Symbol.PairString(), string(k.Interval), k.OpenTime)
		return b.Put(key, data)
	})
}

// StoreClosedTrade archives a finished trade, keyed "symbol_exitTimeNano".
func (s *Store) StoreClosedTrade(t domain.ClosedTrade) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tradesBucket))
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal closed trade: %w", err)
		}
		key := tradeKey(t.Symbol.PairString(), t.ExitTime)
		return b.Put(key, data)
	})
}

// GetKLines retrieves symbol's archived candles for interval within
// [start, end], ordered by OpenTime ascending.
func (s *Store) GetKLines(symbol domain.Symbol, interval domain.Interval, start, end time.Time) ([]domain.KLine, error) {
	prefix := []byte(symbol.PairString() + "_" + string(interval) + "_")
	startKey := klineKey(symbol.PairString(), string(interval), start)
	endKey := klineKey(symbol.PairString(), string(interval), end)

	var out []domain.KLine
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(klinesBucket)).Cursor()
		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var kline domain.KLine
			if err := json.Unmarshal(v, &kline); err != nil {
				continue // skip malformed records
			}
			out = append(out, kline)
		}
		return nil
	})
	return out, err
}

// GetClosedTrades retrieves symbol's archived closed trades within
// [start, end] by exit time, ordered ascending.
func (s *Store) GetClosedTrades(symbol domain.Symbol, start, end time.Time) ([]domain.ClosedTrade, error) {
	prefix := []byte(symbol.PairString() + "_")
	startKey := tradeKey(symbol.PairString(), start)
	endKey := tradeKey(symbol.PairString(), end)

	var out []domain.ClosedTrade
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(tradesBucket)).Cursor()
		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var trade domain.ClosedTrade
			if err := json.Unmarshal(v, &trade); err != nil {
				continue
			}
			out = append(out, trade)
		}
		return nil
	})
	return out, err
}

func klineKey(pair, interval string, t time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%s_%020d", pair, interval, t.UnixNano()))
}

func tradeKey(pair string, t time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d", pair, t.UnixNano()))
}
