// Package dataset builds market stores from the on-disk bar cache
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Bar is one symbol-day of market data.
type Bar struct {
	Time     time.Time
	Return   float64 // open-to-close return for the day
	Volume   float64 // traded dollar volume
	Price    float64 // period-start price
	Dividend float64 // dividend rate paid, fraction of position value
}

// barRecord is the parquet schema for cached bars.
type barRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Return    float64 `parquet:"return"`
	Volume    float64 `parquet:"volume"`
	Price     float64 `parquet:"price"`
	Dividend  float64 `parquet:"dividend"`
}

// Cache stores per-symbol daily bars as one parquet file per symbol under a
// directory: <dir>/<SYMBOL>.parquet. Writes merge with existing rows and
// de-duplicate by timestamp, preferring incoming rows.
type Cache struct {
	Dir string
}

// NewCache roots a cache at dir.
func NewCache(dir string) *Cache {
	return &Cache{Dir: dir}
}

func (c *Cache) path(symbol string) string {
	return filepath.Join(c.Dir, strings.ToUpper(symbol)+".parquet")
}

// Has reports whether the cache holds any bars for symbol.
func (c *Cache) Has(symbol string) bool {
	_, err := os.Stat(c.path(symbol))
	return err == nil
}

// WriteBars merges bars into the symbol's parquet file, sorted and
// de-duplicated by timestamp.
func (c *Cache) WriteBars(symbol string, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	path := c.path(symbol)

	existing, _ := parquet.ReadFile[barRecord](path)

	seen := make(map[int64]barRecord, len(existing)+len(bars))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, b := range bars {
		ts := b.Time.UTC().UnixMilli()
		seen[ts] = barRecord{
			Timestamp: ts,
			Return:    b.Return,
			Volume:    b.Volume,
			Price:     b.Price,
			Dividend:  b.Dividend,
		}
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, merged); err != nil {
		return fmt.Errorf("writing bars for %s: %w", symbol, err)
	}
	return nil
}

// ReadBars streams the symbol's bars back in timestamp order.
func (c *Cache) ReadBars(symbol string) ([]Bar, error) {
	records, err := parquet.ReadFile[barRecord](c.path(symbol))
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	bars := make([]Bar, len(records))
	for i, r := range records {
		bars[i] = Bar{
			Time:     time.UnixMilli(r.Timestamp).UTC(),
			Return:   r.Return,
			Volume:   r.Volume,
			Price:    r.Price,
			Dividend: r.Dividend,
		}
	}
	return bars, nil
}
