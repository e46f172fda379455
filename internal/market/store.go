package market

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	simerrors "portsim/pkg/errors"
)

// Defaults for store construction.
const (
	DefaultCashKey    = "cash"
	DefaultMinHistory = 252
)

// StoreOptions tunes store construction. Zero values fall back to defaults.
type StoreOptions struct {
	// CashKey names the cash column, which must be the last returns column.
	CashKey string
	// MinHistory is the number of valid past returns an asset needs before it
	// joins the tradable universe.
	MinHistory int
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.CashKey == "" {
		o.CashKey = DefaultCashKey
	}
	if o.MinHistory <= 0 {
		o.MinHistory = DefaultMinHistory
	}
	return o
}

// Store holds the aligned returns/volumes/prices tables for one backtest
// dataset, plus the universe metadata derived from them. After Freeze it is
// immutable; every parallel backtest works against its own deep copy.
type Store struct {
	returns *Frame
	volumes *Frame // nil when not supplied
	prices  *Frame // nil when not supplied

	cashKey    string
	minHistory int

	universe   []string // non-cash assets in column order, cash key last
	breakTimes []time.Time
	limited    map[time.Time][]string

	flag *atomic.Bool
}

// NewStore validates column and index alignment and assembles the dataset.
// returns must carry the cash column last; volumes and prices, when present,
// must carry exactly the non-cash returns columns in the same order and share
// the returns index. Any mismatch is a configuration error, never a silent
// reindex.
func NewStore(returns, volumes, prices *Frame, opts StoreOptions) (*Store, error) {
	opts = opts.withDefaults()

	if returns == nil || returns.Len() == 0 {
		return nil, fmt.Errorf("%w: returns table is required", simerrors.ErrConfiguration)
	}
	cols := returns.Columns()
	if cols[len(cols)-1] != opts.CashKey {
		return nil, fmt.Errorf("%w: returns must have cash column %q last, got %q", simerrors.ErrConfiguration, opts.CashKey, cols[len(cols)-1])
	}
	assets := cols[:len(cols)-1]
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: universe is empty", simerrors.ErrConfiguration)
	}

	if err := checkAligned("volumes", volumes, returns, assets); err != nil {
		return nil, err
	}
	if err := checkAligned("prices", prices, returns, assets); err != nil {
		return nil, err
	}

	s := &Store{
		returns:    returns,
		volumes:    volumes,
		prices:     prices,
		cashKey:    opts.CashKey,
		minHistory: opts.MinHistory,
		universe:   append(append([]string(nil), assets...), opts.CashKey),
		flag:       new(atomic.Bool),
	}
	s.returns.adopt(s.flag)
	s.volumes.adopt(s.flag)
	s.prices.adopt(s.flag)
	s.computeUniverseBreaks()
	return s, nil
}

// checkAligned verifies a side table matches the returns index and the
// non-cash column set in order.
func checkAligned(name string, f, returns *Frame, assets []string) error {
	if f == nil {
		return nil
	}
	got := f.Columns()
	if len(got) != len(assets) {
		return fmt.Errorf("%w: %s has %d columns, want %d (returns columns without cash)", simerrors.ErrConfiguration, name, len(got), len(assets))
	}
	for i := range assets {
		if got[i] != assets[i] {
			return fmt.Errorf("%w: %s column %d is %q, want %q (set and order must match returns)", simerrors.ErrConfiguration, name, i, got[i], assets[i])
		}
	}
	if f.Len() != returns.Len() {
		return fmt.Errorf("%w: %s has %d rows, returns has %d", simerrors.ErrConfiguration, name, f.Len(), returns.Len())
	}
	for i := 0; i < f.Len(); i++ {
		if !f.TimeAt(i).Equal(returns.TimeAt(i)) {
			return fmt.Errorf("%w: %s index differs from returns at row %d", simerrors.ErrConfiguration, name, i)
		}
	}
	return nil
}

// computeUniverseBreaks derives break timestamps and per-break valid
// universes. An asset enters the universe at the timestamp of its
// (minHistory+1)-th valid return, i.e. the first period with minHistory valid
// observations strictly before it.
func (s *Store) computeUniverseBreaks() {
	entry := make(map[time.Time][]string)
	for j, asset := range s.universe[:len(s.universe)-1] {
		valid := 0
		for i := 0; i < s.returns.Len(); i++ {
			if math.IsNaN(s.returns.At(i, j)) {
				continue
			}
			if valid == s.minHistory {
				ts := s.returns.TimeAt(i)
				entry[ts] = append(entry[ts], asset)
				break
			}
			valid++
		}
	}

	s.breakTimes = make([]time.Time, 0, len(entry))
	for ts := range entry {
		s.breakTimes = append(s.breakTimes, ts)
	}
	sort.Slice(s.breakTimes, func(i, j int) bool { return s.breakTimes[i].Before(s.breakTimes[j]) })

	s.limited = make(map[time.Time][]string, len(s.breakTimes))
	in := make(map[string]bool, len(s.universe))
	for _, ts := range s.breakTimes {
		for _, a := range entry[ts] {
			in[a] = true
		}
		uni := make([]string, 0, len(in))
		for _, a := range s.universe[:len(s.universe)-1] {
			if in[a] {
				uni = append(uni, a)
			}
		}
		s.limited[ts] = uni
	}
}

// Universe returns the asset identifiers in column order with cash last.
func (s *Store) Universe() []string {
	return append([]string(nil), s.universe...)
}

// Assets returns the non-cash universe entries.
func (s *Store) Assets() []string {
	return append([]string(nil), s.universe[:len(s.universe)-1]...)
}

// CashKey returns the cash column name.
func (s *Store) CashKey() string { return s.cashKey }

// MinHistory returns the universe-entry threshold.
func (s *Store) MinHistory() int { return s.minHistory }

// HasVolumes reports whether a volumes table was supplied.
func (s *Store) HasVolumes() bool { return s.volumes != nil }

// HasPrices reports whether a prices table was supplied.
func (s *Store) HasPrices() bool { return s.prices != nil }

// Len returns the number of index entries.
func (s *Store) Len() int { return s.returns.Len() }

// Times returns a copy of the shared time index.
func (s *Store) Times() []time.Time { return s.returns.Times() }

// TimesWithin returns the index entries inside [start, end], inclusive.
func (s *Store) TimesWithin(start, end time.Time) []time.Time {
	var out []time.Time
	for i := 0; i < s.returns.Len(); i++ {
		t := s.returns.TimeAt(i)
		if t.Before(start) {
			continue
		}
		if t.After(end) {
			break
		}
		out = append(out, t)
	}
	return out
}

// Returns exposes the returns table: a deep copy while the store is mutable,
// the write-guarded table itself once frozen.
func (s *Store) Returns() *Frame { return s.expose(s.returns) }

// Volumes exposes the volumes table, nil when absent.
func (s *Store) Volumes() *Frame { return s.expose(s.volumes) }

// Prices exposes the prices table, nil when absent.
func (s *Store) Prices() *Frame { return s.expose(s.prices) }

func (s *Store) expose(f *Frame) *Frame {
	if f == nil {
		return nil
	}
	if s.flag.Load() {
		return f
	}
	return f.Copy()
}

// BreakTimestamps returns the timestamps at which the valid universe changes.
func (s *Store) BreakTimestamps() []time.Time {
	return append([]time.Time(nil), s.breakTimes...)
}

// LimitedUniverses maps each break timestamp to the non-cash assets valid
// from that timestamp on.
func (s *Store) LimitedUniverses() map[time.Time][]string {
	out := make(map[time.Time][]string, len(s.limited))
	for ts, uni := range s.limited {
		out[ts] = append([]string(nil), uni...)
	}
	return out
}

// UniverseAt returns the non-cash assets valid at t: the cumulative universe
// of the latest break timestamp not after t.
func (s *Store) UniverseAt(t time.Time) []string {
	t = t.UTC()
	var current []string
	for _, ts := range s.breakTimes {
		if ts.After(t) {
			break
		}
		current = s.limited[ts]
	}
	return append([]string(nil), current...)
}

// Freeze flips the store into its read-only lifecycle state. Idempotent.
// Every table and every window view served afterwards rejects writes.
func (s *Store) Freeze() { s.flag.Store(true) }

// ReadOnly reports whether Freeze has been called.
func (s *Store) ReadOnly() bool { return s.flag.Load() }

// DeepCopy returns an unfrozen store with fresh backing arrays. Parallel
// backtests take one copy each before freezing, so worker-local freezing
// never interacts across units.
func (s *Store) DeepCopy() *Store {
	cp := &Store{
		returns:    s.returns.Copy(),
		volumes:    s.volumes.Copy(),
		prices:     s.prices.Copy(),
		cashKey:    s.cashKey,
		minHistory: s.minHistory,
		universe:   append([]string(nil), s.universe...),
		breakTimes: append([]time.Time(nil), s.breakTimes...),
		limited:    make(map[time.Time][]string, len(s.limited)),
		flag:       new(atomic.Bool),
	}
	for ts, uni := range s.limited {
		cp.limited[ts] = append([]string(nil), uni...)
	}
	cp.returns.adopt(cp.flag)
	cp.volumes.adopt(cp.flag)
	cp.prices.adopt(cp.flag)
	return cp
}
