package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	simerrors "portsim/pkg/errors"
)

// Frequency is a downsampling granularity.
type Frequency string

const (
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Annual    Frequency = "annual"
)

// ParseFrequency maps a config/CLI string onto a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	case Quarterly:
		return Quarterly, nil
	case Annual:
		return Annual, nil
	}
	return "", fmt.Errorf("%w: unknown downsample frequency %q", simerrors.ErrConfiguration, s)
}

// bucketStart maps a timestamp onto the calendar start of its bucket.
func bucketStart(t time.Time, freq Frequency) time.Time {
	t = t.UTC()
	switch freq {
	case Weekly:
		// ISO week, Monday start.
		back := (int(t.Weekday()) + 6) % 7
		d := t.AddDate(0, 0, -back)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Quarterly:
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case Annual:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Downsample re-aggregates the store at a coarser granularity: returns
// compound multiplicatively, volumes add, prices keep the first quote of each
// bucket. The new index labels are the first surviving original timestamps,
// so values at surviving boundary dates are unchanged. Buckets with no valid
// data stay NaN. Universe metadata is recomputed at the new granularity.
// Fails once the store is frozen.
func (s *Store) Downsample(freq Frequency) error {
	if s.flag.Load() {
		return fmt.Errorf("%w: cannot downsample a frozen store", simerrors.ErrImmutable)
	}
	if _, err := ParseFrequency(string(freq)); err != nil {
		return err
	}

	buckets := bucketRanges(s.returns.times, freq)

	var err error
	s.returns, err = aggregateFrame(s.returns, buckets, compoundReturns)
	if err != nil {
		return err
	}
	if s.volumes != nil {
		s.volumes, err = aggregateFrame(s.volumes, buckets, sumValid)
		if err != nil {
			return err
		}
	}
	if s.prices != nil {
		s.prices, err = aggregateFrame(s.prices, buckets, firstValid)
		if err != nil {
			return err
		}
	}

	s.returns.adopt(s.flag)
	s.volumes.adopt(s.flag)
	s.prices.adopt(s.flag)
	s.computeUniverseBreaks()
	return nil
}

// bucketRange marks a run of consecutive rows sharing one calendar bucket.
type bucketRange struct {
	start, end int // rows [start, end)
}

func bucketRanges(times []time.Time, freq Frequency) []bucketRange {
	var out []bucketRange
	i := 0
	for i < len(times) {
		key := bucketStart(times[i], freq)
		j := i + 1
		for j < len(times) && bucketStart(times[j], freq).Equal(key) {
			j++
		}
		out = append(out, bucketRange{start: i, end: j})
		i = j
	}
	return out
}

// aggregateFrame collapses each bucket to one row labelled with the bucket's
// first original timestamp.
func aggregateFrame(f *Frame, buckets []bucketRange, agg func(vals []float64) float64) (*Frame, error) {
	times := make([]time.Time, len(buckets))
	data := make([][]float64, len(buckets))
	vals := make([]float64, 0, 32)
	for bi, b := range buckets {
		times[bi] = f.times[b.start]
		row := make([]float64, len(f.cols))
		for j := range f.cols {
			vals = vals[:0]
			for i := b.start; i < b.end; i++ {
				vals = append(vals, f.data[i][j])
			}
			row[j] = agg(vals)
		}
		data[bi] = row
	}
	return NewFrame(times, f.cols, data)
}

// compoundReturns folds per-period returns into one bucket return,
// skipping NaNs; an all-NaN bucket stays NaN.
func compoundReturns(vals []float64) float64 {
	prod := 1.0
	seen := false
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		prod *= 1 + v
		seen = true
	}
	if !seen {
		return math.NaN()
	}
	return prod - 1
}

// sumValid adds the non-NaN values; an all-NaN bucket stays NaN.
func sumValid(vals []float64) float64 {
	sum := 0.0
	seen := false
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		seen = true
	}
	if !seen {
		return math.NaN()
	}
	return sum
}

// firstValid keeps the first non-NaN value; an all-NaN bucket stays NaN.
func firstValid(vals []float64) float64 {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return v
		}
	}
	return math.NaN()
}
