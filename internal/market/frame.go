// Package market provides the aligned market dataset and its causal serving views
package market

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	simerrors "portsim/pkg/errors"
)

// Frame is a time-indexed numeric table: one row per timestamp, one column
// per named series. NaN marks missing data. A Frame belonging to a frozen
// Store rejects writes, including through served window views.
type Frame struct {
	times  []time.Time
	cols   []string
	colPos map[string]int
	data   [][]float64

	// Shared with the owning store and every view sliced from this frame.
	frozen *atomic.Bool
}

// NewFrame validates and copies the given index, columns and row data.
// The index must be strictly increasing with no duplicates; every row must
// have one value per column.
func NewFrame(times []time.Time, cols []string, data [][]float64) (*Frame, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: frame index is empty", simerrors.ErrConfiguration)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: frame has no columns", simerrors.ErrConfiguration)
	}
	if len(data) != len(times) {
		return nil, fmt.Errorf("%w: frame has %d rows for %d timestamps", simerrors.ErrConfiguration, len(data), len(times))
	}

	colPos := make(map[string]int, len(cols))
	for i, c := range cols {
		if c == "" {
			return nil, fmt.Errorf("%w: empty column name at position %d", simerrors.ErrConfiguration, i)
		}
		if _, dup := colPos[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", simerrors.ErrConfiguration, c)
		}
		colPos[c] = i
	}

	f := &Frame{
		times:  make([]time.Time, len(times)),
		cols:   append([]string(nil), cols...),
		colPos: colPos,
		data:   make([][]float64, len(data)),
		frozen: new(atomic.Bool),
	}
	for i, t := range times {
		f.times[i] = t.UTC()
		if i > 0 && !f.times[i-1].Before(f.times[i]) {
			return nil, fmt.Errorf("%w: frame index not strictly increasing at row %d (%s)", simerrors.ErrConfiguration, i, f.times[i])
		}
	}
	for i, row := range data {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", simerrors.ErrConfiguration, i, len(row), len(cols))
		}
		f.data[i] = append([]float64(nil), row...)
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.times)
}

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.cols...)
}

// Times returns a copy of the time index.
func (f *Frame) Times() []time.Time {
	return append([]time.Time(nil), f.times...)
}

// TimeAt returns the timestamp of row i.
func (f *Frame) TimeAt(i int) time.Time { return f.times[i] }

// LastTime returns the final index entry, or the zero time for an empty frame.
func (f *Frame) LastTime() time.Time {
	if len(f.times) == 0 {
		return time.Time{}
	}
	return f.times[len(f.times)-1]
}

// IndexOf locates t in the index by binary search.
func (f *Frame) IndexOf(t time.Time) (int, bool) {
	t = t.UTC()
	i := sort.Search(len(f.times), func(i int) bool { return !f.times[i].Before(t) })
	if i < len(f.times) && f.times[i].Equal(t) {
		return i, true
	}
	return 0, false
}

// ColIndex returns the position of a named column.
func (f *Frame) ColIndex(name string) (int, bool) {
	j, ok := f.colPos[name]
	return j, ok
}

// At returns the value at row i, column j.
func (f *Frame) At(i, j int) float64 { return f.data[i][j] }

// Row returns a copy of row i.
func (f *Frame) Row(i int) []float64 {
	return append([]float64(nil), f.data[i]...)
}

// Col returns a copy of the named column, NaN-padded as stored.
func (f *Frame) Col(name string) ([]float64, error) {
	j, ok := f.colPos[name]
	if !ok {
		return nil, fmt.Errorf("%w: no column %q", simerrors.ErrConfiguration, name)
	}
	out := make([]float64, len(f.data))
	for i := range f.data {
		out[i] = f.data[i][j]
	}
	return out, nil
}

// TailCol returns a copy of at most the last n values of column j.
func (f *Frame) TailCol(j, n int) []float64 {
	start := len(f.data) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, len(f.data)-start)
	for i := start; i < len(f.data); i++ {
		out[i-start] = f.data[i][j]
	}
	return out
}

// Set writes a single cell. It fails with an immutability violation once the
// owning store is frozen, whether called on the frame itself or on any window
// view served from it.
func (f *Frame) Set(row int, column string, value float64) error {
	if f.frozen.Load() {
		return fmt.Errorf("%w: frame is read-only", simerrors.ErrImmutable)
	}
	j, ok := f.colPos[column]
	if !ok {
		return fmt.Errorf("%w: no column %q", simerrors.ErrConfiguration, column)
	}
	if row < 0 || row >= len(f.data) {
		return fmt.Errorf("%w: row %d out of range [0,%d)", simerrors.ErrConfiguration, row, len(f.data))
	}
	f.data[row][j] = value
	return nil
}

// Copy returns a deep copy with fresh, unfrozen backing arrays.
func (f *Frame) Copy() *Frame {
	if f == nil {
		return nil
	}
	cp := &Frame{
		times:  append([]time.Time(nil), f.times...),
		cols:   append([]string(nil), f.cols...),
		colPos: make(map[string]int, len(f.colPos)),
		data:   make([][]float64, len(f.data)),
		frozen: new(atomic.Bool),
	}
	for k, v := range f.colPos {
		cp.colPos[k] = v
	}
	for i, row := range f.data {
		cp.data[i] = append([]float64(nil), row...)
	}
	return cp
}

// window returns a view over rows [0, end) sharing backing arrays and the
// frozen flag. end == 0 yields an empty view.
func (f *Frame) window(end int) *Frame {
	return &Frame{
		times:  f.times[:end],
		cols:   f.cols,
		colPos: f.colPos,
		data:   f.data[:end],
		frozen: f.frozen,
	}
}

// adopt rebinds the frame onto a shared frozen flag. Store construction uses
// it so all tables and their views freeze together.
func (f *Frame) adopt(flag *atomic.Bool) {
	if f != nil {
		f.frozen = flag
	}
}

// CountValid returns the number of non-NaN values in column j.
func (f *Frame) CountValid(j int) int {
	n := 0
	for i := range f.data {
		if !math.IsNaN(f.data[i][j]) {
			n++
		}
	}
	return n
}
