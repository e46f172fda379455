package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simerrors "portsim/pkg/errors"
)

// daysUTC builds n consecutive daily timestamps starting at start.
func daysUTC(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i).UTC()
	}
	return out
}

func mkFrame(t *testing.T, times []time.Time, cols []string, data [][]float64) *Frame {
	t.Helper()
	f, err := NewFrame(times, cols, data)
	require.NoError(t, err)
	return f
}

func TestNewFrame_Validation(t *testing.T) {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	times := daysUTC(start, 2)

	_, err := NewFrame(nil, []string{"A"}, nil)
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	_, err = NewFrame(times, nil, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	// Duplicate column
	_, err = NewFrame(times, []string{"A", "A"}, [][]float64{{1, 2}, {3, 4}})
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	// Ragged row
	_, err = NewFrame(times, []string{"A", "B"}, [][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	// Non-increasing index
	_, err = NewFrame([]time.Time{times[1], times[0]}, []string{"A"}, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	// Duplicate index entry
	_, err = NewFrame([]time.Time{times[0], times[0]}, []string{"A"}, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)
}

func TestFrame_Accessors(t *testing.T) {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	times := daysUTC(start, 4)
	f := mkFrame(t, times, []string{"A", "B"}, [][]float64{
		{1, 10},
		{2, 20},
		{3, math.NaN()},
		{4, 40},
	})

	assert.Equal(t, 4, f.Len())
	assert.Equal(t, []string{"A", "B"}, f.Columns())
	assert.Equal(t, times[3], f.LastTime())

	i, ok := f.IndexOf(times[2])
	require.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = f.IndexOf(start.AddDate(0, 0, 30))
	assert.False(t, ok)

	col, err := f.Col("A")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, col)
	_, err = f.Col("missing")
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)

	// Tail longer than the frame clamps to the full column
	assert.Equal(t, []float64{3, 4}, f.TailCol(0, 2))
	assert.Equal(t, []float64{1, 2, 3, 4}, f.TailCol(0, 10))

	assert.Equal(t, 3, f.CountValid(1))
}

func TestFrame_SetAndCopy(t *testing.T) {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	f := mkFrame(t, daysUTC(start, 2), []string{"A"}, [][]float64{{1}, {2}})

	require.NoError(t, f.Set(0, "A", 9))
	assert.Equal(t, 9.0, f.At(0, 0))

	assert.ErrorIs(t, f.Set(0, "missing", 1), simerrors.ErrConfiguration)
	assert.ErrorIs(t, f.Set(5, "A", 1), simerrors.ErrConfiguration)

	cp := f.Copy()
	require.NoError(t, cp.Set(0, "A", -1))
	assert.Equal(t, 9.0, f.At(0, 0), "copy writes must not reach the source")

	// Row returns a copy too
	row := f.Row(0)
	row[0] = 123
	assert.Equal(t, 9.0, f.At(0, 0))
}
