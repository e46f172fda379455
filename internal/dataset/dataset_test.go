package dataset

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simerrors "portsim/pkg/errors"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func TestCache_WriteReadRoundTrip(t *testing.T) {
	cache := NewCache(t.TempDir())

	bars := []Bar{
		{Time: day(0), Return: 0.01, Volume: 1e6, Price: 100, Dividend: 0},
		{Time: day(1), Return: -0.02, Volume: 2e6, Price: 101, Dividend: 0.001},
		{Time: day(2), Return: math.NaN(), Volume: 0, Price: 99},
	}
	require.NoError(t, cache.WriteBars("aapl", bars))
	assert.True(t, cache.Has("AAPL"))

	got, err := cache.ReadBars("AAPL")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, day(0), got[0].Time)
	assert.InDelta(t, -0.02, got[1].Return, 1e-12)
	assert.InDelta(t, 0.001, got[1].Dividend, 1e-12)
	// NaN cells survive the round trip.
	assert.True(t, math.IsNaN(got[2].Return))
}

func TestCache_MergeDeduplicates(t *testing.T) {
	cache := NewCache(t.TempDir())

	require.NoError(t, cache.WriteBars("MSFT", []Bar{
		{Time: day(0), Return: 0.01, Price: 100},
		{Time: day(1), Return: 0.02, Price: 101},
	}))
	// Overlapping re-write: day(1) is replaced, day(2) appended.
	require.NoError(t, cache.WriteBars("MSFT", []Bar{
		{Time: day(1), Return: 0.05, Price: 200},
		{Time: day(2), Return: 0.03, Price: 201},
	}))

	got, err := cache.ReadBars("MSFT")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []time.Time{day(0), day(1), day(2)}, []time.Time{got[0].Time, got[1].Time, got[2].Time})
	assert.InDelta(t, 0.05, got[1].Return, 1e-12)
	assert.InDelta(t, 200.0, got[1].Price, 1e-12)
}

func TestCache_ReadMissingSymbol(t *testing.T) {
	cache := NewCache(t.TempDir())
	_, err := cache.ReadBars("NOPE")
	assert.Error(t, err)
}

func TestLoader_BuildAlignedStore(t *testing.T) {
	cache := NewCache(t.TempDir())

	// A trades all three days, B misses the middle one.
	require.NoError(t, cache.WriteBars("A", []Bar{
		{Time: day(0), Return: 0.01, Volume: 1e6, Price: 10},
		{Time: day(1), Return: 0.02, Volume: 1e6, Price: 10.1},
		{Time: day(2), Return: -0.01, Volume: 1e6, Price: 10.3},
	}))
	require.NoError(t, cache.WriteBars("B", []Bar{
		{Time: day(0), Return: 0.005, Volume: 2e6, Price: 20},
		{Time: day(2), Return: 0.007, Volume: 2e6, Price: 20.2},
	}))

	loader := &Loader{Cache: cache, MinHistory: 1, CashAnnualRate: 0.04}
	store, err := loader.Build(context.Background(), []string{"A", "B"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "cash"}, store.Universe())
	assert.Equal(t, 3, store.Len())

	returns := store.Returns()
	// B's missing day is NaN, not silently filled.
	assert.True(t, math.IsNaN(returns.At(1, 1)))
	assert.InDelta(t, 0.02, returns.At(1, 0), 1e-12)

	// Cash return column is the de-annualized constant rate.
	wantCash := math.Pow(1.04, 1.0/252) - 1
	assert.InDelta(t, wantCash, returns.At(0, 2), 1e-15)

	// Dividend lookup is aligned with the calendar.
	div := loader.Dividends()
	require.NotNil(t, div)
	assert.Equal(t, []float64{0, 0}, div(day(1)))
	assert.Nil(t, div(day(9)))
}

func TestLoader_EmptySymbols(t *testing.T) {
	loader := &Loader{Cache: NewCache(t.TempDir())}
	_, err := loader.Build(context.Background(), nil)
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)
}

func TestWriteSampleBars_Deterministic(t *testing.T) {
	c1 := NewCache(t.TempDir())
	c2 := NewCache(t.TempDir())
	require.NoError(t, WriteSampleBars(c1, []string{"X"}, 10, 42))
	require.NoError(t, WriteSampleBars(c2, []string{"X"}, 10, 42))

	b1, err := c1.ReadBars("X")
	require.NoError(t, err)
	b2, err := c2.ReadBars("X")
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Len(t, b1, 10)

	// Weekdays only.
	for _, b := range b1 {
		assert.NotEqual(t, time.Saturday, b.Time.Weekday())
		assert.NotEqual(t, time.Sunday, b.Time.Weekday())
	}
}
