package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simerrors "portsim/pkg/errors"
)

// newWeeklyFixture builds 21 calendar days starting Monday 2023-01-02.
// Asset A is valid throughout; asset B has no data in the first week.
func newWeeklyFixture(t *testing.T) *Store {
	t.Helper()
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	times := daysUTC(start, 21)
	nan := math.NaN()

	rets := make([][]float64, 21)
	vols := make([][]float64, 21)
	prices := make([][]float64, 21)
	for i := 0; i < 21; i++ {
		bRet, bVol, bPrice := 0.02, 200.0, 50+float64(i)
		if i < 7 {
			bRet, bVol, bPrice = nan, nan, nan
		}
		rets[i] = []float64{0.01, bRet, 0.0001}
		vols[i] = []float64{100, bVol}
		prices[i] = []float64{10 + float64(i), bPrice}
	}
	r := mkFrame(t, times, []string{"A", "B", "cash"}, rets)
	v := mkFrame(t, times, []string{"A", "B"}, vols)
	p := mkFrame(t, times, []string{"A", "B"}, prices)
	s, err := NewStore(r, v, p, StoreOptions{MinHistory: 1})
	require.NoError(t, err)
	return s
}

func TestStore_DownsampleWeekly(t *testing.T) {
	s := newWeeklyFixture(t)
	// Price at the second Monday before downsampling, for the boundary check.
	mon2 := time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)
	i, ok := s.Returns().IndexOf(mon2)
	require.True(t, ok)
	priceBefore := s.Prices().At(i, 0)

	require.NoError(t, s.Downsample(Weekly))

	// 1. Labels are the first surviving timestamps of each week: the Mondays.
	times := s.Times()
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), times[0])
	assert.Equal(t, mon2, times[1])
	assert.Equal(t, time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC), times[2])

	r := s.Returns()
	// 2. Returns compound multiplicatively: 7 days of 1% -> 1.01^7 - 1.
	assert.InDelta(t, math.Pow(1.01, 7)-1, r.At(0, 0), 1e-12)
	assert.InDelta(t, math.Pow(1.0001, 7)-1, r.At(0, 2), 1e-12)
	// B's first week has no data at all, so the bucket stays NaN.
	assert.True(t, math.IsNaN(r.At(0, 1)))
	assert.InDelta(t, math.Pow(1.02, 7)-1, r.At(1, 1), 1e-12)

	// 3. Volumes add within the bucket.
	v := s.Volumes()
	assert.InDelta(t, 700, v.At(0, 0), 1e-12)
	assert.True(t, math.IsNaN(v.At(0, 1)))
	assert.InDelta(t, 1400, v.At(1, 1), 1e-12)

	// 4. Prices keep the first quote of each bucket, so values at surviving
	// boundary dates are unchanged.
	p := s.Prices()
	assert.Equal(t, priceBefore, p.At(1, 0))
	assert.Equal(t, 10.0, p.At(0, 0))
	assert.True(t, math.IsNaN(p.At(0, 1)))
	assert.Equal(t, 57.0, p.At(1, 1))

	// 5. Universe metadata is recomputed at the new granularity.
	breaks := s.BreakTimestamps()
	require.Len(t, breaks, 2)
	assert.Equal(t, times[1], breaks[0]) // A: second valid bucket
	assert.Equal(t, times[2], breaks[1]) // B: second valid bucket
}

func TestStore_DownsampleMonthly(t *testing.T) {
	// Sparse index: a few days in January and February.
	times := []time.Time{
		time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	r := mkFrame(t, times, []string{"A", "cash"}, [][]float64{
		{0.10, 0.001},
		{0.20, 0.001},
		{-0.05, 0.001},
		{0.08, 0.001},
	})
	s, err := NewStore(r, nil, nil, StoreOptions{MinHistory: 1})
	require.NoError(t, err)
	require.NoError(t, s.Downsample(Monthly))

	got := s.Times()
	require.Len(t, got, 2)
	assert.Equal(t, times[0], got[0])
	assert.Equal(t, times[2], got[1])

	// January: (1.10)(1.20) - 1; February: (0.95)(1.08) - 1.
	assert.InDelta(t, 1.10*1.20-1, s.Returns().At(0, 0), 1e-12)
	assert.InDelta(t, 0.95*1.08-1, s.Returns().At(1, 0), 1e-12)
}

func TestStore_DownsampleFrozen(t *testing.T) {
	s := newWeeklyFixture(t)
	s.Freeze()
	assert.ErrorIs(t, s.Downsample(Weekly), simerrors.ErrImmutable)
}

func TestParseFrequency(t *testing.T) {
	for _, valid := range []string{"weekly", "Monthly", " QUARTERLY ", "annual"} {
		_, err := ParseFrequency(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseFrequency("daily-ish")
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)
}
