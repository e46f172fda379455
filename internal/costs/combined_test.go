package costs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simerrors "portsim/pkg/errors"
)

func TestCombined_Combine(t *testing.T) {
	// A risk-like term quadratic in w and a trade penalty linear in |z|.
	risk := TermFunc(func(w, z []float64, v float64) (float64, error) {
		total := 0.0
		for _, wi := range w {
			total += wi * wi
		}
		return total, nil
	})
	tradePenalty := TermFunc(func(w, z []float64, v float64) (float64, error) {
		total := 0.0
		for _, zi := range z {
			if zi < 0 {
				zi = -zi
			}
			total += zi
		}
		return total, nil
	})

	combined := NewCombined().Add(0.5, risk).Add(2.0, tradePenalty)
	require.Len(t, combined.Terms(), 2)

	w := []float64{0.6, 0.4}
	z := []float64{0.1, -0.1}

	// 0.5*(0.36+0.16) + 2.0*(0.1+0.1) = 0.26 + 0.4 = 0.66
	got, err := combined.Combine(w, z, 1e6)
	require.NoError(t, err)
	assert.InDelta(t, 0.66, got, 1e-12)
}

func TestCombined_TermErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	failing := TermFunc(func(w, z []float64, v float64) (float64, error) {
		return 0, boom
	})

	_, err := NewCombined(Weighted{Multiplier: 1, Term: failing}).Combine(nil, nil, 0)
	assert.ErrorIs(t, err, boom)

	_, err = NewCombined(Weighted{Multiplier: 1, Term: nil}).Combine(nil, nil, 0)
	assert.ErrorIs(t, err, simerrors.ErrConfiguration)
}
