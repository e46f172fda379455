// Package policy defines the trading policy contract and reference policies
package policy

import (
	"time"

	"portsim/internal/market"
)

// Policy decides the dollar trade vector for one period from causal data
// only. Implementations must never reach past the served policy view; the
// simulator enforces causality by construction of that view.
//
// Stateful policies belong to exactly one backtest at a time: the
// orchestrator never copies them, so sharing one instance across parallel
// units is a caller error.
type Policy interface {
	// Name identifies the policy in results, logs and persisted runs.
	Name() string
	// Trades returns the dollar trade vector (cash last, same length as h)
	// for the period in data, given current holdings h (dollars, cash last).
	Trades(data *market.PolicyData, h []float64) ([]float64, error)
}

// Initializer is the optional setup hook a policy may implement. The
// orchestrator calls it once before the first step with the causal view at
// the first simulated timestamp and the full simulation calendar.
type Initializer interface {
	Initialize(data *market.PolicyData, times []time.Time) error
}

// portfolioValue sums holdings including cash.
func portfolioValue(h []float64) float64 {
	v := 0.0
	for _, x := range h {
		v += x
	}
	return v
}

// rebalanceTo converts non-cash target weights into a self-financing dollar
// trade vector against current holdings; cash absorbs the remainder.
func rebalanceTo(weights, h []float64) []float64 {
	v := portfolioValue(h)
	u := make([]float64, len(h))
	sum := 0.0
	for i := 0; i < len(h)-1; i++ {
		u[i] = weights[i]*v - h[i]
		sum += u[i]
	}
	u[len(h)-1] = -sum
	return u
}
