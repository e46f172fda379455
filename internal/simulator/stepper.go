// Package simulator advances portfolios through time and orchestrates backtests
package simulator

import (
	"fmt"
	"math"
	"time"

	"portsim/internal/costs"
	"portsim/internal/market"
	"portsim/internal/policy"
	"portsim/internal/result"
	simerrors "portsim/pkg/errors"
)

// State is the stepper lifecycle state.
type State int

const (
	// AwaitingStep means the stepper is ready for the next period.
	AwaitingStep State = iota
	// Stepping means a step is in flight.
	Stepping
	// Done means the backtest completed normally.
	Done
	// Errored means a step failed; the stepper refuses further steps.
	Errored
)

// Options configures how the stepper prices and settles each period. A nil
// cost section disables that cost.
type Options struct {
	// RoundTrades rounds proposed trades to whole shares. Requires prices.
	RoundTrades bool
	Transaction *costs.TransactionOptions
	Holding     *costs.HoldingOptions
	Cash        *costs.CashOptions
	// Dividends returns the per-asset dividend rates paid at t, nil for none.
	Dividends func(t time.Time) []float64
}

// DefaultOptions enables whole-share rounding and the full cost model.
func DefaultOptions() Options {
	tx := costs.DefaultTransactionOptions()
	hc := costs.DefaultHoldingOptions()
	cc := costs.DefaultCashOptions()
	return Options{
		RoundTrades: true,
		Transaction: &tx,
		Holding:     &hc,
		Cash:        &cc,
	}
}

// Stepper advances one backtest's holdings period by period against a single
// store. It belongs to exactly one backtest; the orchestrator creates a fresh
// one per unit.
type Stepper struct {
	store *market.Store
	opts  Options

	state State
	err   error
}

// NewStepper builds a stepper over the given store.
func NewStepper(store *market.Store, opts Options) *Stepper {
	return &Stepper{store: store, opts: opts}
}

// State returns the lifecycle state.
func (s *Stepper) State() State { return s.state }

// Err returns the error that moved the stepper into Errored, if any.
func (s *Stepper) Err() error { return s.err }

// Finish marks a normally-completed backtest.
func (s *Stepper) Finish() {
	if s.state == AwaitingStep {
		s.state = Done
	}
}

// Step simulates one period at t: asks the policy for a trade from the causal
// view, rounds it, prices costs against the simulator view and rolls holdings
// forward. Any failure is fatal to the backtest; the stepper stays Errored.
func (s *Stepper) Step(t time.Time, h []float64, pol policy.Policy) (result.Step, error) {
	switch s.state {
	case Errored:
		return result.Step{}, fmt.Errorf("stepper already failed: %w", s.err)
	case Done:
		return result.Step{}, fmt.Errorf("%w: stepper is done", simerrors.ErrConfiguration)
	}
	s.state = Stepping

	out, err := s.step(t, h, pol)
	if err != nil {
		s.state = Errored
		s.err = err
		return result.Step{}, err
	}
	s.state = AwaitingStep
	return out, nil
}

func (s *Stepper) step(t time.Time, h []float64, pol policy.Policy) (result.Step, error) {
	uni := s.store.Universe()
	if len(h) != len(uni) {
		return result.Step{}, fmt.Errorf("%w: %d holdings for %d universe entries", simerrors.ErrConfiguration, len(h), len(uni))
	}

	// 1. Causal view and the policy's decision.
	pd, err := s.store.ServePolicy(t)
	if err != nil {
		return result.Step{}, err
	}
	policyStart := time.Now()
	u, err := pol.Trades(pd, append([]float64(nil), h...))
	policyDur := time.Since(policyStart)
	if err != nil {
		return result.Step{}, fmt.Errorf("policy %q at %s: %w", pol.Name(), t.UTC().Format(time.RFC3339), err)
	}
	if len(u) != len(h) {
		return result.Step{}, fmt.Errorf("%w: policy %q returned %d trade entries for %d holdings", simerrors.ErrSettlement, pol.Name(), len(u), len(h))
	}
	for i, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return result.Step{}, fmt.Errorf("%w: policy %q returned non-finite trade for %s", simerrors.ErrSettlement, pol.Name(), uni[i])
		}
	}

	settleStart := time.Now()

	// 2. Round to whole shares, or just rebuild the self-financing cash leg.
	if s.opts.RoundTrades {
		if pd.Prices == nil {
			return result.Step{}, fmt.Errorf("%w: trade rounding requires prices", simerrors.ErrConfiguration)
		}
		u, err = costs.RoundTradeVector(u, pd.Prices)
		if err != nil {
			return result.Step{}, err
		}
	} else {
		sum := 0.0
		for i := 0; i < len(u)-1; i++ {
			sum += u[i]
		}
		u[len(u)-1] = -sum
	}

	// 3. Settlement view and the cost breakdown.
	sim, err := s.store.ServeSimulator(t)
	if err != nil {
		return result.Step{}, err
	}

	hPlus := make([]float64, len(h))
	for i := range h {
		hPlus[i] = h[i] + u[i]
	}

	costsMap := make(map[costs.Kind]float64, 3)
	total := 0.0
	if s.opts.Transaction != nil {
		c, err := costs.TransactionCost(u, sim.Prices, sim.Volumes, sim.Returns, *s.opts.Transaction)
		if err != nil {
			return result.Step{}, err
		}
		costsMap[costs.KindTransaction] = c
		total += c
	}
	if s.opts.Holding != nil {
		var div []float64
		if s.opts.Dividends != nil {
			div = s.opts.Dividends(t)
		}
		c, err := costs.StocksHoldingCost(hPlus, div, sim.Returns, *s.opts.Holding)
		if err != nil {
			return result.Step{}, err
		}
		costsMap[costs.KindStocksHolding] = c
		total += c
	}
	if s.opts.Cash != nil {
		c, err := costs.CashHoldingCost(hPlus, sim.Returns, *s.opts.Cash)
		if err != nil {
			return result.Step{}, err
		}
		costsMap[costs.KindCashHolding] = c
		total += c
	}

	// 4. Roll forward: non-cash legs grow by the realized return; the cash
	// leg absorbs the summed costs, then grows by the cash return.
	rets := sim.CurrentReturns()
	cashRet := rets[len(rets)-1]
	hNew := make([]float64, len(h))
	for i := 0; i < len(h)-1; i++ {
		r := rets[i]
		if math.IsNaN(r) {
			if hPlus[i] != 0 {
				return result.Step{}, fmt.Errorf("%w: non-zero position in %s with no return at %s", simerrors.ErrSettlement, uni[i], t.UTC().Format(time.RFC3339))
			}
			continue
		}
		hNew[i] = hPlus[i] * (1 + r)
	}
	hNew[len(h)-1] = (hPlus[len(h)-1] + total) * (1 + cashRet)
	settleDur := time.Since(settleStart)

	return result.Step{
		Time:       sim.Time,
		Holdings:   hNew,
		Trade:      u,
		Costs:      costsMap,
		CashReturn: cashRet,
		PolicyTime: policyDur,
		SettleTime: settleDur,
	}, nil
}
