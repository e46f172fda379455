package policy

import (
	"fmt"
	"math"
	"time"

	"portsim/internal/market"
	simerrors "portsim/pkg/errors"
)

// Hold never trades.
type Hold struct{}

// Name implements Policy.
func (Hold) Name() string { return "hold" }

// Trades returns the zero trade vector.
func (Hold) Trades(_ *market.PolicyData, h []float64) ([]float64, error) {
	return make([]float64, len(h)), nil
}

// Uniform rebalances to equal weights across the currently-tradable non-cash
// assets each period. An asset is tradable when its most recent past return is
// finite and, if prices are served, its current price is finite and positive.
// Positions in untradable assets are left untouched.
type Uniform struct{}

// Name implements Policy.
func (Uniform) Name() string { return "uniform" }

// Trades implements Policy.
func (Uniform) Trades(data *market.PolicyData, h []float64) ([]float64, error) {
	n := len(h) - 1
	if n < 1 {
		return nil, fmt.Errorf("%w: holdings need at least one asset and cash", simerrors.ErrConfiguration)
	}
	if data.PastReturns.NumCols() != len(h) {
		return nil, fmt.Errorf("%w: %d holdings for %d universe columns", simerrors.ErrConfiguration, len(h), data.PastReturns.NumCols())
	}

	tradable := make([]bool, n)
	count := 0
	last := data.PastReturns.Len() - 1
	for i := 0; i < n; i++ {
		if last < 0 || math.IsNaN(data.PastReturns.At(last, i)) {
			continue
		}
		if data.Prices != nil && (math.IsNaN(data.Prices[i]) || data.Prices[i] <= 0) {
			continue
		}
		tradable[i] = true
		count++
	}
	if count == 0 {
		return make([]float64, len(h)), nil
	}

	v := portfolioValue(h)
	u := make([]float64, len(h))
	sum := 0.0
	for i := 0; i < n; i++ {
		if !tradable[i] {
			continue
		}
		u[i] = v/float64(count) - h[i]
		sum += u[i]
	}
	u[len(h)-1] = -sum
	return u, nil
}

// FixedWeights rebalances toward the same non-cash target weights every
// period; cash absorbs the remainder.
type FixedWeights struct {
	weights []float64
}

// NewFixedWeights validates the target weights (one per non-cash asset, each
// finite).
func NewFixedWeights(weights []float64) (*FixedWeights, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: fixed weights are empty", simerrors.ErrConfiguration)
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: fixed weight %d is not finite", simerrors.ErrConfiguration, i)
		}
	}
	return &FixedWeights{weights: append([]float64(nil), weights...)}, nil
}

// Name implements Policy.
func (p *FixedWeights) Name() string { return "fixed_weights" }

// Trades implements Policy.
func (p *FixedWeights) Trades(_ *market.PolicyData, h []float64) ([]float64, error) {
	if len(p.weights) != len(h)-1 {
		return nil, fmt.Errorf("%w: %d target weights for %d assets", simerrors.ErrConfiguration, len(p.weights), len(h)-1)
	}
	return rebalanceTo(p.weights, h), nil
}

// FixedTrades looks up a pre-specified dollar trade vector by timestamp and
// trades zero for timestamps without an entry.
type FixedTrades struct {
	trades map[time.Time][]float64
	size   int
}

// NewFixedTrades validates that every scheduled trade vector has the same
// length (universe entries, cash last).
func NewFixedTrades(trades map[time.Time][]float64) (*FixedTrades, error) {
	p := &FixedTrades{trades: make(map[time.Time][]float64, len(trades))}
	for ts, u := range trades {
		if p.size == 0 {
			p.size = len(u)
		}
		if len(u) != p.size || len(u) < 2 {
			return nil, fmt.Errorf("%w: trade vector at %s has %d entries, want %d", simerrors.ErrConfiguration, ts.UTC().Format(time.RFC3339), len(u), p.size)
		}
		p.trades[ts.UTC()] = append([]float64(nil), u...)
	}
	return p, nil
}

// Name implements Policy.
func (p *FixedTrades) Name() string { return "fixed_trades" }

// Trades implements Policy.
func (p *FixedTrades) Trades(data *market.PolicyData, h []float64) ([]float64, error) {
	u, ok := p.trades[data.Time.UTC()]
	if !ok {
		return make([]float64, len(h)), nil
	}
	if len(u) != len(h) {
		return nil, fmt.Errorf("%w: scheduled trade has %d entries for %d holdings", simerrors.ErrConfiguration, len(u), len(h))
	}
	return append([]float64(nil), u...), nil
}

// Target is a desired holdings vector at a future date.
type Target struct {
	Time     time.Time
	Holdings []float64
}

// ProportionalTradeToTargets trades a proportional slice of the remaining gap
// toward the next target holdings each period: with k calendar steps left
// until the target date (current step included), it trades 1/k of the gap.
// It needs the simulation calendar, captured through the Initialize hook.
type ProportionalTradeToTargets struct {
	targets  []Target
	calendar []time.Time
}

// NewProportionalTradeToTargets validates that targets are time-ordered and
// uniformly sized.
func NewProportionalTradeToTargets(targets []Target) (*ProportionalTradeToTargets, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no target holdings given", simerrors.ErrConfiguration)
	}
	size := len(targets[0].Holdings)
	for i, tg := range targets {
		if len(tg.Holdings) != size || size < 2 {
			return nil, fmt.Errorf("%w: target %d has %d holdings entries, want %d", simerrors.ErrConfiguration, i, len(tg.Holdings), size)
		}
		if i > 0 && !targets[i-1].Time.Before(tg.Time) {
			return nil, fmt.Errorf("%w: target times not strictly increasing at %d", simerrors.ErrConfiguration, i)
		}
	}
	p := &ProportionalTradeToTargets{targets: make([]Target, len(targets))}
	for i, tg := range targets {
		p.targets[i] = Target{Time: tg.Time.UTC(), Holdings: append([]float64(nil), tg.Holdings...)}
	}
	return p, nil
}

// Name implements Policy.
func (p *ProportionalTradeToTargets) Name() string { return "proportional_trade_to_targets" }

// Initialize implements Initializer, capturing the simulation calendar.
func (p *ProportionalTradeToTargets) Initialize(_ *market.PolicyData, times []time.Time) error {
	if len(times) == 0 {
		return fmt.Errorf("%w: empty simulation calendar", simerrors.ErrConfiguration)
	}
	p.calendar = append([]time.Time(nil), times...)
	return nil
}

// Trades implements Policy.
func (p *ProportionalTradeToTargets) Trades(data *market.PolicyData, h []float64) ([]float64, error) {
	if p.calendar == nil {
		return nil, fmt.Errorf("%w: policy not initialized with a simulation calendar", simerrors.ErrConfiguration)
	}
	now := data.Time.UTC()

	var target *Target
	for i := range p.targets {
		if !p.targets[i].Time.Before(now) {
			target = &p.targets[i]
			break
		}
	}
	if target == nil {
		// All targets reached; hold.
		return make([]float64, len(h)), nil
	}
	if len(target.Holdings) != len(h) {
		return nil, fmt.Errorf("%w: target has %d holdings entries for %d holdings", simerrors.ErrConfiguration, len(target.Holdings), len(h))
	}

	steps := 0
	for _, ts := range p.calendar {
		if ts.Before(now) {
			continue
		}
		if ts.After(target.Time) {
			break
		}
		steps++
	}
	if steps == 0 {
		steps = 1
	}

	u := make([]float64, len(h))
	sum := 0.0
	for i := 0; i < len(h)-1; i++ {
		u[i] = (target.Holdings[i] - h[i]) / float64(steps)
		sum += u[i]
	}
	u[len(h)-1] = -sum
	return u, nil
}

// PeriodicRebalance rebalances to fixed target weights every `every` periods,
// starting at the first, and holds in between.
type PeriodicRebalance struct {
	weights []float64
	every   int
	step    int
}

// NewPeriodicRebalance validates the target weights and the schedule period.
func NewPeriodicRebalance(weights []float64, every int) (*PeriodicRebalance, error) {
	if every < 1 {
		return nil, fmt.Errorf("%w: rebalance period must be at least 1, got %d", simerrors.ErrConfiguration, every)
	}
	fw, err := NewFixedWeights(weights)
	if err != nil {
		return nil, err
	}
	return &PeriodicRebalance{weights: fw.weights, every: every}, nil
}

// Name implements Policy.
func (p *PeriodicRebalance) Name() string { return "periodic_rebalance" }

// Trades implements Policy.
func (p *PeriodicRebalance) Trades(_ *market.PolicyData, h []float64) ([]float64, error) {
	if len(p.weights) != len(h)-1 {
		return nil, fmt.Errorf("%w: %d target weights for %d assets", simerrors.ErrConfiguration, len(p.weights), len(h)-1)
	}
	due := p.step%p.every == 0
	p.step++
	if !due {
		return make([]float64, len(h)), nil
	}
	return rebalanceTo(p.weights, h), nil
}
