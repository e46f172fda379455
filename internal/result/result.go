// Package result accumulates per-step backtest output and derives summary statistics
package result

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"portsim/internal/costs"
	simerrors "portsim/pkg/errors"
)

// Step is one simulated period's output: post-settlement holdings, the
// executed trade, the realized cost breakdown, the period's cash return and
// the step timings.
type Step struct {
	Time       time.Time
	Holdings   []float64 // dollars per universe entry, cash last
	Trade      []float64 // executed (rounded) trade, cash last
	Costs      map[costs.Kind]float64
	CashReturn float64
	PolicyTime time.Duration
	SettleTime time.Duration
}

// Result is the ordered accumulation of one backtest's steps. The
// orchestrator appends while running and seals it before handing it to the
// caller; a sealed result rejects further appends.
type Result struct {
	policy       string
	universe     []string
	initialValue float64
	steps        []Step
	sealed       bool
}

// New starts an empty result for one policy run.
func New(policyName string, universe []string, initialValue float64) *Result {
	return &Result{
		policy:       policyName,
		universe:     append([]string(nil), universe...),
		initialValue: initialValue,
	}
}

// Append records one step in time order.
func (r *Result) Append(s Step) error {
	if r.sealed {
		return fmt.Errorf("%w: result is sealed", simerrors.ErrImmutable)
	}
	if n := len(r.steps); n > 0 && !r.steps[n-1].Time.Before(s.Time) {
		return fmt.Errorf("%w: step at %s out of order", simerrors.ErrConfiguration, s.Time.UTC().Format(time.RFC3339))
	}
	r.steps = append(r.steps, s)
	return nil
}

// Seal freezes the result. Idempotent.
func (r *Result) Seal() { r.sealed = true }

// Policy returns the policy name this result belongs to.
func (r *Result) Policy() string { return r.policy }

// Universe returns the universe identifiers, cash last.
func (r *Result) Universe() []string { return append([]string(nil), r.universe...) }

// Len returns the number of simulated steps.
func (r *Result) Len() int { return len(r.steps) }

// StepAt returns a copy of step i.
func (r *Result) StepAt(i int) Step {
	s := r.steps[i]
	cp := Step{
		Time:       s.Time,
		Holdings:   append([]float64(nil), s.Holdings...),
		Trade:      append([]float64(nil), s.Trade...),
		Costs:      make(map[costs.Kind]float64, len(s.Costs)),
		CashReturn: s.CashReturn,
		PolicyTime: s.PolicyTime,
		SettleTime: s.SettleTime,
	}
	for k, v := range s.Costs {
		cp.Costs[k] = v
	}
	return cp
}

// Times returns the simulated timestamps in order.
func (r *Result) Times() []time.Time {
	out := make([]time.Time, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.Time
	}
	return out
}

// InitialValue returns the portfolio value before the first step.
func (r *Result) InitialValue() float64 { return r.initialValue }

// Values returns the portfolio value after each step.
func (r *Result) Values() []float64 {
	out := make([]float64, len(r.steps))
	for i, s := range r.steps {
		v := 0.0
		for _, x := range s.Holdings {
			v += x
		}
		out[i] = v
	}
	return out
}

// FinalValue returns the portfolio value after the last step, or the initial
// value for an empty result.
func (r *Result) FinalValue() float64 {
	if len(r.steps) == 0 {
		return r.initialValue
	}
	v := r.Values()
	return v[len(v)-1]
}

// Profit returns final value minus initial value.
func (r *Result) Profit() float64 { return r.FinalValue() - r.initialValue }

// Returns computes the per-step portfolio returns v_t/v_{t-1} - 1, the first
// step measured against the initial value.
func (r *Result) Returns() []float64 {
	values := r.Values()
	out := make([]float64, len(values))
	prev := r.initialValue
	for i, v := range values {
		out[i] = v/prev - 1
		prev = v
	}
	return out
}

// ExcessReturns subtracts each period's realized cash return from the
// portfolio return.
func (r *Result) ExcessReturns() []float64 {
	rets := r.Returns()
	for i := range rets {
		rets[i] -= r.steps[i].CashReturn
	}
	return rets
}

// PeriodsPerYear infers the sampling frequency from the index span. Fewer
// than two steps default to daily.
func (r *Result) PeriodsPerYear() float64 {
	if len(r.steps) < 2 {
		return 252
	}
	span := r.steps[len(r.steps)-1].Time.Sub(r.steps[0].Time)
	years := span.Hours() / (24 * 365.25)
	if years <= 0 {
		return 252
	}
	return float64(len(r.steps)-1) / years
}

// AnnualizedMeanReturn is mean(excess-free portfolio return) scaled by PPY.
func (r *Result) AnnualizedMeanReturn() float64 {
	if len(r.steps) == 0 {
		return 0
	}
	return stat.Mean(r.Returns(), nil) * r.PeriodsPerYear()
}

// AnnualizedVolatility is the population standard deviation of per-step
// returns scaled by the square root of PPY.
func (r *Result) AnnualizedVolatility() float64 {
	if len(r.steps) == 0 {
		return 0
	}
	return stat.PopStdDev(r.Returns(), nil) * math.Sqrt(r.PeriodsPerYear())
}

// SharpeRatio is sqrt(PPY) * mean(excess returns) / popstd(excess returns).
// Zero-variance excess returns yield 0.
func (r *Result) SharpeRatio() float64 {
	if len(r.steps) == 0 {
		return 0
	}
	excess := r.ExcessReturns()
	sd := stat.PopStdDev(excess, nil)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(r.PeriodsPerYear()) * stat.Mean(excess, nil) / sd
}

// AnnualizedTurnover is PPY times the mean per-step turnover
// sum(|non-cash trades|) / (2 * portfolio value).
func (r *Result) AnnualizedTurnover() float64 {
	if len(r.steps) == 0 {
		return 0
	}
	values := r.Values()
	per := make([]float64, len(r.steps))
	for i, s := range r.steps {
		traded := 0.0
		for j := 0; j < len(s.Trade)-1; j++ {
			traded += math.Abs(s.Trade[j])
		}
		if values[i] != 0 {
			per[i] = traded / (2 * values[i])
		}
	}
	return stat.Mean(per, nil) * r.PeriodsPerYear()
}

// MaxDrawdown is the worst peak-to-trough decline of the value series, as a
// non-positive fraction.
func (r *Result) MaxDrawdown() float64 {
	peak := r.initialValue
	worst := 0.0
	for _, v := range r.Values() {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// MaxLeverage is the largest sum(|non-cash holdings|) / value over the run.
func (r *Result) MaxLeverage() float64 {
	values := r.Values()
	maxLev := 0.0
	for i, s := range r.steps {
		gross := 0.0
		for j := 0; j < len(s.Holdings)-1; j++ {
			gross += math.Abs(s.Holdings[j])
		}
		if values[i] > 0 {
			if lev := gross / values[i]; lev > maxLev {
				maxLev = lev
			}
		}
	}
	return maxLev
}

// CostTotals sums each cost kind over the run.
func (r *Result) CostTotals() map[costs.Kind]float64 {
	out := make(map[costs.Kind]float64)
	for _, s := range r.steps {
		for k, v := range s.Costs {
			out[k] += v
		}
	}
	return out
}

// CostSeries returns the per-step series for one cost kind, zero where the
// kind was not charged.
func (r *Result) CostSeries(kind costs.Kind) []float64 {
	out := make([]float64, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.Costs[kind]
	}
	return out
}

// Summary is the flat statistics view persisted with runs and returned by
// the API.
type Summary struct {
	Policy         string             `json:"policy"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	Steps          int                `json:"steps"`
	InitialValue   float64            `json:"initial_value"`
	FinalValue     float64            `json:"final_value"`
	Profit         float64            `json:"profit"`
	MeanReturn     float64            `json:"annualized_mean_return"`
	Volatility     float64            `json:"annualized_volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	Turnover       float64            `json:"annualized_turnover"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	MaxLeverage    float64            `json:"max_leverage"`
	PeriodsPerYear float64            `json:"periods_per_year"`
	CostTotals     map[string]float64 `json:"cost_totals"`
}

// Summarize computes the summary statistics once.
func (r *Result) Summarize() Summary {
	s := Summary{
		Policy:         r.policy,
		Steps:          len(r.steps),
		InitialValue:   r.initialValue,
		FinalValue:     r.FinalValue(),
		Profit:         r.Profit(),
		MeanReturn:     r.AnnualizedMeanReturn(),
		Volatility:     r.AnnualizedVolatility(),
		SharpeRatio:    r.SharpeRatio(),
		Turnover:       r.AnnualizedTurnover(),
		MaxDrawdown:    r.MaxDrawdown(),
		MaxLeverage:    r.MaxLeverage(),
		PeriodsPerYear: r.PeriodsPerYear(),
		CostTotals:     make(map[string]float64),
	}
	if len(r.steps) > 0 {
		s.Start = r.steps[0].Time
		s.End = r.steps[len(r.steps)-1].Time
	}
	for k, v := range r.CostTotals() {
		s.CostTotals[string(k)] = v
	}
	return s
}

// String renders the summary table printed by the CLI.
func (r *Result) String() string {
	s := r.Summarize()
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest: %s\n", s.Policy)
	if s.Steps > 0 {
		fmt.Fprintf(&b, "  period            %s .. %s (%d steps)\n",
			s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"), s.Steps)
	}
	fmt.Fprintf(&b, "  initial value     %.2f\n", s.InitialValue)
	fmt.Fprintf(&b, "  final value       %.2f\n", s.FinalValue)
	fmt.Fprintf(&b, "  profit            %.2f\n", s.Profit)
	fmt.Fprintf(&b, "  mean return (ann) %.4f\n", s.MeanReturn)
	fmt.Fprintf(&b, "  volatility (ann)  %.4f\n", s.Volatility)
	fmt.Fprintf(&b, "  sharpe ratio      %.4f\n", s.SharpeRatio)
	fmt.Fprintf(&b, "  turnover (ann)    %.4f\n", s.Turnover)
	fmt.Fprintf(&b, "  max drawdown      %.4f\n", s.MaxDrawdown)
	fmt.Fprintf(&b, "  max leverage      %.4f\n", s.MaxLeverage)
	for k, v := range s.CostTotals {
		fmt.Fprintf(&b, "  total %-18s %.4f\n", k, v)
	}
	return b.String()
}
