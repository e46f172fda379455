package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"portsim/internal/core"
	"portsim/internal/market"
	"portsim/internal/policy"
	"portsim/internal/result"
	"portsim/pkg/concurrency"
	simerrors "portsim/pkg/errors"
	"portsim/pkg/telemetry"
)

// DefaultInitialValue is the all-cash starting portfolio when no initial
// holdings are given.
const DefaultInitialValue = 1_000_000.0

// RunOptions configures one orchestrator call.
type RunOptions struct {
	Start time.Time
	End   time.Time
	// InitialHoldings holds one starting vector per policy (universe entries,
	// cash last). nil means all cash at InitialValue for every policy.
	InitialHoldings [][]float64
	// InitialValue seeds the all-cash default. Zero falls back to
	// DefaultInitialValue.
	InitialValue float64
	// Parallel runs each policy as an independent unit on the worker pool.
	Parallel bool
}

func (o RunOptions) initialValue() float64 {
	if o.InitialValue == 0 {
		return DefaultInitialValue
	}
	return o.InitialValue
}

// Orchestrator drives backtests across one or many policies. The worker pool
// is reused across calls; every parallel unit works against its own frozen
// deep copy of the dataset, so nothing data-dependent survives between calls.
type Orchestrator struct {
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	opts    Options
}

// NewOrchestrator builds an orchestrator with the given stepper options.
func NewOrchestrator(pool *concurrency.WorkerPool, logger core.ILogger, opts Options) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		logger:  logger.WithField("component", "orchestrator"),
		metrics: telemetry.GetGlobalMetrics(),
		opts:    opts,
	}
}

// Run backtests a single policy over [start, end] and returns its result.
func (o *Orchestrator) Run(store *market.Store, pol policy.Policy, opts RunOptions) (*result.Result, error) {
	opts.Parallel = false
	results, err := o.RunAll(store, []policy.Policy{pol}, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// RunAll backtests every policy over [start, end] and returns one result per
// policy in input order. With Parallel set, each policy runs as an
// independent unit on the worker pool against its own frozen store copy;
// failures are surfaced per policy and never corrupt sibling units.
func (o *Orchestrator) RunAll(store *market.Store, policies []policy.Policy, opts RunOptions) ([]*result.Result, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: no policies given", simerrors.ErrConfiguration)
	}
	if opts.InitialHoldings != nil && len(opts.InitialHoldings) != len(policies) {
		return nil, fmt.Errorf("%w: %d initial holdings vectors for %d policies", simerrors.ErrConfiguration, len(opts.InitialHoldings), len(policies))
	}
	if times := store.TimesWithin(opts.Start, opts.End); len(times) == 0 {
		return nil, fmt.Errorf("%w: range [%s, %s] has no overlap with the dataset index", simerrors.ErrConfiguration,
			opts.Start.UTC().Format(time.RFC3339), opts.End.UTC().Format(time.RFC3339))
	}

	results := make([]*result.Result, len(policies))
	errs := make([]error, len(policies))

	runUnit := func(i int) {
		pol := policies[i]
		var initial []float64
		if opts.InitialHoldings != nil {
			initial = opts.InitialHoldings[i]
		}
		res, err := o.runOne(store, pol, initial, opts)
		if err != nil {
			errs[i] = fmt.Errorf("policy %d (%s): %w", i, pol.Name(), err)
			return
		}
		results[i] = res
	}

	if opts.Parallel && len(policies) > 1 && o.pool != nil {
		group := o.pool.Group()
		for i := range policies {
			i := i
			group.Submit(func() { runUnit(i) })
		}
		group.Wait()
	} else {
		for i := range policies {
			runUnit(i)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return results, err
	}
	return results, nil
}

// runOne executes one backtest unit against a private frozen copy of the
// dataset, threading holdings step to step.
func (o *Orchestrator) runOne(store *market.Store, pol policy.Policy, initial []float64, opts RunOptions) (*result.Result, error) {
	local := store.DeepCopy()
	local.Freeze()

	times := local.TimesWithin(opts.Start, opts.End)
	uni := local.Universe()

	h := make([]float64, len(uni))
	if initial != nil {
		if len(initial) != len(uni) {
			return nil, fmt.Errorf("%w: %d initial holdings for %d universe entries", simerrors.ErrConfiguration, len(initial), len(uni))
		}
		copy(h, initial)
	} else {
		h[len(h)-1] = opts.initialValue()
	}

	if init, ok := pol.(policy.Initializer); ok {
		pd, err := local.ServePolicy(times[0])
		if err != nil {
			return nil, err
		}
		if err := init.Initialize(pd, times); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
	}

	o.logger.Info("backtest started", "policy", pol.Name(), "steps", len(times),
		"start", times[0].Format("2006-01-02"), "end", times[len(times)-1].Format("2006-01-02"))
	started := time.Now()
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("policy", pol.Name()))
	if o.metrics.BacktestsStarted != nil {
		o.metrics.BacktestsStarted.Add(ctx, 1, attrs)
	}
	o.metrics.AddActiveBacktests(pol.Name(), 1)
	defer o.metrics.AddActiveBacktests(pol.Name(), -1)

	initialValue := 0.0
	for _, v := range h {
		initialValue += v
	}
	res := result.New(pol.Name(), uni, initialValue)
	stepper := NewStepper(local, o.opts)

	for _, t := range times {
		st, err := stepper.Step(t, h, pol)
		if err != nil {
			if o.metrics.BacktestsFailed != nil {
				o.metrics.BacktestsFailed.Add(ctx, 1, attrs)
			}
			o.logger.Error("backtest aborted", "policy", pol.Name(), "time", t.Format("2006-01-02"), "error", err)
			return nil, err
		}
		if err := res.Append(st); err != nil {
			return nil, err
		}
		h = st.Holdings
		if o.metrics.StepsTotal != nil {
			o.metrics.StepsTotal.Add(ctx, 1, attrs)
			o.metrics.LatencyPolicy.Record(ctx, float64(st.PolicyTime.Microseconds())/1000, attrs)
			o.metrics.LatencySettlement.Record(ctx, float64(st.SettleTime.Microseconds())/1000, attrs)
		}
	}
	stepper.Finish()
	res.Seal()

	summary := res.Summarize()
	if o.metrics.BacktestsCompleted != nil {
		o.metrics.BacktestsCompleted.Add(ctx, 1, attrs)
		o.metrics.BacktestDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000, attrs)
	}
	o.metrics.SetLastSharpe(pol.Name(), summary.SharpeRatio)
	o.metrics.SetLastFinalValue(pol.Name(), summary.FinalValue)
	o.logger.Info("backtest completed", "policy", pol.Name(), "final_value", summary.FinalValue,
		"sharpe", summary.SharpeRatio, "duration", time.Since(started).String())
	return res, nil
}
