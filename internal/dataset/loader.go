package dataset

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"portsim/internal/core"
	"portsim/internal/market"
	simerrors "portsim/pkg/errors"
	"portsim/pkg/telemetry"
)

// Loader assembles aligned market stores from the bar cache.
type Loader struct {
	Cache *Cache
	// CashKey names the synthesized cash column.
	CashKey string
	// MinHistory is forwarded to store construction.
	MinHistory int
	// CashAnnualRate synthesizes the per-period cash return, quoted annually.
	CashAnnualRate float64
	// Concurrency bounds parallel cache reads; <= 0 means 8.
	Concurrency int

	Logger core.ILogger

	// dividends carries the per-asset dividend table assembled by the last
	// Build, served through Dividends.
	dividends *market.Frame
}

// Build reads every symbol from the cache and constructs an aligned store:
// the union calendar of all symbols, NaN where a symbol lacks a row, and a
// constant cash return column derived from the annual rate.
func (l *Loader) Build(ctx context.Context, symbols []string) (*market.Store, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols given", simerrors.ErrConfiguration)
	}

	bars := make([][]Bar, len(symbols))
	g, ctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := l.Cache.ReadBars(sym)
			if err != nil {
				return err
			}
			bars[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Union calendar across symbols.
	calendarSet := make(map[time.Time]struct{})
	for _, bs := range bars {
		for _, b := range bs {
			calendarSet[b.Time] = struct{}{}
		}
	}
	if len(calendarSet) == 0 {
		return nil, fmt.Errorf("%w: cache holds no bars for %v", simerrors.ErrConfiguration, symbols)
	}
	calendar := make([]time.Time, 0, len(calendarSet))
	for t := range calendarSet {
		calendar = append(calendar, t)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })
	rowOf := make(map[time.Time]int, len(calendar))
	for i, t := range calendar {
		rowOf[t] = i
	}

	n := len(symbols)
	rows := len(calendar)
	cashRet := l.periodCashReturn()

	rdata := make([][]float64, rows)
	vdata := make([][]float64, rows)
	pdata := make([][]float64, rows)
	ddata := make([][]float64, rows)
	for i := range rdata {
		rdata[i] = nanRow(n + 1)
		rdata[i][n] = cashRet
		vdata[i] = nanRow(n)
		pdata[i] = nanRow(n)
		ddata[i] = make([]float64, n)
	}
	for j, bs := range bars {
		for _, b := range bs {
			i := rowOf[b.Time]
			rdata[i][j] = b.Return
			vdata[i][j] = b.Volume
			pdata[i][j] = b.Price
			ddata[i][j] = b.Dividend
		}
	}

	cashKey := l.CashKey
	if cashKey == "" {
		cashKey = market.DefaultCashKey
	}
	returns, err := market.NewFrame(calendar, append(append([]string(nil), symbols...), cashKey), rdata)
	if err != nil {
		return nil, err
	}
	volumes, err := market.NewFrame(calendar, symbols, vdata)
	if err != nil {
		return nil, err
	}
	prices, err := market.NewFrame(calendar, symbols, pdata)
	if err != nil {
		return nil, err
	}

	st, err := market.NewStore(returns, volumes, prices, market.StoreOptions{
		CashKey:    cashKey,
		MinHistory: l.MinHistory,
	})
	if err != nil {
		return nil, err
	}

	l.dividends = frameOrNil(calendar, symbols, ddata)
	if l.Logger != nil {
		l.Logger.Info("dataset assembled", "symbols", len(symbols), "rows", rows,
			"start", calendar[0].Format("2006-01-02"), "end", calendar[rows-1].Format("2006-01-02"))
	}
	telemetry.GetGlobalMetrics().SetDatasetRows("returns", int64(rows))
	return st, nil
}

// Dividends returns a per-timestamp dividend lookup for the most recently
// built store, shaped for the stepper's dividend hook. nil before any Build.
func (l *Loader) Dividends() func(t time.Time) []float64 {
	f := l.dividends
	if f == nil {
		return nil
	}
	return func(t time.Time) []float64 {
		idx, ok := f.IndexOf(t)
		if !ok {
			return nil
		}
		return f.Row(idx)
	}
}

func (l *Loader) periodCashReturn() float64 {
	return math.Pow(1+l.CashAnnualRate, 1.0/252) - 1
}

func nanRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

func frameOrNil(times []time.Time, cols []string, data [][]float64) *market.Frame {
	f, err := market.NewFrame(times, cols, data)
	if err != nil {
		return nil
	}
	return f
}
