// Package costs implements the trading friction and financing cost model
package costs

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"portsim/internal/market"
	simerrors "portsim/pkg/errors"
)

// Kind labels one realized cost component in a step's breakdown.
type Kind string

const (
	KindTransaction   Kind = "transaction_cost"
	KindStocksHolding Kind = "stocks_holding_cost"
	KindCashHolding   Kind = "cash_holding_cost"
)

// Cost defaults, quoted daily.
const (
	DefaultPerShareCost     = 0.005
	DefaultNonlinearCoeff   = 1.0
	DefaultVolatilityWindow = 252
	DefaultBorrowSpread     = 0.005 / 252
	DefaultCashFloorSpread  = 0.005 / 252
)

// All cost functions return signed cash adjustments: negative values are
// charges debited from the cash leg, positive values (dividends) are credits.

// TransactionOptions configures TransactionCost. The zero value disables
// every term; DefaultTransactionOptions enables the standard model.
type TransactionOptions struct {
	// LinearCost is the per-asset coefficient on traded dollars, typically
	// the half bid-ask spread. nil means zero.
	LinearCost []float64
	// PerShareCost is a fixed fee per share traded. Non-zero requires prices.
	PerShareCost float64
	// NonlinearCoeff scales the 3/2-power market impact term. Non-zero
	// requires volumes.
	NonlinearCoeff float64
	// VolatilityWindow is the trailing row count for the impact volatility.
	// Values <= 0 fall back to DefaultVolatilityWindow.
	VolatilityWindow int
}

// DefaultTransactionOptions returns the standard cost model parameters.
func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		PerShareCost:     DefaultPerShareCost,
		NonlinearCoeff:   DefaultNonlinearCoeff,
		VolatilityWindow: DefaultVolatilityWindow,
	}
}

// HoldingOptions configures StocksHoldingCost.
type HoldingOptions struct {
	// BorrowSpread is the daily fee added to the cash return when charging
	// short positions.
	BorrowSpread float64
}

// DefaultHoldingOptions returns the standard borrow fee.
func DefaultHoldingOptions() HoldingOptions {
	return HoldingOptions{BorrowSpread: DefaultBorrowSpread}
}

// CashOptions configures CashHoldingCost.
type CashOptions struct {
	// FloorSpread is the gap between the cash return and the rate credited on
	// idle cash, and the penalty rate charged on negative net cash.
	FloorSpread float64
}

// DefaultCashOptions returns the standard sweep spread.
func DefaultCashOptions() CashOptions {
	return CashOptions{FloorSpread: DefaultCashFloorSpread}
}

// RoundTradeVector rounds the non-cash entries of a dollar trade vector to
// whole-share multiples of the current prices and recomputes the cash entry
// so the vector sums to exactly zero. The deviation introduced on any single
// non-cash entry is strictly less than one share's price. Share counts are
// computed in decimal arithmetic so the rounded dollars are exact multiples.
func RoundTradeVector(u, prices []float64) ([]float64, error) {
	if len(prices) != len(u)-1 {
		return nil, fmt.Errorf("%w: %d prices for %d trade entries", simerrors.ErrConfiguration, len(prices), len(u))
	}
	out := make([]float64, len(u))
	cash := decimal.Zero
	for i := 0; i < len(u)-1; i++ {
		if u[i] == 0 {
			continue
		}
		if !isFinite(u[i]) || !isFinite(prices[i]) || prices[i] <= 0 {
			return nil, fmt.Errorf("%w: cannot round trade %g at price %g", simerrors.ErrSettlement, u[i], prices[i])
		}
		price := decimal.NewFromFloat(prices[i])
		shares := decimal.NewFromFloat(u[i]).Div(price).Round(0)
		rounded := shares.Mul(price)
		out[i] = rounded.InexactFloat64()
		cash = cash.Sub(rounded)
	}
	out[len(u)-1] = cash.InexactFloat64()
	return out, nil
}

// TransactionCost prices the trade u (dollars, cash last) against the
// simulator view for the period: a linear term on traded dollars plus a
// per-share fee, and a non-linear market impact term scaling |trade|^1.5 by
// trailing volatility over the square root of current volume. A non-zero
// trade into a zero-volume period cannot settle; zero volume is treated as a
// no-trade constraint.
func TransactionCost(u, prices []float64, volumes, returns *market.Frame, opts TransactionOptions) (float64, error) {
	n := len(u) - 1
	if n < 1 {
		return 0, fmt.Errorf("%w: trade vector needs at least one asset and cash", simerrors.ErrConfiguration)
	}
	if opts.LinearCost != nil && len(opts.LinearCost) != n {
		return 0, fmt.Errorf("%w: %d linear cost entries for %d assets", simerrors.ErrConfiguration, len(opts.LinearCost), n)
	}
	if opts.PerShareCost != 0 && prices == nil {
		return 0, fmt.Errorf("%w: per-share transaction cost requires prices", simerrors.ErrConfiguration)
	}
	if opts.NonlinearCoeff != 0 && volumes == nil {
		return 0, fmt.Errorf("%w: non-linear transaction cost requires volumes", simerrors.ErrConfiguration)
	}
	window := opts.VolatilityWindow
	if window <= 0 {
		window = DefaultVolatilityWindow
	}

	// Charges accumulate negatively so an untraded period stays at +0.
	total := 0.0

	if opts.PerShareCost != 0 {
		shares := decimal.Zero
		for i := 0; i < n; i++ {
			if u[i] == 0 {
				continue
			}
			if !isFinite(prices[i]) || prices[i] <= 0 {
				return 0, fmt.Errorf("%w: missing price for traded asset %d", simerrors.ErrSettlement, i)
			}
			shares = shares.Add(decimal.NewFromFloat(u[i]).Div(decimal.NewFromFloat(prices[i])).Abs())
		}
		total -= opts.PerShareCost * shares.InexactFloat64()
	}

	if opts.LinearCost != nil {
		for i := 0; i < n; i++ {
			total -= math.Abs(u[i]) * opts.LinearCost[i]
		}
	}

	if opts.NonlinearCoeff != 0 {
		last := volumes.Len() - 1
		for i := 0; i < n; i++ {
			if u[i] == 0 {
				continue
			}
			vol := volumes.At(last, i)
			if math.IsNaN(vol) || vol <= 0 {
				return 0, fmt.Errorf("%w: zero traded volume for asset %d, trade cannot settle", simerrors.ErrSettlement, i)
			}
			sigma := trailingVolatility(returns, i, window)
			total -= opts.NonlinearCoeff * sigma * math.Pow(math.Abs(u[i]), 1.5) / math.Sqrt(vol)
		}
	}

	if !isFinite(total) {
		return 0, fmt.Errorf("%w: non-finite transaction cost", simerrors.ErrSettlement)
	}
	return total, nil
}

// trailingVolatility is the population standard deviation of the last
// `window` returns of column j, NaNs skipped. No valid observations yield 0.
func trailingVolatility(returns *market.Frame, j, window int) float64 {
	tail := returns.TailCol(j, window)
	valid := tail[:0]
	for _, v := range tail {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	return stat.PopStdDev(valid, nil)
}

// StocksHoldingCost prices financing of the post-trade positions hPlus
// (dollars, cash last): short positions pay the cash return plus the borrow
// spread, and dividends accrue on signed positions. dividends is per non-cash
// asset; nil means zero.
func StocksHoldingCost(hPlus, dividends []float64, returns *market.Frame, opts HoldingOptions) (float64, error) {
	n := len(hPlus) - 1
	if n < 1 {
		return 0, fmt.Errorf("%w: holdings need at least one asset and cash", simerrors.ErrConfiguration)
	}
	if dividends != nil && len(dividends) != n {
		return 0, fmt.Errorf("%w: %d dividend entries for %d assets", simerrors.ErrConfiguration, len(dividends), n)
	}

	borrow := currentCashReturn(returns) + opts.BorrowSpread
	total := 0.0
	for i := 0; i < n; i++ {
		if hPlus[i] < 0 {
			total -= borrow * -hPlus[i]
		}
		if dividends != nil {
			total += dividends[i] * hPlus[i]
		}
	}
	if !isFinite(total) {
		return 0, fmt.Errorf("%w: non-finite stocks holding cost", simerrors.ErrSettlement)
	}
	return total, nil
}

// CashHoldingCost prices the cash leg: net cash (cash plus margin borrowed
// against shorts) earns the cash return minus the floor spread, clamped at
// zero, while negative net cash pays the spread as a penalty.
func CashHoldingCost(hPlus []float64, returns *market.Frame, opts CashOptions) (float64, error) {
	n := len(hPlus) - 1
	if n < 1 {
		return 0, fmt.Errorf("%w: holdings need at least one asset and cash", simerrors.ErrConfiguration)
	}

	netCash := hPlus[n]
	for i := 0; i < n; i++ {
		if hPlus[i] < 0 {
			netCash += hPlus[i]
		}
	}

	cashReturn := currentCashReturn(returns)
	var adj float64
	switch {
	case netCash > 0:
		adj = netCash * (math.Max(cashReturn-opts.FloorSpread, 0) - cashReturn)
	case netCash < 0:
		adj = netCash * opts.FloorSpread
	}
	if !isFinite(adj) {
		return 0, fmt.Errorf("%w: non-finite cash holding cost", simerrors.ErrSettlement)
	}
	return adj, nil
}

// currentCashReturn reads the period's cash return from the simulator view:
// last row, last column.
func currentCashReturn(returns *market.Frame) float64 {
	return returns.At(returns.Len()-1, returns.NumCols()-1)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
