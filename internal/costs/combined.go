package costs

import (
	"fmt"

	simerrors "portsim/pkg/errors"
)

// Term is the optimization-time cost-expression contract: given post-trade
// weights w, trade weights z and the portfolio value, produce a scalar cost
// contribution.
type Term interface {
	Value(w, z []float64, portfolioValue float64) (float64, error)
}

// TermFunc adapts a plain function to the Term contract.
type TermFunc func(w, z []float64, portfolioValue float64) (float64, error)

// Value implements Term.
func (f TermFunc) Value(w, z []float64, portfolioValue float64) (float64, error) {
	return f(w, z, portfolioValue)
}

// Weighted tags a Term with its scalar multiplier.
type Weighted struct {
	Multiplier float64
	Term       Term
}

// Combined aggregates cost terms as an explicit tagged list of
// (multiplier, term) pairs. Combining sums the multiplier-weighted term
// values; there is no operator dispatch beyond this.
type Combined struct {
	terms []Weighted
}

// NewCombined builds a combined cost from tagged terms.
func NewCombined(terms ...Weighted) *Combined {
	return &Combined{terms: append([]Weighted(nil), terms...)}
}

// Add appends a weighted term and returns the receiver for chaining.
func (c *Combined) Add(multiplier float64, term Term) *Combined {
	c.terms = append(c.terms, Weighted{Multiplier: multiplier, Term: term})
	return c
}

// Terms returns a copy of the tagged term list.
func (c *Combined) Terms() []Weighted {
	return append([]Weighted(nil), c.terms...)
}

// Combine evaluates every term and returns the multiplier-weighted sum.
func (c *Combined) Combine(w, z []float64, portfolioValue float64) (float64, error) {
	total := 0.0
	for i, wt := range c.terms {
		if wt.Term == nil {
			return 0, fmt.Errorf("%w: combined cost term %d is nil", simerrors.ErrConfiguration, i)
		}
		v, err := wt.Term.Value(w, z, portfolioValue)
		if err != nil {
			return 0, fmt.Errorf("combined cost term %d: %w", i, err)
		}
		total += wt.Multiplier * v
	}
	return total, nil
}
