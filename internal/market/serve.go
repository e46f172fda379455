package market

import (
	"fmt"
	"time"

	simerrors "portsim/pkg/errors"
)

// PolicyData is the causal view a policy may observe when deciding its trade
// for period t: history strictly before t, plus prices quoted at t. It can
// never contain the period's own realized returns or volumes.
type PolicyData struct {
	Time        time.Time
	PastReturns *Frame    // rows strictly before Time, cash column included
	PastVolumes *Frame    // nil when the store has no volumes
	Prices      []float64 // per non-cash asset at Time; nil when the store has no prices
}

// SimulatorData is the settlement view for period t: history through and
// including t. Used only to price costs and apply market movement for the
// period just traded, never to decide the trade.
type SimulatorData struct {
	Time    time.Time
	Returns *Frame    // rows through Time, cash column included
	Volumes *Frame    // nil when the store has no volumes
	Prices  []float64 // per non-cash asset at Time; nil when the store has no prices
}

// CurrentReturns returns the realized per-universe returns at Time (cash last).
func (d *SimulatorData) CurrentReturns() []float64 {
	return d.Returns.Row(d.Returns.Len() - 1)
}

// CashReturn returns the cash return realized at Time.
func (d *SimulatorData) CashReturn() float64 {
	last := d.Returns.Len() - 1
	return d.Returns.At(last, d.Returns.NumCols()-1)
}

// ServePolicy slices the store for a policy deciding at t. The returned
// windows end strictly before t and share a common final timestamp. Fails
// with a configuration error when t is not in the index.
func (s *Store) ServePolicy(t time.Time) (*PolicyData, error) {
	idx, ok := s.returns.IndexOf(t)
	if !ok {
		return nil, fmt.Errorf("%w: timestamp %s not in dataset index", simerrors.ErrConfiguration, t.UTC().Format(time.RFC3339))
	}
	return &PolicyData{
		Time:        s.returns.TimeAt(idx),
		PastReturns: s.serveWindow(s.returns, idx),
		PastVolumes: s.serveWindow(s.volumes, idx),
		Prices:      s.servePriceRow(idx),
	}, nil
}

// ServeSimulator slices the store for settling the period at t, realized
// returns and volumes included. Fails with a configuration error when t is
// not in the index.
func (s *Store) ServeSimulator(t time.Time) (*SimulatorData, error) {
	idx, ok := s.returns.IndexOf(t)
	if !ok {
		return nil, fmt.Errorf("%w: timestamp %s not in dataset index", simerrors.ErrConfiguration, t.UTC().Format(time.RFC3339))
	}
	return &SimulatorData{
		Time:    s.returns.TimeAt(idx),
		Returns: s.serveWindow(s.returns, idx+1),
		Volumes: s.serveWindow(s.volumes, idx+1),
		Prices:  s.servePriceRow(idx),
	}, nil
}

// serveWindow hands out the first `end` rows of a table. While the store is
// mutable the window is a defensive copy, so caller-side writes cannot leak
// back. Once frozen it is a zero-copy view that rejects writes.
func (s *Store) serveWindow(f *Frame, end int) *Frame {
	if f == nil {
		return nil
	}
	w := f.window(end)
	if s.flag.Load() {
		return w
	}
	return w.Copy()
}

// servePriceRow copies the price row at idx, nil when prices are absent.
func (s *Store) servePriceRow(idx int) []float64 {
	if s.prices == nil {
		return nil
	}
	return s.prices.Row(idx)
}
