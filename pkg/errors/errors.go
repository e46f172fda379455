package simerrors

import "errors"

// Standardized Simulation Errors
var (
	// ErrConfiguration covers malformed or misaligned input tables, a missing
	// cash column, an empty universe, mismatched policy/holdings collection
	// lengths, and timestamps outside the dataset index. Raised at
	// construction or call time, never deferred.
	ErrConfiguration = errors.New("configuration error")

	// ErrImmutable is raised the instant a write is attempted against a
	// frozen dataset or any view derived from one.
	ErrImmutable = errors.New("immutability violation")

	// ErrSettlement means a simulation step cannot be completed: a non-finite
	// or misaligned trade vector, a timestamp absent from the index, or
	// required price/volume data missing for an operation that needs it.
	// Fatal to the enclosing backtest, never retried.
	ErrSettlement = errors.New("settlement failure")

	// ErrNotFound is returned by run stores when no run matches the given id.
	ErrNotFound = errors.New("run not found")
)
