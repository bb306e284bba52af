package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation and optimization.
var (
	// ErrInvalidState indicates a state vector with invalid dimensions or values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrDomain indicates a system was evaluated outside its valid region.
	ErrDomain = errors.New("dynamo: evaluation outside model domain")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrInvalidHorizon indicates a non-positive time horizon or step.
	ErrInvalidHorizon = errors.New("dynamo: time horizon and step must be positive")

	// ErrNotConfigured indicates a solver used before settings or an initial guess were set.
	ErrNotConfigured = errors.New("dynamo: solver not configured")

	// ErrIllConditioned indicates the backward pass could not be regularized.
	ErrIllConditioned = errors.New("dynamo: backward pass ill-conditioned")

	// ErrDiverged indicates no valid rollout could be produced.
	ErrDiverged = errors.New("dynamo: rollout diverged")

	// ErrHorizonExhausted indicates a fixed final time has been consumed.
	ErrHorizonExhausted = errors.New("dynamo: time horizon exhausted")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// DomainViolation builds a SimulationError wrapping ErrDomain.
func DomainViolation(step int, t float64, x State, reason string) error {
	return &SimulationError{
		Step:    step,
		Time:    t,
		State:   x.Clone(),
		Wrapped: fmt.Errorf("%w: %s", ErrDomain, reason),
	}
}
