package orbit

import (
	"errors"
	"fmt"
)

var (
	// ErrPropagation is wrapped by every PropagationError.
	ErrPropagation = errors.New("orbit: propagation failed")

	// ErrInvalidElements reports a configuration that can never be propagated.
	ErrInvalidElements = errors.New("orbit: invalid orbital elements")

	ErrKeplerNotConverged = errors.New("kepler equation did not converge")
	ErrEccentricity       = errors.New("eccentricity out of range")
	ErrOutOfRange         = errors.New("position outside valid radius")
)

// PropagationError describes a single failed propagation step.
// It matches both ErrPropagation and its Reason under errors.Is.
type PropagationError struct {
	Reason error
	TSince float64 // minutes since epoch
	Detail string
}

func (e *PropagationError) Error() string {
	msg := fmt.Sprintf("orbit: propagation failed at tsince=%.4f min: %v", e.TSince, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *PropagationError) Is(target error) bool {
	return target == ErrPropagation
}

func (e *PropagationError) Unwrap() error { return e.Reason }
