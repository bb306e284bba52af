// Package linearize turns plants into local linear models.
//
// A [Linearizer] returns the Jacobians A = df/dx and B = df/du of a system at
// one trajectory point. [Numerical] uses finite differences, [Analytic]
// forwards to a system's own [dynamo.Linear] implementation, and [Discretize]
// converts continuous-time Jacobians into the discrete transition matrices
// consumed by the optimizer.
package linearize

import (
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

type Linearizer interface {
	Linearize(x dynamo.State, u dynamo.Control, t float64) (A, B *mat.Dense)
}

// Method selects the finite-difference formula.
type Method int

const (
	// Forward uses first-order one-sided differences (n+m+1 evaluations).
	Forward Method = iota
	// Central uses second-order central differences (2(n+m) evaluations).
	Central
)

func ParseMethod(name string) (Method, error) {
	switch name {
	case "", "forward":
		return Forward, nil
	case "central":
		return Central, nil
	default:
		return Forward, fmt.Errorf("unknown differentiation method: %s", name)
	}
}

// Numerical linearizes by finite differences of the wrapped evaluation
// function. The perturbation step is fixed, so results are deterministic for
// a given point; the queried x and u are never written to.
type Numerical struct {
	eval   func(x dynamo.State, u dynamo.Control, t float64) dynamo.State
	n, m   int
	Method Method
	// Step is the absolute perturbation; zero selects the fd package default.
	Step float64
	// Concurrent evaluates perturbed points on separate goroutines. The
	// wrapped system must then be safe for concurrent use.
	Concurrent bool
}

// NewNumerical differentiates a continuous system's Derive.
func NewNumerical(sys dynamo.System, method Method) *Numerical {
	return &Numerical{
		eval:   sys.Derive,
		n:      sys.StateDim(),
		m:      sys.ControlDim(),
		Method: method,
	}
}

// NewNumericalDiscrete differentiates a discrete system's Propagate; the
// time argument of Linearize is interpreted as the step index.
func NewNumericalDiscrete(sys dynamo.DiscreteSystem, method Method) *Numerical {
	return &Numerical{
		eval: func(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
			return sys.Propagate(x, u, int(t))
		},
		n:      sys.StateDim(),
		m:      sys.ControlDim(),
		Method: method,
	}
}

func (l *Numerical) Linearize(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	n, m := l.n, l.m

	z := make([]float64, n+m)
	copy(z, x)
	copy(z[n:], u)

	f := func(y, z []float64) {
		xz := make(dynamo.State, n)
		uz := make(dynamo.Control, m)
		copy(xz, z[:n])
		copy(uz, z[n:])
		copy(y, l.eval(xz, uz, t))
	}

	formula := fd.Forward
	if l.Method == Central {
		formula = fd.Central
	}

	jac := mat.NewDense(n, n+m, nil)
	fd.Jacobian(jac, f, z, &fd.JacobianSettings{
		Formula:    formula,
		Step:       l.Step,
		Concurrent: l.Concurrent,
	})

	a := mat.DenseCopyOf(jac.Slice(0, n, 0, n))
	if m == 0 {
		return a, &mat.Dense{}
	}
	b := mat.DenseCopyOf(jac.Slice(0, n, n, n+m))
	return a, b
}

// Analytic forwards to the system's own Jacobians.
type Analytic struct {
	Sys dynamo.Linear
}

func (l Analytic) Linearize(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	return l.Sys.Jacobians(x, u, t)
}

// For returns the analytic linearizer when sys implements dynamo.Linear and
// a forward-difference one otherwise.
func For(sys dynamo.System) Linearizer {
	if lin, ok := sys.(dynamo.Linear); ok {
		return Analytic{Sys: lin}
	}
	return NewNumerical(sys, Forward)
}

// ForDiscrete is For for discrete systems.
func ForDiscrete(sys dynamo.DiscreteSystem) Linearizer {
	if lin, ok := sys.(dynamo.Linear); ok {
		return Analytic{Sys: lin}
	}
	return NewNumericalDiscrete(sys, Forward)
}
