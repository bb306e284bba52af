package integrators

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// Euler is the explicit first-order method x + dt*f(x, u, t). It holds no
// scratch state and is safe for concurrent use.
type Euler struct{}

func NewEuler() *Euler { return &Euler{} }

func (*Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	next := make(dynamo.State, len(x))
	floats.AddScaledTo(next, x, dt, dyn.Derive(x, u, t))
	return next
}
