package integrators

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// rk4Nodes are the stage offsets of the classic tableau; each stage is
// evaluated at x + node*dt*k_prev.
var rk4Nodes = [4]float64{0, 0.5, 0.5, 1}

// rk4Weights combine the four slopes.
var rk4Weights = [4]float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6}

// RK4 is the classic fourth-order Runge-Kutta method. The control is held
// over the step. It keeps one stage buffer, so an instance must not be
// shared across goroutines.
type RK4 struct {
	stage dynamo.State
}

func NewRK4() *RK4 { return &RK4{} }

func (r *RK4) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	if len(r.stage) != len(x) {
		r.stage = make(dynamo.State, len(x))
	}
	next := x.Clone()
	var slope dynamo.State
	for i, c := range rk4Nodes {
		point := x
		if i > 0 {
			floats.AddScaledTo(r.stage, x, c*dt, slope)
			point = r.stage
		}
		slope = dyn.Derive(point, u, t+c*dt)
		floats.AddScaled(next, rk4Weights[i]*dt, slope)
	}
	return next
}
