package ilqg

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/optcon"
)

func diag(v ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		s.SetSym(i, i, x)
	}
	return s
}

// regulatorCost drives a 2-state, 1-input system to the origin.
func regulatorCost() *cost.Function {
	fn := cost.NewFunction(2, 1)
	if err := fn.AddIntermediateTerm(cost.NewTermQuadratic("intermediate", diag(10, 1), diag(0.1))); err != nil {
		panic(err)
	}
	if err := fn.AddFinalTerm(cost.NewTermQuadratic("final", diag(1000, 1000), nil)); err != nil {
		panic(err)
	}
	return fn
}

func newProblem(sys dynamo.System, fn *cost.Function, x0 dynamo.State, horizon float64) *optcon.Problem {
	p, err := optcon.New(sys, fn, optcon.WithInitialState(x0), optcon.WithTimeHorizon(horizon))
	if err != nil {
		panic(err)
	}
	return p
}

func settingsWithDt(dt float64) Settings {
	s := DefaultSettings()
	s.Dt = dt
	s.DtSim = dt
	return s
}

// newSolver returns a configured solver seeded with a zero policy.
func newSolver(p *optcon.Problem, settings Settings) *Solver {
	s := New(p)
	if err := s.Configure(settings); err != nil {
		panic(err)
	}
	guess := control.Zero(settings.K(p.TimeHorizon()), p.StateDim(), p.ControlDim(), settings.Dt)
	if err := s.SetInitialGuess(guess); err != nil {
		panic(err)
	}
	return s
}
