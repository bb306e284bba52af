package optcon

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/linearize"
)

// Flow is the discrete-time view of a problem with step Dt. Continuous
// plants are integrated with substeps of at most DtSim while the control is
// held; their Jacobians are discretized with Discretization.
//
// A Flow is not safe for concurrent Step calls. Jacobians may be called
// concurrently if the linearizer allows it.
type Flow struct {
	problem        *Problem
	integ          dynamo.Integrator
	Dt             float64
	DtSim          float64
	Discretization linearize.Discretization
}

func NewFlow(p *Problem, integ dynamo.Integrator, dt, dtSim float64, disc linearize.Discretization) *Flow {
	return &Flow{
		problem:        p,
		integ:          integ,
		Dt:             dt,
		DtSim:          dtSim,
		Discretization: disc,
	}
}

// Time is the time of step k, measured from the problem's start time.
func (f *Flow) Time(k int) float64 {
	return f.problem.StartTime() + float64(k)*f.Dt
}

// index is the absolute step index of step k for discrete plants.
func (f *Flow) index(k int) int {
	return int(math.Round(f.problem.StartTime()/f.Dt)) + k
}

// Step returns the state at step k+1. Domain violations and non-finite
// results are returned as errors wrapping dynamo.ErrDomain.
func (f *Flow) Step(x dynamo.State, u dynamo.Control, k int) (dynamo.State, error) {
	if f.problem.IsDiscrete() {
		sys := f.problem.DiscreteSystem()
		t := f.Time(k)
		if dc, ok := sys.(dynamo.DomainChecker); ok {
			if err := dc.CheckDomain(x, u, t); err != nil {
				return nil, err
			}
		}
		next := sys.Propagate(x, u, f.index(k))
		if !next.IsValid() {
			return nil, dynamo.DomainViolation(k, t+f.Dt, next, "non-finite state")
		}
		return next, nil
	}
	return integrators.Integrate(f.integ, f.problem.System(), x, u, f.Time(k), f.Dt, f.DtSim)
}

// Jacobians returns the discrete transition matrices at step k.
func (f *Flow) Jacobians(x dynamo.State, u dynamo.Control, k int) (A, B *mat.Dense) {
	lin := f.problem.Linearizer()
	if f.problem.IsDiscrete() {
		return lin.Linearize(x, u, float64(f.index(k)))
	}
	a, b := lin.Linearize(x, u, f.Time(k))
	return linearize.Discretize(a, b, f.Dt, f.Discretization)
}
