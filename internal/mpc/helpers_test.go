package mpc

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/ilqg"
	"github.com/san-kum/ilqgmpc/internal/optcon"
	"github.com/san-kum/ilqgmpc/internal/physics"
)

// stepClock advances by step on every reading, so each solve appears to
// take exactly step.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func diag(v ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		s.SetSym(i, i, x)
	}
	return s
}

func oscillatorCost() *cost.Function {
	fn := cost.NewFunction(2, 1)
	if err := fn.AddIntermediateTerm(cost.NewTermQuadratic("intermediate", diag(10, 1), diag(0.1))); err != nil {
		panic(err)
	}
	if err := fn.AddFinalTerm(cost.NewTermQuadratic("final", diag(1000, 1000), nil)); err != nil {
		panic(err)
	}
	return fn
}

func oscillatorProblem(x0 dynamo.State, horizon float64) *optcon.Problem {
	p, err := optcon.New(physics.NewSecondOrderSystem(0.1, 5.0), oscillatorCost(),
		optcon.WithInitialState(x0), optcon.WithTimeHorizon(horizon))
	if err != nil {
		panic(err)
	}
	return p
}

func solverSettings(dt float64, maxIterations int) ilqg.Settings {
	s := ilqg.DefaultSettings()
	s.Dt = dt
	s.DtSim = dt
	s.MaxIterations = maxIterations
	return s
}

// perfectPolicy solves the full-horizon problem from a zero guess.
func perfectPolicy(x0 dynamo.State, horizon, dt float64) *control.StateFeedback {
	p := oscillatorProblem(x0, horizon)
	settings := solverSettings(dt, 20)
	s := ilqg.New(p)
	if err := s.Configure(settings); err != nil {
		panic(err)
	}
	if err := s.SetInitialGuess(control.Zero(settings.K(horizon), 2, 1, dt)); err != nil {
		panic(err)
	}
	if ok, err := s.Solve(); err != nil || !ok {
		panic("offline solve failed")
	}
	policy, err := s.Solution()
	if err != nil {
		panic(err)
	}
	return policy
}

// quietSettings disables every latency effect.
func quietSettings() Settings {
	s := DefaultSettings()
	s.MeasureDelay = false
	return s
}

// timeSpy is the damped oscillator without analytic Jacobians that records
// the range of times its dynamics are evaluated at.
type timeSpy struct {
	plant *physics.SecondOrderSystem

	mu       sync.Mutex
	earliest float64
	latest   float64
}

func newTimeSpy() *timeSpy {
	s := &timeSpy{plant: physics.NewSecondOrderSystem(0.1, 5.0)}
	s.clear()
	return s
}

func (s *timeSpy) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	s.mu.Lock()
	s.earliest = math.Min(s.earliest, t)
	s.latest = math.Max(s.latest, t)
	s.mu.Unlock()
	return s.plant.Derive(x, u, t)
}

func (s *timeSpy) StateDim() int   { return 2 }
func (s *timeSpy) ControlDim() int { return 1 }

func (s *timeSpy) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earliest = math.Inf(1)
	s.latest = math.Inf(-1)
}

func (s *timeSpy) span() (earliest, latest float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earliest, s.latest
}
