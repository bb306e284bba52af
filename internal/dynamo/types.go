package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Vec views the state as a gonum vector without copying.
func (s State) Vec() *mat.VecDense {
	if len(s) == 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(len(s), s)
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

func (u Control) IsValid() bool {
	return State(u).IsValid()
}

// Vec views the control as a gonum vector without copying.
func (u Control) Vec() *mat.VecDense {
	return State(u).Vec()
}

// System is a continuous-time plant: dX/dt = f(X, u, t).
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

// DiscreteSystem is a plant given directly as a successor map x[k+1] = f(x[k], u[k], k).
type DiscreteSystem interface {
	Propagate(x State, u Control, k int) State
	StateDim() int
	ControlDim() int
}

// Linear is implemented by systems that provide analytic Jacobians
// A = df/dx (n x n) and B = df/du (n x m) of Derive (or Propagate for
// discrete systems).
type Linear interface {
	Jacobians(x State, u Control, t float64) (A, B *mat.Dense)
}

// DomainChecker is implemented by systems with a restricted valid region.
// The returned error must wrap ErrDomain.
type DomainChecker interface {
	CheckDomain(x State, u Control, t float64) error
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

type Config struct {
	Dt            float64
	Duration      float64
	Seed          int64
	ValidateState bool
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.001,
		Duration:      3.0,
		ValidateState: true,
	}
}

type Result struct {
	States     []State
	Controls   []Control
	Times      []float64
	Metrics    map[string]float64
	StepsTaken int
	Errors     []error
}

type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}

// CheckDims returns ErrDimensionMismatch if x or u do not fit sys.
func CheckDims(stateDim, controlDim int, x State, u Control) error {
	if len(x) != stateDim {
		return fmt.Errorf("%w: state has %d entries, want %d", ErrDimensionMismatch, len(x), stateDim)
	}
	if u != nil && len(u) != controlDim {
		return fmt.Errorf("%w: control has %d entries, want %d", ErrDimensionMismatch, len(u), controlDim)
	}
	return nil
}
