package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// Pendulum is a torque-actuated damped pendulum, theta measured from the
// downward rest position. MaxOmega bounds the valid region; zero disables
// the check.
type Pendulum struct {
	Mass     float64
	Length   float64
	Damping  float64
	Gravity  float64
	MaxOmega float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{
		Mass:     1.0,
		Length:   1.0,
		Damping:  0.1,
		Gravity:  9.81,
		MaxOmega: 50.0,
	}
}

func (p *Pendulum) StateDim() int {
	return 2
}

func (p *Pendulum) ControlDim() int {
	return 1
}

func (p *Pendulum) inertia() float64 {
	return p.Mass * p.Length * p.Length
}

func (p *Pendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	theta := x[0]
	omega := x[1]

	torque := 0.0
	if len(u) > 0 {
		torque = u[0]
	}
	alpha := (-p.Damping*omega - p.Mass*p.Gravity*p.Length*math.Sin(theta) + torque) / p.inertia()

	return dynamo.State{omega, alpha}
}

func (p *Pendulum) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	in := p.inertia()
	a := mat.NewDense(2, 2, []float64{
		0, 1,
		-p.Mass * p.Gravity * p.Length * math.Cos(x[0]) / in, -p.Damping / in,
	})
	b := mat.NewDense(2, 1, []float64{0, 1 / in})
	return a, b
}

func (p *Pendulum) CheckDomain(x dynamo.State, u dynamo.Control, t float64) error {
	if p.MaxOmega > 0 && math.Abs(x[1]) > p.MaxOmega {
		return dynamo.DomainViolation(0, t, x, fmt.Sprintf("|omega| %.3f exceeds %.3f", math.Abs(x[1]), p.MaxOmega))
	}
	return nil
}

func (p *Pendulum) Energy(x dynamo.State) float64 {
	v := p.Length * x[1]
	ke := 0.5 * p.Mass * v * v
	pe := p.Mass * p.Gravity * p.Length * (1.0 - math.Cos(x[0]))
	return ke + pe
}

func (p *Pendulum) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      p.Mass,
		"length":    p.Length,
		"damping":   p.Damping,
		"gravity":   p.Gravity,
		"max_omega": p.MaxOmega,
	}
}

func (p *Pendulum) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		p.Mass = value
	case "length":
		p.Length = value
	case "damping":
		p.Damping = value
	case "gravity":
		p.Gravity = value
	case "max_omega":
		p.MaxOmega = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
