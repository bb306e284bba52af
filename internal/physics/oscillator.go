package physics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// SecondOrderSystem is a damped linear oscillator driven by a force input:
//
//	x0' = x1
//	x1' = Gdc*u - 2*Zeta*Wn*x1 - Wn^2*x0
type SecondOrderSystem struct {
	Wn   float64
	Zeta float64
	Gdc  float64
}

func NewSecondOrderSystem(wn, zeta float64) *SecondOrderSystem {
	return &SecondOrderSystem{Wn: wn, Zeta: zeta, Gdc: 1.0}
}

func (s *SecondOrderSystem) StateDim() int   { return 2 }
func (s *SecondOrderSystem) ControlDim() int { return 1 }

func (s *SecondOrderSystem) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}
	return dynamo.State{
		x[1],
		s.Gdc*force - 2.0*s.Zeta*s.Wn*x[1] - s.Wn*s.Wn*x[0],
	}
}

func (s *SecondOrderSystem) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	a := mat.NewDense(2, 2, []float64{
		0, 1,
		-s.Wn * s.Wn, -2.0 * s.Zeta * s.Wn,
	})
	b := mat.NewDense(2, 1, []float64{0, s.Gdc})
	return a, b
}

func (s *SecondOrderSystem) GetParams() map[string]float64 {
	return map[string]float64{
		"wn":   s.Wn,
		"zeta": s.Zeta,
		"gdc":  s.Gdc,
	}
}

func (s *SecondOrderSystem) SetParam(name string, value float64) error {
	switch name {
	case "wn":
		s.Wn = value
	case "zeta":
		s.Zeta = value
	case "gdc":
		s.Gdc = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
