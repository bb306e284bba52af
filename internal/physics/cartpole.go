package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// CartPole is a pole on a force-driven cart. State is (position, velocity,
// theta, omega) with theta = 0 upright. It has no analytic Jacobians and is
// linearized by finite differences. MaxPosition bounds the track; zero
// disables the check.
type CartPole struct {
	CartMass    float64
	PoleMass    float64
	PoleLength  float64
	Gravity     float64
	MaxPosition float64
}

func NewCartPole() *CartPole {
	return &CartPole{
		CartMass:    1.0,
		PoleMass:    0.1,
		PoleLength:  1.0,
		Gravity:     9.81,
		MaxPosition: 10.0,
	}
}

func (c *CartPole) StateDim() int {
	return 4
}

func (c *CartPole) ControlDim() int {
	return 1
}

func (c *CartPole) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	vel := x[1]
	theta := x[2]
	omega := x[3]

	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}

	mc := c.CartMass
	mp := c.PoleMass
	l := c.PoleLength
	total := mc + mp

	sint := math.Sin(theta)
	cost := math.Cos(theta)

	temp := (force + mp*l*omega*omega*sint) / total
	thetaacc := (c.Gravity*sint - cost*temp) / (l * (4.0/3.0 - mp*cost*cost/total))
	xacc := temp - mp*l*thetaacc*cost/total

	return dynamo.State{vel, xacc, omega, thetaacc}
}

func (c *CartPole) CheckDomain(x dynamo.State, u dynamo.Control, t float64) error {
	if c.MaxPosition > 0 && math.Abs(x[0]) > c.MaxPosition {
		return dynamo.DomainViolation(0, t, x, fmt.Sprintf("|position| %.3f exceeds %.3f", math.Abs(x[0]), c.MaxPosition))
	}
	return nil
}

func (c *CartPole) GetParams() map[string]float64 {
	return map[string]float64{
		"cart_mass":    c.CartMass,
		"pole_mass":    c.PoleMass,
		"pole_length":  c.PoleLength,
		"gravity":      c.Gravity,
		"max_position": c.MaxPosition,
	}
}

func (c *CartPole) SetParam(name string, value float64) error {
	switch name {
	case "cart_mass":
		c.CartMass = value
	case "pole_mass":
		c.PoleMass = value
	case "pole_length":
		c.PoleLength = value
	case "gravity":
		c.Gravity = value
	case "max_position":
		c.MaxPosition = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
