// Package metrics holds closed-loop metrics observed by dynamo.Simulator.
package metrics

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// ControlEffort is the mean Euclidean norm of the applied controls.
type ControlEffort struct {
	name    string
	sum     float64
	peak    float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	norm := 0.0
	if len(u) > 0 {
		norm = floats.Norm(u, 2)
	}
	c.sum += norm
	c.peak = max(c.peak, norm)
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

// Peak is the largest control norm seen since the last Reset.
func (c *ControlEffort) Peak() float64 { return c.peak }

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.peak = 0
	c.samples = 0
}
