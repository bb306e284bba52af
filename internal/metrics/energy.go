package metrics

import (
	"math"

	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// Energetic is implemented by plants with a mechanical energy.
type Energetic interface {
	Energy(x dynamo.State) float64
}

// Energy reports the energy of the last observed state.
type Energy struct {
	name    string
	plant   Energetic
	last    float64
	samples int
}

func NewEnergy(plant Energetic) *Energy {
	return &Energy{name: "energy", plant: plant}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(x dynamo.State, u dynamo.Control, t float64) {
	e.last = e.plant.Energy(x)
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.last
}

func (e *Energy) Reset() {
	e.last = 0
	e.samples = 0
}

// TrackingCost integrates the intermediate cost of a cost function along the
// closed-loop trajectory, so runs can be compared with the optimizer's
// prediction.
type TrackingCost struct {
	name  string
	fn    *cost.Function
	dt    float64
	total float64
	bad   bool
}

func NewTrackingCost(fn *cost.Function, dt float64) *TrackingCost {
	return &TrackingCost{name: "tracking_cost", fn: fn, dt: dt}
}

func (c *TrackingCost) Name() string { return c.name }

func (c *TrackingCost) Observe(x dynamo.State, u dynamo.Control, t float64) {
	l := c.fn.Intermediate(x, u, t)
	if math.IsNaN(l) || math.IsInf(l, 0) {
		c.bad = true
		return
	}
	c.total += l * c.dt
}

// Value is +Inf once a non-finite stage cost was observed.
func (c *TrackingCost) Value() float64 {
	if c.bad {
		return math.Inf(1)
	}
	return c.total
}

func (c *TrackingCost) Reset() {
	c.total = 0
	c.bad = false
}
