package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// ByName returns a fresh integrator for a config name.
func ByName(name string) (dynamo.Integrator, error) {
	switch name {
	case "", "rk4":
		return NewRK4(), nil
	case "euler":
		return NewEuler(), nil
	default:
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
}

// Integrate advances x from t over the interval dt holding u constant, using
// substeps no longer than dtSim. Every substep is checked against the
// system's domain and for NaN/Inf; violations are returned as errors
// wrapping dynamo.ErrDomain.
func Integrate(integ dynamo.Integrator, dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, dtSim float64) (dynamo.State, error) {
	if dtSim <= 0 || dtSim > dt {
		dtSim = dt
	}
	steps := int(math.Ceil(dt/dtSim - 1e-9))
	if steps < 1 {
		steps = 1
	}
	h := dt / float64(steps)

	checker, _ := dyn.(dynamo.DomainChecker)

	cur := x
	for i := 0; i < steps; i++ {
		ti := t + float64(i)*h
		if checker != nil {
			if err := checker.CheckDomain(cur, u, ti); err != nil {
				return nil, err
			}
		}
		cur = integ.Step(dyn, cur, u, ti, h)
		if !cur.IsValid() {
			return nil, dynamo.DomainViolation(i, ti+h, cur, "non-finite state")
		}
	}
	if checker != nil {
		if err := checker.CheckDomain(cur, u, t+dt); err != nil {
			return nil, err
		}
	}
	return cur, nil
}
