// Package dynamo provides the core primitives shared by the optimizer and the
// MPC loop.
//
// The package defines the vocabulary every other package speaks:
//
//   - [State], [Control]: plain float vectors
//   - [System]: continuous dynamics dX/dt = f(X, u, t)
//   - [DiscreteSystem]: successor map x[k+1] = f(x[k], u[k], k)
//   - [Linear]: analytic Jacobians of either kind of system
//   - [Controller]: anything that maps (x, t) to a control, e.g. a feedback policy
//   - [Simulator]: runs a plant in closed loop with a controller
//
// # Example
//
//	dyn := physics.NewSecondOrderSystem(0.1, 5.0)
//	sim := dynamo.New(dyn, integrators.NewRK4(), policy)
//	result, _ := sim.Run(ctx, x0, dynamo.DefaultConfig())
//
// # Errors
//
// Sentinel errors such as [ErrDomain] and [ErrIllConditioned] are wrapped with
// step context in [SimulationError]; match them with errors.Is.
//
// # Thread Safety
//
// Simulator instances are NOT thread-safe. Systems passed to the optimizer
// must tolerate concurrent Derive calls when linearization runs on more than
// one worker.
package dynamo
