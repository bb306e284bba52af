// Package control provides the controllers produced and consumed by the
// optimizer.
//
// Controllers implement the [dynamo.Controller] interface:
//
//   - [StateFeedback]: time-varying feedforward plus linear state feedback,
//     the policy type returned by iLQG and MPC
//   - [None]: zero control
//
// # Usage
//
//	policy := control.Zero(3000, 2, 1, 0.001) // all-zero initial guess
//	u := policy.Compute(x, 0.25)              // nearest step round(t/dt)
package control
