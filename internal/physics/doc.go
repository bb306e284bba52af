// Package physics provides concrete plants for the optimizer and the MPC loop.
//
//   - [SecondOrderSystem]: damped linear oscillator with a force input
//   - [Pendulum]: torque-driven nonlinear pendulum with a bounded valid region
//   - [CartPole]: pole balanced on a cart, linearized numerically
//
// The oscillator and the pendulum implement [dynamo.Linear]. All models
// implement GetParams/SetParam for runtime parameter changes.
package physics
