// Package cost provides cost functions for optimal control problems.
//
// A cost [Function] is the sum of intermediate terms l(x, u, t), integrated
// over the horizon, and final terms l_f(x) evaluated at the last state. Every
// [Term] exposes the gradients and Hessian blocks the backward pass needs:
//
//	l_x, l_u     first derivatives
//	l_xx, l_uu   second derivatives (symmetric)
//	l_ux         mixed second derivative, m x n
//
// Terms are usually read from a YAML file with one section per term:
//
//	fn, err := cost.LoadFunction("mpcCost.yaml", 2, 1, "intermediateCost", "finalCost")
package cost
