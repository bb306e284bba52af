// Package ilqg implements an iterative linear-quadratic (iLQG) trajectory
// optimizer.
//
// Each iteration linearizes the dynamics and expands the cost around the
// nominal rollout, runs a backward Riccati recursion to obtain feedforward
// and feedback corrections, and rolls the corrected policy out with a
// backtracking line search. Accepted rollouts strictly decrease the total
// cost
//
//	J = sum_k l(x_k, u_k, t_k) dt + l_f(x_K)
//
// # Usage
//
//	s := ilqg.New(problem, ilqg.WithLogger(log))
//	if err := s.Configure(ilqg.DefaultSettings()); err != nil { ... }
//	s.SetInitialGuess(control.Zero(s.Settings().K(3.0), 2, 1, 0.001))
//	ok, err := s.Solve()   // err: misuse; !ok: see s.Err()
//	policy, _ := s.Solution()
//
// # Concurrency
//
// A Solver is not safe for concurrent use. Within one iteration the
// per-step linearization and cost expansion run on NThreads workers; the
// backward recursion and rollouts are sequential.
package ilqg
