package ilqg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/optcon"
)

// trajectory is one rollout: K+1 states, K controls and the total cost.
type trajectory struct {
	xs   []dynamo.State
	us   []dynamo.Control
	cost float64
}

// rollout simulates the policy from x0 and accumulates the discretized cost.
func rollout(flow *optcon.Flow, fn *cost.Function, policy *control.StateFeedback, x0 dynamo.State) (trajectory, error) {
	steps := policy.Len()
	dt := flow.Dt
	end := flow.Time(steps)
	tr := trajectory{
		xs: make([]dynamo.State, steps+1),
		us: make([]dynamo.Control, steps),
	}
	tr.xs[0] = x0.Clone()

	for k := 0; k < steps; k++ {
		t := flow.Time(k)
		x := tr.xs[k]
		u := policy.At(k, x)
		if !u.IsValid() {
			return tr, dynamo.DomainViolation(k, t, x, "non-finite control")
		}
		tr.cost += fn.Intermediate(x, u, t) * dt

		next, err := flow.Step(x, u, k)
		if err != nil {
			return tr, fmt.Errorf("rollout step %d: %w", k, err)
		}
		tr.us[k] = u
		tr.xs[k+1] = next
	}
	tr.cost += fn.Final(tr.xs[steps], end)

	if math.IsNaN(tr.cost) || math.IsInf(tr.cost, 0) {
		return tr, dynamo.DomainViolation(steps, end, tr.xs[steps], "non-finite cost")
	}
	return tr, nil
}

// candidate builds u = u_nom + alpha k + K (x - x_nom) as a policy.
func candidate(nominal trajectory, g gains, alpha, dt float64) *control.StateFeedback {
	steps := len(nominal.us)
	p := &control.StateFeedback{
		Uff:  make([]dynamo.Control, steps),
		K:    g.K,
		Xref: nominal.xs[:steps],
		Dt:   dt,
	}
	for k := 0; k < steps; k++ {
		u := nominal.us[k].Clone()
		for i := range u {
			u[i] += alpha * g.kff[k].AtVec(i)
		}
		p.Uff[k] = u
	}
	return p
}

// lineSearchResult reports the outcome of one forward pass.
type lineSearchResult struct {
	accepted bool
	alpha    float64
	traj     trajectory
	// valid is false when every candidate hit an error.
	valid   bool
	lastErr error
}

// lineSearch tries the step schedule in order and accepts the first
// rollout that strictly lowers the nominal cost.
func lineSearch(flow *optcon.Flow, fn *cost.Function, nominal trajectory, g gains, x0 dynamo.State, alphas []float64) lineSearchResult {
	var res lineSearchResult
	for _, alpha := range alphas {
		tr, err := rollout(flow, fn, candidate(nominal, g, alpha, flow.Dt), x0)
		if err != nil {
			res.lastErr = err
			continue
		}
		res.valid = true
		if tr.cost < nominal.cost {
			res.accepted = true
			res.alpha = alpha
			res.traj = tr
			return res
		}
	}
	return res
}

// policyFrom packages a nominal trajectory and its feedback gains.
func policyFrom(tr trajectory, gainsK []*mat.Dense, dt float64) *control.StateFeedback {
	steps := len(tr.us)
	p := &control.StateFeedback{
		Uff:  make([]dynamo.Control, steps),
		K:    make([]*mat.Dense, steps),
		Xref: make([]dynamo.State, steps),
		Dt:   dt,
	}
	for k := 0; k < steps; k++ {
		p.Uff[k] = tr.us[k].Clone()
		p.K[k] = mat.DenseCopyOf(gainsK[k])
		p.Xref[k] = tr.xs[k].Clone()
	}
	return p
}
