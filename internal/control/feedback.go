package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// StateFeedback is a time-indexed policy
//
//	u = Uff[k] + K[k] (x - Xref[k]),  k = round(t / Dt)
//
// where t is measured from the start of the policy. Xref may be nil, in
// which case the reference is zero. K[k] is m x n.
type StateFeedback struct {
	Uff  []dynamo.Control
	K    []*mat.Dense
	Xref []dynamo.State
	Dt   float64
}

// Zero returns a policy of the given length with zero feedforward and
// zero gains.
func Zero(steps, stateDim, controlDim int, dt float64) *StateFeedback {
	p := &StateFeedback{
		Uff:  make([]dynamo.Control, steps),
		K:    make([]*mat.Dense, steps),
		Xref: make([]dynamo.State, steps),
		Dt:   dt,
	}
	for k := 0; k < steps; k++ {
		p.Uff[k] = make(dynamo.Control, controlDim)
		p.K[k] = zeroGain(controlDim, stateDim)
		p.Xref[k] = make(dynamo.State, stateDim)
	}
	return p
}

func zeroGain(m, n int) *mat.Dense {
	if m == 0 || n == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(m, n, nil)
}

func copyGain(g *mat.Dense) *mat.Dense {
	if g.IsEmpty() {
		return &mat.Dense{}
	}
	return mat.DenseCopyOf(g)
}

func (p *StateFeedback) Len() int { return len(p.Uff) }

// Horizon is the time span covered by the policy.
func (p *StateFeedback) Horizon() float64 { return float64(p.Len()) * p.Dt }

// Dims returns the state and control dimension, inferred from the first
// gain. An empty policy reports 0, 0.
func (p *StateFeedback) Dims() (stateDim, controlDim int) {
	if p.Len() == 0 || p.K[0].IsEmpty() {
		if p.Len() > 0 {
			return 0, len(p.Uff[0])
		}
		return 0, 0
	}
	m, n := p.K[0].Dims()
	return n, m
}

func (p *StateFeedback) Validate() error {
	if p.Dt <= 0 {
		return fmt.Errorf("%w: policy dt %g", dynamo.ErrInvalidHorizon, p.Dt)
	}
	if len(p.K) != len(p.Uff) {
		return fmt.Errorf("%w: %d feedforward entries, %d gains", dynamo.ErrDimensionMismatch, len(p.Uff), len(p.K))
	}
	if p.Xref != nil && len(p.Xref) != len(p.Uff) {
		return fmt.Errorf("%w: %d feedforward entries, %d reference states", dynamo.ErrDimensionMismatch, len(p.Uff), len(p.Xref))
	}
	n, m := p.Dims()
	for k := range p.Uff {
		if len(p.Uff[k]) != m {
			return fmt.Errorf("%w: feedforward %d has %d entries, want %d", dynamo.ErrDimensionMismatch, k, len(p.Uff[k]), m)
		}
		if p.K[k] == nil {
			return fmt.Errorf("%w: gain %d is nil", dynamo.ErrDimensionMismatch, k)
		}
		if !p.K[k].IsEmpty() {
			r, c := p.K[k].Dims()
			if r != m || c != n {
				return fmt.Errorf("%w: gain %d is %dx%d, want %dx%d", dynamo.ErrDimensionMismatch, k, r, c, m, n)
			}
		}
		if p.Xref != nil && len(p.Xref[k]) != n {
			return fmt.Errorf("%w: reference state %d has %d entries, want %d", dynamo.ErrDimensionMismatch, k, len(p.Xref[k]), n)
		}
	}
	return nil
}

// Index maps a time since the policy start to the nearest step, clamped to
// the valid range.
func (p *StateFeedback) Index(t float64) int {
	k := int(math.Round(t / p.Dt))
	if k < 0 {
		return 0
	}
	if k >= p.Len() {
		return p.Len() - 1
	}
	return k
}

// At evaluates the control law at step k.
func (p *StateFeedback) At(k int, x dynamo.State) dynamo.Control {
	u := p.Uff[k].Clone()
	gain := p.K[k]
	if gain.IsEmpty() {
		return u
	}
	m, n := gain.Dims()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			dx := x[j]
			if p.Xref != nil {
				dx -= p.Xref[k][j]
			}
			u[i] += gain.At(i, j) * dx
		}
	}
	return u
}

// Compute implements dynamo.Controller. It returns nil for an empty policy.
func (p *StateFeedback) Compute(x dynamo.State, t float64) dynamo.Control {
	if p.Len() == 0 {
		return nil
	}
	return p.At(p.Index(t), x)
}

func (p *StateFeedback) Clone() *StateFeedback {
	c := &StateFeedback{
		Uff: make([]dynamo.Control, len(p.Uff)),
		K:   make([]*mat.Dense, len(p.K)),
		Dt:  p.Dt,
	}
	for k := range p.Uff {
		c.Uff[k] = p.Uff[k].Clone()
	}
	for k := range p.K {
		c.K[k] = copyGain(p.K[k])
	}
	if p.Xref != nil {
		c.Xref = make([]dynamo.State, len(p.Xref))
		for k := range p.Xref {
			c.Xref[k] = p.Xref[k].Clone()
		}
	}
	return c
}

// ShiftFront drops the first steps entries. Shifting past the end leaves
// an empty policy.
func (p *StateFeedback) ShiftFront(steps int) {
	if steps <= 0 {
		return
	}
	if steps > p.Len() {
		steps = p.Len()
	}
	p.Uff = p.Uff[steps:]
	p.K = p.K[steps:]
	if p.Xref != nil {
		p.Xref = p.Xref[steps:]
	}
}

// Resize truncates the policy to length k or pads it by repeating the last
// entry. An empty policy cannot be padded.
func (p *StateFeedback) Resize(k int) error {
	if k < 0 {
		return fmt.Errorf("%w: negative policy length %d", dynamo.ErrInvalidHorizon, k)
	}
	if k <= p.Len() {
		p.Uff = p.Uff[:k]
		p.K = p.K[:k]
		if p.Xref != nil {
			p.Xref = p.Xref[:k]
		}
		return nil
	}
	if p.Len() == 0 {
		return fmt.Errorf("%w: cannot pad an empty policy", dynamo.ErrDimensionMismatch)
	}

	last := p.Len() - 1
	for p.Len() < k {
		p.Uff = append(p.Uff, p.Uff[last].Clone())
		p.K = append(p.K, copyGain(p.K[last]))
		if p.Xref != nil {
			p.Xref = append(p.Xref, p.Xref[last].Clone())
		}
	}
	return nil
}

// Equal reports whether both policies agree entrywise within tol.
func (p *StateFeedback) Equal(other *StateFeedback, tol float64) bool {
	if other == nil || p.Len() != other.Len() || math.Abs(p.Dt-other.Dt) > tol {
		return false
	}
	if (p.Xref == nil) != (other.Xref == nil) {
		return false
	}
	for k := range p.Uff {
		if !vecEqual(p.Uff[k], other.Uff[k], tol) {
			return false
		}
		if !mat.EqualApprox(p.K[k], other.K[k], tol) {
			return false
		}
		if p.Xref != nil && !vecEqual(p.Xref[k], other.Xref[k], tol) {
			return false
		}
	}
	return true
}

func vecEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
