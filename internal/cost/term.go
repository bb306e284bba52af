package cost

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

type Term interface {
	Name() string
	Dims() (stateDim, controlDim int)
	Evaluate(x dynamo.State, u dynamo.Control, t float64) float64
	StateDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.VecDense
	StateSecondDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.SymDense
	ControlDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.VecDense
	ControlSecondDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.SymDense
	StateControlDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.Dense
}

// TermQuadratic penalizes deviation from a desired state and control:
//
//	l = 1/2 dx'Q dx + 1/2 du'R du + du'P dx,  dx = x - XDes, du = u - UDes
//
// The zero value is not usable; build one with NewTermQuadratic.
type TermQuadratic struct {
	name string
	Q    *mat.SymDense
	R    *mat.SymDense
	// P may be nil.
	P    *mat.Dense
	XDes dynamo.State
	UDes dynamo.Control
}

func NewTermQuadratic(name string, q, r *mat.SymDense) *TermQuadratic {
	n := q.SymmetricDim()
	m := 0
	if r != nil {
		m = r.SymmetricDim()
	} else {
		r = &mat.SymDense{}
	}
	return &TermQuadratic{
		name: name,
		Q:    q,
		R:    r,
		XDes: make(dynamo.State, n),
		UDes: make(dynamo.Control, m),
	}
}

func (q *TermQuadratic) Name() string { return q.name }

func (q *TermQuadratic) Dims() (int, int) {
	m := 0
	if !q.R.IsEmpty() {
		m = q.R.SymmetricDim()
	}
	return q.Q.SymmetricDim(), m
}

// Validate checks that the weights, the cross term and the desired
// vectors agree in size.
func (q *TermQuadratic) Validate() error {
	n, m := q.Dims()
	if len(q.XDes) != n {
		return fmt.Errorf("cost term %q: x_des has %d entries, want %d", q.name, len(q.XDes), n)
	}
	if len(q.UDes) != m {
		return fmt.Errorf("cost term %q: u_des has %d entries, want %d", q.name, len(q.UDes), m)
	}
	if q.P != nil {
		r, c := q.P.Dims()
		if r != m || c != n {
			return fmt.Errorf("cost term %q: P is %dx%d, want %dx%d", q.name, r, c, m, n)
		}
	}
	return nil
}

func (q *TermQuadratic) deltas(x dynamo.State, u dynamo.Control) (*mat.VecDense, *mat.VecDense) {
	n, m := q.Dims()
	dx := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		dx.SetVec(i, x[i]-q.XDes[i])
	}
	if m == 0 {
		return dx, nil
	}
	du := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		ui := 0.0
		if i < len(u) {
			ui = u[i]
		}
		du.SetVec(i, ui-q.UDes[i])
	}
	return dx, du
}

func (q *TermQuadratic) Evaluate(x dynamo.State, u dynamo.Control, t float64) float64 {
	dx, du := q.deltas(x, u)
	val := 0.5 * mat.Inner(dx, q.Q, dx)
	if du != nil {
		val += 0.5 * mat.Inner(du, q.R, du)
		if q.P != nil {
			val += mat.Inner(du, q.P, dx)
		}
	}
	return val
}

func (q *TermQuadratic) StateDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.VecDense {
	dx, du := q.deltas(x, u)
	var g mat.VecDense
	g.MulVec(q.Q, dx)
	if du != nil && q.P != nil {
		var cross mat.VecDense
		cross.MulVec(q.P.T(), du)
		g.AddVec(&g, &cross)
	}
	return &g
}

func (q *TermQuadratic) StateSecondDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.SymDense {
	h := mat.NewSymDense(q.Q.SymmetricDim(), nil)
	h.CopySym(q.Q)
	return h
}

func (q *TermQuadratic) ControlDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.VecDense {
	_, m := q.Dims()
	if m == 0 {
		return &mat.VecDense{}
	}
	dx, du := q.deltas(x, u)
	var g mat.VecDense
	g.MulVec(q.R, du)
	if q.P != nil {
		var cross mat.VecDense
		cross.MulVec(q.P, dx)
		g.AddVec(&g, &cross)
	}
	return &g
}

func (q *TermQuadratic) ControlSecondDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.SymDense {
	_, m := q.Dims()
	if m == 0 {
		return &mat.SymDense{}
	}
	h := mat.NewSymDense(m, nil)
	h.CopySym(q.R)
	return h
}

func (q *TermQuadratic) StateControlDerivative(x dynamo.State, u dynamo.Control, t float64) *mat.Dense {
	n, m := q.Dims()
	if m == 0 {
		return &mat.Dense{}
	}
	if q.P == nil {
		return mat.NewDense(m, n, nil)
	}
	return mat.DenseCopyOf(q.P)
}
