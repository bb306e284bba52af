package cost

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

// Derivatives holds the quadratic expansion of a cost at one point.
// For final costs the control blocks are empty.
type Derivatives struct {
	Lx  *mat.VecDense
	Lu  *mat.VecDense
	Lxx *mat.SymDense
	Luu *mat.SymDense
	Lux *mat.Dense
}

// Function sums intermediate and final terms. Terms are shared between
// clones, so they must not be modified once a solve has started.
type Function struct {
	n, m         int
	intermediate []Term
	final        []Term
}

func NewFunction(stateDim, controlDim int) *Function {
	return &Function{n: stateDim, m: controlDim}
}

func (f *Function) StateDim() int   { return f.n }
func (f *Function) ControlDim() int { return f.m }

func (f *Function) AddIntermediateTerm(t Term) error {
	if err := f.checkTerm(t); err != nil {
		return err
	}
	f.intermediate = append(f.intermediate, t)
	return nil
}

func (f *Function) AddFinalTerm(t Term) error {
	n, _ := t.Dims()
	if n != f.n {
		return fmt.Errorf("%w: final term %q has state dim %d, want %d", dynamo.ErrDimensionMismatch, t.Name(), n, f.n)
	}
	f.final = append(f.final, t)
	return nil
}

func (f *Function) checkTerm(t Term) error {
	n, m := t.Dims()
	if n != f.n || m != f.m {
		return fmt.Errorf("%w: term %q is %dx%d, want %dx%d", dynamo.ErrDimensionMismatch, t.Name(), n, m, f.n, f.m)
	}
	return nil
}

func (f *Function) IntermediateTerms() []Term { return f.intermediate }
func (f *Function) FinalTerms() []Term        { return f.final }

func (f *Function) Intermediate(x dynamo.State, u dynamo.Control, t float64) float64 {
	sum := 0.0
	for _, term := range f.intermediate {
		sum += term.Evaluate(x, u, t)
	}
	return sum
}

func (f *Function) Final(x dynamo.State, t float64) float64 {
	sum := 0.0
	for _, term := range f.final {
		sum += term.Evaluate(x, nil, t)
	}
	return sum
}

// IntermediateDerivatives returns the summed expansion of all intermediate
// terms at (x, u, t).
func (f *Function) IntermediateDerivatives(x dynamo.State, u dynamo.Control, t float64) Derivatives {
	d := f.zero(true)
	for _, term := range f.intermediate {
		d.Lx.AddVec(d.Lx, term.StateDerivative(x, u, t))
		d.Lxx.AddSym(d.Lxx, term.StateSecondDerivative(x, u, t))
		if f.m > 0 {
			d.Lu.AddVec(d.Lu, term.ControlDerivative(x, u, t))
			d.Luu.AddSym(d.Luu, term.ControlSecondDerivative(x, u, t))
			d.Lux.Add(d.Lux, term.StateControlDerivative(x, u, t))
		}
	}
	return d
}

func (f *Function) FinalDerivatives(x dynamo.State, t float64) Derivatives {
	d := f.zero(false)
	for _, term := range f.final {
		d.Lx.AddVec(d.Lx, term.StateDerivative(x, nil, t))
		d.Lxx.AddSym(d.Lxx, term.StateSecondDerivative(x, nil, t))
	}
	return d
}

func (f *Function) zero(withControl bool) Derivatives {
	d := Derivatives{
		Lx:  mat.NewVecDense(f.n, nil),
		Lxx: mat.NewSymDense(f.n, nil),
		Lu:  &mat.VecDense{},
		Luu: &mat.SymDense{},
		Lux: &mat.Dense{},
	}
	if withControl && f.m > 0 {
		d.Lu = mat.NewVecDense(f.m, nil)
		d.Luu = mat.NewSymDense(f.m, nil)
		d.Lux = mat.NewDense(f.m, f.n, nil)
	}
	return d
}

// Clone returns a function with its own term slices.
func (f *Function) Clone() *Function {
	c := &Function{n: f.n, m: f.m}
	c.intermediate = append([]Term(nil), f.intermediate...)
	c.final = append([]Term(nil), f.final...)
	return c
}
