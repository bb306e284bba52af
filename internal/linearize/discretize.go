package linearize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type Discretization int

const (
	// ZeroOrderHold is exact for linear dynamics with piecewise-constant input:
	// exp([[A B]; [0 0]] * dt).
	ZeroOrderHold Discretization = iota
	// ForwardEuler uses Ad = I + dt*A, Bd = dt*B.
	ForwardEuler
)

func ParseDiscretization(name string) (Discretization, error) {
	switch name {
	case "", "zoh":
		return ZeroOrderHold, nil
	case "euler":
		return ForwardEuler, nil
	default:
		return ZeroOrderHold, fmt.Errorf("unknown discretization: %s", name)
	}
}

func (d Discretization) String() string {
	if d == ForwardEuler {
		return "euler"
	}
	return "zoh"
}

// Discretize converts continuous Jacobians (n x n, n x m) to their discrete
// counterparts over one step of length dt.
func Discretize(a, b *mat.Dense, dt float64, method Discretization) (*mat.Dense, *mat.Dense) {
	n, _ := a.Dims()
	m := 0
	if b != nil && !b.IsEmpty() {
		_, m = b.Dims()
	}

	if method == ForwardEuler {
		ad := mat.NewDense(n, n, nil)
		ad.Scale(dt, a)
		for i := 0; i < n; i++ {
			ad.Set(i, i, ad.At(i, i)+1)
		}
		if m == 0 {
			return ad, &mat.Dense{}
		}
		bd := mat.NewDense(n, m, nil)
		bd.Scale(dt, b)
		return ad, bd
	}

	block := mat.NewDense(n+m, n+m, nil)
	block.Slice(0, n, 0, n).(*mat.Dense).Scale(dt, a)
	if m > 0 {
		block.Slice(0, n, n, n+m).(*mat.Dense).Scale(dt, b)
	}

	var e mat.Dense
	e.Exp(block)

	ad := mat.DenseCopyOf(e.Slice(0, n, 0, n))
	if m == 0 {
		return ad, &mat.Dense{}
	}
	return ad, mat.DenseCopyOf(e.Slice(0, n, n, n+m))
}
