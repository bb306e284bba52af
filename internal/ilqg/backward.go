package ilqg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

var errNotPositiveDefinite = errors.New("ilqg: Q_uu not positive definite")

// expansion is the local LQ model around the nominal trajectory at one step.
type expansion struct {
	A, B *mat.Dense
	cost.Derivatives
}

// gains are the per-step corrections produced by the backward pass.
type gains struct {
	kff []*mat.VecDense
	K   []*mat.Dense
}

// backwardPass runs the Riccati recursion from the final step with damping
// mu on Q_uu. On a failed factorization it returns the failing step and
// errNotPositiveDefinite.
func backwardPass(exp []expansion, final cost.Derivatives, dt, mu float64) (gains, int, error) {
	steps := len(exp)
	g := gains{
		kff: make([]*mat.VecDense, steps),
		K:   make([]*mat.Dense, steps),
	}

	n := final.Lx.Len()
	vx := mat.VecDenseCopyOf(final.Lx)
	vxx := mat.NewDense(n, n, nil)
	vxx.Copy(final.Lxx)

	var (
		qx, qu, tmpV     mat.VecDense
		qxx, quu, qux    mat.Dense
		vxxA, vxxB, tmpM mat.Dense
		chol             mat.Cholesky
	)

	for k := steps - 1; k >= 0; k-- {
		e := exp[k]
		_, m := e.B.Dims()

		// Q_x = l_x dt + A' V_x, Q_u = l_u dt + B' V_x
		qx.MulVec(e.A.T(), vx)
		qx.AddScaledVec(&qx, dt, e.Lx)
		qu.MulVec(e.B.T(), vx)
		qu.AddScaledVec(&qu, dt, e.Lu)

		vxxA.Mul(vxx, e.A)
		vxxB.Mul(vxx, e.B)

		// Q_xx = l_xx dt + A' V_xx A
		qxx.Mul(e.A.T(), &vxxA)
		tmpM.Scale(dt, e.Lxx)
		qxx.Add(&qxx, &tmpM)

		// Q_uu = l_uu dt + B' V_xx B
		quu.Mul(e.B.T(), &vxxB)
		tmpM.Reset()
		tmpM.Scale(dt, e.Luu)
		quu.Add(&quu, &tmpM)

		// Q_ux = l_ux dt + B' V_xx A
		qux.Mul(e.B.T(), &vxxA)
		tmpM.Reset()
		tmpM.Scale(dt, e.Lux)
		qux.Add(&qux, &tmpM)
		tmpM.Reset()

		reg := mat.NewSymDense(m, nil)
		for i := 0; i < m; i++ {
			for j := i; j < m; j++ {
				reg.SetSym(i, j, 0.5*(quu.At(i, j)+quu.At(j, i)))
			}
			reg.SetSym(i, i, reg.At(i, i)+mu)
		}
		if ok := chol.Factorize(reg); !ok {
			return gains{}, k, errNotPositiveDefinite
		}

		kff := mat.NewVecDense(m, nil)
		if err := chol.SolveVecTo(kff, &qu); err != nil {
			return gains{}, k, errNotPositiveDefinite
		}
		kff.ScaleVec(-1, kff)

		fb := mat.NewDense(m, n, nil)
		if err := chol.SolveTo(fb, &qux); err != nil {
			return gains{}, k, errNotPositiveDefinite
		}
		fb.Scale(-1, fb)

		g.kff[k] = kff
		g.K[k] = fb

		// V_x = Q_x + K' Q_uu k + K' Q_u + Q_ux' k
		var quuK mat.Dense
		quuK.Mul(&quu, fb)
		tmpV.MulVec(quuK.T(), kff)
		vx.AddVec(&qx, &tmpV)
		tmpV.MulVec(fb.T(), &qu)
		vx.AddVec(vx, &tmpV)
		tmpV.MulVec(qux.T(), kff)
		vx.AddVec(vx, &tmpV)

		// V_xx = Q_xx + K' Q_uu K + K' Q_ux + Q_ux' K
		vxx.Mul(fb.T(), &quuK)
		vxx.Add(vxx, &qxx)
		tmpM.Mul(fb.T(), &qux)
		vxx.Add(vxx, &tmpM)
		tmpM.Reset()
		tmpM.Mul(qux.T(), fb)
		vxx.Add(vxx, &tmpM)
		tmpM.Reset()
		symmetrize(vxx)

		qx.Reset()
		qu.Reset()
		tmpV.Reset()
		qxx.Reset()
		quu.Reset()
		qux.Reset()
		vxxA.Reset()
		vxxB.Reset()
	}
	return g, -1, nil
}

func symmetrize(m *mat.Dense) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// regularizedBackwardPass retries the recursion with increasing damping.
// It returns the gains and the damping that succeeded.
func regularizedBackwardPass(exp []expansion, final cost.Derivatives, dt, mu float64, r RegularizationSettings) (gains, float64, error) {
	var (
		failedAt int
		attempts int
		err      error
	)
	for attempts < r.MaxAttempts {
		attempts++
		var g gains
		g, failedAt, err = backwardPass(exp, final, dt, mu)
		if err == nil {
			return g, mu, nil
		}
		mu *= r.Factor
		if mu < r.Min {
			mu = r.Min
		}
		if mu > r.Max {
			break
		}
	}
	return gains{}, mu, &dynamo.SimulationError{
		Step:    failedAt,
		Time:    float64(failedAt) * dt,
		Wrapped: fmt.Errorf("%w: damping %g after %d attempts", dynamo.ErrIllConditioned, mu, attempts),
	}
}
