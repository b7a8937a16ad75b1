package linalg

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
)

// MINRES solves A x = b for symmetric, possibly indefinite A using
// the Paige-Saunders recurrence. prec must be symmetric positive
// definite; nil means identity. Convergence is on the preconditioned
// residual norm against max(relTol*|r0|_M, absTol).
func MINRES(A *sparse.CSR, b, x []float64, prec Preconditioner, relTol, absTol float64, maxIter int) Stats {
	n := len(b)
	if prec == nil {
		prec = IdentityPrec{}
	}
	r1 := make([]float64, n)
	r2 := make([]float64, n)
	y := make([]float64, n)
	v := make([]float64, n)
	w := make([]float64, n)
	w1 := make([]float64, n)
	w2 := make([]float64, n)

	Residual(A, x, b, r1)
	prec.Apply(y, r1)
	beta1 := floats.Dot(r1, y)
	if beta1 < 0 {
		return Stats{Converged: false}
	}
	beta1 = math.Sqrt(beta1)
	if beta1 == 0 {
		return Stats{Iterations: 0, Residual: 0, Converged: true}
	}
	tol := math.Max(relTol*beta1, absTol)
	copy(r2, r1)

	var (
		oldb, epsln, dbar, sn float64
		beta                  = beta1
		phibar                = beta1
		cs                    = -1.0
		qrnorm                = beta1
	)
	for it := 1; it <= maxIter; it++ {
		s := 1 / beta
		for i := range v {
			v[i] = s * y[i]
		}
		MulVec(A, v, y)
		if it >= 2 {
			floats.AddScaled(y, -beta/oldb, r1)
		}
		alfa := floats.Dot(v, y)
		floats.AddScaled(y, -alfa/beta, r2)
		r1, r2, y = r2, y, r1
		prec.Apply(y, r2)
		oldb = beta
		beta = floats.Dot(r2, y)
		if beta < 0 {
			return Stats{Iterations: it, Residual: qrnorm, Converged: false}
		}
		beta = math.Sqrt(beta)

		oldeps := epsln
		delta := cs*dbar + sn*alfa
		gbar := sn*dbar - cs*alfa
		epsln = sn * beta
		dbar = -cs * beta
		gamma := math.Sqrt(gbar*gbar + beta*beta)
		if gamma < 2.2e-16 {
			gamma = 2.2e-16
		}
		cs = gbar / gamma
		sn = beta / gamma
		phi := cs * phibar
		phibar = sn * phibar

		w1, w2, w = w2, w, w1
		for i := range w {
			w[i] = (v[i] - oldeps*w1[i] - delta*w2[i]) / gamma
		}
		floats.AddScaled(x, phi, w)
		qrnorm = phibar
		if qrnorm <= tol {
			return Stats{Iterations: it, Residual: qrnorm, Converged: true}
		}
	}
	return Stats{Iterations: maxIter, Residual: qrnorm, Converged: false}
}
