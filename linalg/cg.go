package linalg

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
)

// Stats reports the outcome of an iterative solve.
type Stats struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// PCG solves A x = b with preconditioned conjugate gradients,
// starting from the incoming x. Convergence is declared when the
// residual 2-norm drops below max(relTol*|r0|, absTol). With both
// tolerances zero it runs exactly maxIter iterations.
func PCG(A *sparse.CSR, b, x []float64, prec Preconditioner, relTol, absTol float64, maxIter int) Stats {
	n := len(b)
	if prec == nil {
		prec = IdentityPrec{}
	}
	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	rnorm := Residual(A, x, b, r)
	tol := math.Max(relTol*rnorm, absTol)
	if rnorm <= tol && (relTol > 0 || absTol > 0) {
		return Stats{Iterations: 0, Residual: rnorm, Converged: true}
	}
	prec.Apply(z, r)
	copy(p, z)
	rz := floats.Dot(r, z)

	for it := 1; it <= maxIter; it++ {
		MulVec(A, p, ap)
		pap := floats.Dot(p, ap)
		if pap <= 0 || rz == 0 {
			return Stats{Iterations: it - 1, Residual: rnorm, Converged: false}
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		rnorm = floats.Norm(r, 2)
		if rnorm <= tol && (relTol > 0 || absTol > 0) {
			return Stats{Iterations: it, Residual: rnorm, Converged: true}
		}
		prec.Apply(z, r)
		rzNew := floats.Dot(r, z)
		beta := rzNew / rz
		rz = rzNew
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	return Stats{Iterations: maxIter, Residual: rnorm, Converged: false}
}
