package linalg

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
)

// FGMRES solves A x = b with flexible right-preconditioned GMRES,
// restarting every kdim iterations. The preconditioner may change
// between applications, which is what lets inner iterative solves
// serve as blocks. Convergence is on |r| <= max(relTol*|r0|, absTol).
func FGMRES(A *sparse.CSR, b, x []float64, prec Preconditioner, kdim, maxIter int, relTol, absTol float64) Stats {
	n := len(b)
	if prec == nil {
		prec = IdentityPrec{}
	}
	if kdim < 1 {
		kdim = 1
	}
	r := make([]float64, n)
	rnorm := Residual(A, x, b, r)
	tol := math.Max(relTol*rnorm, absTol)
	if rnorm <= tol {
		return Stats{Iterations: 0, Residual: rnorm, Converged: true}
	}

	V := make([][]float64, kdim+1)
	Z := make([][]float64, kdim)
	for i := range V {
		V[i] = make([]float64, n)
	}
	for i := range Z {
		Z[i] = make([]float64, n)
	}
	H := make([][]float64, kdim+1)
	for i := range H {
		H[i] = make([]float64, kdim)
	}
	cs := make([]float64, kdim)
	sn := make([]float64, kdim)
	g := make([]float64, kdim+1)

	total := 0
	for total < maxIter {
		beta := floats.Norm(r, 2)
		if beta <= tol {
			return Stats{Iterations: total, Residual: beta, Converged: true}
		}
		for i := range r {
			V[0][i] = r[i] / beta
		}
		for i := range g {
			g[i] = 0
		}
		g[0] = beta

		k := 0
		for ; k < kdim && total < maxIter; k++ {
			total++
			prec.Apply(Z[k], V[k])
			MulVec(A, Z[k], V[k+1])
			for i := 0; i <= k; i++ {
				h := floats.Dot(V[k+1], V[i])
				H[i][k] = h
				floats.AddScaled(V[k+1], -h, V[i])
			}
			h := floats.Norm(V[k+1], 2)
			H[k+1][k] = h
			if h > 0 {
				floats.Scale(1/h, V[k+1])
			}
			for i := 0; i < k; i++ {
				t := cs[i]*H[i][k] + sn[i]*H[i+1][k]
				H[i+1][k] = -sn[i]*H[i][k] + cs[i]*H[i+1][k]
				H[i][k] = t
			}
			rho := math.Hypot(H[k][k], H[k+1][k])
			if rho == 0 {
				rho = 2.2e-16
			}
			cs[k] = H[k][k] / rho
			sn[k] = H[k+1][k] / rho
			H[k][k] = rho
			H[k+1][k] = 0
			g[k+1] = -sn[k] * g[k]
			g[k] = cs[k] * g[k]
			if math.Abs(g[k+1]) <= tol {
				k++
				break
			}
		}

		// back substitution and update
		yk := make([]float64, k)
		for i := k - 1; i >= 0; i-- {
			s := g[i]
			for j := i + 1; j < k; j++ {
				s -= H[i][j] * yk[j]
			}
			yk[i] = s / H[i][i]
		}
		for i := 0; i < k; i++ {
			floats.AddScaled(x, yk[i], Z[i])
		}
		rnorm = Residual(A, x, b, r)
		if rnorm <= tol {
			return Stats{Iterations: total, Residual: rnorm, Converged: true}
		}
	}
	return Stats{Iterations: total, Residual: rnorm, Converged: false}
}
