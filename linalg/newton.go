package linalg

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NewtonStats reports the outcome of a Newton solve.
type NewtonStats struct {
	Iterations       int
	LinearIterations int
	Residual         float64
	Converged        bool
}

// Newton iterates x <- x - dx where step solves J(x) dx = r(x). The
// residual callback fills r at the current x; step returns the inner
// linear iteration count. Convergence is on |r| against
// max(relTol*|r0|, absTol).
func Newton(x []float64,
	residual func(x, r []float64) error,
	step func(x, r, dx []float64) (int, error),
	relTol, absTol float64, maxIter int) (NewtonStats, error) {

	n := len(x)
	r := make([]float64, n)
	dx := make([]float64, n)
	var st NewtonStats

	if err := residual(x, r); err != nil {
		return st, err
	}
	norm0 := floats.Norm(r, 2)
	st.Residual = norm0
	tol := math.Max(relTol*norm0, absTol)

	for it := 0; it < maxIter; it++ {
		if st.Residual <= tol {
			st.Converged = true
			return st, nil
		}
		lin, err := step(x, r, dx)
		if err != nil {
			return st, err
		}
		st.LinearIterations += lin
		floats.Sub(x, dx)
		st.Iterations++
		if err := residual(x, r); err != nil {
			return st, err
		}
		st.Residual = floats.Norm(r, 2)
		if math.IsNaN(st.Residual) || math.IsInf(st.Residual, 0) {
			return st, nil
		}
	}
	st.Converged = st.Residual <= tol
	return st, nil
}
