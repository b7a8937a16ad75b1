package linalg

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EigenResult holds the smallest eigenpairs of K x = lambda M x.
// Vectors[k] is the eigenvector for Values[k], M-normalized.
type EigenResult struct {
	Values      []float64
	Vectors     [][]float64
	Iterations  int
	MaxResidual float64
	Converged   bool
}

// LOBPCG computes the m smallest eigenpairs of the symmetric pencil
// (K, M) by locally optimal block preconditioned conjugate gradients
// with a [X W P] Rayleigh-Ritz subspace. The start block is seeded
// deterministically. Small problems go straight to the dense path.
func LOBPCG(K, M *sparse.CSR, m int, seed int64, tol float64, maxIter int, prec Preconditioner) (*EigenResult, error) {
	n, _ := K.Dims()
	if m < 1 {
		return nil, fmt.Errorf("number of eigenpairs must be positive, got %d", m)
	}
	if m > n {
		return nil, fmt.Errorf("requested %d eigenpairs of a %d-dof system", m, n)
	}
	if n < 5*m {
		return DenseGeneralizedEig(K, M, m)
	}

	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, m)
	for k := range X {
		X[k] = make([]float64, n)
		for i := range X[k] {
			X[k][i] = 2*rng.Float64() - 1
		}
	}
	buf := make([]float64, n)
	if err := mOrthonormalize(M, X, buf); err != nil {
		return nil, err
	}
	vals, X, _, err := rayleighRitz(K, X, m)
	if err != nil {
		return nil, err
	}

	var P [][]float64
	res := &EigenResult{}
	for iter := 1; iter <= maxIter; iter++ {
		res.Iterations = iter
		W, maxRes := residualBlock(K, M, X, vals, prec)
		res.MaxResidual = maxRes
		if maxRes <= tol {
			res.Converged = true
			break
		}
		S := make([][]float64, 0, len(X)+len(W)+len(P))
		S = append(S, X...)
		S = append(S, W...)
		S = append(S, P...)
		if err := mOrthonormalize(M, S, buf); err != nil {
			// drop the P block and retry once
			if P == nil {
				return nil, err
			}
			P = nil
			S = S[:len(X)+len(W)]
			if err := mOrthonormalize(M, S, buf); err != nil {
				return nil, err
			}
		}
		vals, X, P, err = rayleighRitz(K, S, m)
		if err != nil {
			return nil, err
		}
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("eigensolver produced a non-finite eigenvalue")
		}
	}
	res.Values = vals
	res.Vectors = X
	return res, nil
}

// residualBlock forms the preconditioned residuals W_k = prec(K x_k -
// lambda_k M x_k) and reports the largest unpreconditioned residual
// norm relative to max(1, |lambda_k|).
func residualBlock(K, M *sparse.CSR, X [][]float64, vals []float64, prec Preconditioner) ([][]float64, float64) {
	n := len(X[0])
	W := make([][]float64, len(X))
	mx := make([]float64, n)
	maxRes := 0.0
	for k := range X {
		r := make([]float64, n)
		MulVec(K, X[k], r)
		MulVec(M, X[k], mx)
		floats.AddScaled(r, -vals[k], mx)
		rel := floats.Norm(r, 2) / math.Max(1, math.Abs(vals[k]))
		if rel > maxRes {
			maxRes = rel
		}
		if prec != nil {
			w := make([]float64, n)
			prec.Apply(w, r)
			W[k] = w
		} else {
			W[k] = r
		}
	}
	return W, maxRes
}

// mOrthonormalize replaces cols with an M-orthonormal basis of their
// span via Cholesky of the Gram matrix.
func mOrthonormalize(M *sparse.CSR, cols [][]float64, buf []float64) error {
	k := len(cols)
	n := len(cols[0])
	mcols := make([][]float64, k)
	for i := range cols {
		mcols[i] = make([]float64, n)
		MulVec(M, cols[i], mcols[i])
	}
	g := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			g.SetSym(i, j, floats.Dot(cols[i], mcols[j]))
		}
	}
	var ch mat.Cholesky
	if !ch.Factorize(g) {
		return fmt.Errorf("eigensolver block became linearly dependent")
	}
	var L mat.TriDense
	ch.LTo(&L)
	// new columns are X L^{-T}; each coefficient column solves
	// L^T c = e_j by back substitution
	out := make([][]float64, k)
	for j := 0; j < k; j++ {
		c := make([]float64, k)
		for i := k - 1; i >= 0; i-- {
			s := 0.0
			if i == j {
				s = 1
			}
			for t := i + 1; t < k; t++ {
				s -= L.At(t, i) * c[t]
			}
			c[i] = s / L.At(i, i)
		}
		v := make([]float64, n)
		for t := 0; t <= j; t++ {
			if c[t] != 0 {
				floats.AddScaled(v, c[t], cols[t])
			}
		}
		out[j] = v
	}
	for j := range cols {
		copy(cols[j], out[j])
	}
	return nil
}

// rayleighRitz projects K onto the M-orthonormal subspace S, solves
// the small symmetric eigenproblem and returns the m smallest Ritz
// values, the Ritz vectors X, and the implicit-direction block P
// built from the non-X coefficients.
func rayleighRitz(K *sparse.CSR, S [][]float64, m int) ([]float64, [][]float64, [][]float64, error) {
	k := len(S)
	n := len(S[0])
	ks := make([][]float64, k)
	for i := range S {
		ks[i] = make([]float64, n)
		MulVec(K, S[i], ks[i])
	}
	A := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			A.SetSym(i, j, 0.5*(floats.Dot(S[i], ks[j])+floats.Dot(S[j], ks[i])))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(A, true) {
		return nil, nil, nil, fmt.Errorf("projected eigenproblem failed to converge")
	}
	vals := es.Values(nil)
	var V mat.Dense
	es.VectorsTo(&V)

	X := make([][]float64, m)
	var P [][]float64
	if k > m {
		P = make([][]float64, m)
	}
	for c := 0; c < m; c++ {
		x := make([]float64, n)
		for t := 0; t < k; t++ {
			if w := V.At(t, c); w != 0 {
				floats.AddScaled(x, w, S[t])
			}
		}
		X[c] = x
		if P != nil {
			p := make([]float64, n)
			for t := m; t < k; t++ {
				if w := V.At(t, c); w != 0 {
					floats.AddScaled(p, w, S[t])
				}
			}
			P[c] = p
		}
	}
	return vals[:m], X, P, nil
}

// DenseGeneralizedEig solves K x = lambda M x densely: M = L L^T by
// Cholesky, then a symmetric eigensolve of L^{-1} K L^{-T}.
func DenseGeneralizedEig(K, M *sparse.CSR, m int) (*EigenResult, error) {
	n, _ := K.Dims()
	if m > n {
		return nil, fmt.Errorf("requested %d eigenpairs of a %d-dof system", m, n)
	}
	Ks := mat.NewSymDense(n, nil)
	K.DoNonZero(func(i, j int, v float64) {
		if i <= j {
			Ks.SetSym(i, j, v)
		}
	})
	Ms := mat.NewSymDense(n, nil)
	M.DoNonZero(func(i, j int, v float64) {
		if i <= j {
			Ms.SetSym(i, j, v)
		}
	})
	var ch mat.Cholesky
	if !ch.Factorize(Ms) {
		return nil, fmt.Errorf("mass matrix is not positive definite")
	}
	var L mat.TriDense
	ch.LTo(&L)
	var t1, t2 mat.Dense
	if err := t1.Solve(&L, Ks); err != nil {
		return nil, fmt.Errorf("dense eigensolve: %w", err)
	}
	if err := t2.Solve(&L, t1.T()); err != nil {
		return nil, fmt.Errorf("dense eigensolve: %w", err)
	}
	C := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			C.SetSym(i, j, 0.5*(t2.At(i, j)+t2.At(j, i)))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(C, true) {
		return nil, fmt.Errorf("dense eigensolve failed to converge")
	}
	vals := es.Values(nil)
	var V mat.Dense
	es.VectorsTo(&V)
	var Xd mat.Dense
	if err := Xd.Solve(L.T(), V.Slice(0, n, 0, m)); err != nil {
		return nil, fmt.Errorf("dense eigensolve: %w", err)
	}
	res := &EigenResult{
		Values:    append([]float64(nil), vals[:m]...),
		Vectors:   make([][]float64, m),
		Converged: true,
	}
	for c := 0; c < m; c++ {
		x := make([]float64, n)
		for i := 0; i < n; i++ {
			x[i] = Xd.At(i, c)
		}
		res.Vectors[c] = x
	}
	return res, nil
}

// InverseIteration recovers the m smallest eigenpairs one at a time
// by inverse power iteration with M-orthogonal deflation. It is the
// robust fallback when the block solver stalls.
func InverseIteration(K, M *sparse.CSR, m int, seed int64) (*EigenResult, error) {
	n, _ := K.Dims()
	if m > n {
		return nil, fmt.Errorf("requested %d eigenpairs of a %d-dof system", m, n)
	}
	rng := rand.New(rand.NewSource(seed))
	prec := NewGaussSeidelPrec(K)
	found := make([][]float64, 0, m)
	vals := make([]float64, 0, m)
	mx := make([]float64, n)
	y := make([]float64, n)
	x := make([]float64, n)
	totalIters := 0

	for k := 0; k < m; k++ {
		converged := false
		var lam float64
		for attempt := 0; attempt < 5 && !converged; attempt++ {
			for i := range x {
				x[i] = 2*rng.Float64() - 1
			}
			if !deflateNormalize(M, x, found, mx) {
				continue
			}
			lam = kRayleigh(K, x, y)
			for it := 0; it < 250; it++ {
				totalIters++
				MulVec(M, x, mx)
				for i := range y {
					y[i] = 0
				}
				PCG(K, mx, y, prec, 1e-10, 0, 500)
				if !deflateNormalize(M, y, found, mx) {
					break
				}
				newLam := kRayleigh(K, y, mx)
				copy(x, y)
				if math.Abs(newLam-lam) <= 1e-8*math.Max(1, math.Abs(newLam)) {
					lam = newLam
					converged = true
					break
				}
				lam = newLam
			}
		}
		if !converged {
			return nil, fmt.Errorf("inverse iteration failed to converge for mode %d", k)
		}
		v := make([]float64, n)
		copy(v, x)
		found = append(found, v)
		vals = append(vals, lam)
	}
	return &EigenResult{
		Values:     vals,
		Vectors:    found,
		Iterations: totalIters,
		Converged:  true,
	}, nil
}

// deflateNormalize M-orthogonalizes x against found modes and
// M-normalizes it. Reports false when x collapses.
func deflateNormalize(M *sparse.CSR, x []float64, found [][]float64, buf []float64) bool {
	MulVec(M, x, buf)
	for _, v := range found {
		d := floats.Dot(v, buf)
		floats.AddScaled(x, -d, v)
		MulVec(M, x, buf)
	}
	nrm := floats.Dot(x, buf)
	if !(nrm > 1e-300) || math.IsInf(nrm, 0) {
		return false
	}
	floats.Scale(1/math.Sqrt(nrm), x)
	return true
}

func kRayleigh(K *sparse.CSR, x, buf []float64) float64 {
	MulVec(K, x, buf)
	return floats.Dot(x, buf)
}
