// Package linalg provides the sparse linear algebra used by the
// solvers: CSR helpers, Krylov methods, eigensolvers, Newton and time
// integrators, and rational approximation.
package linalg

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
)

// MulVec computes dst = A x.
func MulVec(A *sparse.CSR, x, dst []float64) {
	r, _ := A.Dims()
	for i := 0; i < r; i++ {
		s := 0.0
		A.DoRowNonZero(i, func(_, j int, v float64) {
			s += v * x[j]
		})
		dst[i] = s
	}
}

// MulVecAdd computes dst += alpha A x.
func MulVecAdd(A *sparse.CSR, alpha float64, x, dst []float64) {
	r, _ := A.Dims()
	for i := 0; i < r; i++ {
		s := 0.0
		A.DoRowNonZero(i, func(_, j int, v float64) {
			s += v * x[j]
		})
		dst[i] += alpha * s
	}
}

// MulTransVec computes dst = A^T x.
func MulTransVec(A *sparse.CSR, x, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	A.DoNonZero(func(i, j int, v float64) {
		dst[j] += v * x[i]
	})
}

// Diagonal extracts the main diagonal of A.
func Diagonal(A *sparse.CSR) []float64 {
	r, _ := A.Dims()
	d := make([]float64, r)
	for i := 0; i < r; i++ {
		A.DoRowNonZero(i, func(_, j int, v float64) {
			if j == i {
				d[i] = v
			}
		})
	}
	return d
}

// Residual computes r = b - A x and returns its 2-norm.
func Residual(A *sparse.CSR, x, b, r []float64) float64 {
	MulVec(A, x, r)
	for i := range r {
		r[i] = b[i] - r[i]
	}
	return floats.Norm(r, 2)
}

// Block places a scaled, optionally transposed matrix inside a larger
// composed system.
type Block struct {
	RowOff, ColOff int
	M              *sparse.CSR
	Scale          float64
	Transpose      bool
}

// Compose scatters blocks into one DOK of the given dimensions.
func Compose(rows, cols int, blocks ...Block) *sparse.DOK {
	dok := sparse.NewDOK(rows, cols)
	for _, bl := range blocks {
		scale := bl.Scale
		if scale == 0 {
			scale = 1
		}
		bl.M.DoNonZero(func(i, j int, v float64) {
			if bl.Transpose {
				i, j = j, i
			}
			r, c := bl.RowOff+i, bl.ColOff+j
			dok.Set(r, c, dok.At(r, c)+scale*v)
		})
	}
	return dok
}

// EliminateDOK applies essential constraints to a square system held
// in DOK form: prescribed values from x move into b, the constrained
// rows and columns are zeroed, the diagonal set to diag and b pinned.
// x and b may be nil.
func EliminateDOK(dok *sparse.DOK, ess []int, x, b []float64, diag float64) {
	inEss := make(map[int]bool, len(ess))
	for _, e := range ess {
		inEss[e] = true
	}
	type entry struct {
		i, j int
		v    float64
	}
	var touched []entry
	dok.DoNonZero(func(i, j int, v float64) {
		if inEss[i] || inEss[j] {
			touched = append(touched, entry{i, j, v})
		}
	})
	for _, e := range touched {
		if b != nil && x != nil && inEss[e.j] && !inEss[e.i] {
			b[e.i] -= e.v * x[e.j]
		}
		dok.Set(e.i, e.j, 0)
	}
	for _, e := range ess {
		dok.Set(e, e, diag)
		if b != nil {
			if x != nil {
				b[e] = diag * x[e]
			} else {
				b[e] = 0
			}
		}
	}
}
