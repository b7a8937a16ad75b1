package linalg

import "github.com/james-bowman/sparse"

// Preconditioner applies an approximate inverse: dst = M^{-1} r.
type Preconditioner interface {
	Apply(dst, r []float64)
}

// IdentityPrec is the no-op preconditioner.
type IdentityPrec struct{}

func (IdentityPrec) Apply(dst, r []float64) {
	copy(dst, r)
}

// JacobiPrec scales by the inverse diagonal. Zero diagonal entries
// pass through unscaled.
type JacobiPrec struct {
	invDiag []float64
}

func NewJacobiPrec(A *sparse.CSR) *JacobiPrec {
	return NewDiagPrec(Diagonal(A))
}

// NewDiagPrec builds a Jacobi preconditioner from an explicit diagonal,
// which block preconditioners need for Schur complement approximations.
func NewDiagPrec(d []float64) *JacobiPrec {
	inv := make([]float64, len(d))
	for i, v := range d {
		if v != 0 {
			inv[i] = 1 / v
		} else {
			inv[i] = 1
		}
	}
	return &JacobiPrec{invDiag: inv}
}

func (p *JacobiPrec) Apply(dst, r []float64) {
	for i := range dst {
		dst[i] = p.invDiag[i] * r[i]
	}
}

// GaussSeidelPrec runs symmetric Gauss-Seidel sweeps on A. One sweep
// is a forward pass followed by a backward pass, starting from zero.
type GaussSeidelPrec struct {
	A      *sparse.CSR
	diag   []float64
	Sweeps int
}

func NewGaussSeidelPrec(A *sparse.CSR) *GaussSeidelPrec {
	d := Diagonal(A)
	for i, v := range d {
		if v == 0 {
			d[i] = 1
		}
	}
	return &GaussSeidelPrec{A: A, diag: d, Sweeps: 1}
}

func (p *GaussSeidelPrec) Apply(dst, r []float64) {
	n := len(dst)
	for i := range dst {
		dst[i] = 0
	}
	sweeps := p.Sweeps
	if sweeps < 1 {
		sweeps = 1
	}
	for s := 0; s < sweeps; s++ {
		for i := 0; i < n; i++ {
			p.relaxRow(i, dst, r)
		}
		for i := n - 1; i >= 0; i-- {
			p.relaxRow(i, dst, r)
		}
	}
}

func (p *GaussSeidelPrec) relaxRow(i int, z, r []float64) {
	s := r[i]
	p.A.DoRowNonZero(i, func(_, j int, v float64) {
		if j != i {
			s -= v * z[j]
		}
	})
	z[i] = s / p.diag[i]
}

// InnerPCGPrec approximates A^{-1} with a fixed number of PCG
// iterations, themselves preconditioned by Inner. Used as a diagonal
// block of saddle-point preconditioners.
type InnerPCGPrec struct {
	A     *sparse.CSR
	Inner Preconditioner
	Iters int
}

func (p *InnerPCGPrec) Apply(dst, r []float64) {
	for i := range dst {
		dst[i] = 0
	}
	inner := p.Inner
	if inner == nil {
		inner = IdentityPrec{}
	}
	PCG(p.A, r, dst, inner, 0, 0, p.Iters)
}

// BlockDiagPrec applies independent preconditioners to contiguous
// index ranges of the vector. Scale lets a block flip sign, which
// keeps indefinite outer iterations consistent.
type BlockDiagPrec struct {
	Blocks []DiagBlock
}

type DiagBlock struct {
	Off, N int
	P      Preconditioner
	Scale  float64
}

func (p *BlockDiagPrec) Apply(dst, r []float64) {
	for _, bl := range p.Blocks {
		sub := dst[bl.Off : bl.Off+bl.N]
		bl.P.Apply(sub, r[bl.Off:bl.Off+bl.N])
		if bl.Scale != 0 && bl.Scale != 1 {
			for i := range sub {
				sub[i] *= bl.Scale
			}
		}
	}
}
