package linalg

import (
	"math"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csrFromDense(rows [][]float64) *sparse.CSR {
	dok := sparse.NewDOK(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			if v != 0 {
				dok.Set(i, j, v)
			}
		}
	}
	return dok.ToCSR()
}

// laplacian1D builds the tridiagonal stiffness of a 1D Poisson
// problem with n interior unknowns.
func laplacian1D(n int) *sparse.CSR {
	dok := sparse.NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok.Set(i, i, 2)
		if i > 0 {
			dok.Set(i, i-1, -1)
		}
		if i < n-1 {
			dok.Set(i, i+1, -1)
		}
	}
	return dok.ToCSR()
}

func TestMulVec(t *testing.T) {
	A := csrFromDense([][]float64{
		{2, -1, 0},
		{-1, 2, -1},
		{0, -1, 2},
	})
	x := []float64{1, 2, 3}
	y := make([]float64, 3)
	MulVec(A, x, y)
	assert.Equal(t, []float64{0, 0, 4}, y)

	MulVecAdd(A, 2, x, y)
	assert.Equal(t, []float64{0, 0, 12}, y)
}

func TestMulTransVec(t *testing.T) {
	A := csrFromDense([][]float64{
		{1, 2},
		{3, 4},
		{5, 6},
	})
	x := []float64{1, 1, 1}
	y := make([]float64, 2)
	MulTransVec(A, x, y)
	assert.Equal(t, []float64{9, 12}, y)
}

func TestDiagonal(t *testing.T) {
	A := laplacian1D(4)
	assert.Equal(t, []float64{2, 2, 2, 2}, Diagonal(A))
}

func TestPCGSolvesLaplacian(t *testing.T) {
	n := 20
	A := laplacian1D(n)
	want := make([]float64, n)
	for i := range want {
		want[i] = float64(i%3) + 1
	}
	b := make([]float64, n)
	MulVec(A, want, b)

	x := make([]float64, n)
	st := PCG(A, b, x, NewJacobiPrec(A), 1e-12, 0, 200)
	require.True(t, st.Converged)
	for i := range want {
		assert.InDelta(t, want[i], x[i], 1e-8)
	}
}

func TestPCGGaussSeidelPreconditioner(t *testing.T) {
	n := 30
	A := laplacian1D(n)
	b := make([]float64, n)
	for i := range b {
		b[i] = 1
	}
	x := make([]float64, n)
	st := PCG(A, b, x, NewGaussSeidelPrec(A), 1e-10, 0, 300)
	require.True(t, st.Converged)

	r := make([]float64, n)
	assert.Less(t, Residual(A, x, b, r), 1e-8)
}

func TestPCGFixedIterationBudget(t *testing.T) {
	A := laplacian1D(10)
	b := make([]float64, 10)
	b[0] = 1
	x := make([]float64, 10)
	st := PCG(A, b, x, nil, 0, 0, 3)
	assert.Equal(t, 3, st.Iterations)
	assert.False(t, st.Converged)
}

func TestMINRESIndefinite(t *testing.T) {
	// symmetric saddle-like system, indefinite spectrum
	A := csrFromDense([][]float64{
		{4, 1, 1, 0},
		{1, 3, 0, 1},
		{1, 0, -2, 0},
		{0, 1, 0, -1},
	})
	want := []float64{1, -2, 3, -4}
	b := make([]float64, 4)
	MulVec(A, want, b)

	x := make([]float64, 4)
	st := MINRES(A, b, x, nil, 1e-12, 0, 100)
	require.True(t, st.Converged)
	for i := range want {
		assert.InDelta(t, want[i], x[i], 1e-7)
	}
}

func TestFGMRESNonsymmetric(t *testing.T) {
	A := csrFromDense([][]float64{
		{3, 1, 0},
		{-1, 3, 1},
		{0, -1, 3},
	})
	want := []float64{2, -1, 0.5}
	b := make([]float64, 3)
	MulVec(A, want, b)

	x := make([]float64, 3)
	st := FGMRES(A, b, x, nil, 10, 100, 1e-12, 0)
	require.True(t, st.Converged)
	for i := range want {
		assert.InDelta(t, want[i], x[i], 1e-8)
	}
}

func TestFGMRESRestarted(t *testing.T) {
	n := 25
	A := laplacian1D(n)
	b := make([]float64, n)
	for i := range b {
		b[i] = math.Sin(float64(i))
	}
	x := make([]float64, n)
	st := FGMRES(A, b, x, NewGaussSeidelPrec(A), 5, 500, 1e-10, 0)
	require.True(t, st.Converged)

	r := make([]float64, n)
	assert.Less(t, Residual(A, x, b, r), 1e-7)
}

func TestComposeAndEliminate(t *testing.T) {
	A := csrFromDense([][]float64{
		{2, -1},
		{-1, 2},
	})
	B := csrFromDense([][]float64{
		{1, 0},
	})
	// [ A  B^T ]
	// [ B  0   ]
	dok := Compose(3, 3,
		Block{M: A},
		Block{M: B, RowOff: 2},
		Block{M: B, ColOff: 2, Transpose: true, Scale: 1},
	)
	assert.Equal(t, 2.0, dok.At(0, 0))
	assert.Equal(t, 1.0, dok.At(2, 0))
	assert.Equal(t, 1.0, dok.At(0, 2))
	assert.Equal(t, 0.0, dok.At(2, 2))

	x := []float64{7, 0, 0}
	b := []float64{0, 3, 5}
	EliminateDOK(dok, []int{0}, x, b, 1)
	assert.Equal(t, 1.0, dok.At(0, 0))
	assert.Equal(t, 0.0, dok.At(0, 2))
	assert.Equal(t, 0.0, dok.At(1, 0))
	// b picks up the moved column times the prescribed value
	assert.Equal(t, 7.0, b[0])
	assert.Equal(t, 3.0-(-1)*7, b[1])
	assert.Equal(t, 5.0-1*7, b[2])
}

func TestNewtonQuadratic(t *testing.T) {
	// solve x_i^2 = 4 component-wise, Jacobian 2x
	x := []float64{1, 5, 0.3}
	residual := func(x, r []float64) error {
		for i := range x {
			r[i] = x[i]*x[i] - 4
		}
		return nil
	}
	step := func(x, r, dx []float64) (int, error) {
		for i := range x {
			dx[i] = r[i] / (2 * x[i])
		}
		return 1, nil
	}
	st, err := Newton(x, residual, step, 1e-12, 0, 50)
	require.NoError(t, err)
	require.True(t, st.Converged)
	for i := range x {
		assert.InDelta(t, 2.0, x[i], 1e-9)
	}
}
