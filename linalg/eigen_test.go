package linalg

import (
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diagCSR(d []float64) *sparse.CSR {
	dok := sparse.NewDOK(len(d), len(d))
	for i, v := range d {
		dok.Set(i, i, v)
	}
	return dok.ToCSR()
}

func TestLOBPCGDiagonalPencil(t *testing.T) {
	n := 40
	kd := make([]float64, n)
	md := make([]float64, n)
	for i := range kd {
		kd[i] = float64(i + 1)
		md[i] = 2
	}
	K := diagCSR(kd)
	M := diagCSR(md)

	res, err := LOBPCG(K, M, 3, 75, 1e-9, 300, NewJacobiPrec(K))
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Len(t, res.Values, 3)
	assert.InDelta(t, 0.5, res.Values[0], 1e-6)
	assert.InDelta(t, 1.0, res.Values[1], 1e-6)
	assert.InDelta(t, 1.5, res.Values[2], 1e-6)

	// eigenvectors are M-orthonormal
	buf := make([]float64, n)
	for i := 0; i < 3; i++ {
		MulVec(M, res.Vectors[i], buf)
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			got := 0.0
			for k := range buf {
				got += res.Vectors[j][k] * buf[k]
			}
			assert.InDelta(t, want, got, 1e-6)
		}
	}
}

func TestLOBPCGSmallProblemUsesDensePath(t *testing.T) {
	kd := []float64{3, 1, 4, 2, 5, 6, 7, 8}
	md := make([]float64, len(kd))
	for i := range md {
		md[i] = 1
	}
	res, err := LOBPCG(diagCSR(kd), diagCSR(md), 2, 75, 1e-9, 100, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Values[0], 1e-10)
	assert.InDelta(t, 2.0, res.Values[1], 1e-10)
}

func TestDenseGeneralizedEig(t *testing.T) {
	kd := []float64{6, 2, 10, 4, 8}
	md := []float64{2, 2, 2, 2, 2}
	res, err := DenseGeneralizedEig(diagCSR(kd), diagCSR(md), 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Values[0], 1e-10)
	assert.InDelta(t, 2.0, res.Values[1], 1e-10)
	assert.InDelta(t, 3.0, res.Values[2], 1e-10)
}

func TestDenseGeneralizedEigRejectsIndefiniteMass(t *testing.T) {
	kd := []float64{1, 2, 3}
	md := []float64{1, -1, 1}
	_, err := DenseGeneralizedEig(diagCSR(kd), diagCSR(md), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not positive definite")
}

func TestInverseIteration(t *testing.T) {
	n := 12
	kd := make([]float64, n)
	md := make([]float64, n)
	for i := range kd {
		kd[i] = float64(i + 1)
		md[i] = 1
	}
	res, err := InverseIteration(diagCSR(kd), diagCSR(md), 2, 75)
	require.NoError(t, err)
	require.Len(t, res.Values, 2)
	assert.InDelta(t, 1.0, res.Values[0], 1e-6)
	assert.InDelta(t, 2.0, res.Values[1], 1e-6)
}

func TestLOBPCGRejectsBadCounts(t *testing.T) {
	K := diagCSR([]float64{1, 2})
	M := diagCSR([]float64{1, 1})
	_, err := LOBPCG(K, M, 0, 75, 1e-8, 10, nil)
	assert.Error(t, err)
	_, err = LOBPCG(K, M, 5, 75, 1e-8, 10, nil)
	assert.Error(t, err)
}
