package linalg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAAAFitsSqrt(t *testing.T) {
	n := 200
	samples := make([]float64, n)
	values := make([]float64, n)
	for i := range samples {
		samples[i] = 0.01 + (10-0.01)*float64(i)/float64(n-1)
		values[i] = math.Sqrt(samples[i])
	}
	fit, err := AAA(samples, values, 1e-10, 25)
	require.NoError(t, err)

	worst := 0.0
	for i := 0; i < 500; i++ {
		x := 0.02 + (9.9-0.02)*float64(i)/499
		if e := math.Abs(fit.Eval(x) - math.Sqrt(x)); e > worst {
			worst = e
		}
	}
	assert.Less(t, worst, 1e-6)
}

func TestAAAInterpolatesSupportPoints(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	values := make([]float64, len(samples))
	for i, x := range samples {
		values[i] = 1 / (x + 0.5)
	}
	fit, err := AAA(samples, values, 1e-12, 6)
	require.NoError(t, err)
	for s := range fit.Z {
		assert.Equal(t, fit.F[s], fit.Eval(fit.Z[s]))
	}
}

func TestAAARecoversRationalPoles(t *testing.T) {
	f := func(x float64) float64 { return 1/(x+1) + 2/(x+3) }
	n := 80
	samples := make([]float64, n)
	values := make([]float64, n)
	for i := range samples {
		samples[i] = 5 * float64(i) / float64(n-1)
		values[i] = f(samples[i])
	}
	fit, err := AAA(samples, values, 1e-9, 10)
	require.NoError(t, err)

	poles, residues, scale, err := fit.PoleResidues()
	require.NoError(t, err)
	require.Len(t, poles, 2)
	assert.InDelta(t, -3.0, poles[0], 1e-6)
	assert.InDelta(t, -1.0, poles[1], 1e-6)
	assert.InDelta(t, 2.0, residues[0], 1e-6)
	assert.InDelta(t, 1.0, residues[1], 1e-6)
	assert.InDelta(t, 0.0, scale, 1e-6)
}

func TestAAAInputValidation(t *testing.T) {
	_, err := AAA([]float64{1, 2}, []float64{1}, 1e-8, 5)
	assert.Error(t, err)
	_, err = AAA([]float64{1}, []float64{1}, 1e-8, 5)
	assert.Error(t, err)
	_, err = AAA([]float64{1, 2, 3}, []float64{1, 2, 3}, 1e-8, 0)
	assert.Error(t, err)
}
