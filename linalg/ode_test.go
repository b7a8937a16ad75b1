package linalg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decayOp is du/dt = -u with a closed-form implicit solve.
type decayOp struct{}

func (decayOp) Size() int { return 1 }

func (decayOp) Mult(_ float64, u, du []float64) error {
	du[0] = -u[0]
	return nil
}

func (decayOp) ImplicitSolve(dtk, _ float64, u, k []float64) error {
	k[0] = -u[0] / (1 + dtk)
	return nil
}

func TestBackwardEulerStep(t *testing.T) {
	u := []float64{1}
	require.NoError(t, BackwardEulerStep(decayOp{}, 0, 0.1, u))
	assert.InDelta(t, 1/1.1, u[0], 1e-14)
}

func TestRK4MatchesExponential(t *testing.T) {
	u := []float64{1}
	dt := 0.1
	for i := 0; i < 10; i++ {
		require.NoError(t, RK4Step(decayOp{}, float64(i)*dt, dt, u))
	}
	assert.InDelta(t, math.Exp(-1), u[0], 1e-5)
}

func TestSDIRK34MatchesExponential(t *testing.T) {
	u := []float64{1}
	dt := 0.1
	for i := 0; i < 10; i++ {
		require.NoError(t, SDIRK34Step(decayOp{}, float64(i)*dt, dt, u))
	}
	assert.InDelta(t, math.Exp(-1), u[0], 1e-5)
}

// oscillatorOp is d2u/dt2 = -u.
type oscillatorOp struct{}

func (oscillatorOp) Size() int { return 1 }

func (oscillatorOp) ImplicitSolve(fac0, _, _ float64, u, _, a []float64) error {
	a[0] = -u[0] / (1 + fac0)
	return nil
}

func TestNewmarkOscillatorStaysBounded(t *testing.T) {
	u := []float64{1}
	v := []float64{0}
	nm := &Newmark{Beta: 0.25, Gamma: 0.5}
	dt := 0.1
	for i := 0; i < 100; i++ {
		require.NoError(t, nm.Step(oscillatorOp{}, float64(i)*dt, dt, u, v))
	}
	energy := u[0]*u[0] + v[0]*v[0]
	assert.InDelta(t, 1.0, energy, 0.02)
}

func TestNewmarkConvergesToCosine(t *testing.T) {
	u := []float64{1}
	v := []float64{0}
	nm := &Newmark{Beta: 0.25, Gamma: 0.5}
	dt := 0.001
	for i := 0; i < 1000; i++ {
		require.NoError(t, nm.Step(oscillatorOp{}, float64(i)*dt, dt, u, v))
	}
	assert.InDelta(t, math.Cos(1), u[0], 1e-4)
	assert.InDelta(t, -math.Sin(1), v[0], 1e-4)
}
