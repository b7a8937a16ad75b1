package solvers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func TestRequiredNumericHelpers(t *testing.T) {
	_, err := reqNum("density", nil)
	assert.EqualError(t, err, "config.density is required and must be numeric.")

	_, err = reqNum("density", fp(math.NaN()))
	assert.EqualError(t, err, "config.density is required and must be numeric.")

	_, err = reqPos("density", fp(0))
	assert.EqualError(t, err, "config.density must be > 0.")

	_, err = reqPos("density", fp(-2))
	assert.EqualError(t, err, "config.density must be > 0.")

	v, err := reqPos("density", fp(2.5))
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestOptionalNumericHelpers(t *testing.T) {
	v, err := optNum("source", nil, 7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = optNum("source", fp(math.Inf(1)), 7)
	assert.EqualError(t, err, "config.source must be numeric when provided.")

	_, err = optPos("coefficient", fp(-1), 1)
	assert.EqualError(t, err, "config.coefficient must be > 0.")

	n, err := optInt("order", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = optInt("order", fp(1.5), 2)
	assert.EqualError(t, err, "config.order must be an integer when provided.")

	n, err = intOrDefault("num_steps", 4.0, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = intOrDefault("num_steps", "four", 10)
	assert.EqualError(t, err, "config.num_steps must be an integer.")
}

func TestVectorHelperWordings(t *testing.T) {
	_, err := vecComponents("config.body_force", nil, 2, true)
	assert.EqualError(t, err, "config.body_force is required.")

	_, err = vecComponents("config.body_force", "up", 2, true)
	assert.EqualError(t, err, "config.body_force must be an array.")

	_, err = vecComponents("config.body_force", []any{1.0, "x"}, 2, true)
	assert.EqualError(t, err, "config.body_force entries must be numeric.")

	_, err = vecComponents("config.body_force", []any{1.0}, 2, true)
	assert.EqualError(t, err, "config.body_force must provide at least mesh-dimension components.")

	got, err := vecComponents("config.body_force", []any{1.0, 2.0, 3.0}, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	got, err = vecComponents("config.body_force", nil, 3, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, got)

	_, err = flowComponents("config.inlet_velocity", []any{1.0, "x"}, 2, true)
	assert.EqualError(t, err, "config.inlet_velocity components must be numeric.")

	_, err = reqVec("config.direction", nil)
	assert.EqualError(t, err, "config.direction is required and must be an array.")

	_, err = reqVec("config.direction", []any{})
	assert.EqualError(t, err, "config.direction must not be empty.")

	assert.Equal(t, []float64{1, 0, 0}, padVec([]float64{1}, 3))
}

func TestSpaceDimComponents(t *testing.T) {
	_, err := sdimComponents("config.current_density", 3.0, 3)
	assert.EqualError(t, err, "config.current_density must be an array when provided.")

	_, err = sdimComponents("config.current_density", []any{1.0}, 3)
	assert.EqualError(t, err, "config.current_density must provide at least mesh-space-dimension components.")

	// entries past sdim are never inspected
	got, err := sdimComponents("config.current_density", []any{1.0, 2.0, "x"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	_, err = sdimComponents("config.current_density", []any{1.0, "x"}, 2)
	assert.EqualError(t, err, "config.current_density entries must be numeric.")
}

func TestBoundaryEntryHelpers(t *testing.T) {
	arr, err := reqArr("bcs", []any{map[string]any{"type": "Fixed", "attribute": 2.0}})
	require.NoError(t, err)
	entries, err := bcObjects("bcs", arr)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "fixed", bcType(entries[0]))
	attr, err := bcAttr("bcs", entries[0])
	require.NoError(t, err)
	assert.Equal(t, 2, attr)

	_, err = reqArr("bcs", "none")
	assert.EqualError(t, err, "config.bcs must be an array.")

	_, err = bcObjects("bcs", []any{"loose"})
	assert.EqualError(t, err, "config.bcs entries must be objects.")
}

func TestAnalysisOptsDefaults(t *testing.T) {
	opts, err := (*analysisOpts)(nil).resolve()
	require.NoError(t, err)
	assert.Equal(t, 1000, opts.MaxIter)
	assert.Equal(t, 1e-12, opts.RelTol)
	assert.False(t, opts.MaxIterSet)

	opts, err = (&analysisOpts{MaxIter: fp(50), RelTol: fp(1e-6)}).resolve()
	require.NoError(t, err)
	assert.Equal(t, 50, opts.MaxIter)
	assert.Equal(t, 1e-6, opts.RelTol)
	assert.True(t, opts.MaxIterSet)
	assert.True(t, opts.RelTolSet)
}
