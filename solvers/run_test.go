package solvers

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/mfem-driver/mesh"
)

// gridTriMesh builds an n x n unit square split into 2n^2 triangles with
// boundary attributes bottom 1, right 2, top 3, left 4.
func gridTriMesh(n int) *mesh.Mesh {
	vid := func(i, j int) int { return j*(n+1) + i }
	m := &mesh.Mesh{Dim: 2, SpaceDim: 2}
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			m.Verts = append(m.Verts,
				[3]float64{float64(i) / float64(n), float64(j) / float64(n), 0})
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			v00, v10 := vid(i, j), vid(i+1, j)
			v01, v11 := vid(i, j+1), vid(i+1, j+1)
			m.Elements = append(m.Elements,
				mesh.Element{Attr: 1, Geom: mesh.Triangle, Verts: []int{v00, v10, v11}},
				mesh.Element{Attr: 1, Geom: mesh.Triangle, Verts: []int{v00, v11, v01}})
		}
	}
	for i := 0; i < n; i++ {
		m.Boundary = append(m.Boundary,
			mesh.Element{Attr: 1, Geom: mesh.Segment, Verts: []int{vid(i, 0), vid(i+1, 0)}},
			mesh.Element{Attr: 2, Geom: mesh.Segment, Verts: []int{vid(n, i), vid(n, i+1)}},
			mesh.Element{Attr: 3, Geom: mesh.Segment, Verts: []int{vid(i, n), vid(i+1, n)}},
			mesh.Element{Attr: 4, Geom: mesh.Segment, Verts: []int{vid(0, i), vid(0, i+1)}})
	}
	return m
}

func fixedBcs(attrs ...float64) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = map[string]any{"type": "fixed", "attribute": a}
	}
	return out
}

func testRunContext(t *testing.T) *RunContext {
	t.Helper()
	dir := t.TempDir()
	return &RunContext{WorkingDir: dir, VTKPath: filepath.Join(dir, "out.vtk")}
}

func readArtifact(t *testing.T, rc *RunContext, name string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(rc.WorkingDir, name))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func TestPoissonSolvesUnitSquare(t *testing.T) {
	canonical, s, err := Create("Poisson", map[string]any{
		"coefficient": 1.0,
		"source":      1.0,
		"bcs":         fixedBcs(1, 2, 3, 4),
	})
	require.NoError(t, err)
	assert.Equal(t, "Poisson", canonical)

	rc := testRunContext(t)
	sum, err := s.Run(gridTriMesh(4), rc)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Dimension)
	assert.Greater(t, sum.Energy, 0.0)
	assert.Less(t, sum.ErrorNorm, 1e-8)
	assert.Greater(t, sum.Iterations, 0)

	_, err = os.Stat(rc.VTKPath)
	assert.NoError(t, err)
}

func TestPoissonRerunIsBitIdentical(t *testing.T) {
	cfg := map[string]any{"source": 2.0, "bcs": fixedBcs(1, 2, 3, 4)}
	run := func() *Summary {
		_, s, err := Create("Poisson", cfg)
		require.NoError(t, err)
		sum, err := s.Run(gridTriMesh(3), testRunContext(t))
		require.NoError(t, err)
		return sum
	}
	first, second := run(), run()
	assert.Equal(t, first.Energy, second.Energy)
	assert.Equal(t, first.ErrorNorm, second.ErrorNorm)
	assert.Equal(t, first.Iterations, second.Iterations)
}

func TestHeatTransferAdvancesExactStepCount(t *testing.T) {
	_, s, err := Create("HeatTransfer", map[string]any{
		"conductivity":        1.0,
		"specific_heat":       1.0,
		"initial_temperature": 0.0,
		"dt":                  0.01,
		"t_final":             0.1,
		"bcs": []any{
			map[string]any{"type": "fixed_temp", "attribute": 1.0, "value": 1.0},
		},
	})
	require.NoError(t, err)

	sum, err := s.Run(gridTriMesh(3), testRunContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Dimension)
	assert.False(t, math.IsNaN(sum.ErrorNorm) || math.IsInf(sum.ErrorNorm, 0))
	require.NotNil(t, sum.Extra)
	assert.Equal(t, 10, sum.Extra["steps"])
}

func TestEigenvalueReturnsRequestedAscendingModes(t *testing.T) {
	_, s, err := Create("Eigenvalue", map[string]any{
		"material_coefficient": 1.0,
		"num_eigenmodes":       4.0,
		"bcs":                  fixedBcs(1, 2, 3, 4),
	})
	require.NoError(t, err)

	rc := testRunContext(t)
	sum, err := s.Run(gridTriMesh(4), rc)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Iterations)

	payload := readArtifact(t, rc, "eigenvalues.json")
	values, ok := payload["eigenvalues"].([]any)
	require.True(t, ok)
	require.Len(t, values, 4)
	prev := math.Inf(-1)
	for _, v := range values {
		ev, ok := v.(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, ev, prev)
		prev = ev
	}
	// lowest Dirichlet Laplace eigenvalue on the unit square is 2 pi^2
	assert.InEpsilon(t, 2*math.Pi*math.Pi, sum.Energy, 0.2)
}

func TestEigenvalueRejectsModeBudget(t *testing.T) {
	_, _, err := Create("Eigenvalue", map[string]any{
		"material_coefficient": 1.0,
		"num_eigenmodes":       65.0,
	})
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, KindOf(err))
	assert.EqualError(t, err, "config.num_eigenmodes must be <= 64.")
}

func TestPositiveRequiredConfigsRejected(t *testing.T) {
	cases := []struct {
		class string
		field string
	}{
		{"HeatTransfer", "conductivity"},
		{"Electrostatics", "permittivity"},
		{"DarcyFlow", "permeability"},
		{"AcousticWave", "wave_speed"},
		{"AMRLaplace", "coefficient"},
		{"CompressibleEuler", "specific_heat_ratio"},
		{"Elastodynamics", "density"},
		{"TransientMaxwell", "permittivity"},
		{"JouleHeating", "electrical_conductivity"},
	}
	bad := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, tc := range cases {
		for _, v := range bad {
			_, _, err := Create(tc.class, map[string]any{tc.field: v})
			require.Error(t, err, "%s %s=%v", tc.class, tc.field, v)
			assert.Equal(t, InvalidArgument, KindOf(err), "%s %s=%v", tc.class, tc.field, v)
			if v == 0 || v == -1 {
				assert.EqualError(t, err, "config."+tc.field+" must be > 0.")
			}
		}
	}
}

func TestStructuralModalForcedFallback(t *testing.T) {
	t.Setenv(forceFallbackEnv, "1")
	_, s, err := Create("StructuralModal", map[string]any{
		"density":        1.0,
		"youngs_modulus": 1.0,
		"poisson_ratio":  0.3,
		"num_modes":      2.0,
		"bcs":            fixedBcs(1, 2, 3, 4),
	})
	require.NoError(t, err)

	rc := testRunContext(t)
	sum, err := s.Run(gridTriMesh(3), rc)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Iterations)

	payload := readArtifact(t, rc, "structural_modes.json")
	assert.Equal(t, "inverse_iteration_fallback", payload["solver_backend"])
	reason, _ := payload["fallback_reason"].(string)
	assert.NotEmpty(t, reason)

	values, ok := payload["eigenvalues"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, values)
	prev := math.Inf(-1)
	for _, v := range values {
		ev := v.(float64)
		assert.GreaterOrEqual(t, ev, prev)
		prev = ev
	}
}

func TestIncompressibleElasticityWritesCollection(t *testing.T) {
	_, s, err := Create("IncompressibleElasticity", map[string]any{
		"shear_modulus": 1.0,
		"bulk_modulus":  10.0,
		"bcs":           fixedBcs(1, 2, 3, 4),
	})
	require.NoError(t, err)

	rc := testRunContext(t)
	sum, err := s.Run(gridTriMesh(2), rc)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Dimension)

	_, err = os.Stat(rc.VTKPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(rc.WorkingDir, "out.pvd"))
	assert.NoError(t, err)

	payload := readArtifact(t, rc, "incompressible_elasticity.json")
	assert.Equal(t, true, payload["pressure_gauge_fix_applied"])
	_, hasNewton := payload["newton_iterations"]
	assert.True(t, hasNewton)
}
