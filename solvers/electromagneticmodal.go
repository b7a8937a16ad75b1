package solvers

import (
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type emModalConfig struct {
	Permittivity *float64 `mapstructure:"permittivity"`
	Permeability *float64 `mapstructure:"permeability"`
	NumModes     *float64 `mapstructure:"num_modes"`
	Bcs          any      `mapstructure:"bcs"`
}

// electromagneticModalSolver finds resonant cavity modes of the curl-curl
// operator on the lowest-order edge space.
type electromagneticModalSolver struct {
	permittivity float64
	permeability float64
	numModes     int
	bcAttrs      []int
}

func newElectromagneticModal(cfg map[string]any) (Solver, error) {
	var c emModalConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	eps, err := reqNum("permittivity", c.Permittivity)
	if err != nil {
		return nil, err
	}
	mu, err := reqNum("permeability", c.Permeability)
	if err != nil {
		return nil, err
	}
	modes, err := reqInt("num_modes", c.NumModes)
	if err != nil {
		return nil, err
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	s := &electromagneticModalSolver{permittivity: eps, permeability: mu, numModes: modes}
	if s.permittivity <= 0 {
		return nil, Invalidf("config.permittivity must be > 0.")
	}
	if s.permeability <= 0 {
		return nil, Invalidf("config.permeability must be > 0.")
	}
	if s.numModes <= 0 {
		return nil, Invalidf("config.num_modes must be > 0.")
	}
	if s.numModes > 64 {
		return nil, Invalidf("config.num_modes must be <= 64.")
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		typ := bcType(entry)
		if typ != "perfect_conductor" && typ != "perfect-conductor" && typ != "perfectconductor" {
			return nil, Invalidf("config.bcs[].type must be perfect_conductor.")
		}
		s.bcAttrs = append(s.bcAttrs, attr)
	}
	return s, nil
}

func (s *electromagneticModalSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcAttrs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	essAttrs := map[int]bool{}
	for _, a := range s.bcAttrs {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		essAttrs[a] = true
	}
	if maxBdr > 0 && len(essAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one perfect_conductor boundary condition.")
	}

	sp, err := fem.NewNedelecSpace(m)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(essAttrs)

	asmK := fem.NewAssembler(sp)
	asmK.AddCurlCurl(fem.ConstCoeff(1 / s.permeability))
	asmK.EliminateEssential(ess, nil, nil, 1)
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}
	asmM := fem.NewAssembler(sp)
	asmM.AddVectorFEMass(fem.ConstCoeff(s.permittivity))
	// keep eliminated dofs positive so the mass stays definite
	asmM.EliminateEssential(ess, nil, nil, 1e-12)
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled cavity eigenproblem", "dofs", n, "essential", len(ess), "modes", s.numModes)

	res, err := linalg.LOBPCG(K, M, s.numModes, 75, 1e-8, 200, linalg.NewGaussSeidelPrec(K))
	if err != nil {
		return nil, Algorithmf("ElectromagneticModal eigensolve failed: %v", err)
	}
	if len(res.Values) == 0 {
		return nil, Algorithmf("LOBPCG did not return any eigenvalues.")
	}
	for _, ev := range res.Values {
		if !finite(ev) {
			return nil, Algorithmf("LOBPCG returned non-finite eigenvalues for ElectromagneticModal.")
		}
	}
	rc.log().Info("eigensolve finished", "iterations", res.Iterations, "converged", res.Converged)

	x0 := res.Vectors[0]
	gf := &fem.GridFunc{Sp: sp, Data: x0}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Vector("electric_mode_1", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}
	pvdPath := strings.TrimSuffix(rc.VTKPath, filepath.Ext(rc.VTKPath)) + ".pvd"
	if err := vtk.WritePVD(pvdPath, rc.VTKPath); err != nil {
		return nil, IOf(err, "Unable to write %s.", filepath.Base(pvdPath))
	}

	freqs := make([]float64, len(res.Values))
	for i, ev := range res.Values {
		freqs[i] = math.Sqrt(math.Max(0, ev))
	}
	if err := writeArtifact(rc.WorkingDir, "electromagnetic_modes.json", map[string]any{
		"solver_class":               "ElectromagneticModal",
		"solver_backend":             "lobpcg",
		"permittivity":               s.permittivity,
		"permeability":               s.permeability,
		"eigenvalues":                res.Values,
		"resonant_frequencies_rad_s": freqs,
	}); err != nil {
		return nil, err
	}

	r := make([]float64, n)
	mx := make([]float64, n)
	linalg.MulVec(K, x0, r)
	linalg.MulVec(M, x0, mx)
	floats.AddScaled(r, -res.Values[0], mx)
	errNorm := floats.Norm(r, 2)
	if !finite(errNorm) {
		return nil, Algorithmf("ElectromagneticModal residual norm is non-finite.")
	}

	return &Summary{
		Energy:     res.Values[0],
		Iterations: len(res.Values),
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
