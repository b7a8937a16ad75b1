package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type eigenvalueConfig struct {
	MaterialCoefficient *float64 `mapstructure:"material_coefficient"`
	NumEigenmodes       *float64 `mapstructure:"num_eigenmodes"`
	Bcs                 any      `mapstructure:"bcs"`
}

type eigenvalueSolver struct {
	kappa    float64
	numModes int
	bcAttrs  []int
}

func newEigenvalue(cfg map[string]any) (Solver, error) {
	var c eigenvalueConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.MaterialCoefficient == nil || !finite(*c.MaterialCoefficient) {
		return nil, Invalidf("config.material_coefficient is required and must be numeric.")
	}
	modes, err := reqInt("num_eigenmodes", c.NumEigenmodes)
	if err != nil {
		return nil, err
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	s := &eigenvalueSolver{kappa: *c.MaterialCoefficient, numModes: modes}
	if s.kappa <= 0 {
		return nil, Invalidf("config.material_coefficient must be > 0.")
	}
	if s.numModes <= 0 {
		return nil, Invalidf("config.num_eigenmodes must be > 0.")
	}
	if s.numModes > 64 {
		return nil, Invalidf("config.num_eigenmodes must be <= 64.")
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
		if bcType(entry) != "fixed" {
			return nil, Invalidf("config.bcs[].type must be fixed.")
		}
		s.bcAttrs = append(s.bcAttrs, attr)
	}
	return s, nil
}

func (s *eigenvalueSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
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
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}

	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(essAttrs)

	asmK := fem.NewAssembler(sp)
	asmK.AddDiffusion(fem.ConstCoeff(s.kappa))
	if maxBdr == 0 {
		// shift the constant null-space on closed meshes
		asmK.AddMass(fem.ConstCoeff(1))
	}
	asmK.EliminateEssential(ess, nil, nil, 1)
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}

	asmM := fem.NewAssembler(sp)
	asmM.AddMass(fem.ConstCoeff(1))
	// keep eliminated dofs positive so the mass stays definite
	asmM.EliminateEssential(ess, nil, nil, 1e-12)
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled eigenproblem", "dofs", n, "essential", len(ess), "modes", s.numModes)

	res, err := linalg.LOBPCG(K, M, s.numModes, 75, 1e-8, 200, linalg.NewGaussSeidelPrec(K))
	if err != nil {
		return nil, Algorithmf("Eigenvalue solve failed: %v", err)
	}
	rc.log().Info("eigensolve finished", "iterations", res.Iterations, "converged", res.Converged)

	x0 := res.Vectors[0]
	r := make([]float64, n)
	mx := make([]float64, n)
	linalg.MulVec(K, x0, r)
	linalg.MulVec(M, x0, mx)
	floats.AddScaled(r, -res.Values[0], mx)
	errNorm := floats.Norm(r, 2)
	if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
		return nil, Algorithmf("Eigenvalue residual norm is non-finite.")
	}

	gf := &fem.GridFunc{Sp: sp, Data: x0}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("mode_1", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	if err := writeArtifact(rc.WorkingDir, "eigenvalues.json", map[string]any{
		"solver_class":         "Eigenvalue",
		"material_coefficient": s.kappa,
		"eigenvalues":          res.Values,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     res.Values[0],
		Iterations: len(res.Values),
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
