package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type anisotropicConfig struct {
	DiffusionTensor any      `mapstructure:"diffusion_tensor"`
	SourceTerm      *float64 `mapstructure:"source_term"`
	Bcs             any      `mapstructure:"bcs"`
}

type anisotropicBC struct {
	attr  int
	typ   string
	value float64
}

type anisotropicSolver struct {
	tensor [9]float64
	source float64
	bcs    []anisotropicBC
}

func newAnisotropicDiffusion(cfg map[string]any) (Solver, error) {
	var c anisotropicConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &anisotropicSolver{}
	arr, ok := c.DiffusionTensor.([]any)
	if !ok {
		return nil, Invalidf("config.diffusion_tensor is required and must be an array.")
	}
	if len(arr) != 9 {
		return nil, Invalidf("config.diffusion_tensor must contain exactly 9 numeric values.")
	}
	for i, v := range arr {
		f, ok := toFloat(v)
		if !ok {
			return nil, Invalidf("config.diffusion_tensor entries must be numeric.")
		}
		s.tensor[i] = f
	}
	var err error
	if s.source, err = optNum("source_term", c.SourceTerm, 0); err != nil {
		return nil, err
	}
	bcsArr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", bcsArr)
	if err != nil {
		return nil, err
	}
	hasFixed := false
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		value, err := bcNumValue("bcs", entry)
		if err != nil {
			return nil, err
		}
		typ := bcType(entry)
		if typ != "fixed" && typ != "flux" {
			return nil, Invalidf("config.bcs[].type must be fixed or flux.")
		}
		if typ == "fixed" {
			hasFixed = true
		}
		s.bcs = append(s.bcs, anisotropicBC{attr: attr, typ: typ, value: value})
	}
	if !hasFixed {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}
	return s, nil
}

func (s *anisotropicSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	if dim <= 0 || dim > 3 {
		return nil, Invalidf("AnisotropicDiffusion supports mesh dimensions 1, 2, or 3.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	fixed := map[int]float64{}
	flux := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		if bc.typ == "fixed" {
			fixed[bc.attr] = bc.value
		} else {
			flux[bc.attr] += bc.value
		}
	}

	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()

	x := make([]float64, n)
	essAttrs := map[int]bool{}
	for a := range fixed {
		essAttrs[a] = true
	}
	for i, be := range m.Boundary {
		v, ok := fixed[be.Attr]
		if !ok {
			continue
		}
		dofs, _ := sp.BoundaryDofs(i)
		for _, d := range dofs {
			x[d] = v
		}
	}
	ess := sp.BoundaryScalarDofs(essAttrs)

	// the 3x3 tensor holds zeros outside the mesh dimension, as do the
	// physical gradients, so the full product reduces to the dim x dim block
	var K [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			K[r][c] = s.tensor[r*3+c]
		}
	}
	asm := fem.NewAssembler(sp)
	asm.AddDiffusionMatrix(func([3]float64, int) [3][3]float64 { return K })

	b := make([]float64, n)
	if math.Abs(s.source) > 0 {
		if err := fem.DomainLF(sp, fem.ConstCoeff(s.source), b); err != nil {
			return nil, err
		}
	}
	fluxAttrs := map[int]bool{}
	for a, v := range flux {
		if v != 0 {
			fluxAttrs[a] = true
		}
	}
	if len(fluxAttrs) > 0 {
		g := func(_ [3]float64, attr int) float64 { return flux[attr] }
		if err := fem.BoundaryLF(sp, g, fluxAttrs, b); err != nil {
			return nil, err
		}
	}

	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled anisotropic system", "dofs", n, "essential", len(ess))

	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), 1e-12, 0, 2000)

	r := make([]float64, n)
	linalg.Residual(A, x, b, r)
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)
	if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
		return nil, Algorithmf("AnisotropicDiffusion residual norm is non-finite.")
	}
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: x}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("solution", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	tensor := make([]float64, 9)
	copy(tensor, s.tensor[:])
	if err := writeArtifact(rc.WorkingDir, "anisotropic_diffusion.json", map[string]any{
		"solver_class":     "AnisotropicDiffusion",
		"solver_backend":   "pcg_gs",
		"dimension":        dim,
		"diffusion_tensor": tensor,
		"source_term":      s.source,
		"iterations":       st.Iterations,
		"residual_norm":    errNorm,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
