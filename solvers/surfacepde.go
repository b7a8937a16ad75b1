package solvers

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type surfacePDEConfig struct {
	DiffusionCoefficient *float64 `mapstructure:"diffusion_coefficient"`
	SourceTerm           *float64 `mapstructure:"source_term"`
	IsClosedSurface      any      `mapstructure:"is_closed_surface"`
	Bcs                  any      `mapstructure:"bcs"`
}

type surfaceBC struct {
	attr  int
	value float64
}

type surfacePDESolver struct {
	diffusion float64
	source    float64
	closed    bool
	bcs       []surfaceBC
}

func newSurfacePDE(cfg map[string]any) (Solver, error) {
	var c surfacePDEConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &surfacePDESolver{}
	if c.DiffusionCoefficient == nil {
		return nil, Invalidf("config.diffusion_coefficient is required and must be numeric.")
	}
	s.diffusion = *c.DiffusionCoefficient
	if !finite(s.diffusion) || s.diffusion <= 0 {
		return nil, Invalidf("config.diffusion_coefficient must be finite and > 0.")
	}
	if c.SourceTerm != nil {
		if !finite(*c.SourceTerm) {
			return nil, Invalidf("config.source_term must be finite when provided.")
		}
		s.source = *c.SourceTerm
	}
	if c.IsClosedSurface != nil {
		b, ok := c.IsClosedSurface.(bool)
		if !ok {
			return nil, Invalidf("config.is_closed_surface must be boolean when provided.")
		}
		s.closed = b
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attrF, isNum := toFloat(entry["attribute"])
		if !isNum || !finite(attrF) || attrF != math.Trunc(attrF) {
			return nil, Invalidf("config.bcs[].attribute is required and must be an integer.")
		}
		typStr, ok := entry["type"].(string)
		if !ok {
			return nil, Invalidf("config.bcs[].type is required and must be a string.")
		}
		value, isNum := toFloat(entry["value"])
		if !isNum {
			return nil, Invalidf("config.bcs[].value is required and must be numeric.")
		}
		attr := int(attrF)
		if attr <= 0 {
			return nil, Invalidf("config.bcs[].attribute must be > 0.")
		}
		if strings.ToLower(typStr) != "fixed" {
			return nil, Invalidf("config.bcs[].type must be fixed.")
		}
		if !finite(value) {
			return nil, Invalidf("config.bcs[].value must be finite.")
		}
		s.bcs = append(s.bcs, surfaceBC{attr: attr, value: value})
	}
	if !s.closed && len(s.bcs) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition for open surfaces.")
	}
	return s, nil
}

func (s *surfacePDESolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	if m.Dim != 2 {
		return nil, Invalidf("SurfacePDE requires a 2D surface mesh.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	fixed := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		fixed[bc.attr] = bc.value
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

	gaugeFix := false
	if s.closed && len(ess) == 0 {
		if n <= 0 {
			return nil, Algorithmf("SurfacePDE mesh produced zero true dofs.")
		}
		// pin one dof to remove the constant null-space
		ess = []int{0}
		gaugeFix = true
	}

	asm := fem.NewAssembler(sp)
	asm.AddDiffusion(fem.ConstCoeff(s.diffusion))

	b := make([]float64, n)
	if math.Abs(s.source) > 0 {
		if err := fem.DomainLF(sp, fem.ConstCoeff(s.source), b); err != nil {
			return nil, err
		}
	}

	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled surface system", "dofs", n, "essential", len(ess), "gauge_fix", gaugeFix)

	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), 1e-12, 0, 2000)

	r := make([]float64, n)
	linalg.Residual(A, x, b, r)
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)
	if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
		return nil, Algorithmf("SurfacePDE residual norm is non-finite.")
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

	if err := writeArtifact(rc.WorkingDir, "surface_pde.json", map[string]any{
		"solver_class":          "SurfacePDE",
		"solver_backend":        "pcg_gs",
		"dimension":             m.Dim,
		"space_dimension":       m.SpaceDim,
		"diffusion_coefficient": s.diffusion,
		"source_term":           s.source,
		"is_closed_surface":     s.closed,
		"gauge_fix_applied":     gaugeFix,
		"iterations":            st.Iterations,
		"residual_norm":         errNorm,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
