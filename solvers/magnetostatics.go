package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type magnetoConfig struct {
	Permeability   *float64 `mapstructure:"permeability"`
	CurrentDensity any      `mapstructure:"current_density"`
	Bcs            any      `mapstructure:"bcs"`
}

// magnetostaticsSolver computes the magnetic vector potential A from
// curl (1/mu) curl A = J on the lowest-order edge space.
type magnetostaticsSolver struct {
	permeability float64

	hasCurrent bool
	current    any
	insulation []int
}

func newMagnetostatics(cfg map[string]any) (Solver, error) {
	var c magnetoConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &magnetostaticsSolver{}
	var err error
	if s.permeability, err = reqNum("permeability", c.Permeability); err != nil {
		return nil, err
	}
	if s.permeability <= 0 {
		return nil, Invalidf("config.permeability must be > 0.")
	}
	s.hasCurrent = c.CurrentDensity != nil
	s.current = c.CurrentDensity

	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
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
		if typ != "magnetic_insulation" && typ != "magnetic-insulation" && typ != "magneticinsulation" {
			return nil, Invalidf("config.bcs[].type must be magnetic_insulation.")
		}
		s.insulation = append(s.insulation, attr)
	}
	return s, nil
}

func (s *magnetostaticsSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	sdim := m.SpaceDim
	current := make([]float64, sdim)
	if s.hasCurrent {
		cd, err := sdimComponents("config.current_density", s.current, sdim)
		if err != nil {
			return nil, err
		}
		current = cd
	}

	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.insulation) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	essAttrs := map[int]bool{}
	for _, a := range s.insulation {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		essAttrs[a] = true
	}
	if maxBdr > 0 && len(essAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one magnetic_insulation boundary condition.")
	}

	sp, err := fem.NewNedelecSpace(m)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(essAttrs)

	// the mass shift removes the gradient null space of the curl-curl
	// operator
	asm := fem.NewAssembler(sp)
	asm.AddCurlCurl(fem.ConstCoeff(1 / s.permeability))
	asm.AddVectorFEMass(fem.ConstCoeff(1e-6))

	b := make([]float64, n)
	hasJ := false
	for _, v := range current {
		if math.Abs(v) > 0 {
			hasJ = true
		}
	}
	if hasJ {
		var j [3]float64
		copy(j[:], current)
		if err := fem.NDDomainLF(sp, fem.ConstVec(j), b); err != nil {
			return nil, err
		}
	}

	x := make([]float64, n)
	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled magnetostatic system", "dofs", n, "essential", len(ess))

	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), 1e-12, 0, 1000)

	r := make([]float64, n)
	linalg.Residual(A, x, b, r)
	for _, d := range ess {
		r[d] = 0
	}
	errNorm := floats.Norm(r, 2)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: x}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Vector("vector_potential", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
