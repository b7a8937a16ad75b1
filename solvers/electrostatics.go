package solvers

import (
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type electrostaticsConfig struct {
	Permittivity  *float64 `mapstructure:"permittivity"`
	ChargeDensity *float64 `mapstructure:"charge_density"`
	Bcs           any      `mapstructure:"bcs"`
}

type voltageBC struct {
	attr  int
	typ   string
	value float64
}

type electrostaticsSolver struct {
	permittivity  float64
	chargeDensity float64
	bcs           []voltageBC
}

func newElectrostatics(cfg map[string]any) (Solver, error) {
	var c electrostaticsConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &electrostaticsSolver{}
	var err error
	if s.permittivity, err = reqPos("permittivity", c.Permittivity); err != nil {
		return nil, err
	}
	if s.chargeDensity, err = optNum("charge_density", c.ChargeDensity, 0); err != nil {
		return nil, err
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	hasVoltage := false
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
		if typ != "fixed_voltage" && typ != "surface_charge" {
			return nil, Invalidf("config.bcs[].type must be fixed_voltage or surface_charge.")
		}
		if typ == "fixed_voltage" {
			hasVoltage = true
		}
		s.bcs = append(s.bcs, voltageBC{attr: attr, typ: typ, value: value})
	}
	if !hasVoltage {
		return nil, Invalidf("At least one fixed_voltage boundary condition is required.")
	}
	return s, nil
}

func (s *electrostaticsSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	voltage := map[int]float64{}
	surface := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		if bc.typ == "fixed_voltage" {
			voltage[bc.attr] = bc.value
		} else {
			surface[bc.attr] += bc.value
		}
	}

	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()

	// boundary dofs of a fixed_voltage attribute carry its voltage
	x := make([]float64, n)
	essAttrs := map[int]bool{}
	for a := range voltage {
		essAttrs[a] = true
	}
	for i, be := range m.Boundary {
		v, ok := voltage[be.Attr]
		if !ok {
			continue
		}
		dofs, _ := sp.BoundaryDofs(i)
		for _, d := range dofs {
			x[d] = v
		}
	}
	ess := sp.BoundaryScalarDofs(essAttrs)

	asm := fem.NewAssembler(sp)
	asm.AddDiffusion(fem.ConstCoeff(s.permittivity))

	b := make([]float64, n)
	if s.chargeDensity != 0 {
		if err := fem.DomainLF(sp, fem.ConstCoeff(s.chargeDensity), b); err != nil {
			return nil, err
		}
	}
	surfAttrs := map[int]bool{}
	for a, v := range surface {
		if v != 0 {
			surfAttrs[a] = true
		}
	}
	if len(surfAttrs) > 0 {
		g := func(_ [3]float64, attr int) float64 { return surface[attr] }
		if err := fem.BoundaryLF(sp, g, surfAttrs, b); err != nil {
			return nil, err
		}
	}

	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled electrostatic system", "dofs", n, "essential", len(ess))

	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), 1e-12, 0, 2000)

	r := make([]float64, n)
	linalg.Residual(A, x, b, r)
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: x}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("potential", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
