package solvers

import (
	"math"
	"strings"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type jouleConfig struct {
	ElectricalConductivity *float64 `mapstructure:"electrical_conductivity"`
	ThermalConductivity    *float64 `mapstructure:"thermal_conductivity"`
	HeatCapacity           *float64 `mapstructure:"heat_capacity"`
	Dt                     *float64 `mapstructure:"dt"`
	TFinal                 *float64 `mapstructure:"t_final"`
	OutputIntervalSteps    *float64 `mapstructure:"output_interval_steps"`
	Bcs                    any      `mapstructure:"bcs"`
}

type jouleBC struct {
	attr     int
	electric bool
	value    float64
}

// jouleHeatingSolver couples an electrostatic potential solve to a
// transient conduction solve through the volumetric Joule source.
type jouleHeatingSolver struct {
	elecCond    float64
	thermCond   float64
	heatCap     float64
	dt, tFinal  float64
	outputEvery int
	bcs         []jouleBC
}

func newJouleHeating(cfg map[string]any) (Solver, error) {
	var c jouleConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &jouleHeatingSolver{}
	var err error
	if s.elecCond, err = reqPos("electrical_conductivity", c.ElectricalConductivity); err != nil {
		return nil, err
	}
	if s.thermCond, err = reqPos("thermal_conductivity", c.ThermalConductivity); err != nil {
		return nil, err
	}
	if s.heatCap, err = reqPos("heat_capacity", c.HeatCapacity); err != nil {
		return nil, err
	}
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}
	if s.outputEvery, err = optInt("output_interval_steps", c.OutputIntervalSteps, 1); err != nil {
		return nil, err
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("config.output_interval_steps must be > 0.")
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	hasElectric := false
	hasThermal := false
	for _, entry := range entries {
		attrF, isNum := toFloat(entry["attribute"])
		if !isNum || !finite(attrF) || attrF != math.Trunc(attrF) {
			return nil, Invalidf("config.bcs[].attribute is required and must be an integer.")
		}
		typStr, ok := entry["type"].(string)
		if !ok {
			return nil, Invalidf("config.bcs[].type is required and must be a string.")
		}
		value, err := bcNumValue("bcs", entry)
		if err != nil {
			return nil, err
		}
		attr := int(attrF)
		if attr <= 0 {
			return nil, Invalidf("config.bcs[].attribute must be > 0.")
		}
		switch strings.ToLower(typStr) {
		case "voltage", "ground":
			s.bcs = append(s.bcs, jouleBC{attr: attr, electric: true, value: value})
			hasElectric = true
		case "fixed_temp":
			s.bcs = append(s.bcs, jouleBC{attr: attr, value: value})
			hasThermal = true
		default:
			return nil, Invalidf("config.bcs[].type must be voltage, ground, or fixed_temp.")
		}
	}
	if !hasElectric {
		return nil, Invalidf("config.bcs must include at least one voltage or ground boundary condition.")
	}
	if !hasThermal {
		return nil, Invalidf("config.bcs must include at least one fixed_temp boundary condition.")
	}
	return s, nil
}

// jouleSource accumulates int sigma |grad phi|^2 v over the mesh for the
// current potential field.
func jouleSource(gf *fem.GridFunc, sigma float64, dst []float64) error {
	sp := gf.Sp
	m := sp.Mesh
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*sp.Order+2)
		if err != nil {
			return err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return err
		}
		gq, err := gf.ElementGradients(i, rule, tr)
		if err != nil {
			return err
		}
		vals, err := sp.BasisAtPoints(i, rule.Points)
		if err != nil {
			return err
		}
		dofs, _ := sp.ElementDofs(i)
		for q := range rule.Points {
			g2 := 0.0
			for c := 0; c < 3; c++ {
				g2 += gq[q][0][c] * gq[q][0][c]
			}
			fw := sigma * g2 * tr.W[q]
			for r, d := range dofs {
				dst[d] += fw * vals[q][r]
			}
		}
	}
	return nil
}

// jouleOperator is the semi-discrete form cp*M dT/dt = q - K T where the
// Joule source q is refreshed from a potential solve at every implicit
// stage. The potential boundary data never changes, so the staggered
// update re-solves the same eliminated system from a zero initial guess.
type jouleOperator struct {
	sigma float64

	n    int
	M, K *sparse.CSR
	essT []int

	massInv  *sparse.CSR
	massPrec linalg.Preconditioner

	elec     *sparse.CSR
	elecPrec linalg.Preconditioner
	eb       []float64
	phi      *fem.GridFunc

	rhs []float64

	imp        *sparse.CSR
	prec       linalg.Preconditioner
	curDt      float64
	thermIters int
	elecIters  int
	z, g       []float64
}

func (op *jouleOperator) Size() int { return op.n }

// updatePotential re-solves the potential, rebuilds the Joule source, and
// zeroes its essential thermal entries.
func (op *jouleOperator) updatePotential() error {
	for i := range op.phi.Data {
		op.phi.Data[i] = 0
	}
	st := linalg.PCG(op.elec, op.eb, op.phi.Data, op.elecPrec, 1e-12, 0, 2000)
	op.elecIters += st.Iterations
	for i := range op.rhs {
		op.rhs[i] = 0
	}
	if err := jouleSource(op.phi, op.sigma, op.rhs); err != nil {
		return err
	}
	for _, e := range op.essT {
		op.rhs[e] = 0
	}
	return nil
}

func (op *jouleOperator) Mult(_ float64, u, du []float64) error {
	linalg.MulVec(op.K, u, op.z)
	for i := range op.g {
		op.g[i] = op.rhs[i] - op.z[i]
	}
	for _, e := range op.essT {
		op.g[e] = 0
	}
	for i := range du {
		du[i] = 0
	}
	st := linalg.PCG(op.massInv, op.g, du, op.massPrec, 1e-10, 0, 500)
	op.thermIters += st.Iterations
	return nil
}

func (op *jouleOperator) ImplicitSolve(dtk, _ float64, u, k []float64) error {
	if err := op.updatePotential(); err != nil {
		return err
	}
	if op.imp == nil || math.Abs(dtk-op.curDt) > 1e-15 {
		blocks := []linalg.Block{{M: op.M}}
		if dtk != 0 {
			blocks = append(blocks, linalg.Block{M: op.K, Scale: dtk})
		}
		dok := linalg.Compose(op.n, op.n, blocks...)
		linalg.EliminateDOK(dok, op.essT, nil, nil, 1)
		op.imp = dok.ToCSR()
		op.prec = linalg.NewJacobiPrec(op.imp)
		op.curDt = dtk
	}
	linalg.MulVec(op.K, u, op.z)
	for i := range op.g {
		op.g[i] = op.rhs[i] - op.z[i]
	}
	for _, e := range op.essT {
		op.g[e] = 0
	}
	for i := range k {
		k[i] = 0
	}
	st := linalg.PCG(op.imp, op.g, k, op.prec, 1e-10, 0, 500)
	op.thermIters += st.Iterations
	return nil
}

func (s *jouleHeatingSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	elecVals := map[int]float64{}
	thermVals := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		if bc.electric {
			elecVals[bc.attr] = bc.value
		} else {
			thermVals[bc.attr] = bc.value
		}
	}

	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()

	u := make([]float64, n)
	for i := range u {
		u[i] = 293.15
	}
	phi := make([]float64, n)
	project := func(dst []float64, vals map[int]float64) {
		for i, be := range m.Boundary {
			v, ok := vals[be.Attr]
			if !ok {
				continue
			}
			dofs, _ := sp.BoundaryDofs(i)
			for _, d := range dofs {
				dst[d] = v
			}
		}
	}
	project(u, thermVals)
	project(phi, elecVals)
	thermAttrs := map[int]bool{}
	for a := range thermVals {
		thermAttrs[a] = true
	}
	elecAttrs := map[int]bool{}
	for a := range elecVals {
		elecAttrs[a] = true
	}
	essT := sp.BoundaryScalarDofs(thermAttrs)
	essE := sp.BoundaryScalarDofs(elecAttrs)

	asmM := fem.NewAssembler(sp)
	asmM.AddMass(fem.ConstCoeff(s.heatCap))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmK := fem.NewAssembler(sp)
	asmK.AddDiffusion(fem.ConstCoeff(s.thermCond))
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}
	asmE := fem.NewAssembler(sp)
	asmE.AddDiffusion(fem.ConstCoeff(s.elecCond))
	Ae, err := asmE.Matrix()
	if err != nil {
		return nil, err
	}

	massDok := linalg.Compose(n, n, linalg.Block{M: M})
	linalg.EliminateDOK(massDok, essT, nil, nil, 1)
	massInv := massDok.ToCSR()

	eb := make([]float64, n)
	eDok := linalg.Compose(n, n, linalg.Block{M: Ae})
	linalg.EliminateDOK(eDok, essE, phi, eb, 1)
	elec := eDok.ToCSR()

	op := &jouleOperator{
		sigma:    s.elecCond,
		n:        n,
		M:        M,
		K:        K,
		essT:     essT,
		massInv:  massInv,
		massPrec: linalg.NewJacobiPrec(massInv),
		elec:     elec,
		elecPrec: linalg.NewGaussSeidelPrec(elec),
		eb:       eb,
		phi:      &fem.GridFunc{Sp: sp, Data: phi},
		rhs:      make([]float64, n),
		curDt:    -1,
		z:        make([]float64, n),
		g:        make([]float64, n),
	}
	if err := op.updatePotential(); err != nil {
		return nil, err
	}
	rc.log().Debug("assembled coupled system", "dofs", n,
		"thermal essential", len(essT), "electric essential", len(essE))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.BackwardEulerStep(op, time, stepDt, u); err != nil {
			return nil, err
		}
		time += stepDt
		project(u, thermVals)
		step++
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	Mu := make([]float64, n)
	linalg.MulVec(M, u, Mu)
	r := make([]float64, n)
	linalg.MulVec(K, u, r)
	for i := range r {
		r[i] = op.rhs[i] - r[i]
	}
	for _, e := range essT {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)
	if !finite(errNorm) {
		return nil, Algorithmf("JouleHeating residual norm is non-finite.")
	}
	rc.log().Info("solve finished", "steps", step,
		"thermal iterations", op.thermIters, "electric iterations", op.elecIters,
		"residual", errNorm)

	if err := writeArtifact(rc.WorkingDir, "joule_heating.json", map[string]any{
		"solver_class":            "JouleHeating",
		"solver_backend":          "backward_euler_staggered",
		"electrical_conductivity": s.elecCond,
		"thermal_conductivity":    s.thermCond,
		"heat_capacity":           s.heatCap,
		"dt":                      s.dt,
		"t_final":                 s.tFinal,
		"time_steps":              step,
		"thermal_iterations":      op.thermIters,
		"electric_iterations":     op.elecIters,
	}); err != nil {
		return nil, err
	}

	tVals, err := (&fem.GridFunc{Sp: sp, Data: u}).CornerValues()
	if err != nil {
		return nil, err
	}
	pVals, err := op.phi.CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Scalar("temperature", tVals),
		vtk.Scalar("electric_potential", pVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(u, Mu),
		Iterations: op.thermIters + op.elecIters,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
