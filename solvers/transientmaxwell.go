package solvers

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type maxwellConfig struct {
	Permittivity        *float64 `mapstructure:"permittivity"`
	Permeability        *float64 `mapstructure:"permeability"`
	Conductivity        *float64 `mapstructure:"conductivity"`
	Dt                  *float64 `mapstructure:"dt"`
	TFinal              *float64 `mapstructure:"t_final"`
	Order               any      `mapstructure:"order"`
	OutputIntervalSteps any      `mapstructure:"output_interval_steps"`
	InitialCondition    any      `mapstructure:"initial_condition"`
	Bcs                 any      `mapstructure:"bcs"`
}

type transientMaxwellSolver struct {
	permittivity float64
	conductivity float64
	permeability float64
	dt, tFinal   float64
	outputEvery  int

	center       []float64
	polarization []float64
	pc           []int
}

func newTransientMaxwell(cfg map[string]any) (Solver, error) {
	var c maxwellConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &transientMaxwellSolver{}
	var err error
	if s.permittivity, err = reqPos("permittivity", c.Permittivity); err != nil {
		return nil, err
	}
	if s.permeability, err = reqPos("permeability", c.Permeability); err != nil {
		return nil, err
	}
	if s.conductivity, err = reqNum("conductivity", c.Conductivity); err != nil {
		return nil, err
	}
	if s.conductivity < 0 {
		return nil, Invalidf("config.conductivity must be >= 0.")
	}
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}
	order, err := intOrDefault("order", c.Order, 1)
	if err != nil {
		return nil, err
	}
	if s.outputEvery, err = intOrDefault("output_interval_steps", c.OutputIntervalSteps, 10); err != nil {
		return nil, err
	}
	if order < 1 {
		return nil, Invalidf("config.order must be >= 1.")
	}
	if order > 1 {
		return nil, Invalidf("config.order must be 1 for curl-conforming solves.")
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("config.output_interval_steps must be > 0.")
	}

	initial, err := reqObj("initial_condition", c.InitialCondition)
	if err != nil {
		return nil, err
	}
	typ := bcType(initial)
	if typ != "dipole_pulse" && typ != "dipole-pulse" && typ != "dipolepulse" {
		return nil, Invalidf("config.initial_condition.type must be dipole_pulse.")
	}
	if s.center, err = reqVec("center", initial["center"]); err != nil {
		return nil, err
	}
	if s.polarization, err = reqVec("polarization", initial["polarization"]); err != nil {
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
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		typ := bcType(entry)
		if typ != "perfect_conductor" && typ != "perfect-conductor" && typ != "perfectconductor" {
			return nil, Invalidf("config.bcs[].type must be perfect_conductor.")
		}
		s.pc = append(s.pc, attr)
	}
	return s, nil
}

// maxwellOperator is the damped curl-curl system M d2E/dt2 + C dE/dt
// + K E = 0 on the stacked state [v; E]. All three matrices carry
// identity rows at the conductor dofs.
type maxwellOperator struct {
	n       int
	M, C, K *sparse.CSR
	ess     []int

	massPrec linalg.Preconditioner

	imp   *sparse.CSR
	prec  linalg.Preconditioner
	curDt float64

	massIters int
	impIters  int

	rhs []float64
}

func (op *maxwellOperator) Size() int { return 2 * op.n }

func (op *maxwellOperator) Mult(_ float64, ve, dve []float64) error {
	n := op.n
	v := ve[:n]
	e := ve[n:]
	dv := dve[:n]
	de := dve[n:]

	linalg.MulVec(op.C, v, op.rhs)
	linalg.MulVecAdd(op.K, 1, e, op.rhs)
	for i := range op.rhs {
		op.rhs[i] = -op.rhs[i]
	}
	for _, d := range op.ess {
		op.rhs[d] = 0
	}
	for i := range dv {
		dv[i] = 0
	}
	st := linalg.PCG(op.M, op.rhs, dv, op.massPrec, 1e-8, 0, 500)
	op.massIters += st.Iterations
	for _, d := range op.ess {
		dv[d] = 0
	}
	copy(de, v)
	for _, d := range op.ess {
		de[d] = 0
	}
	return nil
}

func (op *maxwellOperator) ImplicitSolve(dtk, _ float64, ve, k []float64) error {
	n := op.n
	v := ve[:n]
	e := ve[n:]
	kv := k[:n]
	ke := k[n:]

	if op.imp == nil || math.Abs(dtk-op.curDt) > 1e-15 {
		dok := linalg.Compose(n, n,
			linalg.Block{M: op.M},
			linalg.Block{M: op.C, Scale: dtk},
			linalg.Block{M: op.K, Scale: dtk * dtk})
		linalg.EliminateDOK(dok, op.ess, nil, nil, 1)
		op.imp = dok.ToCSR()
		op.prec = linalg.NewGaussSeidelPrec(op.imp)
		op.curDt = dtk
	}

	linalg.MulVec(op.C, v, op.rhs)
	linalg.MulVecAdd(op.K, 1, e, op.rhs)
	linalg.MulVecAdd(op.K, dtk, v, op.rhs)
	for i := range op.rhs {
		op.rhs[i] = -op.rhs[i]
	}
	for _, d := range op.ess {
		op.rhs[d] = 0
	}

	for i := range kv {
		kv[i] = 0
	}
	st := linalg.PCG(op.imp, op.rhs, kv, op.prec, 1e-8, 0, 1000)
	op.impIters += st.Iterations
	for _, d := range op.ess {
		kv[d] = 0
	}

	for i := range ke {
		ke[i] = v[i] + dtk*kv[i]
	}
	for _, d := range op.ess {
		ke[d] = 0
	}
	return nil
}

// residualNorm measures how far the state sits from the semi-discrete
// equation, using the mass solve of Mult for the rate derivative.
func (op *maxwellOperator) residualNorm(ve []float64) (float64, error) {
	n := op.n
	v := ve[:n]
	e := ve[n:]
	der := make([]float64, 2*n)
	if err := op.Mult(0, ve, der); err != nil {
		return 0, err
	}
	linalg.MulVec(op.M, der[:n], op.rhs)
	linalg.MulVecAdd(op.C, 1, v, op.rhs)
	linalg.MulVecAdd(op.K, 1, e, op.rhs)
	for _, d := range op.ess {
		op.rhs[d] = 0
	}
	return floats.Norm(op.rhs, 2), nil
}

func (s *transientMaxwellSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	sdim := m.SpaceDim
	center := padVec(s.center, sdim)
	pol := padVec(s.polarization, sdim)
	polNorm := 0.0
	for _, p := range pol {
		polNorm += p * p
	}
	if !(math.Sqrt(polNorm) > 0) {
		return nil, Invalidf("config.initial_condition.polarization must have non-zero magnitude.")
	}

	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.pc) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	pcAttrs := map[int]bool{}
	for _, a := range s.pc {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		pcAttrs[a] = true
	}
	if maxBdr > 0 && len(pcAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one perfect_conductor boundary condition.")
	}

	sp, err := fem.NewNedelecSpace(m)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(pcAttrs)

	var c3, p3 [3]float64
	copy(c3[:], center)
	copy(p3[:], pol)
	pulse := func(x [3]float64, _ int) [3]float64 {
		r2 := 0.0
		for i := 0; i < sdim && i < 3; i++ {
			d := x[i] - c3[i]
			r2 += d * d
		}
		env := math.Exp(-40 * r2)
		return [3]float64{env * p3[0], env * p3[1], env * p3[2]}
	}
	gf := fem.NewGridFunc(sp)
	if err := gf.ProjectND(pulse); err != nil {
		return nil, err
	}

	state := make([]float64, 2*n)
	copy(state[n:], gf.Data)
	for _, d := range ess {
		state[d] = 0
		state[n+d] = 0
	}

	asmM := fem.NewAssembler(sp)
	asmM.AddVectorFEMass(fem.ConstCoeff(s.permittivity))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmC := fem.NewAssembler(sp)
	asmC.AddVectorFEMass(fem.ConstCoeff(s.conductivity))
	C, err := asmC.Matrix()
	if err != nil {
		return nil, err
	}
	asmK := fem.NewAssembler(sp)
	asmK.AddCurlCurl(fem.ConstCoeff(1 / s.permeability))
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}
	mDok := linalg.Compose(n, n, linalg.Block{M: M})
	linalg.EliminateDOK(mDok, ess, nil, nil, 1)
	Me := mDok.ToCSR()
	cDok := linalg.Compose(n, n, linalg.Block{M: C})
	linalg.EliminateDOK(cDok, ess, nil, nil, 1)
	Ce := cDok.ToCSR()
	kDok := linalg.Compose(n, n, linalg.Block{M: K})
	linalg.EliminateDOK(kDok, ess, nil, nil, 1)
	Ke := kDok.ToCSR()

	op := &maxwellOperator{
		n: n, M: Me, C: Ce, K: Ke, ess: ess,
		massPrec: linalg.NewJacobiPrec(Me),
		curDt:    -1,
		rhs:      make([]float64, n),
	}
	rc.log().Debug("assembled maxwell system", "dofs", n, "essential", len(ess))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.SDIRK34Step(op, time, stepDt, state); err != nil {
			return nil, err
		}
		for _, d := range ess {
			state[d] = 0
			state[n+d] = 0
		}
		time += stepDt
		step++
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	v := state[:n]
	e := state[n:]
	Mv := make([]float64, n)
	linalg.MulVec(Me, v, Mv)
	Ke2 := make([]float64, n)
	linalg.MulVec(Ke, e, Ke2)

	errNorm, err := op.residualNorm(state)
	if err != nil {
		return nil, err
	}

	kinetic := 0.5 * floats.Dot(v, Mv)
	potential := 0.5 * floats.Dot(e, Ke2)
	rc.log().Info("solve finished", "steps", step, "iterations", op.massIters+op.impIters,
		"kinetic", kinetic, "potential", potential, "residual", errNorm)

	eVals, err := (&fem.GridFunc{Sp: sp, Data: e}).CornerValues()
	if err != nil {
		return nil, err
	}
	vVals, err := (&fem.GridFunc{Sp: sp, Data: v}).CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Vector("electric_field", eVals),
		vtk.Vector("electric_rate", vVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     kinetic + potential,
		Iterations: op.massIters + op.impIters,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
