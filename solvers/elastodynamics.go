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

type elastoConfig struct {
	Density             *float64 `mapstructure:"density"`
	YoungsModulus       *float64 `mapstructure:"youngs_modulus"`
	PoissonRatio        *float64 `mapstructure:"poisson_ratio"`
	Dt                  *float64 `mapstructure:"dt"`
	TFinal              *float64 `mapstructure:"t_final"`
	Order               any      `mapstructure:"order"`
	OutputIntervalSteps any      `mapstructure:"output_interval_steps"`
	InitialCondition    any      `mapstructure:"initial_condition"`
	Bcs                 any      `mapstructure:"bcs"`
}

// elastoLoad is a surface traction whose magnitude oscillates as
// sin(2 pi f t).
type elastoLoad struct {
	attr      int
	value     []float64
	frequency float64
}

type elastodynamicsSolver struct {
	density    float64
	lambda, mu float64
	dt, tFinal float64

	order       int
	outputEvery int

	icDisp, icVel []float64

	fixed []int
	loads []elastoLoad
}

func newElastodynamics(cfg map[string]any) (Solver, error) {
	var c elastoConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &elastodynamicsSolver{}
	var err error
	if s.density, err = reqPos("density", c.Density); err != nil {
		return nil, err
	}
	young, err := reqPos("youngs_modulus", c.YoungsModulus)
	if err != nil {
		return nil, err
	}
	nu, err := reqNum("poisson_ratio", c.PoissonRatio)
	if err != nil {
		return nil, err
	}
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}
	if s.order, err = intOrDefault("order", c.Order, 1); err != nil {
		return nil, err
	}
	if s.outputEvery, err = intOrDefault("output_interval_steps", c.OutputIntervalSteps, 1); err != nil {
		return nil, err
	}

	if nu <= -1 || nu >= 0.5 {
		return nil, Invalidf("config.poisson_ratio must be in (-1, 0.5).")
	}
	s.lambda = young * nu / ((1 + nu) * (1 - 2*nu))
	s.mu = young / (2 * (1 + nu))
	if s.order < 1 {
		return nil, Invalidf("config.order must be >= 1.")
	}
	if s.order > 2 {
		return nil, Invalidf("config.order must be <= 2.")
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("config.output_interval_steps must be > 0.")
	}

	initial, err := reqObj("initial_condition", c.InitialCondition)
	if err != nil {
		return nil, err
	}
	if v := initial["displacement"]; v != nil {
		if s.icDisp, err = reqVec("displacement", v); err != nil {
			return nil, err
		}
	}
	if v := initial["velocity"]; v != nil {
		if s.icVel, err = reqVec("velocity", v); err != nil {
			return nil, err
		}
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
		if typ == "fixed" {
			s.fixed = append(s.fixed, attr)
			continue
		}
		if typ == "time_varying_load" || typ == "time-varying-load" || typ == "timevaryingload" {
			value, err := reqVec("value", entry["value"])
			if err != nil {
				return nil, err
			}
			freq, ok := toFloat(entry["frequency"])
			if !ok || !finite(freq) {
				return nil, Invalidf("config.bcs[].frequency is required for time_varying_load.")
			}
			if freq <= 0 {
				return nil, Invalidf("config.bcs[].frequency must be > 0 for time_varying_load.")
			}
			s.loads = append(s.loads, elastoLoad{attr: attr, value: value, frequency: freq})
			continue
		}
		return nil, Invalidf("config.bcs[].type must be fixed or time_varying_load.")
	}
	if len(s.fixed) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary.")
	}
	return s, nil
}

// elastoOperator is the first-order form of M d2u/dt2 + K u = L(t) on the
// stacked state [v; u]. Both matrices carry identity rows at the clamped
// dofs and the traction load is reassembled at every stage time.
type elastoOperator struct {
	sp    *fem.Space
	n     int
	M, K  *sparse.CSR
	ess   []int
	loads []elastoLoad

	massPrec linalg.Preconditioner

	imp   *sparse.CSR
	prec  linalg.Preconditioner
	curDt float64

	massIters int
	impIters  int

	z, rhs, load []float64
}

func (op *elastoOperator) Size() int { return 2 * op.n }

// assembleLoad evaluates the traction sum at time t into dst.
func (op *elastoOperator) assembleLoad(t float64, dst []float64) error {
	for i := range dst {
		dst[i] = 0
	}
	for _, ld := range op.loads {
		scale := math.Sin(2 * math.Pi * ld.frequency * t)
		var tr [3]float64
		for i := 0; i < len(ld.value) && i < 3; i++ {
			tr[i] = scale * ld.value[i]
		}
		if err := fem.VectorBoundaryLF(op.sp, fem.ConstVec(tr), map[int]bool{ld.attr: true}, dst); err != nil {
			return err
		}
	}
	for _, e := range op.ess {
		dst[e] = 0
	}
	return nil
}

// accel recovers the acceleration M a = L(t) - K u with a mass solve.
func (op *elastoOperator) accel(t float64, u, a []float64) error {
	if err := op.assembleLoad(t, op.load); err != nil {
		return err
	}
	linalg.MulVec(op.K, u, op.z)
	for i := range op.rhs {
		op.rhs[i] = op.load[i] - op.z[i]
	}
	for _, e := range op.ess {
		op.rhs[e] = 0
	}
	for i := range a {
		a[i] = 0
	}
	st := linalg.PCG(op.M, op.rhs, a, op.massPrec, 1e-8, 0, 500)
	op.massIters += st.Iterations
	for _, e := range op.ess {
		a[e] = 0
	}
	return nil
}

func (op *elastoOperator) Mult(t float64, vu, dvu []float64) error {
	n := op.n
	v := vu[:n]
	u := vu[n:]
	dv := dvu[:n]
	du := dvu[n:]
	if err := op.accel(t, u, dv); err != nil {
		return err
	}
	copy(du, v)
	for _, e := range op.ess {
		du[e] = 0
	}
	return nil
}

func (op *elastoOperator) ImplicitSolve(dtk, t float64, vu, k []float64) error {
	n := op.n
	v := vu[:n]
	u := vu[n:]
	kv := k[:n]
	ku := k[n:]

	if op.imp == nil || math.Abs(dtk-op.curDt) > 1e-15 {
		dok := linalg.Compose(n, n,
			linalg.Block{M: op.M}, linalg.Block{M: op.K, Scale: dtk * dtk})
		linalg.EliminateDOK(dok, op.ess, nil, nil, 1)
		op.imp = dok.ToCSR()
		op.prec = linalg.NewGaussSeidelPrec(op.imp)
		op.curDt = dtk
	}

	if err := op.assembleLoad(t, op.load); err != nil {
		return err
	}
	linalg.MulVec(op.K, u, op.rhs)
	for i := range op.rhs {
		op.rhs[i] = op.load[i] - op.rhs[i]
	}
	linalg.MulVec(op.K, v, op.z)
	floats.AddScaled(op.rhs, -dtk, op.z)
	for _, e := range op.ess {
		op.rhs[e] = 0
	}

	for i := range kv {
		kv[i] = 0
	}
	st := linalg.PCG(op.imp, op.rhs, kv, op.prec, 1e-8, 0, 500)
	op.impIters += st.Iterations
	for _, e := range op.ess {
		kv[e] = 0
	}

	for i := range ku {
		ku[i] = v[i] + dtk*kv[i]
	}
	for _, e := range op.ess {
		ku[e] = 0
	}
	return nil
}

func (s *elastodynamicsSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	if dim <= 0 {
		return nil, Invalidf("Elastodynamics solver requires a positive mesh dimension.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}

	essAttrs := map[int]bool{}
	for _, a := range s.fixed {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		essAttrs[a] = true
	}
	loads := make([]elastoLoad, 0, len(s.loads))
	for _, ld := range s.loads {
		if ld.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		loads = append(loads, elastoLoad{attr: ld.attr, value: padVec(ld.value, dim), frequency: ld.frequency})
	}

	sp, err := fem.NewH1Space(m, s.order, dim, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.VDofsFor(sp.BoundaryScalarDofs(essAttrs))

	var d3, v3 [3]float64
	copy(d3[:], padVec(s.icDisp, dim))
	copy(v3[:], padVec(s.icVel, dim))
	uGf := fem.NewGridFunc(sp)
	if err := uGf.ProjectH1Vec(fem.ConstVec(d3)); err != nil {
		return nil, err
	}
	vGf := fem.NewGridFunc(sp)
	if err := vGf.ProjectH1Vec(fem.ConstVec(v3)); err != nil {
		return nil, err
	}

	state := make([]float64, 2*n)
	copy(state[:n], vGf.Data)
	copy(state[n:], uGf.Data)
	for _, e := range ess {
		state[e] = 0
		state[n+e] = 0
	}

	asmM := fem.NewAssembler(sp)
	asmM.AddVectorMass(fem.ConstCoeff(s.density))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmK := fem.NewAssembler(sp)
	asmK.AddElasticity(fem.ConstCoeff(s.lambda), fem.ConstCoeff(s.mu))
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}
	mDok := linalg.Compose(n, n, linalg.Block{M: M})
	linalg.EliminateDOK(mDok, ess, nil, nil, 1)
	Me := mDok.ToCSR()
	kDok := linalg.Compose(n, n, linalg.Block{M: K})
	linalg.EliminateDOK(kDok, ess, nil, nil, 1)
	Ke := kDok.ToCSR()

	op := &elastoOperator{
		sp: sp, n: n, M: Me, K: Ke, ess: ess, loads: loads,
		massPrec: linalg.NewJacobiPrec(Me),
		curDt:    -1,
		z:        make([]float64, n),
		rhs:      make([]float64, n),
		load:     make([]float64, n),
	}
	rc.log().Debug("assembled elastodynamic system", "dofs", n, "essential", len(ess), "loads", len(loads))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.BackwardEulerStep(op, time, stepDt, state); err != nil {
			return nil, err
		}
		for _, e := range ess {
			state[e] = 0
			state[n+e] = 0
		}
		time += stepDt
		step++
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	v := state[:n]
	u := state[n:]
	Mv := make([]float64, n)
	linalg.MulVec(Me, v, Mv)
	Ku := make([]float64, n)
	linalg.MulVec(Ke, u, Ku)

	a := make([]float64, n)
	if err := op.accel(time, u, a); err != nil {
		return nil, err
	}
	L := make([]float64, n)
	if err := op.assembleLoad(time, L); err != nil {
		return nil, err
	}
	r := make([]float64, n)
	linalg.MulVec(Me, a, r)
	floats.Add(r, Ku)
	floats.Sub(r, L)
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)

	kinetic := 0.5 * floats.Dot(v, Mv)
	strain := 0.5 * floats.Dot(u, Ku)
	rc.log().Info("solve finished", "steps", step, "iterations", op.massIters+op.impIters,
		"kinetic", kinetic, "strain", strain, "residual", errNorm)

	uVals, err := (&fem.GridFunc{Sp: sp, Data: u}).CornerValues()
	if err != nil {
		return nil, err
	}
	vVals, err := (&fem.GridFunc{Sp: sp, Data: v}).CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Vector("displacement", uVals),
		vtk.Vector("velocity", vVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     kinetic + strain,
		Iterations: op.massIters + op.impIters,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
