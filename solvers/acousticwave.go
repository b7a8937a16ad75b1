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

type acousticConfig struct {
	WaveSpeed        *float64 `mapstructure:"wave_speed"`
	Dt               *float64 `mapstructure:"dt"`
	TFinal           *float64 `mapstructure:"t_final"`
	InitialCondition any      `mapstructure:"initial_condition"`
	Bcs              any      `mapstructure:"bcs"`
}

type acousticWaveSolver struct {
	waveSpeed  float64
	dt, tFinal float64
	amplitude  float64
	center     []float64
	rigid      []int
}

func newAcousticWave(cfg map[string]any) (Solver, error) {
	var c acousticConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &acousticWaveSolver{}
	var err error
	if s.waveSpeed, err = reqPos("wave_speed", c.WaveSpeed); err != nil {
		return nil, err
	}
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}

	initial, ok := c.InitialCondition.(map[string]any)
	if !ok {
		return nil, Invalidf("config.initial_condition is required and must be an object.")
	}
	typ := bcType(initial)
	if typ != "gaussian_pulse" && typ != "gaussian-pulse" && typ != "gaussianpulse" {
		return nil, Invalidf("config.initial_condition.type must be gaussian_pulse.")
	}
	if s.amplitude, ok = toFloat(initial["amplitude"]); !ok || !finite(s.amplitude) {
		return nil, Invalidf("config.initial_condition.amplitude is required and must be numeric.")
	}
	carr, ok := initial["center"].([]any)
	if !ok {
		return nil, Invalidf("config.initial_condition.center is required and must be an array.")
	}
	if len(carr) == 0 {
		return nil, Invalidf("config.initial_condition.center must not be empty.")
	}
	if len(carr) > 3 {
		return nil, Invalidf("config.initial_condition.center must contain at most 3 values.")
	}
	for _, e := range carr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("config.initial_condition.center entries must be numeric.")
		}
		s.center = append(s.center, f)
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
		if typ != "rigid_wall" && typ != "rigid-wall" && typ != "rigidwall" {
			return nil, Invalidf("config.bcs[].type must be rigid_wall.")
		}
		s.rigid = append(s.rigid, attr)
	}
	return s, nil
}

// waveOperator is the second-order form M d2u/dt2 = -K u with rigid wall
// dofs pinned to zero. Both matrices carry identity rows at the pinned
// dofs, so every solve keeps them decoupled.
type waveOperator struct {
	n    int
	M, K *sparse.CSR
	ess  []int

	massPrec linalg.Preconditioner

	imp    *sparse.CSR
	prec   linalg.Preconditioner
	curFac float64
	iters  int
	z      []float64
}

func (op *waveOperator) Size() int { return op.n }

// accel recovers the acceleration a = M^-1 (-K u) with a mass solve.
func (op *waveOperator) accel(u, a []float64) error {
	linalg.MulVec(op.K, u, op.z)
	for i := range op.z {
		op.z[i] = -op.z[i]
	}
	for _, e := range op.ess {
		op.z[e] = 0
	}
	for i := range a {
		a[i] = 0
	}
	linalg.PCG(op.M, op.z, a, op.massPrec, 1e-8, 0, 500)
	for _, e := range op.ess {
		a[e] = 0
	}
	return nil
}

func (op *waveOperator) ImplicitSolve(fac0, _, _ float64, u, _, a []float64) error {
	if fac0 == 0 {
		return op.accel(u, a)
	}
	if op.imp == nil || math.Abs(fac0-op.curFac) > 1e-15 {
		dok := linalg.Compose(op.n, op.n,
			linalg.Block{M: op.M}, linalg.Block{M: op.K, Scale: fac0})
		linalg.EliminateDOK(dok, op.ess, nil, nil, 1)
		op.imp = dok.ToCSR()
		op.prec = linalg.NewJacobiPrec(op.imp)
		op.curFac = fac0
	}
	linalg.MulVec(op.K, u, op.z)
	for i := range op.z {
		op.z[i] = -op.z[i]
	}
	for _, e := range op.ess {
		op.z[e] = 0
	}
	for i := range a {
		a[i] = 0
	}
	st := linalg.PCG(op.imp, op.z, a, op.prec, 1e-8, 0, 500)
	for _, e := range op.ess {
		a[e] = 0
	}
	op.iters += st.Iterations
	return nil
}

func (s *acousticWaveSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.rigid) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	rigidAttrs := map[int]bool{}
	for _, a := range s.rigid {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		rigidAttrs[a] = true
	}

	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(rigidAttrs)

	center := [3]float64{}
	for i := 0; i < len(s.center) && i < m.Dim; i++ {
		center[i] = s.center[i]
	}
	ndims := m.Dim
	if m.SpaceDim < ndims {
		ndims = m.SpaceDim
	}
	pulse := func(x [3]float64, _ int) float64 {
		r2 := 0.0
		for i := 0; i < ndims; i++ {
			d := x[i] - center[i]
			r2 += d * d
		}
		return s.amplitude * math.Exp(-30*r2)
	}

	gf := fem.NewGridFunc(sp)
	if err := gf.ProjectH1(pulse); err != nil {
		return nil, err
	}
	u := gf.Data
	v := make([]float64, n)
	for _, e := range ess {
		u[e] = 0
		v[e] = 0
	}

	asmM := fem.NewAssembler(sp)
	asmM.AddMass(fem.ConstCoeff(1))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmK := fem.NewAssembler(sp)
	asmK.AddDiffusion(fem.ConstCoeff(s.waveSpeed * s.waveSpeed))
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

	op := &waveOperator{
		n: n, M: Me, K: Ke, ess: ess,
		massPrec: linalg.NewJacobiPrec(Me),
		curFac:   -1,
		z:        make([]float64, n),
	}
	rc.log().Debug("assembled wave system", "dofs", n, "essential", len(ess))

	nm := &linalg.Newmark{Beta: 0.25, Gamma: 0.5}
	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := nm.Step(op, time, stepDt, u, v); err != nil {
			return nil, err
		}
		for _, e := range ess {
			u[e] = 0
			v[e] = 0
		}
		time += stepDt
		step++
		rc.log().Debug("time step", "step", step, "time", time)
	}

	Mv := make([]float64, n)
	linalg.MulVec(Me, v, Mv)
	Ku := make([]float64, n)
	linalg.MulVec(Ke, u, Ku)

	a := make([]float64, n)
	if err := op.accel(u, a); err != nil {
		return nil, err
	}
	r := make([]float64, n)
	linalg.MulVec(Me, a, r)
	floats.Add(r, Ku)
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)

	kinetic := 0.5 * floats.Dot(v, Mv)
	potential := 0.5 * floats.Dot(u, Ku)
	rc.log().Info("solve finished", "steps", step, "iterations", op.iters,
		"kinetic", kinetic, "potential", potential, "residual", errNorm)

	uVals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	vVals, err := (&fem.GridFunc{Sp: sp, Data: v}).CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Scalar("acoustic_potential", uVals),
		vtk.Scalar("acoustic_rate", vVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     kinetic + potential,
		Iterations: op.iters,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
