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

type heatConfig struct {
	Conductivity        *float64 `mapstructure:"conductivity"`
	SpecificHeat        *float64 `mapstructure:"specific_heat"`
	InitialTemperature  *float64 `mapstructure:"initial_temperature"`
	Dt                  *float64 `mapstructure:"dt"`
	TFinal              *float64 `mapstructure:"t_final"`
	Source              *float64 `mapstructure:"source"`
	OutputIntervalSteps *float64 `mapstructure:"output_interval_steps"`
	Bcs                 any      `mapstructure:"bcs"`
}

type heatBC struct {
	attr  int
	typ   string
	value float64
}

type heatTransferSolver struct {
	conductivity float64
	specificHeat float64
	initialTemp  float64
	dt, tFinal   float64
	source       float64
	outputEvery  int
	bcs          []heatBC
}

func newHeatTransfer(cfg map[string]any) (Solver, error) {
	var c heatConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &heatTransferSolver{}
	var err error
	if s.conductivity, err = reqPos("conductivity", c.Conductivity); err != nil {
		return nil, err
	}
	if s.specificHeat, err = reqPos("specific_heat", c.SpecificHeat); err != nil {
		return nil, err
	}
	if s.initialTemp, err = reqNum("initial_temperature", c.InitialTemperature); err != nil {
		return nil, err
	}
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}
	if s.source, err = optNum("source", c.Source, 0); err != nil {
		return nil, err
	}
	if s.outputEvery, err = optInt("output_interval_steps", c.OutputIntervalSteps, 10); err != nil {
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
		if typ != "fixed_temp" && typ != "heat_flux" {
			return nil, Invalidf("config.bcs[].type must be fixed_temp or heat_flux.")
		}
		s.bcs = append(s.bcs, heatBC{attr: attr, typ: typ, value: value})
	}
	return s, nil
}

// conductionOperator is the semi-discrete form cp*M du/dt = q - K u with
// essential rows pinned to zero rate.
type conductionOperator struct {
	n    int
	M, K *sparse.CSR
	rhs  []float64
	ess  []int

	imp   *sparse.CSR
	prec  linalg.Preconditioner
	curDt float64
	iters int
	z, g  []float64
}

func (op *conductionOperator) Size() int { return op.n }

func (op *conductionOperator) Mult(t float64, u, du []float64) error {
	return op.ImplicitSolve(0, t, u, du)
}

func (op *conductionOperator) ImplicitSolve(dtk, _ float64, u, k []float64) error {
	if op.imp == nil || math.Abs(dtk-op.curDt) > 1e-15 {
		blocks := []linalg.Block{{M: op.M}}
		if dtk != 0 {
			blocks = append(blocks, linalg.Block{M: op.K, Scale: dtk})
		}
		dok := linalg.Compose(op.n, op.n, blocks...)
		linalg.EliminateDOK(dok, op.ess, nil, nil, 1)
		op.imp = dok.ToCSR()
		op.prec = linalg.NewJacobiPrec(op.imp)
		op.curDt = dtk
	}
	linalg.MulVec(op.K, u, op.z)
	for i := range op.g {
		op.g[i] = op.rhs[i] - op.z[i]
	}
	for _, e := range op.ess {
		op.g[e] = 0
	}
	for i := range k {
		k[i] = 0
	}
	st := linalg.PCG(op.imp, op.g, k, op.prec, 1e-10, 0, 500)
	op.iters += st.Iterations
	return nil
}

func (s *heatTransferSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
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
		if bc.typ == "fixed_temp" {
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

	u := make([]float64, n)
	for i := range u {
		u[i] = s.initialTemp
	}
	essAttrs := map[int]bool{}
	for a := range fixed {
		essAttrs[a] = true
	}
	projectFixed := func() {
		for i, be := range m.Boundary {
			v, ok := fixed[be.Attr]
			if !ok {
				continue
			}
			dofs, _ := sp.BoundaryDofs(i)
			for _, d := range dofs {
				u[d] = v
			}
		}
	}
	projectFixed()
	ess := sp.BoundaryScalarDofs(essAttrs)

	asmM := fem.NewAssembler(sp)
	asmM.AddMass(fem.ConstCoeff(s.specificHeat))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmK := fem.NewAssembler(sp)
	asmK.AddDiffusion(fem.ConstCoeff(s.conductivity))
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}

	rhs := make([]float64, n)
	if math.Abs(s.source) > 0 {
		if err := fem.DomainLF(sp, fem.ConstCoeff(s.source), rhs); err != nil {
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
		if err := fem.BoundaryLF(sp, g, fluxAttrs, rhs); err != nil {
			return nil, err
		}
	}

	op := &conductionOperator{
		n: n, M: M, K: K, rhs: rhs, ess: ess,
		curDt: -1,
		z:     make([]float64, n),
		g:     make([]float64, n),
	}
	rc.log().Debug("assembled conduction system", "dofs", n, "essential", len(ess))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.BackwardEulerStep(op, time, stepDt, u); err != nil {
			return nil, err
		}
		time += stepDt
		projectFixed()
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
		r[i] = rhs[i] - r[i]
	}
	for _, e := range ess {
		r[e] = 0
	}
	errNorm := floats.Norm(r, 2)
	rc.log().Info("solve finished", "steps", step, "iterations", op.iters, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: u}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("temperature", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(u, Mu),
		Iterations: op.iters,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
		Extra:      map[string]any{"steps": step},
	}, nil
}
