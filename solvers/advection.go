package solvers

import (
	"math"

	"github.com/james-bowman/sparse"
	"github.com/notargets/gocfd/utils"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type advectionConfig struct {
	Dt                  *float64 `mapstructure:"dt"`
	TFinal              *float64 `mapstructure:"t_final"`
	Order               any      `mapstructure:"order"`
	OutputIntervalSteps any      `mapstructure:"output_interval_steps"`
	VelocityField       any      `mapstructure:"velocity_field"`
	InitialCondition    any      `mapstructure:"initial_condition"`
	Bcs                 any      `mapstructure:"bcs"`
}

type inflowBC struct {
	attr  int
	value float64
}

type advectionSolver struct {
	dt, tFinal  float64
	order       int
	outputEvery int
	velocity    []float64
	center      []float64
	radius      float64
	icValue     float64
	inflow      []inflowBC
}

func newAdvection(cfg map[string]any) (Solver, error) {
	var c advectionConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &advectionSolver{}
	var err error
	if s.dt, err = reqPos("dt", c.Dt); err != nil {
		return nil, err
	}
	if s.tFinal, err = reqPos("t_final", c.TFinal); err != nil {
		return nil, err
	}
	if s.order, err = intOrDefault("order", c.Order, 1); err != nil {
		return nil, err
	}
	if s.order < 0 {
		return nil, Invalidf("config.order must be >= 0.")
	}
	if s.outputEvery, err = intOrDefault("output_interval_steps", c.OutputIntervalSteps, 10); err != nil {
		return nil, err
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("config.output_interval_steps must be > 0.")
	}

	varr, ok := c.VelocityField.([]any)
	if !ok {
		return nil, Invalidf("config.velocity_field is required and must be an array.")
	}
	if len(varr) == 0 {
		return nil, Invalidf("config.velocity_field must not be empty.")
	}
	for _, e := range varr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("config.velocity_field entries must be numeric.")
		}
		s.velocity = append(s.velocity, f)
	}

	initial, ok := c.InitialCondition.(map[string]any)
	if !ok {
		return nil, Invalidf("config.initial_condition is required and must be an object.")
	}
	typ := bcType(initial)
	if typ != "step_function" && typ != "step-function" && typ != "stepfunction" {
		return nil, Invalidf("config.initial_condition.type must be step_function.")
	}
	carr, ok := initial["center"].([]any)
	if !ok {
		return nil, Invalidf("config.initial_condition.center is required and must be an array.")
	}
	if len(carr) == 0 {
		return nil, Invalidf("config.initial_condition.center must not be empty.")
	}
	for _, e := range carr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("config.initial_condition.center entries must be numeric.")
		}
		s.center = append(s.center, f)
	}
	if s.radius, ok = toFloat(initial["radius"]); !ok || !finite(s.radius) {
		return nil, Invalidf("config.initial_condition.radius is required and must be numeric.")
	}
	if s.radius <= 0 {
		return nil, Invalidf("config.initial_condition.radius must be > 0.")
	}
	if s.icValue, ok = toFloat(initial["value"]); !ok || !finite(s.icValue) {
		return nil, Invalidf("config.initial_condition.value is required and must be numeric.")
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
		if bcType(entry) != "inflow" {
			return nil, Invalidf("config.bcs[].type must be inflow.")
		}
		value, err := bcNumValue("bcs", entry)
		if err != nil {
			return nil, err
		}
		s.inflow = append(s.inflow, inflowBC{attr: attr, value: value})
	}
	return s, nil
}

// advectionOperator is the semi-discrete transport du/dt = M^-1 (K u + b).
// The DG mass matrix is block diagonal, so M^-1 is applied exactly with
// per-element inverses instead of a global iterative solve.
type advectionOperator struct {
	n    int
	K    *sparse.CSR
	b    []float64
	dofs [][]int
	minv []utils.Matrix
	z    []float64
}

func (op *advectionOperator) Size() int { return op.n }

func (op *advectionOperator) Mult(_ float64, u, du []float64) error {
	linalg.MulVec(op.K, u, op.z)
	floats.Add(op.z, op.b)
	for k, dofs := range op.dofs {
		nd := len(dofs)
		zk := utils.NewMatrix(nd, 1)
		for j, d := range dofs {
			zk.DataP[j] = op.z[d]
		}
		dk := op.minv[k].Mul(zk)
		for j, d := range dofs {
			du[d] = dk.DataP[j]
		}
	}
	return nil
}

func (op *advectionOperator) ImplicitSolve(_, _ float64, _, _ []float64) error {
	return Algorithmf("Advection evolution has no implicit form.")
}

func (s *advectionSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	if m.Dim <= 0 {
		return nil, Invalidf("Advection solver requires a positive mesh dimension.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.inflow) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	for _, bc := range s.inflow {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
	}
	dim := m.Dim

	var beta [3]float64
	for i := 0; i < dim && i < len(s.velocity); i++ {
		beta[i] = s.velocity[i]
	}
	center := make([]float64, dim)
	for i := 0; i < dim && i < len(s.center); i++ {
		center[i] = s.center[i]
	}
	ndims := dim
	if m.SpaceDim < ndims {
		ndims = m.SpaceDim
	}
	rsq := s.radius * s.radius
	ic := func(x [3]float64, _ int) float64 {
		d := 0.0
		for i := 0; i < ndims; i++ {
			dx := x[i] - center[i]
			d += dx * dx
		}
		if d <= rsq {
			return s.icValue
		}
		return 0
	}

	sp, err := fem.NewL2Space(m, s.order, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	gf := fem.NewGridFunc(sp)
	if err := gf.ProjectL2(ic); err != nil {
		return nil, err
	}
	u := gf.Data

	velCoeff := fem.ConstVec(beta)
	asm := fem.NewAssembler(sp)
	asm.AddDGConvection(velCoeff)
	asm.AddDGUpwind(velCoeff)
	K, err := asm.Matrix()
	if err != nil {
		return nil, err
	}

	b := make([]float64, n)
	if maxBdr > 0 && len(s.inflow) > 0 {
		values := make([]float64, maxBdr+1)
		for _, bc := range s.inflow {
			values[bc.attr] = bc.value
		}
		g := func(_ [3]float64, attr int) float64 {
			if attr >= 1 && attr <= maxBdr {
				return values[attr]
			}
			return 0
		}
		if err := fem.DGInflowLF(sp, velCoeff, g, b); err != nil {
			return nil, err
		}
	}

	mass := make([]utils.Matrix, len(m.Elements))
	minv := make([]utils.Matrix, len(m.Elements))
	elemDofs := make([][]int, len(m.Elements))
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*s.order+2)
		if err != nil {
			return nil, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		vals, err := sp.BasisAtPoints(i, rule.Points)
		if err != nil {
			return nil, err
		}
		dofs, _ := sp.ElementDofs(i)
		nd := len(dofs)
		mk := utils.NewMatrix(nd, nd)
		for q := range rule.Points {
			w := tr.W[q]
			for r := 0; r < nd; r++ {
				for c := 0; c < nd; c++ {
					mk.DataP[r*nd+c] += w * vals[q][r] * vals[q][c]
				}
			}
		}
		inv, err := mk.Inverse()
		if err != nil {
			return nil, Algorithmf("Advection element mass matrix is singular.")
		}
		mass[i], minv[i], elemDofs[i] = mk, inv, dofs
	}

	op := &advectionOperator{n: n, K: K, b: b, dofs: elemDofs, minv: minv, z: make([]float64, n)}
	rc.log().Debug("assembled transport system", "dofs", n, "order", s.order, "elements", len(m.Elements))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.RK4Step(op, time, stepDt, u); err != nil {
			return nil, err
		}
		time += stepDt
		step++
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	duDt := make([]float64, n)
	if err := op.Mult(time, u, duDt); err != nil {
		return nil, err
	}
	energy := 0.0
	for k, dofs := range elemDofs {
		nd := len(dofs)
		uk := utils.NewMatrix(nd, 1)
		for j, d := range dofs {
			uk.DataP[j] = u[d]
		}
		mu := mass[k].Mul(uk)
		for j := range dofs {
			energy += 0.5 * uk.DataP[j] * mu.DataP[j]
		}
	}
	errNorm := floats.Norm(duDt, 2)
	if !finite(energy) || !finite(errNorm) {
		return nil, Algorithmf("Advection produced non-finite summary metrics.")
	}
	rc.log().Info("solve finished", "steps", step, "residual", errNorm)

	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("concentration", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     energy,
		Iterations: step,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
