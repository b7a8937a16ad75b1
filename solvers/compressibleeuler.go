package solvers

import (
	"math"

	"github.com/notargets/gocfd/utils"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type eulerConfig struct {
	SpecificHeatRatio   *float64 `mapstructure:"specific_heat_ratio"`
	Dt                  *float64 `mapstructure:"dt"`
	TFinal              *float64 `mapstructure:"t_final"`
	Order               any      `mapstructure:"order"`
	OutputIntervalSteps any      `mapstructure:"output_interval_steps"`
	InitialCondition    any      `mapstructure:"initial_condition"`
	Bcs                 any      `mapstructure:"bcs"`
}

// primitiveState is one side of the shock tube: density, x velocity and
// pressure.
type primitiveState struct {
	density, velocityX, pressure float64
}

type eulerSolver struct {
	gamma       float64
	dt, tFinal  float64
	order       int
	outputEvery int
	left, right primitiveState
	slip        []int
}

func newCompressibleEuler(cfg map[string]any) (Solver, error) {
	var c eulerConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &eulerSolver{}
	var err error
	if s.gamma, err = reqPos("specific_heat_ratio", c.SpecificHeatRatio); err != nil {
		return nil, err
	}
	if s.gamma <= 1 {
		return nil, Invalidf("config.specific_heat_ratio must be > 1.")
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
	if s.outputEvery, err = intOrDefault("output_interval_steps", c.OutputIntervalSteps, 10); err != nil {
		return nil, err
	}
	if s.order < 0 {
		return nil, Invalidf("config.order must be >= 0.")
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("config.output_interval_steps must be > 0.")
	}

	initial, ok := c.InitialCondition.(map[string]any)
	if !ok {
		return nil, Invalidf("config.initial_condition is required and must be an object.")
	}
	typ := bcType(initial)
	if typ != "shock_tube" && typ != "shock-tube" && typ != "shocktube" {
		return nil, Invalidf("config.initial_condition.type must be shock_tube.")
	}
	if _, ok := initial["left_state"]; !ok {
		return nil, Invalidf("config.initial_condition.left_state is required.")
	}
	if _, ok := initial["right_state"]; !ok {
		return nil, Invalidf("config.initial_condition.right_state is required.")
	}
	if s.left, err = parsePrimitive("left_state", initial["left_state"]); err != nil {
		return nil, err
	}
	if s.right, err = parsePrimitive("right_state", initial["right_state"]); err != nil {
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
		if typ != "slip_wall" && typ != "slip-wall" && typ != "slipwall" {
			return nil, Invalidf("config.bcs[].type must be slip_wall.")
		}
		s.slip = append(s.slip, attr)
	}
	return s, nil
}

func parsePrimitive(label string, v any) (primitiveState, error) {
	arr, ok := v.([]any)
	if !ok {
		return primitiveState{}, Invalidf("config.initial_condition.%s must be an array.", label)
	}
	if len(arr) < 3 {
		return primitiveState{}, Invalidf("config.initial_condition.%s must contain [density, velocity_x, pressure].", label)
	}
	vals := make([]float64, 0, len(arr))
	for _, e := range arr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return primitiveState{}, Invalidf("config.initial_condition.%s entries must be numeric.", label)
		}
		vals = append(vals, f)
	}
	p := primitiveState{density: vals[0], velocityX: vals[1], pressure: vals[2]}
	if p.density <= 0 {
		return primitiveState{}, Invalidf("config.initial_condition.%s density must be > 0.", label)
	}
	if p.pressure <= 0 {
		return primitiveState{}, Invalidf("config.initial_condition.%s pressure must be > 0.", label)
	}
	return p, nil
}

// conservative returns [rho, rho*vx, (0,) E] for a primitive state.
func (p primitiveState) conservative(dim int, gamma float64) []float64 {
	state := make([]float64, dim+2)
	state[0] = p.density
	state[1] = p.density * p.velocityX
	state[dim+1] = p.pressure/(gamma-1) + 0.5*p.density*p.velocityX*p.velocityX
	return state
}

// eulerOperator is the semi-discrete DG form of the compressible Euler
// equations du/dt = M^-1 R(u) with Rusanov facet fluxes. The state is
// laid out by equation blocks over the scalar L2 space, and M^-1 is
// applied with per-element inverse mass blocks.
type eulerOperator struct {
	sp    *fem.Space
	topo  *mesh.Topology
	gamma float64
	dim   int
	numEq int
	sn    int

	slipAttrs map[int]bool
	bcState   []float64

	dofs [][]int
	minv []utils.Matrix

	z          []float64
	uq, ul, ur []float64
	fl, fr, fh []float64
	fq         [][3]float64
}

func (op *eulerOperator) Size() int { return op.numEq * op.sn }

// normalFlux fills out with F(u).n and returns the normal characteristic
// speed |v.n| + c.
func (op *eulerOperator) normalFlux(u []float64, n [3]float64, out []float64) float64 {
	rho := u[0]
	mn := 0.0
	ke := 0.0
	for d := 0; d < op.dim; d++ {
		mn += u[1+d] * n[d]
		ke += u[1+d] * u[1+d]
	}
	E := u[op.dim+1]
	p := (op.gamma - 1) * (E - 0.5*ke/rho)
	vn := mn / rho
	out[0] = mn
	for d := 0; d < op.dim; d++ {
		out[1+d] = vn*u[1+d] + p*n[d]
	}
	out[op.dim+1] = (E + p) * vn
	return math.Abs(vn) + math.Sqrt(op.gamma*p/rho)
}

// rusanov fills out with the dissipative two-state flux
// 0.5 (F(ul)+F(ur)).n - 0.5 s (ur - ul).
func (op *eulerOperator) rusanov(ul, ur []float64, n [3]float64, out []float64) {
	sl := op.normalFlux(ul, n, op.fl)
	sr := op.normalFlux(ur, n, op.fr)
	s := math.Max(sl, sr)
	for e := 0; e < op.numEq; e++ {
		out[e] = 0.5*(op.fl[e]+op.fr[e]) - 0.5*s*(ur[e]-ul[e])
	}
}

// fluxAt fills fq with the full flux tensor F(u), equations by rows and
// space directions by columns.
func (op *eulerOperator) fluxAt(u []float64) {
	for e := range op.fq {
		op.fq[e] = [3]float64{}
	}
	rho := u[0]
	var v [3]float64
	ke := 0.0
	for d := 0; d < op.dim; d++ {
		v[d] = u[1+d] / rho
		ke += u[1+d] * v[d]
	}
	E := u[op.dim+1]
	p := (op.gamma - 1) * (E - 0.5*ke)
	for d := 0; d < op.dim; d++ {
		op.fq[0][d] = u[1+d]
		for c := 0; c < op.dim; c++ {
			op.fq[1+c][d] = u[1+c] * v[d]
		}
		op.fq[1+d][d] += p
		op.fq[op.dim+1][d] = (E + p) * v[d]
	}
}

func (op *eulerOperator) volumeTerms(u []float64) error {
	sp := op.sp
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
		vals, err := sp.BasisAtPoints(i, rule.Points)
		if err != nil {
			return err
		}
		grads, err := sp.BasisGradsAtPoints(i, rule, tr)
		if err != nil {
			return err
		}
		dofs := op.dofs[i]
		for q := range rule.Points {
			for e := 0; e < op.numEq; e++ {
				s := 0.0
				for r, d := range dofs {
					s += u[e*op.sn+d] * vals[q][r]
				}
				op.uq[e] = s
			}
			op.fluxAt(op.uq)
			w := tr.W[q]
			for r, d := range dofs {
				g := grads[q][r]
				for e := 0; e < op.numEq; e++ {
					f := op.fq[e]
					op.z[e*op.sn+d] += w * (f[0]*g[0] + f[1]*g[1] + f[2]*g[2])
				}
			}
		}
	}
	return nil
}

func (op *eulerOperator) faceTerms(u []float64) error {
	sp := op.sp
	m := sp.Mesh
	deg := 2*sp.Order + 1
	for f := range op.topo.Facets {
		fc := &op.topo.Facets[f]
		interior := fc.Interior()
		if !interior {
			attr := 0
			if fc.BdrElem >= 0 {
				attr = m.Boundary[fc.BdrElem].Attr
			}
			if !op.slipAttrs[attr] {
				continue
			}
		}
		ft, err := fem.FacetTrans(m, op.topo, f, deg)
		if err != nil {
			return err
		}
		dofsA := op.dofs[fc.Elem[0]]
		valsA, err := sp.BasisAtPoints(fc.Elem[0], ft.RefA)
		if err != nil {
			return err
		}
		var dofsB []int
		var valsB [][]float64
		if interior {
			dofsB = op.dofs[fc.Elem[1]]
			valsB, err = sp.BasisAtPoints(fc.Elem[1], ft.RefB)
			if err != nil {
				return err
			}
		}
		for q := range ft.X {
			for e := 0; e < op.numEq; e++ {
				s := 0.0
				for r, d := range dofsA {
					s += u[e*op.sn+d] * valsA[q][r]
				}
				op.ul[e] = s
			}
			if interior {
				for e := 0; e < op.numEq; e++ {
					s := 0.0
					for r, d := range dofsB {
						s += u[e*op.sn+d] * valsB[q][r]
					}
					op.ur[e] = s
				}
			} else {
				copy(op.ur, op.bcState)
			}
			op.rusanov(op.ul, op.ur, ft.Normal, op.fh)
			w := ft.W[q]
			for e := 0; e < op.numEq; e++ {
				fw := w * op.fh[e]
				for r, d := range dofsA {
					op.z[e*op.sn+d] -= fw * valsA[q][r]
				}
				for r, d := range dofsB {
					op.z[e*op.sn+d] += fw * valsB[q][r]
				}
			}
		}
	}
	return nil
}

func (op *eulerOperator) Mult(_ float64, u, du []float64) error {
	for i := range op.z {
		op.z[i] = 0
	}
	if err := op.volumeTerms(u); err != nil {
		return err
	}
	if err := op.faceTerms(u); err != nil {
		return err
	}
	for k, dofs := range op.dofs {
		nd := len(dofs)
		zk := utils.NewMatrix(nd, op.numEq)
		for r, d := range dofs {
			for e := 0; e < op.numEq; e++ {
				zk.Set(r, e, op.z[e*op.sn+d])
			}
		}
		dk := op.minv[k].Mul(zk)
		for r, d := range dofs {
			for e := 0; e < op.numEq; e++ {
				du[e*op.sn+d] = dk.At(r, e)
			}
		}
	}
	return nil
}

func (op *eulerOperator) ImplicitSolve(_, _ float64, _, _ []float64) error {
	return Algorithmf("CompressibleEuler evolution has no implicit form.")
}

func (s *eulerSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	if dim <= 0 {
		return nil, Invalidf("CompressibleEuler solver requires a positive mesh dimension.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.slip) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	slipAttrs := map[int]bool{}
	for _, a := range s.slip {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		slipAttrs[a] = true
	}

	numEq := dim + 2
	sp, err := fem.NewL2Space(m, s.order, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	sn := sp.NDof()
	n := numEq * sn

	xMin := math.Inf(1)
	xMax := math.Inf(-1)
	for _, v := range m.Verts {
		xMin = math.Min(xMin, v[0])
		xMax = math.Max(xMax, v[0])
	}
	if !finite(xMin) || !finite(xMax) {
		return nil, Algorithmf("Failed to determine mesh x-extents for shock_tube initialization.")
	}
	split := 0.5 * (xMin + xMax)

	leftCons := s.left.conservative(dim, s.gamma)
	rightCons := s.right.conservative(dim, s.gamma)

	state := make([]float64, n)
	for e := 0; e < numEq; e++ {
		gf := &fem.GridFunc{Sp: sp, Data: state[e*sn : (e+1)*sn]}
		lv, rv := leftCons[e], rightCons[e]
		ic := func(x [3]float64, _ int) float64 {
			if x[0] <= split {
				return lv
			}
			return rv
		}
		if err := gf.ProjectL2(ic); err != nil {
			return nil, err
		}
	}

	bcState := primitiveState{
		density:  0.5 * (s.left.density + s.right.density),
		pressure: 0.5 * (s.left.pressure + s.right.pressure),
	}.conservative(dim, s.gamma)

	topo, err := m.Topology()
	if err != nil {
		return nil, err
	}
	dofs := make([][]int, m.NE())
	minv := make([]utils.Matrix, m.NE())
	for k, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*s.order+2)
		if err != nil {
			return nil, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		vals, err := sp.BasisAtPoints(k, rule.Points)
		if err != nil {
			return nil, err
		}
		ed, _ := sp.ElementDofs(k)
		dofs[k] = ed
		nd := len(ed)
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
			return nil, Algorithmf("CompressibleEuler element mass matrix is singular.")
		}
		minv[k] = inv
	}

	op := &eulerOperator{
		sp:        sp,
		topo:      topo,
		gamma:     s.gamma,
		dim:       dim,
		numEq:     numEq,
		sn:        sn,
		slipAttrs: slipAttrs,
		bcState:   bcState,
		dofs:      dofs,
		minv:      minv,
		z:         make([]float64, n),
		uq:        make([]float64, numEq),
		ul:        make([]float64, numEq),
		ur:        make([]float64, numEq),
		fl:        make([]float64, numEq),
		fr:        make([]float64, numEq),
		fh:        make([]float64, numEq),
		fq:        make([][3]float64, numEq),
	}
	rc.log().Debug("assembled Euler system", "dofs", n, "elements", m.NE(),
		"slip walls", len(slipAttrs))

	time := 0.0
	step := 0
	for time+1e-12 < s.tFinal {
		stepDt := math.Min(s.dt, s.tFinal-time)
		if err := linalg.RK4Step(op, time, stepDt, state); err != nil {
			return nil, err
		}
		time += stepDt
		step++
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	ones := make([]float64, sn)
	if err := fem.DomainLF(sp, fem.ConstCoeff(1), ones); err != nil {
		return nil, err
	}
	energy := floats.Dot(state[(numEq-1)*sn:], ones)

	duDt := make([]float64, n)
	if err := op.Mult(time, state, duDt); err != nil {
		return nil, err
	}
	errNorm := floats.Norm(duDt, 2)
	rc.log().Info("solve finished", "steps", step, "energy", energy, "residual", errNorm)

	pressure := make([]float64, sn)
	for i := 0; i < sn; i++ {
		rho := math.Max(state[i], 1e-12)
		m2 := 0.0
		for d := 0; d < dim; d++ {
			mi := state[(1+d)*sn+i]
			m2 += mi * mi
		}
		rhoE := state[(numEq-1)*sn+i]
		pressure[i] = math.Max((s.gamma-1)*(rhoE-0.5*m2/rho), 0)
	}

	scalarField := func(data []float64) ([][][]float64, error) {
		return (&fem.GridFunc{Sp: sp, Data: data}).CornerValues()
	}
	rhoVals, err := scalarField(state[:sn])
	if err != nil {
		return nil, err
	}
	momComp := make([][][][]float64, dim)
	for d := 0; d < dim; d++ {
		cv, err := scalarField(state[(1+d)*sn : (2+d)*sn])
		if err != nil {
			return nil, err
		}
		momComp[d] = cv
	}
	momVals := make([][][]float64, len(rhoVals))
	for k := range rhoVals {
		momVals[k] = make([][]float64, len(rhoVals[k]))
		for c := range rhoVals[k] {
			vec := make([]float64, 3)
			for d := 0; d < dim; d++ {
				vec[d] = momComp[d][k][c][0]
			}
			momVals[k][c] = vec
		}
	}
	eVals, err := scalarField(state[(numEq-1)*sn:])
	if err != nil {
		return nil, err
	}
	pVals, err := scalarField(pressure)
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Scalar("density", rhoVals),
		vtk.Vector("momentum", momVals),
		vtk.Scalar("total_energy", eVals),
		vtk.Scalar("pressure", pVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     energy,
		Iterations: step,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
