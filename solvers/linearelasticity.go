package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type elasticityConfig struct {
	Materials    any           `mapstructure:"materials"`
	Density      *float64      `mapstructure:"density"`
	Gravity      any           `mapstructure:"gravity"`
	Acceleration any           `mapstructure:"acceleration"`
	BodyForce    any           `mapstructure:"body_force"`
	Bcs          any           `mapstructure:"bcs"`
	Analysis     *analysisOpts `mapstructure:"analysis_opts"`
}

type elasticMaterial struct {
	attr   int
	lambda float64
	mu     float64
}

type elasticBC struct {
	attr  int
	typ   string
	value any
}

type linearElasticitySolver struct {
	materials []elasticMaterial
	defLambda float64
	defMu     float64

	hasGravity bool
	hasAccel   bool
	hasBody    bool
	density    float64
	gravity    any
	accel      any
	body       any

	hasBcs bool
	bcs    []elasticBC
	opts   solveOpts
}

// lameFromMaterial converts an (E, nu) pair into the Lame parameters.
func lameFromMaterial(e, nu float64) (lambda, mu float64, err error) {
	if e <= 0 {
		return 0, 0, Invalidf("materials[].E must be > 0.")
	}
	if nu <= -1 || nu >= 0.5 {
		return 0, 0, Invalidf("materials[].nu must be in (-1, 0.5).")
	}
	lambda = e * nu / ((1 + nu) * (1 - 2*nu))
	mu = e / (2 * (1 + nu))
	return lambda, mu, nil
}

func materialNumber(m map[string]any, key string) float64 {
	f, ok := toFloat(m[key])
	if !ok || !finite(f) {
		return 0
	}
	return f
}

func newLinearElasticity(cfg map[string]any) (Solver, error) {
	var c elasticityConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &linearElasticitySolver{}
	arr, ok := c.Materials.([]any)
	if !ok || len(arr) == 0 {
		return nil, Invalidf("config.materials must be a non-empty array.")
	}
	for i, e := range arr {
		mat, ok := e.(map[string]any)
		if !ok {
			return nil, Invalidf("config.materials entries must be objects.")
		}
		attrF, isNum := toFloat(mat["attribute"])
		if !isNum || !finite(attrF) || attrF != math.Trunc(attrF) {
			return nil, Invalidf("config.materials[].attribute is required and must be an integer.")
		}
		attr := int(attrF)
		if attr <= 0 {
			return nil, Invalidf("config.materials[].attribute must be > 0.")
		}
		lambda, mu, err := lameFromMaterial(materialNumber(mat, "E"), materialNumber(mat, "nu"))
		if err != nil {
			return nil, err
		}
		if i == 0 {
			s.defLambda, s.defMu = lambda, mu
		}
		s.materials = append(s.materials, elasticMaterial{attr: attr, lambda: lambda, mu: mu})
	}

	var err error
	if s.density, err = optNum("density", c.Density, 1); err != nil {
		return nil, err
	}
	s.hasGravity = c.Gravity != nil
	s.gravity = c.Gravity
	s.hasAccel = c.Acceleration != nil
	s.accel = c.Acceleration
	s.hasBody = c.BodyForce != nil
	s.body = c.BodyForce

	if c.Bcs != nil {
		s.hasBcs = true
		bcsArr, ok := c.Bcs.([]any)
		if !ok {
			return nil, Invalidf("config.bcs must be an array.")
		}
		entries, err := bcObjects("bcs", bcsArr)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			attr, err := bcAttr("bcs", entry)
			if err != nil {
				return nil, err
			}
			typ := bcType(entry)
			if typ != "fixed" && typ != "load" {
				return nil, Invalidf("config.bcs[].type must be fixed or load.")
			}
			s.bcs = append(s.bcs, elasticBC{attr: attr, typ: typ, value: entry["value"]})
		}
	}
	if s.opts, err = c.Analysis.resolve(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *linearElasticitySolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	maxElem := m.MaxElemAttr()
	maxBdr := m.MaxBdrAttr()

	lambdaBy := map[int]float64{}
	muBy := map[int]float64{}
	for _, mat := range s.materials {
		if maxElem > 0 && mat.attr > maxElem {
			return nil, Invalidf("config.materials[].attribute exceeds mesh domain attribute count.")
		}
		lambdaBy[mat.attr] = mat.lambda
		muBy[mat.attr] = mat.mu
	}

	// gravity and acceleration scale by density; body_force replaces both
	bodyForce := make([]float64, dim)
	if s.hasGravity {
		g, err := vecComponents("config.gravity", s.gravity, dim, true)
		if err != nil {
			return nil, err
		}
		for i := 0; i < dim; i++ {
			bodyForce[i] = s.density * g[i]
		}
	}
	if s.hasAccel {
		a, err := vecComponents("config.acceleration", s.accel, dim, true)
		if err != nil {
			return nil, err
		}
		for i := 0; i < dim; i++ {
			bodyForce[i] = s.density * a[i]
		}
	}
	if s.hasBody {
		bf, err := vecComponents("config.body_force", s.body, dim, true)
		if err != nil {
			return nil, err
		}
		bodyForce = bf
	}

	if s.hasBcs && maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	essAttrs := map[int]bool{}
	type traction struct {
		attr  int
		value []float64
	}
	var tractions []traction
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		if bc.typ == "fixed" {
			essAttrs[bc.attr] = true
			continue
		}
		tv, err := vecComponents("config.bcs[].value", bc.value, dim, true)
		if err != nil {
			return nil, err
		}
		tractions = append(tractions, traction{attr: bc.attr, value: tv})
	}

	sp, err := fem.NewH1Space(m, 1, dim, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()

	asm := fem.NewAssembler(sp)
	asm.AddElasticity(fem.AttrCoeff(lambdaBy, s.defLambda), fem.AttrCoeff(muBy, s.defMu))

	b := make([]float64, n)
	hasBodyForce := false
	for _, v := range bodyForce {
		if math.Abs(v) > 0 {
			hasBodyForce = true
		}
	}
	if hasBodyForce {
		var f [3]float64
		copy(f[:], bodyForce)
		if err := fem.VectorDomainLF(sp, fem.ConstVec(f), b); err != nil {
			return nil, err
		}
	}
	for _, tr := range tractions {
		var t [3]float64
		copy(t[:], tr.value)
		if err := fem.VectorBoundaryLF(sp, fem.ConstVec(t), map[int]bool{tr.attr: true}, b); err != nil {
			return nil, err
		}
	}

	x := make([]float64, n)
	ess := sp.VDofsFor(sp.BoundaryScalarDofs(essAttrs))
	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled elasticity system", "dofs", n, "essential", len(ess))

	relTol := 1e-12
	if s.opts.RelTolSet {
		relTol = s.opts.RelTol
	}
	maxIter := 500
	if s.opts.MaxIterSet {
		maxIter = s.opts.MaxIter
	}
	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), relTol, 0, maxIter)

	r := make([]float64, n)
	errNorm := linalg.Residual(A, x, b, r)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: x}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Vector("displacement", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
