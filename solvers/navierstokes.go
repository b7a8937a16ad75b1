package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type navierConfig struct {
	Viscosity           any `mapstructure:"viscosity"`
	Density             any `mapstructure:"density"`
	TFinal              any `mapstructure:"t_final"`
	Dt                  any `mapstructure:"dt"`
	OutputIntervalSteps any `mapstructure:"output_interval_steps"`
	G                   any `mapstructure:"g"`
	BodyForce           any `mapstructure:"body_force"`
	Bcs                 any `mapstructure:"bcs"`
}

type navierBC struct {
	attr     int
	typ      string
	velocity any
	pressure float64
}

// navierStokesSolver integrates the incompressible Navier-Stokes
// equations with a Chorin projection scheme on equal-order P1 spaces.
type navierStokesSolver struct {
	viscosity   float64
	density     float64
	tFinal, dt  float64
	outputEvery int
	g           any
	bodyForce   any
	hasBcs      bool
	bcs         []navierBC
}

// nsNumber and nsInt read the loosely keyed scalar options, which
// report errors without the config prefix.
func nsNumber(key string, v any, def float64) (float64, error) {
	if v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok || !finite(f) {
		return 0, Invalidf("%s must be a number.", key)
	}
	return f, nil
}

func nsInt(key string, v any, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok || !finite(f) || f != math.Trunc(f) {
		return 0, Invalidf("%s must be an integer.", key)
	}
	return int(f), nil
}

func newNavierStokes(cfg map[string]any) (Solver, error) {
	var c navierConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &navierStokesSolver{}
	var err error
	if s.viscosity, err = nsNumber("viscosity", c.Viscosity, 1e-3); err != nil {
		return nil, err
	}
	if s.density, err = nsNumber("density", c.Density, 1); err != nil {
		return nil, err
	}
	if s.tFinal, err = nsNumber("t_final", c.TFinal, 0.1); err != nil {
		return nil, err
	}
	if s.dt, err = nsNumber("dt", c.Dt, 0.01); err != nil {
		return nil, err
	}
	if s.outputEvery, err = nsInt("output_interval_steps", c.OutputIntervalSteps, 1); err != nil {
		return nil, err
	}
	if s.viscosity <= 0 {
		return nil, Invalidf("viscosity must be > 0.")
	}
	if s.density <= 0 {
		return nil, Invalidf("density must be > 0.")
	}
	if s.tFinal <= 0 {
		return nil, Invalidf("t_final must be > 0.")
	}
	if s.dt <= 0 {
		return nil, Invalidf("dt must be > 0.")
	}
	if s.outputEvery <= 0 {
		return nil, Invalidf("output_interval_steps must be > 0.")
	}
	s.g = c.G
	s.bodyForce = c.BodyForce

	if c.Bcs == nil {
		return s, nil
	}
	s.hasBcs = true
	arr, ok := c.Bcs.([]any)
	if !ok {
		return nil, Invalidf("bcs must be an array.")
	}
	for _, e := range arr {
		item, ok := e.(map[string]any)
		if !ok {
			continue
		}
		f, isNum := toFloat(item["attr"])
		if !isNum || !finite(f) || f != math.Trunc(f) {
			return nil, Invalidf("Each bcs item must include integer attr.")
		}
		bc := navierBC{attr: int(f)}
		if bc.attr <= 0 {
			return nil, Invalidf("bcs[].attr must be > 0.")
		}
		bc.typ = bcType(item)
		switch bc.typ {
		case "inlet":
			if item["velocity"] == nil {
				return nil, Invalidf("velocity is required.")
			}
			bc.velocity = item["velocity"]
		case "wall":
			bc.velocity = item["velocity"]
		case "outlet":
			if pv, ok := item["pressure"]; ok && pv != nil {
				f, isNum := toFloat(pv)
				if !isNum || !finite(f) {
					return nil, Invalidf("bcs[].pressure must be numeric for outlet.")
				}
				bc.pressure = f
			}
		default:
			return nil, Invalidf("bcs[].type must be inlet, outlet, or wall.")
		}
		s.bcs = append(s.bcs, bc)
	}
	return s, nil
}

// vectorConvection accumulates int (u . grad u) . v over the mesh for
// the current velocity field.
func vectorConvection(gf *fem.GridFunc, dst []float64) error {
	sp := gf.Sp
	m := sp.Mesh
	vdim := sp.VDim
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*sp.Order+2)
		if err != nil {
			return err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return err
		}
		uq, err := gf.ElementValues(i, rule, tr)
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
			w := tr.W[q]
			for d := 0; d < vdim; d++ {
				conv := 0.0
				for c := 0; c < vdim; c++ {
					conv += uq[q][c] * gq[q][d][c]
				}
				cw := w * conv
				for r, sd := range dofs {
					dst[sp.VDof(sd, d)] += cw * vals[q][r]
				}
			}
		}
	}
	return nil
}

func (s *navierStokesSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	maxBdr := m.MaxBdrAttr()
	if s.hasBcs && maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes, but config.bcs is non-empty.")
	}

	bf, err := flowComponents("g", s.g, dim, false)
	if err != nil {
		return nil, err
	}
	if s.bodyForce != nil {
		if bf, err = flowComponents("body_force", s.bodyForce, dim, false); err != nil {
			return nil, err
		}
	}

	velEss := map[int]bool{}
	velVal := map[int][]float64{}
	prEss := map[int]bool{}
	prVal := map[int]float64{}
	for _, bc := range s.bcs {
		if maxBdr > 0 && bc.attr > maxBdr {
			return nil, Invalidf("bcs[].attr exceeds mesh boundary attribute count.")
		}
		switch bc.typ {
		case "inlet":
			v, err := flowComponents("velocity", bc.velocity, dim, true)
			if err != nil {
				return nil, err
			}
			velEss[bc.attr] = true
			velVal[bc.attr] = v
		case "wall":
			v, err := flowComponents("velocity", bc.velocity, dim, false)
			if err != nil {
				return nil, err
			}
			velEss[bc.attr] = true
			velVal[bc.attr] = v
		case "outlet":
			prEss[bc.attr] = true
			prVal[bc.attr] = bc.pressure
		}
	}

	velSp, err := fem.NewH1Space(m, 1, dim, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	prSp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	nu := velSp.NDof()
	np := prSp.NDof()

	uBC := make([]float64, nu)
	pBC := make([]float64, np)
	for i, be := range m.Boundary {
		if v, ok := velVal[be.Attr]; ok {
			dofs, _ := velSp.BoundaryDofs(i)
			for _, d := range dofs {
				for c := 0; c < dim; c++ {
					uBC[velSp.VDof(d, c)] = v[c]
				}
			}
		}
		if v, ok := prVal[be.Attr]; ok {
			dofs, _ := prSp.BoundaryDofs(i)
			for _, d := range dofs {
				pBC[d] = v
			}
		}
	}
	essV := velSp.VDofsFor(velSp.BoundaryScalarDofs(velEss))
	essP := prSp.BoundaryScalarDofs(prEss)

	asmM := fem.NewAssembler(velSp)
	asmM.AddVectorMass(fem.ConstCoeff(1))
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	asmD := fem.NewAssembler(velSp)
	asmD.AddVectorDiffusion(fem.ConstCoeff(1))
	D, err := asmD.Matrix()
	if err != nil {
		return nil, err
	}
	asmKp := fem.NewAssembler(prSp)
	asmKp.AddDiffusion(fem.ConstCoeff(1))
	Kp, err := asmKp.Matrix()
	if err != nil {
		return nil, err
	}
	asmB := fem.NewMixedAssembler(velSp, prSp)
	asmB.AddVectorDivergence(fem.ConstCoeff(1))
	B, err := asmB.Matrix()
	if err != nil {
		return nil, err
	}
	asmG := fem.NewMixedAssembler(prSp, velSp)
	asmG.AddGradient(fem.ConstCoeff(1))
	G, err := asmG.Matrix()
	if err != nil {
		return nil, err
	}

	f := make([]float64, nu)
	var bfv [3]float64
	copy(bfv[:], bf)
	if err := fem.VectorDomainLF(velSp, fem.ConstVec(bfv), f); err != nil {
		return nil, err
	}
	rc.log().Debug("assembled projection operators", "velocity_dofs", nu, "pressure_dofs", np,
		"velocity_essential", len(essV), "pressure_essential", len(essP))

	uN := make([]float64, nu)
	copy(uN, uBC)
	pN := make([]float64, np)
	copy(pN, pBC)
	uStar := make([]float64, nu)
	pNp1 := make([]float64, np)
	conv := make([]float64, nu)
	rhs := make([]float64, nu)
	prhs := make([]float64, np)
	gp := make([]float64, nu)

	totalIters := 0
	step := 0
	time := 0.0
	for time+1e-12 < s.tFinal {
		curDt := math.Min(s.dt, s.tFinal-time)

		// tentative velocity
		for i := range conv {
			conv[i] = 0
		}
		gfU := &fem.GridFunc{Sp: velSp, Data: uN}
		if err := vectorConvection(gfU, conv); err != nil {
			return nil, err
		}
		pdok := linalg.Compose(nu, nu,
			linalg.Block{M: M, Scale: s.density / curDt},
			linalg.Block{M: D, Scale: s.viscosity},
		)
		linalg.MulVec(M, uN, rhs)
		for i := range rhs {
			rhs[i] = rhs[i]*(s.density/curDt) - conv[i] + f[i]
		}
		linalg.EliminateDOK(pdok, essV, uBC, rhs, 1)
		P := pdok.ToCSR()
		st := linalg.PCG(P, rhs, uStar, linalg.NewGaussSeidelPrec(P), 1e-8, 0, 400)
		totalIters += st.Iterations

		// pressure Poisson
		kdok := linalg.Compose(np, np, linalg.Block{M: Kp})
		linalg.MulVec(B, uStar, prhs)
		floats.Scale(s.density/curDt, prhs)
		if len(essP) > 0 {
			linalg.EliminateDOK(kdok, essP, pBC, prhs, 1)
		} else if np > 0 {
			// no outlet anywhere: pin one pressure dof
			linalg.EliminateDOK(kdok, []int{0}, nil, prhs, 1)
		}
		K := kdok.ToCSR()
		st = linalg.PCG(K, prhs, pNp1, linalg.NewGaussSeidelPrec(K), 1e-10, 0, 400)
		totalIters += st.Iterations

		// velocity correction
		linalg.MulVec(G, pNp1, gp)
		for i := range uN {
			uN[i] = uStar[i] - (curDt/s.density)*gp[i]
		}
		for _, e := range essV {
			uN[e] = uBC[e]
		}
		copy(pN, pNp1)

		step++
		time += curDt
		if step%s.outputEvery == 0 || time+1e-12 >= s.tFinal {
			rc.log().Debug("time step", "step", step, "time", time)
		}
	}

	Mu := make([]float64, nu)
	linalg.MulVec(M, uN, Mu)
	energy := 0.5 * s.density * floats.Dot(uN, Mu)
	rc.log().Info("solve finished", "steps", step, "iterations", totalIters)

	vgf := &fem.GridFunc{Sp: velSp, Data: uN}
	vvals, err := vgf.CornerValues()
	if err != nil {
		return nil, err
	}
	pgf := &fem.GridFunc{Sp: prSp, Data: pN}
	pvals, err := pgf.CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{vtk.Vector("velocity", vvals), vtk.Scalar("pressure", pvals)}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     energy,
		Iterations: totalIters,
		ErrorNorm:  0,
		Dimension:  dim,
	}, nil
}
