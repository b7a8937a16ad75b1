package solvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type stokesConfig struct {
	DynamicViscosity *float64 `mapstructure:"dynamic_viscosity"`
	BodyForce        any      `mapstructure:"body_force"`
	Bcs              any      `mapstructure:"bcs"`
}

type stokesInflow struct {
	attr     int
	velocity any
}

// stokesFlowSolver solves the steady Stokes saddle point problem on a
// Taylor-Hood pair: P2 velocity, P1 pressure.
type stokesFlowSolver struct {
	viscosity float64
	bodyForce any
	noSlip    []int
	inflow    []stokesInflow
	nBcs      int
}

func newStokesFlow(cfg map[string]any) (Solver, error) {
	var c stokesConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &stokesFlowSolver{}
	var err error
	if s.viscosity, err = reqNum("dynamic_viscosity", c.DynamicViscosity); err != nil {
		return nil, err
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	s.bodyForce = c.BodyForce
	if s.viscosity <= 0 {
		return nil, Invalidf("config.dynamic_viscosity must be > 0.")
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	s.nBcs = len(entries)
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		switch bcType(entry) {
		case "no_slip", "noslip", "no-slip":
			s.noSlip = append(s.noSlip, attr)
		case "inflow":
			if entry["velocity"] == nil {
				return nil, Invalidf("velocity is required.")
			}
			s.inflow = append(s.inflow, stokesInflow{attr: attr, velocity: entry["velocity"]})
		default:
			return nil, Invalidf("config.bcs[].type must be no_slip or inflow.")
		}
	}
	return s, nil
}

func (s *stokesFlowSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && s.nBcs > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	for _, a := range s.noSlip {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
	}
	essAttrs := map[int]bool{}
	bdrVel := map[int][]float64{}
	for _, a := range s.noSlip {
		essAttrs[a] = true
		bdrVel[a] = make([]float64, dim)
	}
	for _, inf := range s.inflow {
		if inf.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		v, err := flowComponents("velocity", inf.velocity, dim, true)
		if err != nil {
			return nil, err
		}
		essAttrs[inf.attr] = true
		bdrVel[inf.attr] = v
	}
	if maxBdr > 0 && len(essAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one no_slip or inflow boundary condition.")
	}
	bf, err := flowComponents("body_force", s.bodyForce, dim, false)
	if err != nil {
		return nil, err
	}

	velSp, err := fem.NewH1Space(m, 2, dim, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	prSp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	nu := velSp.NDof()
	np := prSp.NDof()
	ntot := nu + np

	uBC := make([]float64, nu)
	for i, be := range m.Boundary {
		v, ok := bdrVel[be.Attr]
		if !ok {
			continue
		}
		dofs, _ := velSp.BoundaryDofs(i)
		for _, d := range dofs {
			for c := 0; c < dim; c++ {
				uBC[velSp.VDof(d, c)] = v[c]
			}
		}
	}
	essV := velSp.VDofsFor(velSp.BoundaryScalarDofs(essAttrs))

	fu := make([]float64, nu)
	hasBody := false
	for _, v := range bf {
		if math.Abs(v) > 0 {
			hasBody = true
		}
	}
	if hasBody {
		var f [3]float64
		copy(f[:], bf)
		if err := fem.VectorDomainLF(velSp, fem.ConstVec(f), fu); err != nil {
			return nil, err
		}
	}

	asmA := fem.NewAssembler(velSp)
	asmA.AddVectorDiffusion(fem.ConstCoeff(s.viscosity))
	asmA.EliminateEssential(essV, uBC, fu, 1)
	A, err := asmA.Matrix()
	if err != nil {
		return nil, err
	}

	asmB := fem.NewMixedAssembler(velSp, prSp)
	asmB.AddVectorDivergence(fem.ConstCoeff(1))
	B, err := asmB.Matrix()
	if err != nil {
		return nil, err
	}

	// compose [A B^T; B 0]; eliminating again moves the velocity BC
	// columns of B into the pressure rhs
	dok := linalg.Compose(ntot, ntot,
		linalg.Block{M: A},
		linalg.Block{ColOff: nu, M: B, Transpose: true},
		linalg.Block{RowOff: nu, M: B},
	)
	x := make([]float64, ntot)
	copy(x[:nu], uBC)
	b := make([]float64, ntot)
	copy(b[:nu], fu)
	linalg.EliminateDOK(dok, essV, x, b, 1)
	S := dok.ToCSR()

	asmQ := fem.NewAssembler(prSp)
	asmQ.AddMass(fem.ConstCoeff(1 / s.viscosity))
	Q, err := asmQ.Matrix()
	if err != nil {
		return nil, err
	}
	prec := &linalg.BlockDiagPrec{Blocks: []linalg.DiagBlock{
		{Off: 0, N: nu, P: &linalg.InnerPCGPrec{A: A, Inner: linalg.NewGaussSeidelPrec(A), Iters: 8}},
		{Off: nu, N: np, P: linalg.NewJacobiPrec(Q)},
	}}
	rc.log().Debug("assembled stokes saddle system", "velocity_dofs", nu, "pressure_dofs", np, "essential", len(essV))

	st := linalg.MINRES(S, b, x, prec, 1e-8, 1e-10, 500)

	r := make([]float64, ntot)
	errNorm := linalg.Residual(S, x, b, r)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	vgf := &fem.GridFunc{Sp: velSp, Data: x[:nu]}
	vvals, err := vgf.CornerValues()
	if err != nil {
		return nil, err
	}
	pgf := &fem.GridFunc{Sp: prSp, Data: x[nu:]}
	pvals, err := pgf.CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{vtk.Vector("velocity", vvals), vtk.Scalar("pressure", pvals)}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x[:nu], b[:nu]),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
