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

type darcyConfig struct {
	Permeability *float64 `mapstructure:"permeability"`
	SourceTerm   *float64 `mapstructure:"source_term"`
	Bcs          any      `mapstructure:"bcs"`
}

type pressureBoundary struct {
	attr  int
	value float64
}

type darcySolver struct {
	permeability float64
	source       float64
	noFlow       []int
	pressures    []pressureBoundary
}

func newDarcyFlow(cfg map[string]any) (Solver, error) {
	var c darcyConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &darcySolver{}
	var err error
	if s.permeability, err = reqPos("permeability", c.Permeability); err != nil {
		return nil, err
	}
	if s.source, err = optNum("source_term", c.SourceTerm, 0); err != nil {
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
		switch typ := bcType(entry); typ {
		case "no_flow", "noflow", "no-flow":
			s.noFlow = append(s.noFlow, attr)
		case "fixed_pressure", "fixed-pressure", "fixedpressure":
			v, ok := toFloat(entry["value"])
			if !ok || !finite(v) {
				return nil, Invalidf("config.bcs[].value is required and must be numeric for fixed_pressure.")
			}
			s.pressures = append(s.pressures, pressureBoundary{attr: attr, value: v})
		default:
			return nil, Invalidf("config.bcs[].type must be fixed_pressure or no_flow.")
		}
	}
	if len(s.pressures) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed_pressure boundary condition.")
	}
	return s, nil
}

func (s *darcySolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.noFlow)+len(s.pressures) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	noFlowAttrs := map[int]bool{}
	for _, a := range s.noFlow {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		noFlowAttrs[a] = true
	}
	for _, pb := range s.pressures {
		if pb.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
	}

	vsp, err := fem.NewRTSpace(m)
	if err != nil {
		return nil, err
	}
	psp, err := fem.NewL2Space(m, 0, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	nu := vsp.NDof()
	np := psp.NDof()
	n := nu + np

	gvel := make([]float64, nu)
	for _, pb := range s.pressures {
		pv := pb.value
		g := func([3]float64, int) float64 { return -pv }
		if err := fem.RTBoundaryFluxLF(vsp, g, map[int]bool{pb.attr: true}, gvel); err != nil {
			return nil, err
		}
	}

	fpress := make([]float64, np)
	if math.Abs(s.source) > 0 {
		if err := fem.DomainLF(psp, fem.ConstCoeff(-s.source), fpress); err != nil {
			return nil, err
		}
	}

	ess := vsp.BoundaryScalarDofs(noFlowAttrs)
	asmM := fem.NewAssembler(vsp)
	asmM.AddRTMass(fem.ConstCoeff(1 / s.permeability))
	asmM.EliminateEssential(ess, make([]float64, nu), gvel, 1)
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}

	asmB := fem.NewMixedAssembler(vsp, psp)
	asmB.AddRTDivL2()
	Bdiv, err := asmB.Matrix()
	if err != nil {
		return nil, err
	}
	// drop the no-flow columns so the coupling matches the pinned dofs
	essSet := map[int]bool{}
	for _, e := range ess {
		essSet[e] = true
	}
	bdok := sparse.NewDOK(np, nu)
	Bdiv.DoNonZero(func(i, j int, v float64) {
		if !essSet[j] {
			bdok.Set(i, j, v)
		}
	})
	B := bdok.ToCSR()

	big := linalg.Compose(n, n,
		linalg.Block{M: M},
		linalg.Block{ColOff: nu, M: B, Transpose: true, Scale: -1},
		linalg.Block{RowOff: nu, M: B, Scale: -1},
	)
	A := big.ToCSR()

	b := make([]float64, n)
	copy(b[:nu], gvel)
	copy(b[nu:], fpress)

	// block diagonal Jacobi: velocity mass diagonal and the diagonal of
	// the approximate Schur complement B diag(M)^-1 B^T
	mdiag := linalg.Diagonal(M)
	sdiag := make([]float64, np)
	B.DoNonZero(func(i, j int, v float64) {
		if mdiag[j] != 0 {
			sdiag[i] += v * v / mdiag[j]
		}
	})
	for i, v := range sdiag {
		if v == 0 {
			sdiag[i] = 1
		}
	}
	prec := &linalg.BlockDiagPrec{Blocks: []linalg.DiagBlock{
		{Off: 0, N: nu, P: linalg.NewDiagPrec(mdiag)},
		{Off: nu, N: np, P: linalg.NewDiagPrec(sdiag)},
	}}
	rc.log().Debug("assembled darcy saddle system", "velocity_dofs", nu, "pressure_dofs", np, "essential", len(ess))

	x := make([]float64, n)
	st := linalg.MINRES(A, b, x, prec, 1e-6, 1e-10, 500)

	r := make([]float64, n)
	errNorm := linalg.Residual(A, x, b, r)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	vgf := &fem.GridFunc{Sp: vsp, Data: x[:nu]}
	vvals, err := vgf.CornerValues()
	if err != nil {
		return nil, err
	}
	pgf := &fem.GridFunc{Sp: psp, Data: x[nu:]}
	pvals, err := pgf.CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{vtk.Vector("velocity", vvals), vtk.Scalar("pressure", pvals)}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
