package solvers

import (
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type poissonConfig struct {
	Coefficient *float64      `mapstructure:"coefficient"`
	Source      *float64      `mapstructure:"source"`
	Analysis    *analysisOpts `mapstructure:"analysis_opts"`
}

type poissonSolver struct {
	coefficient float64
	source      float64
	opts        solveOpts
	raw         map[string]any
}

func newPoisson(cfg map[string]any) (Solver, error) {
	var c poissonConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &poissonSolver{raw: cfg}
	var err error
	if s.coefficient, err = optPos("coefficient", c.Coefficient, 1); err != nil {
		return nil, err
	}
	if s.source, err = optNum("source", c.Source, 1); err != nil {
		return nil, err
	}
	if s.opts, err = c.Analysis.resolve(); err != nil {
		return nil, err
	}
	if len(fixedAttributes(cfg)) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}
	return s, nil
}

func (s *poissonSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	sp, err := fem.NewH1Space(m, 1, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()

	asm := fem.NewAssembler(sp)
	asm.AddDiffusion(fem.ConstCoeff(s.coefficient))

	b := make([]float64, n)
	if err := fem.DomainLF(sp, fem.ConstCoeff(s.source), b); err != nil {
		return nil, err
	}

	x := make([]float64, n)
	var ess []int
	if m.MaxBdrAttr() > 0 {
		ess = sp.BoundaryScalarDofs(fixedMarkers(s.raw, m.MaxBdrAttr()))
	}
	asm.EliminateEssential(ess, x, b, 1)
	A, err := asm.Matrix()
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled diffusion system", "dofs", n, "essential", len(ess))

	st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), s.opts.RelTol, 0, s.opts.MaxIter)

	r := make([]float64, n)
	errNorm := linalg.Residual(A, x, b, r)
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gf := &fem.GridFunc{Sp: sp, Data: x}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("solution", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
