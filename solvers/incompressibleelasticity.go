package solvers

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type incompConfig struct {
	ShearModulus *float64 `mapstructure:"shear_modulus"`
	BulkModulus  *float64 `mapstructure:"bulk_modulus"`
	Order        *float64 `mapstructure:"order"`
	Bcs          any      `mapstructure:"bcs"`
}

type incompressibleElasticitySolver struct {
	shear float64
	bulk  float64
	order int
	bcs   []elasticBC
}

func newIncompressibleElasticity(cfg map[string]any) (Solver, error) {
	var c incompConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &incompressibleElasticitySolver{}
	var err error
	if s.shear, err = reqNum("shear_modulus", c.ShearModulus); err != nil {
		return nil, err
	}
	if s.bulk, err = reqNum("bulk_modulus", c.BulkModulus); err != nil {
		return nil, err
	}
	if s.shear <= 0 {
		return nil, Invalidf("config.shear_modulus must be > 0.")
	}
	if s.bulk <= 0 {
		return nil, Invalidf("config.bulk_modulus must be > 0.")
	}
	if s.order, err = optInt("order", c.Order, 2); err != nil {
		return nil, err
	}
	if s.order < 1 {
		return nil, Invalidf("config.order must be >= 1.")
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
		if typ != "fixed" && typ != "traction" {
			return nil, Invalidf("config.bcs[].type must be fixed or traction.")
		}
		s.bcs = append(s.bcs, elasticBC{attr: attr, typ: typ, value: entry["value"]})
	}
	return s, nil
}

// incompNeoHookean is the two-field incompressible neo-Hookean system
// on a displacement/pressure space pair. The displacement block of
// the state carries the current configuration rather than the
// displacement, so the deformation gradient comes straight from the
// basis gradients with no identity shift. The pressure enforces
// det F = 1; the bulk modulus never enters the equations.
type incompNeoHookean struct {
	usp   *fem.Space
	psp   *fem.Space
	dim   int
	nu    int
	shear float64

	udofs [][]int
	pdofs [][]int
	grads [][][][3]float64
	pvals [][][]float64
	wts   [][]float64
}

func newIncompNeoHookean(usp, psp *fem.Space, shear float64) (*incompNeoHookean, error) {
	m := usp.Mesh
	nh := &incompNeoHookean{usp: usp, psp: psp, dim: m.Dim, nu: usp.NDof(), shear: shear}
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*usp.Order+2)
		if err != nil {
			return nil, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		grads, err := usp.BasisGradsAtPoints(i, rule, tr)
		if err != nil {
			return nil, err
		}
		pvals, err := psp.BasisAtPoints(i, rule.Points)
		if err != nil {
			return nil, err
		}
		ud, _ := usp.ElementDofs(i)
		pd, _ := psp.ElementDofs(i)
		nh.udofs = append(nh.udofs, ud)
		nh.pdofs = append(nh.pdofs, pd)
		nh.grads = append(nh.grads, grads)
		nh.pvals = append(nh.pvals, pvals)
		nh.wts = append(nh.wts, tr.W)
	}
	return nh, nil
}

// elementResidual fills re with element i's contribution, displacement
// entries first and the pressure entries after them.
func (nh *incompNeoHookean) elementResidual(i int, state, re []float64) {
	d := nh.dim
	udofs := nh.udofs[i]
	pdofs := nh.pdofs[i]
	grads := nh.grads[i]
	pvals := nh.pvals[i]
	wts := nh.wts[i]
	ndu := len(udofs) * d
	for j := range re {
		re[j] = 0
	}
	var F, cof [3][3]float64
	for q := range wts {
		F = [3][3]float64{}
		for r, sc := range udofs {
			g := grads[q][r]
			for a := 0; a < d; a++ {
				ua := state[nh.usp.VDof(sc, a)]
				for b := 0; b < d; b++ {
					F[a][b] += ua * g[b]
				}
			}
		}
		J := determinant(&F, d)
		cofactor(&F, d, &cof)
		pres := 0.0
		for r, pd := range pdofs {
			pres += state[nh.nu+pd] * pvals[q][r]
		}
		i1 := 0.0
		for a := 0; a < d; a++ {
			for b := 0; b < d; b++ {
				i1 += F[a][b] * F[a][b]
			}
		}
		jm := math.Pow(J, -2/float64(d))
		cf := nh.shear * jm
		cc := -cf*i1/(float64(d)*J) + pres
		w := wts[q]
		for r := range udofs {
			g := grads[q][r]
			for a := 0; a < d; a++ {
				s := 0.0
				for b := 0; b < d; b++ {
					s += (cf*F[a][b] + cc*cof[a][b]) * g[b]
				}
				re[r*d+a] += w * s
			}
		}
		for r := range pdofs {
			re[ndu+r] += w * (J - 1) * pvals[q][r]
		}
	}
}

// residual assembles the global two-field residual into dst.
func (nh *incompNeoHookean) residual(state, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	var re []float64
	for i := range nh.udofs {
		nd := len(nh.udofs[i])*nh.dim + len(nh.pdofs[i])
		if cap(re) < nd {
			re = make([]float64, nd)
		}
		re = re[:nd]
		nh.elementResidual(i, state, re)
		ndu := len(nh.udofs[i]) * nh.dim
		for r, sc := range nh.udofs[i] {
			for a := 0; a < nh.dim; a++ {
				dst[nh.usp.VDof(sc, a)] += re[r*nh.dim+a]
			}
		}
		for r, pd := range nh.pdofs[i] {
			dst[nh.nu+pd] += re[ndu+r]
		}
	}
}

// tangent assembles the Hessian of the two-field functional by forward
// differencing each element residual. The element block is averaged
// with its transpose before scatter so MINRES sees a symmetric matrix.
func (nh *incompNeoHookean) tangent(state []float64, n int) *sparse.DOK {
	const fdStep = 1e-7
	dok := sparse.NewDOK(n, n)
	d := nh.dim
	for i := range nh.udofs {
		udofs := nh.udofs[i]
		pdofs := nh.pdofs[i]
		ndu := len(udofs) * d
		nd := ndu + len(pdofs)
		vdofs := make([]int, nd)
		for r, sc := range udofs {
			for a := 0; a < d; a++ {
				vdofs[r*d+a] = nh.usp.VDof(sc, a)
			}
		}
		for r, pd := range pdofs {
			vdofs[ndu+r] = nh.nu + pd
		}
		base := make([]float64, nd)
		pert := make([]float64, nd)
		block := make([]float64, nd*nd)
		nh.elementResidual(i, state, base)
		for col := 0; col < nd; col++ {
			gd := vdofs[col]
			old := state[gd]
			h := fdStep * math.Max(1, math.Abs(old))
			state[gd] = old + h
			nh.elementResidual(i, state, pert)
			state[gd] = old
			inv := 1 / h
			for row := 0; row < nd; row++ {
				block[row*nd+col] = (pert[row] - base[row]) * inv
			}
		}
		for row := 0; row < nd; row++ {
			for col := 0; col < nd; col++ {
				v := 0.5 * (block[row*nd+col] + block[col*nd+row])
				if v != 0 {
					dok.Set(vdofs[row], vdofs[col], dok.At(vdofs[row], vdofs[col])+v)
				}
			}
		}
	}
	return dok
}

// energy integrates the deviatoric stored energy over the mesh.
func (nh *incompNeoHookean) energy(state []float64) float64 {
	d := nh.dim
	var F [3][3]float64
	total := 0.0
	for i := range nh.udofs {
		udofs := nh.udofs[i]
		grads := nh.grads[i]
		wts := nh.wts[i]
		for q := range wts {
			F = [3][3]float64{}
			for r, sc := range udofs {
				g := grads[q][r]
				for a := 0; a < d; a++ {
					ua := state[nh.usp.VDof(sc, a)]
					for b := 0; b < d; b++ {
						F[a][b] += ua * g[b]
					}
				}
			}
			J := determinant(&F, d)
			i1 := 0.0
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					i1 += F[a][b] * F[a][b]
				}
			}
			jm := math.Pow(J, -2/float64(d))
			total += wts[q] * 0.5 * nh.shear * (jm*i1 - float64(d))
		}
	}
	return total
}

func (s *incompressibleElasticitySolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	if dim <= 0 || dim > 3 {
		return nil, Invalidf("IncompressibleElasticity supports mesh dimensions 1, 2, or 3.")
	}
	maxBdr := m.MaxBdrAttr()

	if maxBdr == 0 && len(s.bcs) > 0 {
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
	if maxBdr > 0 && len(essAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}

	usp, err := fem.NewH1Space(m, s.order, dim, fem.ByVDim)
	if err != nil {
		return nil, err
	}
	porder := s.order - 1
	if porder < 0 {
		porder = 0
	}
	psp, err := fem.NewL2Space(m, porder, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	nu := usp.NDof()
	np := psp.NDof()
	ntot := nu + np

	ess := usp.VDofsFor(usp.BoundaryScalarDofs(essAttrs))
	gauge := false
	if np > 0 {
		// pin one pressure dof to remove the constant-pressure null
		// space
		ess = append(ess, nu)
		gauge = true
	}

	ref := fem.NewGridFunc(usp)
	if err := ref.ProjectH1Vec(func(x [3]float64, _ int) [3]float64 { return x }); err != nil {
		return nil, err
	}
	state := make([]float64, ntot)
	copy(state[:nu], ref.Data)

	rhs := make([]float64, ntot)
	for _, tr := range tractions {
		var t [3]float64
		copy(t[:], tr.value)
		if err := fem.VectorBoundaryLF(usp, fem.ConstVec(t), map[int]bool{tr.attr: true}, rhs[:nu]); err != nil {
			return nil, err
		}
	}
	for _, d := range ess {
		rhs[d] = 0
	}

	nh, err := newIncompNeoHookean(usp, psp, s.shear)
	if err != nil {
		return nil, err
	}

	asmQ := fem.NewAssembler(psp)
	asmQ.AddMass(fem.ConstCoeff(1))
	Mp, err := asmQ.Matrix()
	if err != nil {
		return nil, err
	}
	pJacobi := linalg.NewJacobiPrec(Mp)
	rc.log().Debug("assembled incompressible elasticity system",
		"displacement_dofs", nu, "pressure_dofs", np, "essential", len(ess))

	resid := func(x, r []float64) error {
		nh.residual(x, r)
		for _, d := range ess {
			r[d] = 0
		}
		floats.Sub(r, rhs)
		return nil
	}
	lastLin := 0
	step := func(x, r, dx []float64) (int, error) {
		dok := nh.tangent(x, ntot)
		linalg.EliminateDOK(dok, ess, nil, nil, 1)
		J := dok.ToCSR()
		uDok := sparse.NewDOK(nu, nu)
		J.DoNonZero(func(i, j int, v float64) {
			if i < nu && j < nu {
				uDok.Set(i, j, v)
			}
		})
		J00 := uDok.ToCSR()
		prec := &linalg.BlockDiagPrec{Blocks: []linalg.DiagBlock{
			{Off: 0, N: nu, P: &linalg.InnerPCGPrec{A: J00, Inner: linalg.NewGaussSeidelPrec(J00), Iters: 8}},
			{Off: nu, N: np, P: pJacobi},
		}}
		for i := range dx {
			dx[i] = 0
		}
		st := linalg.MINRES(J, r, dx, prec, 1e-10, 0, 400)
		lastLin = st.Iterations
		return st.Iterations, nil
	}
	st, err := linalg.Newton(state, resid, step, 1e-8, 1e-10, 60)
	if err != nil {
		return nil, err
	}
	if !st.Converged {
		return nil, Algorithmf("IncompressibleElasticity Newton solver did not converge.")
	}

	r := make([]float64, ntot)
	if err := resid(state, r); err != nil {
		return nil, err
	}
	errNorm := floats.Norm(r, 2)
	if !finite(errNorm) {
		return nil, Algorithmf("IncompressibleElasticity residual norm is non-finite.")
	}
	energy := nh.energy(state)
	rc.log().Info("solve finished", "newton_iterations", st.Iterations,
		"linear_iterations", st.LinearIterations, "residual", errNorm, "energy", energy)

	disp := make([]float64, nu)
	for i := range disp {
		disp[i] = state[i] - ref.Data[i]
	}
	dVals, err := (&fem.GridFunc{Sp: usp, Data: disp}).CornerValues()
	if err != nil {
		return nil, err
	}
	pVals, err := (&fem.GridFunc{Sp: psp, Data: state[nu:]}).CornerValues()
	if err != nil {
		return nil, err
	}
	fields := []vtk.Field{
		vtk.Vector("displacement", dVals),
		vtk.Scalar("pressure", pVals),
	}
	if err := vtk.WriteFile(rc.VTKPath, m, fields...); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}
	pvdPath := strings.TrimSuffix(rc.VTKPath, filepath.Ext(rc.VTKPath)) + ".pvd"
	if err := vtk.WritePVD(pvdPath, rc.VTKPath); err != nil {
		return nil, IOf(err, "Unable to write %s.", filepath.Base(pvdPath))
	}

	if err := writeArtifact(rc.WorkingDir, "incompressible_elasticity.json", map[string]any{
		"solver_class":               "IncompressibleElasticity",
		"solver_backend":             "newton_minres_blockdiag",
		"dimension":                  dim,
		"order":                      s.order,
		"pressure_order":             porder,
		"shear_modulus":              s.shear,
		"bulk_modulus":               s.bulk,
		"traction_boundaries":        len(tractions),
		"pressure_gauge_fix_applied": gauge,
		"newton_iterations":          st.Iterations,
		"linear_iterations":          lastLin,
		"residual_norm":              errNorm,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     energy,
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
