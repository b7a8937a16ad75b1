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

type hyperConfig struct {
	ShearModulus *float64 `mapstructure:"shear_modulus"`
	BulkModulus  *float64 `mapstructure:"bulk_modulus"`
	BodyForce    any      `mapstructure:"body_force"`
	Bcs          any      `mapstructure:"bcs"`
}

type hyperelasticSolver struct {
	shear float64
	bulk  float64

	hasBody bool
	body    any
	bcs     []elasticBC
}

func newHyperelastic(cfg map[string]any) (Solver, error) {
	var c hyperConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &hyperelasticSolver{}
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
	s.hasBody = c.BodyForce != nil
	s.body = c.BodyForce

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

// neoHookean evaluates the incompressible-split neo-Hookean material
// on a vector H1 space: W = mu/2 (J^(-2/d) tr(F^T F) - d)
// + kappa/2 (det F - 1)^2. The residual contracts the first Piola
// stress with the basis gradients; the tangent comes from forward
// differencing the element residual. Geometry factors are cached per
// element since Newton revisits them many times.
type neoHookean struct {
	sp    *fem.Space
	dim   int
	shear float64
	bulk  float64

	dofs  [][]int
	grads [][][][3]float64
	wts   [][]float64
}

func newNeoHookean(sp *fem.Space, shear, bulk float64) (*neoHookean, error) {
	m := sp.Mesh
	nh := &neoHookean{sp: sp, dim: m.Dim, shear: shear, bulk: bulk}
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2*sp.Order+2)
		if err != nil {
			return nil, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		grads, err := sp.BasisGradsAtPoints(i, rule, tr)
		if err != nil {
			return nil, err
		}
		dofs, _ := sp.ElementDofs(i)
		nh.dofs = append(nh.dofs, dofs)
		nh.grads = append(nh.grads, grads)
		nh.wts = append(nh.wts, tr.W)
	}
	return nh, nil
}

// defGrad fills F = I + grad(u) at one quadrature point.
func (nh *neoHookean) defGrad(u []float64, dofs []int, grad [][3]float64, F *[3][3]float64) {
	d := nh.dim
	*F = [3][3]float64{}
	for a := 0; a < d; a++ {
		F[a][a] = 1
	}
	for r, sc := range dofs {
		g := grad[r]
		for a := 0; a < d; a++ {
			ua := u[nh.sp.VDof(sc, a)]
			for b := 0; b < d; b++ {
				F[a][b] += ua * g[b]
			}
		}
	}
}

func determinant(F *[3][3]float64, d int) float64 {
	switch d {
	case 1:
		return F[0][0]
	case 2:
		return F[0][0]*F[1][1] - F[0][1]*F[1][0]
	default:
		return F[0][0]*(F[1][1]*F[2][2]-F[1][2]*F[2][1]) -
			F[0][1]*(F[1][0]*F[2][2]-F[1][2]*F[2][0]) +
			F[0][2]*(F[1][0]*F[2][1]-F[1][1]*F[2][0])
	}
}

// cofactor fills cof(F), the derivative of det F with respect to F.
func cofactor(F *[3][3]float64, d int, cof *[3][3]float64) {
	switch d {
	case 1:
		cof[0][0] = 1
	case 2:
		cof[0][0] = F[1][1]
		cof[0][1] = -F[1][0]
		cof[1][0] = -F[0][1]
		cof[1][1] = F[0][0]
	default:
		cof[0][0] = F[1][1]*F[2][2] - F[1][2]*F[2][1]
		cof[0][1] = F[1][2]*F[2][0] - F[1][0]*F[2][2]
		cof[0][2] = F[1][0]*F[2][1] - F[1][1]*F[2][0]
		cof[1][0] = F[0][2]*F[2][1] - F[0][1]*F[2][2]
		cof[1][1] = F[0][0]*F[2][2] - F[0][2]*F[2][0]
		cof[1][2] = F[0][1]*F[2][0] - F[0][0]*F[2][1]
		cof[2][0] = F[0][1]*F[1][2] - F[0][2]*F[1][1]
		cof[2][1] = F[0][2]*F[1][0] - F[0][0]*F[1][2]
		cof[2][2] = F[0][0]*F[1][1] - F[0][1]*F[1][0]
	}
}

// piola evaluates the first Piola stress at F:
// P = mu J^(-2/d) (F - I1/(d J) cof F) + kappa (J - 1) cof F.
// A non-positive J produces NaN entries which stop Newton through its
// residual norm check.
func (nh *neoHookean) piola(F, cof, P *[3][3]float64) {
	d := nh.dim
	J := determinant(F, d)
	cofactor(F, d, cof)
	i1 := 0.0
	for a := 0; a < d; a++ {
		for b := 0; b < d; b++ {
			i1 += F[a][b] * F[a][b]
		}
	}
	jm := math.Pow(J, -2/float64(d))
	cf := nh.shear * jm
	cc := -cf*i1/(float64(d)*J) + nh.bulk*(J-1)
	for a := 0; a < d; a++ {
		for b := 0; b < d; b++ {
			P[a][b] = cf*F[a][b] + cc*cof[a][b]
		}
	}
}

// elementResidual fills re with element i's residual contribution,
// local scalar dof major with components interleaved.
func (nh *neoHookean) elementResidual(i int, u, re []float64) {
	d := nh.dim
	dofs := nh.dofs[i]
	grads := nh.grads[i]
	wts := nh.wts[i]
	for j := range re {
		re[j] = 0
	}
	var F, cof, P [3][3]float64
	for q := range wts {
		nh.defGrad(u, dofs, grads[q], &F)
		nh.piola(&F, &cof, &P)
		w := wts[q]
		for r := range dofs {
			g := grads[q][r]
			for a := 0; a < d; a++ {
				s := 0.0
				for b := 0; b < d; b++ {
					s += P[a][b] * g[b]
				}
				re[r*d+a] += w * s
			}
		}
	}
}

// residual assembles the global residual N(u) into dst.
func (nh *neoHookean) residual(u, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	var re []float64
	for i := range nh.dofs {
		nd := len(nh.dofs[i]) * nh.dim
		if cap(re) < nd {
			re = make([]float64, nd)
		}
		re = re[:nd]
		nh.elementResidual(i, u, re)
		for r, sc := range nh.dofs[i] {
			for a := 0; a < nh.dim; a++ {
				dst[nh.sp.VDof(sc, a)] += re[r*nh.dim+a]
			}
		}
	}
}

// tangent assembles dN/du by forward differencing each element
// residual in its own vdofs. The element blocks sum to the global
// derivative because an element residual only sees its own dofs.
func (nh *neoHookean) tangent(u []float64, n int) *sparse.DOK {
	const fdStep = 1e-7
	dok := sparse.NewDOK(n, n)
	d := nh.dim
	for i := range nh.dofs {
		dofs := nh.dofs[i]
		nd := len(dofs) * d
		base := make([]float64, nd)
		pert := make([]float64, nd)
		vdofs := make([]int, nd)
		for r, sc := range dofs {
			for a := 0; a < d; a++ {
				vdofs[r*d+a] = nh.sp.VDof(sc, a)
			}
		}
		nh.elementResidual(i, u, base)
		for col := 0; col < nd; col++ {
			gd := vdofs[col]
			old := u[gd]
			h := fdStep * math.Max(1, math.Abs(old))
			u[gd] = old + h
			nh.elementResidual(i, u, pert)
			u[gd] = old
			inv := 1 / h
			for row := 0; row < nd; row++ {
				dv := (pert[row] - base[row]) * inv
				if dv != 0 {
					dok.Set(vdofs[row], gd, dok.At(vdofs[row], gd)+dv)
				}
			}
		}
	}
	return dok
}

// energy integrates the stored energy density over the mesh.
func (nh *neoHookean) energy(u []float64) float64 {
	d := nh.dim
	var F [3][3]float64
	total := 0.0
	for i := range nh.dofs {
		dofs := nh.dofs[i]
		grads := nh.grads[i]
		wts := nh.wts[i]
		for q := range wts {
			nh.defGrad(u, dofs, grads[q], &F)
			J := determinant(&F, d)
			i1 := 0.0
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					i1 += F[a][b] * F[a][b]
				}
			}
			jm := math.Pow(J, -2/float64(d))
			w := 0.5*nh.shear*(jm*i1-float64(d)) + 0.5*nh.bulk*(J-1)*(J-1)
			total += wts[q] * w
		}
	}
	return total
}

func (s *hyperelasticSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	maxBdr := m.MaxBdrAttr()

	bodyForce := make([]float64, dim)
	if s.hasBody {
		bf, err := vecComponents("config.body_force", s.body, dim, true)
		if err != nil {
			return nil, err
		}
		bodyForce = bf
	}

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

	sp, err := fem.NewH1Space(m, 1, dim, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.VDofsFor(sp.BoundaryScalarDofs(essAttrs))

	rhs := make([]float64, n)
	hasBodyForce := false
	for _, v := range bodyForce {
		if math.Abs(v) > 0 {
			hasBodyForce = true
		}
	}
	if hasBodyForce {
		var f [3]float64
		copy(f[:], bodyForce)
		if err := fem.VectorDomainLF(sp, fem.ConstVec(f), rhs); err != nil {
			return nil, err
		}
	}
	for _, tr := range tractions {
		var t [3]float64
		copy(t[:], tr.value)
		if err := fem.VectorBoundaryLF(sp, fem.ConstVec(t), map[int]bool{tr.attr: true}, rhs); err != nil {
			return nil, err
		}
	}
	for _, d := range ess {
		rhs[d] = 0
	}

	nh, err := newNeoHookean(sp, s.shear, s.bulk)
	if err != nil {
		return nil, err
	}
	rc.log().Debug("assembled hyperelastic system", "dofs", n, "essential", len(ess))

	u := make([]float64, n)
	resid := func(x, r []float64) error {
		nh.residual(x, r)
		for _, d := range ess {
			r[d] = 0
		}
		floats.Sub(r, rhs)
		return nil
	}
	step := func(x, r, dx []float64) (int, error) {
		dok := nh.tangent(x, n)
		linalg.EliminateDOK(dok, ess, nil, nil, 1)
		J := dok.ToCSR()
		for i := range dx {
			dx[i] = 0
		}
		st := linalg.PCG(J, r, dx, linalg.NewJacobiPrec(J), 1e-8, 0, 500)
		return st.Iterations, nil
	}
	st, err := linalg.Newton(u, resid, step, 1e-8, 1e-10, 50)
	if err != nil {
		return nil, err
	}

	r := make([]float64, n)
	if err := resid(u, r); err != nil {
		return nil, err
	}
	errNorm := floats.Norm(r, 2)
	energy := nh.energy(u)
	rc.log().Info("solve finished", "newton_iterations", st.Iterations,
		"converged", st.Converged, "residual", errNorm, "energy", energy)

	gf := &fem.GridFunc{Sp: sp, Data: u}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Vector("displacement", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	return &Summary{
		Energy:     energy,
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
