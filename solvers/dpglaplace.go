package solvers

import (
	"math"
	"strings"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

type dpgConfig struct {
	Coefficient *float64 `mapstructure:"coefficient"`
	SourceTerm  *float64 `mapstructure:"source_term"`
	Order       *float64 `mapstructure:"order"`
	Bcs         any      `mapstructure:"bcs"`
}

type dpgBC struct {
	attr  int
	value float64
}

// dpgLaplaceSolver runs a primal DPG discretization of the Laplacian:
// H1 trial field, one numerical flux dof per mesh edge, and a broken
// test space one order higher. The discrete problem is the normal
// equation A = B^T S^-1 B with S the element-local test-space Gram.
type dpgLaplaceSolver struct {
	coeff  float64
	source float64
	order  int
	bcs    []dpgBC
}

func newDPGLaplace(cfg map[string]any) (Solver, error) {
	var c dpgConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &dpgLaplaceSolver{coeff: 1, source: 1, order: 1}
	if c.Coefficient != nil {
		s.coeff = *c.Coefficient
		if !finite(s.coeff) || s.coeff <= 0 {
			return nil, Invalidf("config.coefficient must be finite and > 0.")
		}
	}
	if c.SourceTerm != nil {
		if !finite(*c.SourceTerm) {
			return nil, Invalidf("config.source_term must be finite when provided.")
		}
		s.source = *c.SourceTerm
	}
	order, err := optInt("order", c.Order, 1)
	if err != nil {
		return nil, err
	}
	if order < 1 {
		return nil, Invalidf("config.order must be >= 1.")
	}
	if order > 2 {
		return nil, Invalidf("config.order must be <= 2.")
	}
	s.order = order

	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attrF, isNum := toFloat(entry["attribute"])
		if !isNum || !finite(attrF) || attrF != math.Trunc(attrF) {
			return nil, Invalidf("config.bcs[].attribute is required and must be an integer.")
		}
		typStr, ok := entry["type"].(string)
		if !ok {
			return nil, Invalidf("config.bcs[].type is required and must be a string.")
		}
		value, isNum := toFloat(entry["value"])
		if !isNum {
			return nil, Invalidf("config.bcs[].value is required and must be numeric.")
		}
		attr := int(attrF)
		if attr <= 0 {
			return nil, Invalidf("config.bcs[].attribute must be > 0.")
		}
		if strings.ToLower(typStr) != "fixed" {
			return nil, Invalidf("config.bcs[].type must be fixed.")
		}
		if !finite(value) {
			return nil, Invalidf("config.bcs[].value must be finite.")
		}
		s.bcs = append(s.bcs, dpgBC{attr: attr, value: value})
	}
	if len(s.bcs) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}
	return s, nil
}

// dpgElem keeps the element-local operators needed to evaluate the
// test-norm residual after the solve.
type dpgElem struct {
	cols []int
	B    *mat.Dense
	Sinv *mat.SymDense
	l    *mat.VecDense
}

func (s *dpgLaplaceSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	if m.Dim != 2 {
		return nil, Algorithmf("DPGLaplace requires a triangular mesh.")
	}
	for _, el := range m.Elements {
		if el.Geom != mesh.Triangle {
			return nil, Algorithmf("DPGLaplace requires a triangular mesh.")
		}
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	fixed := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		fixed[bc.attr] = bc.value
	}

	topo, err := m.Topology()
	if err != nil {
		return nil, err
	}
	sp0, err := fem.NewH1Space(m, s.order, 1, fem.ByNodes)
	if err != nil {
		return nil, err
	}
	n0 := sp0.NDof()
	nfac := topo.NumFacets()
	ntr := n0 + nfac

	xfull := make([]float64, ntr)
	essAttrs := map[int]bool{}
	for a := range fixed {
		essAttrs[a] = true
	}
	for i, be := range m.Boundary {
		v, ok := fixed[be.Attr]
		if !ok {
			continue
		}
		dofs, _ := sp0.BoundaryDofs(i)
		for _, d := range dofs {
			xfull[d] = v
		}
	}
	ess := sp0.BoundaryScalarDofs(essAttrs)
	essSet := map[int]bool{}
	for _, e := range ess {
		essSet[e] = true
	}

	tb, err := fem.NewModalBasis(mesh.Triangle, s.order+1)
	if err != nil {
		return nil, err
	}
	ntst := tb.NDof
	he, err := fem.H1Elem(mesh.Triangle, s.order)
	if err != nil {
		return nil, err
	}
	nd0 := he.NDof

	degree := 2 * (s.order + 1)
	rule, err := fem.GeometryRule(mesh.Triangle, degree)
	if err != nil {
		return nil, err
	}
	fts := make([]*fem.FaceTrans, nfac)
	for f := 0; f < nfac; f++ {
		fts[f], err = fem.FacetTrans(m, topo, f, degree)
		if err != nil {
			return nil, err
		}
	}

	dok := sparse.NewDOK(ntr, ntr)
	b := make([]float64, ntr)
	elems := make([]dpgElem, 0, m.NE())

	tval := make([]float64, ntst)
	tgrad := make([][3]float64, ntst)
	hval := make([]float64, nd0)
	hgrad := make([][3]float64, nd0)

	for ei, el := range m.Elements {
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		trialDofs, _ := sp0.ElementDofs(ei)
		nc := nd0 + 3
		cols := make([]int, nc)
		copy(cols, trialDofs)
		for li := 0; li < 3; li++ {
			cols[nd0+li] = n0 + topo.ElemFacets[ei][li]
		}

		B := mat.NewDense(ntst, nc, nil)
		S := mat.NewSymDense(ntst, nil)
		l := mat.NewVecDense(ntst, nil)

		for q := 0; q < rule.Len(); q++ {
			p := rule.Points[q]
			w := tr.W[q]
			tb.EvalGrad(p, tval, tgrad)
			he.Shape(p, hval)
			he.DShape(p, hgrad)

			tg := make([][3]float64, ntst)
			for i := 0; i < ntst; i++ {
				tg[i] = tr.PhysGrad(q, tgrad[i])
			}
			for i := 0; i < ntst; i++ {
				for j := 0; j < nd0; j++ {
					hg := tr.PhysGrad(q, hgrad[j])
					B.Set(i, j, B.At(i, j)+s.coeff*w*dot3(tg[i], hg))
				}
				for j := i; j < ntst; j++ {
					S.SetSym(i, j, S.At(i, j)+w*(s.coeff*dot3(tg[i], tg[j])+tval[i]*tval[j]))
				}
				l.SetVec(i, l.AtVec(i)+s.source*w*tval[i])
			}
		}

		for li := 0; li < 3; li++ {
			f := topo.ElemFacets[ei][li]
			ft := fts[f]
			sign := float64(topo.FacetSigns[ei][li])
			refs := ft.RefA
			if topo.Facets[f].Elem[0] != ei {
				refs = ft.RefB
			}
			for q := range ft.W {
				tb.Eval(refs[q], tval)
				for i := 0; i < ntst; i++ {
					B.Set(i, nd0+li, B.At(i, nd0+li)+sign*ft.W[q]*tval[i])
				}
			}
		}

		// move fixed trial columns to the load
		for j := 0; j < nd0; j++ {
			g := trialDofs[j]
			if !essSet[g] {
				continue
			}
			for i := 0; i < ntst; i++ {
				l.SetVec(i, l.AtVec(i)-B.At(i, j)*xfull[g])
				B.Set(i, j, 0)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(S); !ok {
			return nil, Algorithmf("DPGLaplace test space factorization failed.")
		}
		var Sinv mat.SymDense
		if err := chol.InverseTo(&Sinv); err != nil {
			return nil, Algorithmf("DPGLaplace test space factorization failed.")
		}

		var T mat.Dense
		T.Mul(&Sinv, B)
		var Ak mat.Dense
		Ak.Mul(B.T(), &T)
		var sl mat.VecDense
		sl.MulVec(&Sinv, l)
		var rk mat.VecDense
		rk.MulVec(B.T(), &sl)

		for a := 0; a < nc; a++ {
			for c := 0; c < nc; c++ {
				v := Ak.At(a, c)
				if v != 0 {
					dok.Set(cols[a], cols[c], dok.At(cols[a], cols[c])+v)
				}
			}
			b[cols[a]] += rk.AtVec(a)
		}
		elems = append(elems, dpgElem{cols: cols, B: B, Sinv: &Sinv, l: l})
	}

	for _, e := range ess {
		dok.Set(e, e, 1)
	}
	A := dok.ToCSR()
	rc.log().Debug("assembled dpg system",
		"trial_dofs", n0, "trace_dofs", nfac, "test_dofs", m.NE()*ntst)

	x := make([]float64, ntr)
	st := linalg.PCG(A, b, x, linalg.NewJacobiPrec(A), 1e-8, 0, 500)

	errSq := 0.0
	for _, er := range elems {
		nc := len(er.cols)
		xk := mat.NewVecDense(nc, nil)
		for a, c := range er.cols {
			xk.SetVec(a, x[c])
		}
		var rK mat.VecDense
		rK.MulVec(er.B, xk)
		rK.SubVec(&rK, er.l)
		var sr mat.VecDense
		sr.MulVec(er.Sinv, &rK)
		errSq += mat.Dot(&rK, &sr)
	}
	errNorm := math.Sqrt(math.Max(0, errSq))
	if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
		return nil, Algorithmf("DPGLaplace residual norm is non-finite.")
	}
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	energy := 0.5 * floats.Dot(x, b)
	for _, e := range ess {
		x[e] = xfull[e]
	}

	gf := &fem.GridFunc{Sp: sp0, Data: x[:n0]}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Scalar("u", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	if err := writeArtifact(rc.WorkingDir, "dpg_laplace.json", map[string]any{
		"solver_class":         "DPGLaplace",
		"solver_backend":       "dpg_normal_equation_pcg",
		"trace_preconditioner": "jacobi",
		"coefficient":          s.coeff,
		"source_term":          s.source,
		"order":                s.order,
		"trial_true_dofs":      n0,
		"trace_true_dofs":      nfac,
		"test_true_dofs":       m.NE() * ntst,
		"iterations":           st.Iterations,
		"residual_norm":        errNorm,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     energy,
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
