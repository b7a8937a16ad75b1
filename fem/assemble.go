package fem

import (
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
)

// Coeff is a scalar coefficient evaluated at a physical point inside a
// region with the given attribute.
type Coeff func(x [3]float64, attr int) float64

// VecCoeff is a vector valued coefficient.
type VecCoeff func(x [3]float64, attr int) [3]float64

// MatCoeff is a matrix valued coefficient.
type MatCoeff func(x [3]float64, attr int) [3][3]float64

// ConstCoeff returns a constant scalar coefficient.
func ConstCoeff(v float64) Coeff {
	return func([3]float64, int) float64 { return v }
}

// AttrCoeff returns a piecewise constant coefficient keyed by element
// attribute, falling back to def for unlisted attributes.
func AttrCoeff(byAttr map[int]float64, def float64) Coeff {
	return func(_ [3]float64, attr int) float64 {
		if v, ok := byAttr[attr]; ok {
			return v
		}
		return def
	}
}

// ConstVec returns a constant vector coefficient.
func ConstVec(v [3]float64) VecCoeff {
	return func([3]float64, int) [3]float64 { return v }
}

// Assembler accumulates bilinear form contributions into a sparse
// matrix. Integrator errors stick to the assembler and surface from
// Matrix.
type Assembler struct {
	trial, test *Space
	dok         *sparse.DOK
	err         error
}

// NewAssembler starts a square assembler over one space.
func NewAssembler(sp *Space) *Assembler {
	n := sp.NDof()
	return &Assembler{trial: sp, test: sp, dok: sparse.NewDOK(n, n)}
}

// NewMixedAssembler starts a rectangular assembler with rows from test
// and columns from trial.
func NewMixedAssembler(trial, test *Space) *Assembler {
	return &Assembler{trial: trial, test: test,
		dok: sparse.NewDOK(test.NDof(), trial.NDof())}
}

func (a *Assembler) fail(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

// Err returns the first integrator error.
func (a *Assembler) Err() error { return a.err }

// Matrix finalizes the assembly into compressed sparse row form.
func (a *Assembler) Matrix() (*sparse.CSR, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.dok.ToCSR(), nil
}

func (a *Assembler) add(i, j int, v float64) {
	if v != 0 {
		a.dok.Set(i, j, a.dok.At(i, j)+v)
	}
}

// basisEval holds scalar basis values and physical gradients at the
// points of a quadrature rule on one element.
type basisEval struct {
	nd   int
	val  [][]float64
	grad [][][3]float64
}

func scalarBasisEval(sp *Space, geom mesh.Geometry, rule *Rule, tr *Trans, grads bool) (*basisEval, error) {
	nq := rule.Len()
	switch sp.Kind {
	case H1Kind:
		fe, err := sp.h1Elem(geom)
		if err != nil {
			return nil, err
		}
		be := &basisEval{nd: fe.NDof, val: make([][]float64, nq)}
		if grads {
			be.grad = make([][][3]float64, nq)
		}
		ref := make([][3]float64, fe.NDof)
		for q := 0; q < nq; q++ {
			be.val[q] = make([]float64, fe.NDof)
			fe.Shape(rule.Points[q], be.val[q])
			if grads {
				fe.DShape(rule.Points[q], ref)
				be.grad[q] = make([][3]float64, fe.NDof)
				for d := 0; d < fe.NDof; d++ {
					be.grad[q][d] = tr.PhysGrad(q, ref[d])
				}
			}
		}
		return be, nil
	case L2Kind:
		mb, err := sp.modalBasis(geom)
		if err != nil {
			return nil, err
		}
		be := &basisEval{nd: mb.NDof, val: make([][]float64, nq)}
		if grads {
			be.grad = make([][][3]float64, nq)
		}
		ref := make([][3]float64, mb.NDof)
		for q := 0; q < nq; q++ {
			be.val[q] = make([]float64, mb.NDof)
			if grads {
				mb.EvalGrad(rule.Points[q], be.val[q], ref)
				be.grad[q] = make([][3]float64, mb.NDof)
				for d := 0; d < mb.NDof; d++ {
					be.grad[q][d] = tr.PhysGrad(q, ref[d])
				}
			} else {
				mb.Eval(rule.Points[q], be.val[q])
			}
		}
		return be, nil
	}
	return nil, fmt.Errorf("space kind has no scalar basis")
}

// forEachElement runs fn over all elements with a cached per-geometry
// quadrature rule of the given degree.
func (a *Assembler) forEachElement(degree int, fn func(i int, el mesh.Element, rule *Rule, tr *Trans) error) {
	if a.err != nil {
		return
	}
	m := a.trial.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, el := range m.Elements {
		rule, ok := rules[el.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(el.Geom, degree)
			if err != nil {
				a.fail(err)
				return
			}
			rules[el.Geom] = rule
		}
		tr, err := ElementTrans(m, el, rule)
		if err != nil {
			a.fail(err)
			return
		}
		if err := fn(i, el, rule, tr); err != nil {
			a.fail(err)
			return
		}
	}
}

// AddMass accumulates the scalar mass form with coefficient c.
func (a *Assembler) AddMass(c Coeff) {
	deg := 2*a.trial.Order + 2
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				for s := 0; s < be.nd; s++ {
					a.add(dofs[r], dofs[s], cw*be.val[q][r]*be.val[q][s])
				}
			}
		}
		return nil
	})
}

// AddDiffusion accumulates the scalar diffusion form with coefficient c.
func (a *Assembler) AddDiffusion(c Coeff) {
	deg := 2 * a.trial.Order
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				for s := 0; s < be.nd; s++ {
					a.add(dofs[r], dofs[s], cw*dot3(be.grad[q][r], be.grad[q][s]))
				}
			}
		}
		return nil
	})
}

// AddDiffusionMatrix accumulates the anisotropic diffusion form
// grad(v) . C grad(u).
func (a *Assembler) AddDiffusionMatrix(c MatCoeff) {
	deg := 2 * a.trial.Order
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			C := c(tr.X[q], el.Attr)
			w := tr.W[q]
			for s := 0; s < be.nd; s++ {
				var Cg [3]float64
				for d := 0; d < 3; d++ {
					Cg[d] = C[d][0]*be.grad[q][s][0] + C[d][1]*be.grad[q][s][1] + C[d][2]*be.grad[q][s][2]
				}
				for r := 0; r < be.nd; r++ {
					a.add(dofs[r], dofs[s], w*dot3(be.grad[q][r], Cg))
				}
			}
		}
		return nil
	})
}

// AddVectorMass accumulates the component diagonal vector mass form.
func (a *Assembler) AddVectorMass(c Coeff) {
	deg := 2*a.trial.Order + 2
	vdim := a.trial.VDim
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				for s := 0; s < be.nd; s++ {
					v := cw * be.val[q][r] * be.val[q][s]
					for d := 0; d < vdim; d++ {
						a.add(a.trial.VDof(dofs[r], d), a.trial.VDof(dofs[s], d), v)
					}
				}
			}
		}
		return nil
	})
}

// AddVectorDiffusion accumulates the component diagonal vector
// diffusion form.
func (a *Assembler) AddVectorDiffusion(c Coeff) {
	deg := 2 * a.trial.Order
	vdim := a.trial.VDim
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				for s := 0; s < be.nd; s++ {
					v := cw * dot3(be.grad[q][r], be.grad[q][s])
					for d := 0; d < vdim; d++ {
						a.add(a.trial.VDof(dofs[r], d), a.trial.VDof(dofs[s], d), v)
					}
				}
			}
		}
		return nil
	})
}

// AddElasticity accumulates the linear elasticity form
// lambda div(u) div(v) + 2 mu eps(u):eps(v).
func (a *Assembler) AddElasticity(lambda, mu Coeff) {
	deg := 2 * a.trial.Order
	vdim := a.trial.VDim
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			lw := lambda(tr.X[q], el.Attr) * tr.W[q]
			mw := mu(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				gr := be.grad[q][r]
				for s := 0; s < be.nd; s++ {
					gs := be.grad[q][s]
					gg := dot3(gr, gs)
					for da := 0; da < vdim; da++ {
						for db := 0; db < vdim; db++ {
							v := lw*gr[da]*gs[db] + mw*gr[db]*gs[da]
							if da == db {
								v += mw * gg
							}
							a.add(a.trial.VDof(dofs[r], da), a.trial.VDof(dofs[s], db), v)
						}
					}
				}
			}
		}
		return nil
	})
}

// whitneyEdge evaluates the Whitney edge functions and their constant
// curls on an affine simplex. lam are barycentric values at one point,
// dlam the physical barycentric gradients.
func whitneyEdge(geom mesh.Geometry, lam []float64, dlam [][3]float64) (vals [][3]float64, curls [][3]float64) {
	edges := mesh.GeometryEdges(geom)
	vals = make([][3]float64, len(edges))
	curls = make([][3]float64, len(edges))
	for e, ev := range edges {
		la, lb := lam[ev[0]], lam[ev[1]]
		ga, gb := dlam[ev[0]], dlam[ev[1]]
		for d := 0; d < 3; d++ {
			vals[e][d] = la*gb[d] - lb*ga[d]
		}
		cx := cross(ga, gb)
		curls[e] = [3]float64{2 * cx[0], 2 * cx[1], 2 * cx[2]}
	}
	return vals, curls
}

// AddCurlCurl accumulates the curl curl form on an edge element space.
func (a *Assembler) AddCurlCurl(c Coeff) {
	a.forEachElement(2, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		dlam, err := tr.BaryGrads()
		if err != nil {
			return err
		}
		lam := make([]float64, len(el.Verts))
		_, curls := whitneyEdge(el.Geom, lam, dlam)
		dofs, signs := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := range dofs {
				for s := range dofs {
					v := cw * dot3(curls[r], curls[s]) * signs[r] * signs[s]
					a.add(dofs[r], dofs[s], v)
				}
			}
		}
		return nil
	})
}

// AddVectorFEMass accumulates the vector mass form on an edge element
// space.
func (a *Assembler) AddVectorFEMass(c Coeff) {
	a.AddVectorFEMassMatrix(func(x [3]float64, attr int) [3][3]float64 {
		v := c(x, attr)
		return [3][3]float64{{v, 0, 0}, {0, v, 0}, {0, 0, v}}
	})
}

// AddVectorFEMassMatrix accumulates the matrix coefficient vector mass
// form on an edge element space.
func (a *Assembler) AddVectorFEMassMatrix(c MatCoeff) {
	fe := map[mesh.Geometry]*H1Element{}
	a.forEachElement(4, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		dlam, err := tr.BaryGrads()
		if err != nil {
			return err
		}
		p1, ok := fe[el.Geom]
		if !ok {
			p1, err = H1Elem(el.Geom, 1)
			if err != nil {
				return err
			}
			fe[el.Geom] = p1
		}
		lam := make([]float64, p1.NDof)
		dofs, signs := a.trial.ElementDofs(i)
		for q := range rule.Points {
			p1.Shape(rule.Points[q], lam)
			vals, _ := whitneyEdge(el.Geom, lam, dlam)
			C := c(tr.X[q], el.Attr)
			w := tr.W[q]
			for s := range dofs {
				var Cv [3]float64
				for d := 0; d < 3; d++ {
					Cv[d] = C[d][0]*vals[s][0] + C[d][1]*vals[s][1] + C[d][2]*vals[s][2]
				}
				for r := range dofs {
					a.add(dofs[r], dofs[s], w*dot3(vals[r], Cv)*signs[r]*signs[s])
				}
			}
		}
		return nil
	})
}

// whitneyFacet evaluates the Raviart-Thomas facet functions and their
// constant divergences on an affine simplex.
func whitneyFacet(geom mesh.Geometry, lam []float64, dlam [][3]float64) (vals [][3]float64, divs []float64) {
	facets := mesh.GeometryFacets(geom)
	vals = make([][3]float64, len(facets))
	divs = make([]float64, len(facets))
	for f, fv := range facets {
		if geom == mesh.Triangle {
			a, b := fv[0], fv[1]
			// rotate the edge Whitney function to point across the edge
			wx := lam[a]*dlam[b][0] - lam[b]*dlam[a][0]
			wy := lam[a]*dlam[b][1] - lam[b]*dlam[a][1]
			vals[f] = [3]float64{wy, -wx, 0}
			divs[f] = 2 * (dlam[a][0]*dlam[b][1] - dlam[a][1]*dlam[b][0])
			continue
		}
		va, vb, vc := fv[0], fv[1], fv[2]
		t1 := cross(dlam[vb], dlam[vc])
		t2 := cross(dlam[vc], dlam[va])
		t3 := cross(dlam[va], dlam[vb])
		for d := 0; d < 3; d++ {
			vals[f][d] = 2 * (lam[va]*t1[d] + lam[vb]*t2[d] + lam[vc]*t3[d])
		}
		divs[f] = 6 * dot3(dlam[va], t1)
	}
	return vals, divs
}

// AddRTMass accumulates the vector mass form on a face element space.
func (a *Assembler) AddRTMass(c Coeff) {
	fe := map[mesh.Geometry]*H1Element{}
	a.forEachElement(4, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		dlam, err := tr.BaryGrads()
		if err != nil {
			return err
		}
		p1, ok := fe[el.Geom]
		if !ok {
			p1, err = H1Elem(el.Geom, 1)
			if err != nil {
				return err
			}
			fe[el.Geom] = p1
		}
		lam := make([]float64, p1.NDof)
		dofs, signs := a.trial.ElementDofs(i)
		for q := range rule.Points {
			p1.Shape(rule.Points[q], lam)
			vals, _ := whitneyFacet(el.Geom, lam, dlam)
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := range dofs {
				for s := range dofs {
					a.add(dofs[r], dofs[s], cw*dot3(vals[r], vals[s])*signs[r]*signs[s])
				}
			}
		}
		return nil
	})
}

// AddRTDivL2 accumulates the mixed form q div(sigma) with trial on the
// face element space and test on an L2 space.
func (a *Assembler) AddRTDivL2() {
	if a.trial == a.test {
		a.fail(fmt.Errorf("divergence coupling needs distinct trial and test spaces"))
		return
	}
	deg := 2*a.test.Order + 2
	fe := map[mesh.Geometry]*H1Element{}
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		dlam, err := tr.BaryGrads()
		if err != nil {
			return err
		}
		p1, ok := fe[el.Geom]
		if !ok {
			p1, err = H1Elem(el.Geom, 1)
			if err != nil {
				return err
			}
			fe[el.Geom] = p1
		}
		lam := make([]float64, p1.NDof)
		p1.Shape(rule.Points[0], lam)
		_, divs := whitneyFacet(el.Geom, lam, dlam)

		be, err := scalarBasisEval(a.test, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		rows, _ := a.test.ElementDofs(i)
		cols, signs := a.trial.ElementDofs(i)
		for q := range rule.Points {
			w := tr.W[q]
			for r := 0; r < be.nd; r++ {
				for s := range cols {
					a.add(rows[r], cols[s], w*be.val[q][r]*divs[s]*signs[s])
				}
			}
		}
		return nil
	})
}

// AddVectorDivergence accumulates the mixed form q div(u) with trial
// on a vector H1 space and test on a scalar space.
func (a *Assembler) AddVectorDivergence(c Coeff) {
	deg := a.trial.Order + a.test.Order + 1
	vdim := a.trial.VDim
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		trialBE, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		testBE, err := scalarBasisEval(a.test, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		rows, _ := a.test.ElementDofs(i)
		cols, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < testBE.nd; r++ {
				for s := 0; s < trialBE.nd; s++ {
					for d := 0; d < vdim; d++ {
						a.add(rows[r], a.trial.VDof(cols[s], d),
							cw*testBE.val[q][r]*trialBE.grad[q][s][d])
					}
				}
			}
		}
		return nil
	})
}

// AddGradient accumulates the mixed form v . grad(p) with trial on a
// scalar H1 space and test on a vector H1 space.
func (a *Assembler) AddGradient(c Coeff) {
	deg := a.trial.Order + a.test.Order + 1
	vdim := a.test.VDim
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		trialBE, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		testBE, err := scalarBasisEval(a.test, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		rows, _ := a.test.ElementDofs(i)
		cols, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			cw := c(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < testBE.nd; r++ {
				for s := 0; s < trialBE.nd; s++ {
					for d := 0; d < vdim; d++ {
						a.add(a.test.VDof(rows[r], d), cols[s],
							cw*testBE.val[q][r]*trialBE.grad[q][s][d])
					}
				}
			}
		}
		return nil
	})
}

// AddDGConvection accumulates the volume transport term
// u (beta . grad(v)) on a discontinuous space.
func (a *Assembler) AddDGConvection(beta VecCoeff) {
	deg := 2*a.trial.Order + 2
	a.forEachElement(deg, func(i int, el mesh.Element, rule *Rule, tr *Trans) error {
		be, err := scalarBasisEval(a.trial, el.Geom, rule, tr, true)
		if err != nil {
			return err
		}
		dofs, _ := a.trial.ElementDofs(i)
		for q := range rule.Points {
			b := beta(tr.X[q], el.Attr)
			w := tr.W[q]
			for r := 0; r < be.nd; r++ {
				bg := dot3(b, be.grad[q][r])
				for s := 0; s < be.nd; s++ {
					a.add(dofs[r], dofs[s], w*bg*be.val[q][s])
				}
			}
		}
		return nil
	})
}

// AddDGUpwind accumulates the upwind face terms of the transport
// operator over interior facets and outflow boundary facets. Combined
// with AddDGConvection the assembled matrix K gives the semi-discrete
// transport du/dt = M^-1 (K u + b).
func (a *Assembler) AddDGUpwind(beta VecCoeff) {
	if a.err != nil {
		return
	}
	m := a.trial.Mesh
	topo, err := m.Topology()
	if err != nil {
		a.fail(err)
		return
	}
	deg := 2*a.trial.Order + 1
	for f := range topo.Facets {
		fc := &topo.Facets[f]
		ft, err := FacetTrans(m, topo, f, deg)
		if err != nil {
			a.fail(err)
			return
		}
		elA := m.Elements[fc.Elem[0]]
		dofsA, _ := a.trial.ElementDofs(fc.Elem[0])
		valsA, err := a.trial.basisAtPoints(elA.Geom, ft.RefA)
		if err != nil {
			a.fail(err)
			return
		}

		if !fc.Interior() {
			for q := range ft.X {
				bn := dot3(beta(ft.X[q], elA.Attr), ft.Normal)
				if bn <= 0 {
					continue
				}
				w := ft.W[q] * bn
				for r := range dofsA {
					for s := range dofsA {
						a.add(dofsA[r], dofsA[s], -w*valsA[q][r]*valsA[q][s])
					}
				}
			}
			continue
		}

		elB := m.Elements[fc.Elem[1]]
		dofsB, _ := a.trial.ElementDofs(fc.Elem[1])
		valsB, err := a.trial.basisAtPoints(elB.Geom, ft.RefB)
		if err != nil {
			a.fail(err)
			return
		}
		for q := range ft.X {
			bn := dot3(beta(ft.X[q], elA.Attr), ft.Normal)
			upDofs, upVals := dofsA, valsA[q]
			if bn < 0 {
				upDofs, upVals = dofsB, valsB[q]
			}
			w := ft.W[q] * bn
			for s := range upDofs {
				for r := range dofsA {
					a.add(dofsA[r], upDofs[s], -w*valsA[q][r]*upVals[s])
				}
				for r := range dofsB {
					a.add(dofsB[r], upDofs[s], w*valsB[q][r]*upVals[s])
				}
			}
		}
	}
}

// basisAtPoints evaluates the scalar basis of a geometry at arbitrary
// reference points.
func (sp *Space) basisAtPoints(geom mesh.Geometry, pts [][3]float64) ([][]float64, error) {
	out := make([][]float64, len(pts))
	switch sp.Kind {
	case H1Kind:
		fe, err := sp.h1Elem(geom)
		if err != nil {
			return nil, err
		}
		for q, p := range pts {
			out[q] = make([]float64, fe.NDof)
			fe.Shape(p, out[q])
		}
	case L2Kind:
		mb, err := sp.modalBasis(geom)
		if err != nil {
			return nil, err
		}
		for q, p := range pts {
			out[q] = make([]float64, mb.NDof)
			mb.Eval(p, out[q])
		}
	default:
		return nil, fmt.Errorf("space kind has no scalar basis")
	}
	return out, nil
}

// BasisAtPoints evaluates the scalar basis of element i at reference
// points, for callers that drive their own face or volume loops.
func (sp *Space) BasisAtPoints(i int, pts [][3]float64) ([][]float64, error) {
	return sp.basisAtPoints(sp.Mesh.Elements[i].Geom, pts)
}

// BasisGradsAtPoints evaluates the physical basis gradients of element
// i at the points of rule, with tr built from the same rule.
func (sp *Space) BasisGradsAtPoints(i int, rule *Rule, tr *Trans) ([][][3]float64, error) {
	be, err := scalarBasisEval(sp, sp.Mesh.Elements[i].Geom, rule, tr, true)
	if err != nil {
		return nil, err
	}
	return be.grad, nil
}

// EliminateEssential applies essential boundary conditions to the
// assembled square system: prescribed values from x are folded into b,
// the matching rows and columns are zeroed and the diagonal is set to
// diag. x and b may be nil for homogeneous eliminations without a
// right hand side.
func (a *Assembler) EliminateEssential(ess []int, x, b []float64, diag float64) {
	if a.err != nil {
		return
	}
	if a.trial != a.test {
		a.fail(fmt.Errorf("essential elimination needs a square system"))
		return
	}
	linalg.EliminateDOK(a.dok, ess, x, b, diag)
}
