package fem

import (
	"github.com/notargets/mfem-driver/mesh"
)

// DomainLF accumulates the scalar source form int f v into dst.
func DomainLF(sp *Space, f Coeff, dst []float64) error {
	deg := 2*sp.Order + 2
	m := sp.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, el := range m.Elements {
		rule, ok := rules[el.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(el.Geom, deg)
			if err != nil {
				return err
			}
			rules[el.Geom] = rule
		}
		tr, err := ElementTrans(m, el, rule)
		if err != nil {
			return err
		}
		be, err := scalarBasisEval(sp, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		dofs, _ := sp.ElementDofs(i)
		for q := range rule.Points {
			fw := f(tr.X[q], el.Attr) * tr.W[q]
			for r := 0; r < be.nd; r++ {
				dst[dofs[r]] += fw * be.val[q][r]
			}
		}
	}
	return nil
}

// VectorDomainLF accumulates the body force form int f . v on a vector
// H1 space into dst.
func VectorDomainLF(sp *Space, f VecCoeff, dst []float64) error {
	deg := 2*sp.Order + 2
	m := sp.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, el := range m.Elements {
		rule, ok := rules[el.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(el.Geom, deg)
			if err != nil {
				return err
			}
			rules[el.Geom] = rule
		}
		tr, err := ElementTrans(m, el, rule)
		if err != nil {
			return err
		}
		be, err := scalarBasisEval(sp, el.Geom, rule, tr, false)
		if err != nil {
			return err
		}
		dofs, _ := sp.ElementDofs(i)
		for q := range rule.Points {
			fv := f(tr.X[q], el.Attr)
			w := tr.W[q]
			for r := 0; r < be.nd; r++ {
				for d := 0; d < sp.VDim; d++ {
					dst[sp.VDof(dofs[r], d)] += w * fv[d] * be.val[q][r]
				}
			}
		}
	}
	return nil
}

// NDDomainLF accumulates the source form int J . E on an edge element
// space into dst.
func NDDomainLF(sp *Space, J VecCoeff, dst []float64) error {
	m := sp.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, el := range m.Elements {
		rule, ok := rules[el.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(el.Geom, 3)
			if err != nil {
				return err
			}
			rules[el.Geom] = rule
		}
		tr, err := ElementTrans(m, el, rule)
		if err != nil {
			return err
		}
		dlam, err := tr.BaryGrads()
		if err != nil {
			return err
		}
		p1, err := H1Elem(el.Geom, 1)
		if err != nil {
			return err
		}
		lam := make([]float64, p1.NDof)
		dofs, signs := sp.ElementDofs(i)
		for q := range rule.Points {
			p1.Shape(rule.Points[q], lam)
			vals, _ := whitneyEdge(el.Geom, lam, dlam)
			jv := J(tr.X[q], el.Attr)
			w := tr.W[q]
			for r := range dofs {
				dst[dofs[r]] += w * dot3(jv, vals[r]) * signs[r]
			}
		}
	}
	return nil
}

// BoundaryLF accumulates the flux form int g v over boundary elements
// with marked attributes into dst.
func BoundaryLF(sp *Space, g Coeff, attrs map[int]bool, dst []float64) error {
	deg := 2*sp.Order + 2
	m := sp.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, be := range m.Boundary {
		if !attrs[be.Attr] {
			continue
		}
		rule, ok := rules[be.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(be.Geom, deg)
			if err != nil {
				return err
			}
			rules[be.Geom] = rule
		}
		tr, err := ElementTrans(m, be, rule)
		if err != nil {
			return err
		}
		fe, err := sp.h1Elem(be.Geom)
		if err != nil {
			return err
		}
		val := make([]float64, fe.NDof)
		dofs, _ := sp.BoundaryDofs(i)
		for q := range rule.Points {
			gw := g(tr.X[q], be.Attr) * tr.W[q]
			fe.Shape(rule.Points[q], val)
			for r := range dofs {
				dst[dofs[r]] += gw * val[r]
			}
		}
	}
	return nil
}

// VectorBoundaryLF accumulates the traction form int t . v over marked
// boundary elements of a vector H1 space into dst.
func VectorBoundaryLF(sp *Space, t VecCoeff, attrs map[int]bool, dst []float64) error {
	deg := 2*sp.Order + 2
	m := sp.Mesh
	rules := map[mesh.Geometry]*Rule{}
	for i, be := range m.Boundary {
		if !attrs[be.Attr] {
			continue
		}
		rule, ok := rules[be.Geom]
		if !ok {
			var err error
			rule, err = GeometryRule(be.Geom, deg)
			if err != nil {
				return err
			}
			rules[be.Geom] = rule
		}
		tr, err := ElementTrans(m, be, rule)
		if err != nil {
			return err
		}
		fe, err := sp.h1Elem(be.Geom)
		if err != nil {
			return err
		}
		val := make([]float64, fe.NDof)
		dofs, _ := sp.BoundaryDofs(i)
		for q := range rule.Points {
			tv := t(tr.X[q], be.Attr)
			w := tr.W[q]
			fe.Shape(rule.Points[q], val)
			for r := range dofs {
				for d := 0; d < sp.VDim; d++ {
					dst[sp.VDof(dofs[r], d)] += w * tv[d] * val[r]
				}
			}
		}
	}
	return nil
}

// DGInflowLF accumulates the inflow boundary form of the upwind
// transport operator: facets where beta . n < 0 contribute
// |beta . n| g v with g keyed by the boundary attribute.
func DGInflowLF(sp *Space, beta VecCoeff, g Coeff, dst []float64) error {
	m := sp.Mesh
	topo, err := m.Topology()
	if err != nil {
		return err
	}
	deg := 2*sp.Order + 1
	for f := range topo.Facets {
		fc := &topo.Facets[f]
		if fc.Interior() {
			continue
		}
		ft, err := FacetTrans(m, topo, f, deg)
		if err != nil {
			return err
		}
		attr := 0
		if fc.BdrElem >= 0 {
			attr = m.Boundary[fc.BdrElem].Attr
		}
		elA := m.Elements[fc.Elem[0]]
		dofs, _ := sp.ElementDofs(fc.Elem[0])
		vals, err := sp.basisAtPoints(elA.Geom, ft.RefA)
		if err != nil {
			return err
		}
		for q := range ft.X {
			bn := dot3(beta(ft.X[q], elA.Attr), ft.Normal)
			if bn >= 0 || attr == 0 {
				continue
			}
			w := ft.W[q] * (-bn) * g(ft.X[q], attr)
			for r := range dofs {
				dst[dofs[r]] += w * vals[q][r]
			}
		}
	}
	return nil
}

// RTBoundaryFluxLF accumulates int g tau.n over marked boundary facets
// of a face element space. With the unit flux normalization of the
// facet dofs each marked facet dof receives g at the facet centroid.
func RTBoundaryFluxLF(sp *Space, g Coeff, attrs map[int]bool, dst []float64) error {
	m := sp.Mesh
	topo, err := m.Topology()
	if err != nil {
		return err
	}
	for f := range topo.Facets {
		fc := &topo.Facets[f]
		if fc.Interior() || fc.BdrElem < 0 {
			continue
		}
		attr := m.Boundary[fc.BdrElem].Attr
		if !attrs[attr] {
			continue
		}
		var c [3]float64
		for _, v := range fc.Verts {
			x := m.Verts[v]
			for d := 0; d < 3; d++ {
				c[d] += x[d]
			}
		}
		for d := 0; d < 3; d++ {
			c[d] /= float64(len(fc.Verts))
		}
		dst[f] += g(c, attr)
	}
	return nil
}
