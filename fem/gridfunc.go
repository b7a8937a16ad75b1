package fem

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/mfem-driver/mesh"
)

// GridFunc is a finite element function: a dof vector over a space.
type GridFunc struct {
	Sp   *Space
	Data []float64
}

// NewGridFunc allocates a zero grid function on sp.
func NewGridFunc(sp *Space) *GridFunc {
	return &GridFunc{Sp: sp, Data: make([]float64, sp.NDof())}
}

// ProjectH1 interpolates a scalar coefficient into a nodal H1 space.
func (g *GridFunc) ProjectH1(f Coeff) error {
	return g.ProjectH1Vec(func(x [3]float64, attr int) [3]float64 {
		return [3]float64{f(x, attr)}
	})
}

// ProjectH1Vec interpolates a vector coefficient into a nodal H1
// space, component by component.
func (g *GridFunc) ProjectH1Vec(f VecCoeff) error {
	sp := g.Sp
	if sp.Kind != H1Kind {
		return fmt.Errorf("projection needs an H1 space")
	}
	m := sp.Mesh
	vdim := sp.VDim
	if vdim < 1 {
		vdim = 1
	}
	for i, el := range m.Elements {
		dofs, _ := sp.ElementDofs(i)
		pts, err := h1NodePoints(m, el, sp.Order)
		if err != nil {
			return err
		}
		if len(pts) != len(dofs) {
			return fmt.Errorf("node count mismatch on element %d", i)
		}
		for k, p := range pts {
			fv := f(p, el.Attr)
			for d := 0; d < vdim; d++ {
				g.Data[sp.VDof(dofs[k], d)] = fv[d]
			}
		}
	}
	return nil
}

// h1NodePoints lists the physical positions of the H1 nodes of an
// element: vertices, then edge midpoints, then the cell center.
func h1NodePoints(m *mesh.Mesh, el mesh.Element, order int) ([][3]float64, error) {
	var pts [][3]float64
	for _, v := range el.Verts {
		pts = append(pts, m.Verts[v])
	}
	if order == 2 {
		for _, ev := range mesh.GeometryEdges(el.Geom) {
			a := m.Verts[el.Verts[ev[0]]]
			b := m.Verts[el.Verts[ev[1]]]
			pts = append(pts, [3]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2})
		}
		fe, err := H1Elem(el.Geom, order)
		if err != nil {
			return nil, err
		}
		if fe.NIntr > 0 {
			var c [3]float64
			for _, v := range el.Verts {
				x := m.Verts[v]
				for d := 0; d < 3; d++ {
					c[d] += x[d]
				}
			}
			for d := 0; d < 3; d++ {
				c[d] /= float64(len(el.Verts))
			}
			pts = append(pts, c)
		}
	}
	return pts, nil
}

// ProjectL2 projects a scalar coefficient into a discontinuous space
// by element local least squares.
func (g *GridFunc) ProjectL2(f Coeff) error {
	sp := g.Sp
	if sp.Kind != L2Kind {
		return fmt.Errorf("projection needs an L2 space")
	}
	m := sp.Mesh
	deg := 2*sp.Order + 2
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
		nd := be.nd
		M := mat.NewDense(nd, nd, nil)
		b := mat.NewVecDense(nd, nil)
		for q := range rule.Points {
			w := tr.W[q]
			fv := f(tr.X[q], el.Attr)
			for r := 0; r < nd; r++ {
				b.SetVec(r, b.AtVec(r)+w*fv*be.val[q][r])
				for s := 0; s < nd; s++ {
					M.Set(r, s, M.At(r, s)+w*be.val[q][r]*be.val[q][s])
				}
			}
		}
		var x mat.VecDense
		if err := x.SolveVec(M, b); err != nil {
			return fmt.Errorf("local projection failed on element %d: %w", i, err)
		}
		dofs, _ := sp.ElementDofs(i)
		for k, d := range dofs {
			g.Data[d] = x.AtVec(k)
		}
	}
	return nil
}

// ProjectND interpolates a vector field into the lowest order edge
// element space via midpoint tangential integrals.
func (g *GridFunc) ProjectND(f VecCoeff) error {
	sp := g.Sp
	if sp.Kind != NedelecKind {
		return fmt.Errorf("projection needs an edge element space")
	}
	m := sp.Mesh
	topo, err := m.Topology()
	if err != nil {
		return err
	}
	for e, ev := range topo.Edges {
		a := m.Verts[ev[0]]
		b := m.Verts[ev[1]]
		mid := [3]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2}
		fv := f(mid, 0)
		g.Data[e] = fv[0]*(b[0]-a[0]) + fv[1]*(b[1]-a[1]) + fv[2]*(b[2]-a[2])
	}
	return nil
}

// ElementValues evaluates the field at the points of a rule on element
// i. The second index runs over vector components: VDim entries for
// nodal and modal spaces, three entries for edge and face element
// spaces.
func (g *GridFunc) ElementValues(i int, rule *Rule, tr *Trans) ([][]float64, error) {
	sp := g.Sp
	el := sp.Mesh.Elements[i]
	nq := rule.Len()
	switch sp.Kind {
	case H1Kind, L2Kind:
		be, err := scalarBasisEval(sp, el.Geom, rule, tr, false)
		if err != nil {
			return nil, err
		}
		vdim := sp.VDim
		if vdim < 1 {
			vdim = 1
		}
		dofs, _ := sp.ElementDofs(i)
		out := make([][]float64, nq)
		for q := 0; q < nq; q++ {
			out[q] = make([]float64, vdim)
			for d := 0; d < vdim; d++ {
				s := 0.0
				for k := range dofs {
					s += be.val[q][k] * g.Data[sp.VDof(dofs[k], d)]
				}
				out[q][d] = s
			}
		}
		return out, nil

	case NedelecKind, RaviartThomasKind:
		dlam, err := tr.BaryGrads()
		if err != nil {
			return nil, err
		}
		p1, err := H1Elem(el.Geom, 1)
		if err != nil {
			return nil, err
		}
		lam := make([]float64, p1.NDof)
		dofs, signs := sp.ElementDofs(i)
		out := make([][]float64, nq)
		for q := 0; q < nq; q++ {
			p1.Shape(rule.Points[q], lam)
			var vals [][3]float64
			if sp.Kind == NedelecKind {
				vals, _ = whitneyEdge(el.Geom, lam, dlam)
			} else {
				vals, _ = whitneyFacet(el.Geom, lam, dlam)
			}
			var v [3]float64
			for k := range dofs {
				c := g.Data[dofs[k]] * signs[k]
				for d := 0; d < 3; d++ {
					v[d] += c * vals[k][d]
				}
			}
			out[q] = []float64{v[0], v[1], v[2]}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported space kind")
}

// ElementGradients evaluates per component physical gradients at the
// points of a rule on element i of a nodal or modal space.
func (g *GridFunc) ElementGradients(i int, rule *Rule, tr *Trans) ([][][3]float64, error) {
	sp := g.Sp
	el := sp.Mesh.Elements[i]
	if sp.Kind != H1Kind && sp.Kind != L2Kind {
		return nil, fmt.Errorf("gradients need a nodal or modal space")
	}
	be, err := scalarBasisEval(sp, el.Geom, rule, tr, true)
	if err != nil {
		return nil, err
	}
	vdim := sp.VDim
	if vdim < 1 {
		vdim = 1
	}
	dofs, _ := sp.ElementDofs(i)
	out := make([][][3]float64, rule.Len())
	for q := range rule.Points {
		out[q] = make([][3]float64, vdim)
		for d := 0; d < vdim; d++ {
			var gr [3]float64
			for k := range dofs {
				c := g.Data[sp.VDof(dofs[k], d)]
				for x := 0; x < 3; x++ {
					gr[x] += c * be.grad[q][k][x]
				}
			}
			out[q][d] = gr
		}
	}
	return out, nil
}

// CornerValues evaluates the field at the corners of every element,
// indexed [element][corner][component].
func (g *GridFunc) CornerValues() ([][][]float64, error) {
	m := g.Sp.Mesh
	out := make([][][]float64, m.NE())
	for i, el := range m.Elements {
		rv := RefVerts(el.Geom)
		rule := &Rule{Points: rv, Weights: make([]float64, len(rv))}
		for k := range rule.Weights {
			rule.Weights[k] = 1
		}
		tr, err := ElementTrans(m, el, rule)
		if err != nil {
			return nil, err
		}
		vals, err := g.ElementValues(i, rule, tr)
		if err != nil {
			return nil, err
		}
		out[i] = vals
	}
	return out, nil
}
