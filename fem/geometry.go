package fem

import (
	"fmt"
	"math"

	"github.com/notargets/mfem-driver/mesh"
)

// Trans carries the geometric factors of one element evaluated at the
// points of a quadrature rule. Physical gradients follow from
// reference gradients as g_phys = InvT * g_ref, using the Gram form of
// the Jacobian so embedded surface elements work the same way as
// volume elements.
type Trans struct {
	Geom mesh.Geometry
	Dim  int
	SDim int

	X    [][3]float64
	W    []float64
	Jac  [][3][3]float64
	InvT [][3][3]float64
	Det  []float64
}

// ElementTrans evaluates the geometric factors of el at the points of
// rule.
func ElementTrans(m *mesh.Mesh, el mesh.Element, rule *Rule) (*Trans, error) {
	geom, err := H1Elem(el.Geom, 1)
	if err != nil {
		return nil, err
	}
	dim := el.Geom.Dim()
	sdim := m.SpaceDim
	nq := rule.Len()
	t := &Trans{
		Geom: el.Geom, Dim: dim, SDim: sdim,
		X:    make([][3]float64, nq),
		W:    make([]float64, nq),
		Jac:  make([][3][3]float64, nq),
		InvT: make([][3][3]float64, nq),
		Det:  make([]float64, nq),
	}

	nv := len(el.Verts)
	val := make([]float64, nv)
	grad := make([][3]float64, nv)
	for q := 0; q < nq; q++ {
		p := rule.Points[q]
		geom.Shape(p, val)
		geom.DShape(p, grad)

		var x [3]float64
		var J [3][3]float64
		for v, gv := range el.Verts {
			xv := m.Verts[gv]
			for d := 0; d < sdim; d++ {
				x[d] += val[v] * xv[d]
				for r := 0; r < dim; r++ {
					J[d][r] += grad[v][r] * xv[d]
				}
			}
		}
		t.X[q] = x
		t.Jac[q] = J

		det, invT, err := gramFactors(J, sdim, dim)
		if err != nil {
			return nil, fmt.Errorf("element with vertices %v: %w", el.Verts, err)
		}
		t.Det[q] = det
		t.InvT[q] = invT
		t.W[q] = rule.Weights[q] * det
	}
	return t, nil
}

// gramFactors computes the measure factor sqrt(det(J^T J)) and the
// pseudo-inverse transpose J (J^T J)^-1 for an sdim x dim Jacobian.
func gramFactors(J [3][3]float64, sdim, dim int) (float64, [3][3]float64, error) {
	var G [3][3]float64
	for a := 0; a < dim; a++ {
		for b := 0; b < dim; b++ {
			s := 0.0
			for d := 0; d < sdim; d++ {
				s += J[d][a] * J[d][b]
			}
			G[a][b] = s
		}
	}

	detG, Ginv, err := invertSym(G, dim)
	if err != nil {
		return 0, [3][3]float64{}, err
	}

	var invT [3][3]float64
	for d := 0; d < sdim; d++ {
		for a := 0; a < dim; a++ {
			s := 0.0
			for b := 0; b < dim; b++ {
				s += J[d][b] * Ginv[b][a]
			}
			invT[d][a] = s
		}
	}
	return math.Sqrt(detG), invT, nil
}

// invertSym inverts the leading dim x dim block of a symmetric matrix
// and returns its determinant.
func invertSym(G [3][3]float64, dim int) (float64, [3][3]float64, error) {
	var inv [3][3]float64
	var det float64
	switch dim {
	case 1:
		det = G[0][0]
		if det <= 0 {
			return 0, inv, fmt.Errorf("degenerate element mapping")
		}
		inv[0][0] = 1 / det
	case 2:
		det = G[0][0]*G[1][1] - G[0][1]*G[1][0]
		if det <= 0 {
			return 0, inv, fmt.Errorf("degenerate element mapping")
		}
		inv[0][0] = G[1][1] / det
		inv[1][1] = G[0][0] / det
		inv[0][1] = -G[0][1] / det
		inv[1][0] = -G[1][0] / det
	case 3:
		c00 := G[1][1]*G[2][2] - G[1][2]*G[2][1]
		c01 := G[1][2]*G[2][0] - G[1][0]*G[2][2]
		c02 := G[1][0]*G[2][1] - G[1][1]*G[2][0]
		det = G[0][0]*c00 + G[0][1]*c01 + G[0][2]*c02
		if det <= 0 {
			return 0, inv, fmt.Errorf("degenerate element mapping")
		}
		inv[0][0] = c00 / det
		inv[1][0] = c01 / det
		inv[2][0] = c02 / det
		inv[0][1] = (G[0][2]*G[2][1] - G[0][1]*G[2][2]) / det
		inv[1][1] = (G[0][0]*G[2][2] - G[0][2]*G[2][0]) / det
		inv[2][1] = (G[0][1]*G[2][0] - G[0][0]*G[2][1]) / det
		inv[0][2] = (G[0][1]*G[1][2] - G[0][2]*G[1][1]) / det
		inv[1][2] = (G[0][2]*G[1][0] - G[0][0]*G[1][2]) / det
		inv[2][2] = (G[0][0]*G[1][1] - G[0][1]*G[1][0]) / det
	default:
		return 0, inv, fmt.Errorf("unsupported reference dimension %d", dim)
	}
	return det, inv, nil
}

// PhysGrad applies the pseudo-inverse transpose at point q to a
// reference gradient.
func (t *Trans) PhysGrad(q int, ref [3]float64) [3]float64 {
	var g [3]float64
	for d := 0; d < t.SDim; d++ {
		s := 0.0
		for r := 0; r < t.Dim; r++ {
			s += t.InvT[q][d][r] * ref[r]
		}
		g[d] = s
	}
	return g
}

// BaryGrads returns the physical gradients of the barycentric
// functions of an affine simplex (evaluated at the first rule point).
func (t *Trans) BaryGrads() ([][3]float64, error) {
	var refGrads [][3]float64
	switch t.Geom {
	case mesh.Triangle:
		refGrads = [][3]float64{{-1, -1, 0}, {1, 0, 0}, {0, 1, 0}}
	case mesh.Tet:
		refGrads = [][3]float64{{-1, -1, -1}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	default:
		return nil, fmt.Errorf("barycentric gradients need a simplex, got %s", t.Geom)
	}
	out := make([][3]float64, len(refGrads))
	for i, rg := range refGrads {
		out[i] = t.PhysGrad(0, rg)
	}
	return out, nil
}

// FaceTrans carries the factors of one mesh facet: physical quadrature
// points, weights scaled by the facet measure, the unit normal
// oriented out of the first adjacent element, and the reference
// coordinates of the quadrature points inside each adjacent element.
type FaceTrans struct {
	X      [][3]float64
	W      []float64
	Normal [3]float64
	RefA   [][3]float64
	RefB   [][3]float64
}

// FacetTrans builds the facet factors for facet f of the topology,
// with a rule exact to the given degree on the facet.
func FacetTrans(m *mesh.Mesh, topo *mesh.Topology, f int, degree int) (*FaceTrans, error) {
	fc := &topo.Facets[f]
	nv := len(fc.Verts)

	var fgeom mesh.Geometry
	switch nv {
	case 1:
		fgeom = mesh.Point
	case 2:
		fgeom = mesh.Segment
	case 3:
		fgeom = mesh.Triangle
	case 4:
		fgeom = mesh.Quad
	default:
		return nil, fmt.Errorf("facet with %d vertices is not supported", nv)
	}
	rule, err := GeometryRule(fgeom, degree)
	if err != nil {
		return nil, err
	}
	shape, err := H1Elem(fgeom, 1)
	if err != nil {
		return nil, err
	}

	ft := &FaceTrans{}
	normal, measure, err := facetNormal(m, fc.Verts)
	if err != nil {
		return nil, err
	}
	// reference rules carry the reference facet measure; rescale so the
	// weights sum to the physical one
	scale := measure
	if fgeom == mesh.Triangle {
		scale = 2 * measure
	}
	if nv == 1 {
		// point facet of a 1D mesh: orient away from the element center
		el := m.Elements[fc.Elem[0]]
		cx := 0.0
		for _, v := range el.Verts {
			cx += m.Verts[v][0]
		}
		cx /= float64(len(el.Verts))
		if m.Verts[fc.Verts[0]][0] >= cx {
			normal = [3]float64{1, 0, 0}
		} else {
			normal = [3]float64{-1, 0, 0}
		}
	}
	ft.Normal = normal

	refA, err := facetRefCoords(m, fc, 0)
	if err != nil {
		return nil, err
	}
	var refB [][3]float64
	if fc.Interior() {
		refB, err = facetRefCoords(m, fc, 1)
		if err != nil {
			return nil, err
		}
	}

	val := make([]float64, nv)
	for q := 0; q < rule.Len(); q++ {
		shape.Shape(rule.Points[q], val)
		var x [3]float64
		var ra, rb [3]float64
		for k := 0; k < nv; k++ {
			xv := m.Verts[fc.Verts[k]]
			for d := 0; d < 3; d++ {
				x[d] += val[k] * xv[d]
				ra[d] += val[k] * refA[k][d]
				if refB != nil {
					rb[d] += val[k] * refB[k][d]
				}
			}
		}
		ft.X = append(ft.X, x)
		ft.W = append(ft.W, rule.Weights[q]*scale)
		ft.RefA = append(ft.RefA, ra)
		if refB != nil {
			ft.RefB = append(ft.RefB, rb)
		}
	}
	return ft, nil
}

// facetRefCoords returns, per global facet vertex, its reference
// coordinates inside the adjacent element on the given side.
func facetRefCoords(m *mesh.Mesh, fc *mesh.Facet, side int) ([][3]float64, error) {
	el := m.Elements[fc.Elem[side]]
	rv := RefVerts(el.Geom)
	out := make([][3]float64, len(fc.Verts))
	for k, gv := range fc.Verts {
		found := false
		for lv, v := range el.Verts {
			if v == gv {
				out[k] = rv[lv]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("facet vertex %d is not a vertex of element %d", gv, fc.Elem[side])
		}
	}
	return out, nil
}

// facetNormal computes the unit normal and measure of a straight facet
// in the orientation of its vertex list.
func facetNormal(m *mesh.Mesh, verts []int) ([3]float64, float64, error) {
	switch len(verts) {
	case 1:
		return [3]float64{1, 0, 0}, 1, nil
	case 2:
		a, b := m.Verts[verts[0]], m.Verts[verts[1]]
		dx := b[0] - a[0]
		dy := b[1] - a[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			return [3]float64{}, 0, fmt.Errorf("zero length facet")
		}
		return [3]float64{dy / l, -dx / l, 0}, l, nil
	case 3, 4:
		a := m.Verts[verts[0]]
		b := m.Verts[verts[1]]
		c := m.Verts[verts[2]]
		u := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
		v := [3]float64{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
		n := cross(u, v)
		measure := math.Sqrt(dot3(n, n)) / 2
		if len(verts) == 4 {
			// split the quad along the (0,2) diagonal
			d := m.Verts[verts[3]]
			w := [3]float64{d[0] - a[0], d[1] - a[1], d[2] - a[2]}
			n2 := cross(v, w)
			measure += math.Sqrt(dot3(n2, n2)) / 2
			n[0] += n2[0]
			n[1] += n2[1]
			n[2] += n2[2]
		}
		ln := math.Sqrt(dot3(n, n))
		if ln == 0 || measure == 0 {
			return [3]float64{}, 0, fmt.Errorf("degenerate facet")
		}
		return [3]float64{n[0] / ln, n[1] / ln, n[2] / ln}, measure, nil
	}
	return [3]float64{}, 0, fmt.Errorf("facet with %d vertices is not supported", len(verts))
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
