// Package mesh holds the unstructured mesh representation consumed by the
// solver pipeline: vertices, elements and boundary elements tagged with
// positive integer attributes, plus derived topology (edges, facets,
// neighbor relations) built lazily for the discretizations that need it.
package mesh

import (
	"fmt"
	"math"
)

// Geometry identifies an element shape. The numeric values match the codes
// used in the MFEM v1.0 mesh format.
type Geometry uint8

const (
	Point Geometry = iota
	Segment
	Triangle
	Quad
	Tet
	Hex
	Prism
	Pyramid
)

var geomNames = [...]string{"point", "segment", "triangle", "quad", "tet", "hex", "prism", "pyramid"}

var geomNumVerts = [...]int{1, 2, 3, 4, 4, 8, 6, 5}

var geomDims = [...]int{0, 1, 2, 2, 3, 3, 3, 3}

func (g Geometry) String() string {
	if int(g) < len(geomNames) {
		return geomNames[g]
	}
	return fmt.Sprintf("geometry(%d)", uint8(g))
}

// NumVerts returns the number of defining vertices for the shape.
func (g Geometry) NumVerts() int { return geomNumVerts[g] }

// Dim returns the topological dimension of the shape.
func (g Geometry) Dim() int { return geomDims[g] }

// Element is one mesh entity: a volume element or a boundary element.
type Element struct {
	Attr  int
	Geom  Geometry
	Verts []int
}

// Mesh is a loaded discretized domain. It is treated as read-only by the
// solvers; refinement produces a new Mesh rather than mutating in place.
type Mesh struct {
	Dim      int
	SpaceDim int

	// Verts stores 3 coordinates per vertex; entries beyond SpaceDim are 0.
	Verts    [][3]float64
	Elements []Element
	Boundary []Element

	nodes []float64
	topo  *Topology
}

// NV returns the vertex count.
func (m *Mesh) NV() int { return len(m.Verts) }

// NE returns the element count.
func (m *Mesh) NE() int { return len(m.Elements) }

// NB returns the boundary element count.
func (m *Mesh) NB() int { return len(m.Boundary) }

// MaxBdrAttr returns the largest boundary attribute, 0 when there are no
// boundary elements.
func (m *Mesh) MaxBdrAttr() int {
	max := 0
	for _, b := range m.Boundary {
		if b.Attr > max {
			max = b.Attr
		}
	}
	return max
}

// MaxElemAttr returns the largest element attribute.
func (m *Mesh) MaxElemAttr() int {
	max := 0
	for _, e := range m.Elements {
		if e.Attr > max {
			max = e.Attr
		}
	}
	return max
}

// BoundingBox returns the componentwise extents of the vertex set.
func (m *Mesh) BoundingBox() (lo, hi [3]float64) {
	for d := 0; d < 3; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for _, v := range m.Verts {
		for d := 0; d < 3; d++ {
			if v[d] < lo[d] {
				lo[d] = v[d]
			}
			if v[d] > hi[d] {
				hi[d] = v[d]
			}
		}
	}
	return
}

// EnsureNodes materializes an explicit nodal coordinate array for the
// geometry (vertex coordinates for straight-sided meshes). Loading always
// calls this so downstream output and isoparametric evaluation never need
// to special-case a missing node representation.
func (m *Mesh) EnsureNodes() {
	if m.nodes != nil {
		return
	}
	m.nodes = make([]float64, len(m.Verts)*m.SpaceDim)
	for i, v := range m.Verts {
		for d := 0; d < m.SpaceDim; d++ {
			m.nodes[i*m.SpaceDim+d] = v[d]
		}
	}
}

// Nodes returns the nodal coordinate array created by EnsureNodes, ordered
// vertex-major with SpaceDim components per vertex.
func (m *Mesh) Nodes() []float64 {
	m.EnsureNodes()
	return m.nodes
}

// validate checks structural consistency after parsing or refinement.
func (m *Mesh) validate() error {
	if m.Dim < 1 || m.Dim > 3 {
		return fmt.Errorf("mesh dimension %d out of range", m.Dim)
	}
	if m.SpaceDim < m.Dim {
		return fmt.Errorf("space dimension %d smaller than mesh dimension %d", m.SpaceDim, m.Dim)
	}
	nv := len(m.Verts)
	check := func(kind string, els []Element, wantDim int) error {
		for i, e := range els {
			if int(e.Geom) >= len(geomNumVerts) {
				return fmt.Errorf("%s element %d: unknown geometry code %d", kind, i, e.Geom)
			}
			if e.Geom.Dim() != wantDim {
				return fmt.Errorf("%s element %d: geometry %s has dimension %d, want %d",
					kind, i, e.Geom, e.Geom.Dim(), wantDim)
			}
			if len(e.Verts) != e.Geom.NumVerts() {
				return fmt.Errorf("%s element %d: geometry %s needs %d vertices, got %d",
					kind, i, e.Geom, e.Geom.NumVerts(), len(e.Verts))
			}
			for _, v := range e.Verts {
				if v < 0 || v >= nv {
					return fmt.Errorf("%s element %d: vertex index %d out of range [0,%d)", kind, i, v, nv)
				}
			}
			if e.Attr <= 0 {
				return fmt.Errorf("%s element %d: attribute %d must be positive", kind, i, e.Attr)
			}
		}
		return nil
	}
	if err := check("volume", m.Elements, m.Dim); err != nil {
		return err
	}
	return check("boundary", m.Boundary, m.Dim-1)
}

// EdgeLength2 returns the squared distance between two vertices.
func (m *Mesh) EdgeLength2(a, b int) float64 {
	var s float64
	for d := 0; d < m.SpaceDim; d++ {
		diff := m.Verts[a][d] - m.Verts[b][d]
		s += diff * diff
	}
	return s
}
