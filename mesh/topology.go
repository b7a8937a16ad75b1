package mesh

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Local vertex pairs forming the edges of each reference shape.
var geomEdges = map[Geometry][][2]int{
	Segment:  {{0, 1}},
	Triangle: {{0, 1}, {1, 2}, {2, 0}},
	Quad:     {{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	Tet:      {{0, 1}, {1, 2}, {2, 0}, {0, 3}, {1, 3}, {2, 3}},
	Hex: {{0, 1}, {1, 2}, {2, 3}, {3, 0},
		{4, 5}, {5, 6}, {6, 7}, {7, 4},
		{0, 4}, {1, 5}, {2, 6}, {3, 7}},
}

// Local vertex lists of the codim-1 facets of each shape, ordered so the
// facet normal points out of the element.
var geomFacets = map[Geometry][][]int{
	Segment:  {{0}, {1}},
	Triangle: {{0, 1}, {1, 2}, {2, 0}},
	Quad:     {{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	Tet:      {{1, 2, 3}, {0, 3, 2}, {0, 1, 3}, {0, 2, 1}},
	Hex: {{3, 2, 1, 0}, {4, 5, 6, 7},
		{0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7}},
}

// GeometryEdges returns the local vertex pairs of the edges of geom.
// The returned slice is shared and must not be modified.
func GeometryEdges(geom Geometry) [][2]int { return geomEdges[geom] }

// GeometryFacets returns the local vertex lists of the outward oriented
// codim-1 facets of geom. The returned slice is shared and must not be
// modified.
func GeometryFacets(geom Geometry) [][]int { return geomFacets[geom] }

// Facet is a codim-1 mesh entity: an edge in 2D, a face in 3D, a vertex in
// 1D. Verts keeps the orientation of the first element that registered the
// facet, so its normal points from Elem[0] toward Elem[1] (or outward on the
// boundary).
type Facet struct {
	Verts    []int
	Elem     [2]int // adjacent element indices, -1 when absent
	LocalIdx [2]int // local facet number within each adjacent element
	BdrElem  int    // index into Mesh.Boundary, -1 when untagged
}

// Interior reports whether the facet has elements on both sides.
func (f *Facet) Interior() bool { return f.Elem[1] >= 0 }

// Topology carries the derived connectivity of a mesh.
type Topology struct {
	Edges     [][2]int // unique edges as ascending vertex pairs
	ElemEdges [][]int  // per element, aligned with geomEdges order
	EdgeSigns [][]int  // +1 when the local pair runs low->high vertex id

	Facets     []Facet
	ElemFacets [][]int
	FacetSigns [][]int // +1 for the registering element, -1 for its neighbor

	VertElems [][]int // elements adjacent to each vertex

	edgeIndex  map[[2]int]int
	facetIndex map[string]int
}

// EdgeIndex returns the edge id for a vertex pair, -1 when absent.
func (t *Topology) EdgeIndex(a, b int) int {
	if a > b {
		a, b = b, a
	}
	if i, ok := t.edgeIndex[[2]int{a, b}]; ok {
		return i
	}
	return -1
}

func facetKey(verts []int) string {
	s := make([]int, len(verts))
	copy(s, verts)
	sort.Ints(s)
	var b strings.Builder
	for i, v := range s {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// Topology builds (once) and returns the derived connectivity.
func (m *Mesh) Topology() (*Topology, error) {
	if m.topo != nil {
		return m.topo, nil
	}
	t := &Topology{
		edgeIndex:  map[[2]int]int{},
		facetIndex: map[string]int{},
	}

	t.ElemEdges = make([][]int, len(m.Elements))
	t.EdgeSigns = make([][]int, len(m.Elements))
	t.ElemFacets = make([][]int, len(m.Elements))
	t.FacetSigns = make([][]int, len(m.Elements))
	t.VertElems = make([][]int, len(m.Verts))

	for ei, el := range m.Elements {
		for _, v := range el.Verts {
			t.VertElems[v] = append(t.VertElems[v], ei)
		}

		locEdges := geomEdges[el.Geom]
		t.ElemEdges[ei] = make([]int, len(locEdges))
		t.EdgeSigns[ei] = make([]int, len(locEdges))
		for li, pair := range locEdges {
			a, b := el.Verts[pair[0]], el.Verts[pair[1]]
			sign := 1
			if a > b {
				a, b, sign = b, a, -1
			}
			key := [2]int{a, b}
			id, ok := t.edgeIndex[key]
			if !ok {
				id = len(t.Edges)
				t.edgeIndex[key] = id
				t.Edges = append(t.Edges, key)
			}
			t.ElemEdges[ei][li] = id
			t.EdgeSigns[ei][li] = sign
		}

		locFacets, ok := geomFacets[el.Geom]
		if !ok {
			return nil, fmt.Errorf("element %d: no facet table for geometry %s", ei, el.Geom)
		}
		t.ElemFacets[ei] = make([]int, len(locFacets))
		t.FacetSigns[ei] = make([]int, len(locFacets))
		for li, loc := range locFacets {
			verts := make([]int, len(loc))
			for j, lv := range loc {
				verts[j] = el.Verts[lv]
			}
			key := facetKey(verts)
			id, seen := t.facetIndex[key]
			if !seen {
				id = len(t.Facets)
				t.facetIndex[key] = id
				t.Facets = append(t.Facets, Facet{
					Verts:    verts,
					Elem:     [2]int{ei, -1},
					LocalIdx: [2]int{li, -1},
					BdrElem:  -1,
				})
				t.FacetSigns[ei][li] = 1
			} else {
				f := &t.Facets[id]
				if f.Elem[1] >= 0 {
					return nil, fmt.Errorf("facet %v shared by more than two elements", verts)
				}
				f.Elem[1] = ei
				f.LocalIdx[1] = li
				t.FacetSigns[ei][li] = -1
			}
			t.ElemFacets[ei][li] = id
		}
	}

	for bi, be := range m.Boundary {
		id, ok := t.facetIndex[facetKey(be.Verts)]
		if !ok {
			return nil, fmt.Errorf("boundary element %d does not match any mesh facet", bi)
		}
		t.Facets[id].BdrElem = bi
	}

	m.topo = t
	return t, nil
}

// NumEdges returns the unique edge count.
func (t *Topology) NumEdges() int { return len(t.Edges) }

// NumFacets returns the unique facet count.
func (t *Topology) NumFacets() int { return len(t.Facets) }

// InteriorFacets returns the ids of facets with elements on both sides.
func (t *Topology) InteriorFacets() []int {
	var ids []int
	for i := range t.Facets {
		if t.Facets[i].Interior() {
			ids = append(ids, i)
		}
	}
	return ids
}

// BoundaryFacets returns the ids of facets associated with boundary elements.
func (t *Topology) BoundaryFacets() []int {
	var ids []int
	for i := range t.Facets {
		if t.Facets[i].BdrElem >= 0 {
			ids = append(ids, i)
		}
	}
	return ids
}
