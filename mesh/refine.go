package mesh

import (
	"fmt"
	"sort"
)

// RefineMarked bisects the marked elements at their longest edges and
// recursively bisects neighbors sharing a split edge until the mesh is
// conforming again (Rivara longest-edge bisection). Only simplicial meshes
// (triangles, tets) are supported. The receiver is left untouched; the
// refined mesh is returned.
func (m *Mesh) RefineMarked(marked []int) (*Mesh, error) {
	for _, el := range m.Elements {
		if el.Geom != Triangle && el.Geom != Tet {
			return nil, fmt.Errorf("refinement supports simplicial meshes only, found %s", el.Geom)
		}
	}

	r := &refiner{
		spaceDim: m.SpaceDim,
		verts:    append([][3]float64{}, m.Verts...),
		midpoint: map[[2]int]int{},
		parents:  map[int][2]int{},
		split:    map[[2]int]bool{},
	}
	r.elems = make([]Element, len(m.Elements))
	for i, el := range m.Elements {
		r.elems[i] = Element{Attr: el.Attr, Geom: el.Geom, Verts: append([]int{}, el.Verts...)}
	}

	for _, ei := range marked {
		if ei < 0 || ei >= len(r.elems) {
			return nil, fmt.Errorf("marked element %d out of range", ei)
		}
		r.split[r.longestEdge(r.elems[ei])] = true
	}

	// Bisect until no element carries a split edge. Each pass bisects every
	// such element at its own longest edge, queuing that edge so neighbors
	// follow; edge lengths shrink along any chain, so this terminates.
	const maxPasses = 10000
	for pass := 0; ; pass++ {
		if pass == maxPasses {
			return nil, fmt.Errorf("refinement did not reach a conforming mesh")
		}
		changed := false
		for i := 0; i < len(r.elems); i++ {
			if r.hasSplitEdge(r.elems[i]) {
				r.bisect(i)
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := &Mesh{
		Dim:      m.Dim,
		SpaceDim: m.SpaceDim,
		Verts:    r.verts,
		Elements: r.elems,
	}
	bdr, err := r.rebuildBoundary(m, out)
	if err != nil {
		return nil, err
	}
	out.Boundary = bdr
	if err := out.validate(); err != nil {
		return nil, err
	}
	out.EnsureNodes()
	return out, nil
}

type refiner struct {
	spaceDim int
	verts    [][3]float64
	elems    []Element
	midpoint map[[2]int]int
	parents  map[int][2]int // midpoint vertex -> its edge endpoints
	split    map[[2]int]bool
}

func edgeKeyOf(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func (r *refiner) length2(a, b int) float64 {
	var s float64
	for d := 0; d < r.spaceDim; d++ {
		diff := r.verts[a][d] - r.verts[b][d]
		s += diff * diff
	}
	return s
}

// longestEdge picks the element's longest edge, breaking ties by the lowest
// vertex pair so refinement is deterministic.
func (r *refiner) longestEdge(el Element) [2]int {
	best := [2]int{-1, -1}
	bestLen := -1.0
	for _, pair := range geomEdges[el.Geom] {
		key := edgeKeyOf(el.Verts[pair[0]], el.Verts[pair[1]])
		l := r.length2(key[0], key[1])
		if l > bestLen || (l == bestLen && (key[0] < best[0] || (key[0] == best[0] && key[1] < best[1]))) {
			best, bestLen = key, l
		}
	}
	return best
}

func (r *refiner) hasSplitEdge(el Element) bool {
	for _, pair := range geomEdges[el.Geom] {
		if r.split[edgeKeyOf(el.Verts[pair[0]], el.Verts[pair[1]])] {
			return true
		}
	}
	return false
}

func (r *refiner) midpointOf(key [2]int) int {
	if v, ok := r.midpoint[key]; ok {
		return v
	}
	var p [3]float64
	for d := 0; d < 3; d++ {
		p[d] = 0.5 * (r.verts[key[0]][d] + r.verts[key[1]][d])
	}
	v := len(r.verts)
	r.verts = append(r.verts, p)
	r.midpoint[key] = v
	r.parents[v] = key
	return v
}

// bisect splits element i at its longest edge, replacing it with one child
// and appending the other.
func (r *refiner) bisect(i int) {
	el := r.elems[i]
	le := r.longestEdge(el)
	r.split[le] = true
	mid := r.midpointOf(le)

	ia, ib := -1, -1
	for j, v := range el.Verts {
		if v == le[0] {
			ia = j
		}
		if v == le[1] {
			ib = j
		}
	}

	childA := append([]int{}, el.Verts...)
	childA[ib] = mid
	childB := append([]int{}, el.Verts...)
	childB[ia] = mid

	r.elems[i] = Element{Attr: el.Attr, Geom: el.Geom, Verts: childA}
	r.elems = append(r.elems, Element{Attr: el.Attr, Geom: el.Geom, Verts: childB})
}

// ancestors expands a vertex to the original vertices it descends from.
func (r *refiner) ancestors(v int, nOrig int, into map[int]bool) {
	if v < nOrig {
		into[v] = true
		return
	}
	p := r.parents[v]
	r.ancestors(p[0], nOrig, into)
	r.ancestors(p[1], nOrig, into)
}

// rebuildBoundary tags the exterior facets of the refined mesh with the
// attributes of the original boundary elements they descend from. The
// ancestor closure of a descendant facet equals the vertex set of exactly
// one original facet, so an exact signature lookup recovers the attribute.
func (r *refiner) rebuildBoundary(orig, out *Mesh) ([]Element, error) {
	origTopo, err := orig.Topology()
	if err != nil {
		return nil, err
	}
	attrByKey := map[string]int{}
	for _, be := range orig.Boundary {
		id, ok := origTopo.facetIndex[facetKey(be.Verts)]
		if ok && origTopo.Facets[id].Interior() {
			return nil, fmt.Errorf("internal boundary elements are not supported by refinement")
		}
		attrByKey[facetKey(be.Verts)] = be.Attr
	}

	topo, err := out.Topology()
	if err != nil {
		return nil, err
	}
	// The topology cached during the scan refers to a mesh without boundary
	// elements; drop it so later lookups rebuild with the boundary in place.
	out.topo = nil

	nOrig := len(orig.Verts)
	var bdr []Element
	for fi := range topo.Facets {
		f := &topo.Facets[fi]
		if f.Interior() {
			continue
		}
		closure := map[int]bool{}
		for _, v := range f.Verts {
			r.ancestors(v, nOrig, closure)
		}
		keys := make([]int, 0, len(closure))
		for v := range closure {
			keys = append(keys, v)
		}
		sort.Ints(keys)
		attr, ok := attrByKey[facetKey(keys)]
		if !ok {
			continue
		}
		geom := Segment
		if len(f.Verts) == 1 {
			geom = Point
		} else if len(f.Verts) == 3 {
			geom = Triangle
		}
		bdr = append(bdr, Element{Attr: attr, Geom: geom, Verts: append([]int{}, f.Verts...)})
	}
	return bdr, nil
}
