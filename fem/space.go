package fem

import (
	"fmt"
	"sort"

	"github.com/notargets/mfem-driver/mesh"
)

// SpaceKind selects the conformity of a function space.
type SpaceKind uint8

const (
	H1Kind SpaceKind = iota
	NedelecKind
	RaviartThomasKind
	L2Kind
)

// Ordering fixes how vector components map to global dofs.
type Ordering uint8

const (
	// ByNodes groups all dofs of component 0 first, then component 1.
	ByNodes Ordering = iota
	// ByVDim interleaves components per scalar dof.
	ByVDim
)

// Space is a finite element space over a mesh. Scalar dofs are shared
// between elements according to the conformity of the space; vector
// valued spaces replicate them per component under Ordering.
type Space struct {
	Mesh     *mesh.Mesh
	Kind     SpaceKind
	Order    int
	VDim     int
	Ordering Ordering

	nScalar   int
	elemDofs  [][]int
	elemSigns [][]float64
	bdrDofs   [][]int
	bdrSigns  [][]float64
	h1        map[mesh.Geometry]*H1Element
	modal     map[mesh.Geometry]*ModalBasis
}

// NewH1Space builds a nodal H1 space of the given order.
func NewH1Space(m *mesh.Mesh, order, vdim int, ord Ordering) (*Space, error) {
	sp := &Space{Mesh: m, Kind: H1Kind, Order: order, VDim: vdim, Ordering: ord,
		h1: map[mesh.Geometry]*H1Element{}}
	for _, el := range m.Elements {
		if _, ok := sp.h1[el.Geom]; !ok {
			fe, err := H1Elem(el.Geom, order)
			if err != nil {
				return nil, err
			}
			sp.h1[el.Geom] = fe
		}
	}
	for _, be := range m.Boundary {
		if _, ok := sp.h1[be.Geom]; !ok {
			fe, err := H1Elem(be.Geom, order)
			if err != nil {
				return nil, err
			}
			sp.h1[be.Geom] = fe
		}
	}

	var topo *mesh.Topology
	if order == 2 {
		var err error
		topo, err = m.Topology()
		if err != nil {
			return nil, err
		}
	}

	nv := m.NV()
	sp.nScalar = nv
	edgeBase := nv
	if order == 2 {
		sp.nScalar = nv + topo.NumEdges()
	}

	sp.elemDofs = make([][]int, m.NE())
	for i, el := range m.Elements {
		fe := sp.h1[el.Geom]
		dofs := make([]int, 0, fe.NDof)
		dofs = append(dofs, el.Verts...)
		if order == 2 {
			dofs = append(dofs, offsetAll(topo.ElemEdges[i], edgeBase)...)
			for k := 0; k < fe.NIntr; k++ {
				dofs = append(dofs, sp.nScalar)
				sp.nScalar++
			}
		}
		sp.elemDofs[i] = dofs
	}

	sp.bdrDofs = make([][]int, m.NB())
	for i, be := range m.Boundary {
		dofs := append([]int(nil), be.Verts...)
		if order == 2 {
			for _, ev := range mesh.GeometryEdges(be.Geom) {
				e := topo.EdgeIndex(be.Verts[ev[0]], be.Verts[ev[1]])
				if e < 0 {
					return nil, fmt.Errorf("boundary element %d has an edge missing from the mesh topology", i)
				}
				dofs = append(dofs, edgeBase+e)
			}
		}
		sp.bdrDofs[i] = dofs
	}
	return sp, nil
}

// NewL2Space builds a discontinuous modal space of the given order.
func NewL2Space(m *mesh.Mesh, order, vdim int, ord Ordering) (*Space, error) {
	sp := &Space{Mesh: m, Kind: L2Kind, Order: order, VDim: vdim, Ordering: ord,
		modal: map[mesh.Geometry]*ModalBasis{}}
	sp.elemDofs = make([][]int, m.NE())
	for i, el := range m.Elements {
		mb, ok := sp.modal[el.Geom]
		if !ok {
			var err error
			mb, err = NewModalBasis(el.Geom, order)
			if err != nil {
				return nil, err
			}
			sp.modal[el.Geom] = mb
		}
		dofs := make([]int, mb.NDof)
		for k := range dofs {
			dofs[k] = sp.nScalar + k
		}
		sp.nScalar += mb.NDof
		sp.elemDofs[i] = dofs
	}
	return sp, nil
}

// NewNedelecSpace builds the lowest order edge element space on a
// simplicial mesh.
func NewNedelecSpace(m *mesh.Mesh) (*Space, error) {
	for _, el := range m.Elements {
		if el.Geom != mesh.Triangle && el.Geom != mesh.Tet {
			return nil, fmt.Errorf("edge elements support simplicial meshes only, got %s", el.Geom)
		}
	}
	topo, err := m.Topology()
	if err != nil {
		return nil, err
	}
	sp := &Space{Mesh: m, Kind: NedelecKind, Order: 1, VDim: 1}
	sp.nScalar = topo.NumEdges()
	sp.elemDofs = topo.ElemEdges
	sp.elemSigns = make([][]float64, m.NE())
	for i, signs := range topo.EdgeSigns {
		sp.elemSigns[i] = intsToFloats(signs)
	}

	sp.bdrDofs = make([][]int, m.NB())
	sp.bdrSigns = make([][]float64, m.NB())
	for i, be := range m.Boundary {
		for _, ev := range mesh.GeometryEdges(be.Geom) {
			a, b := be.Verts[ev[0]], be.Verts[ev[1]]
			e := topo.EdgeIndex(a, b)
			if e < 0 {
				return nil, fmt.Errorf("boundary element %d has an edge missing from the mesh topology", i)
			}
			sp.bdrDofs[i] = append(sp.bdrDofs[i], e)
			sign := 1.0
			if a > b {
				sign = -1
			}
			sp.bdrSigns[i] = append(sp.bdrSigns[i], sign)
		}
	}
	return sp, nil
}

// NewRTSpace builds the lowest order Raviart-Thomas space on a
// simplicial mesh. Dof f is the outward flux through facet f in the
// orientation stored by the topology.
func NewRTSpace(m *mesh.Mesh) (*Space, error) {
	for _, el := range m.Elements {
		if el.Geom != mesh.Triangle && el.Geom != mesh.Tet {
			return nil, fmt.Errorf("face elements support simplicial meshes only, got %s", el.Geom)
		}
	}
	topo, err := m.Topology()
	if err != nil {
		return nil, err
	}
	sp := &Space{Mesh: m, Kind: RaviartThomasKind, Order: 1, VDim: 1}
	sp.nScalar = topo.NumFacets()
	sp.elemDofs = topo.ElemFacets
	sp.elemSigns = make([][]float64, m.NE())
	for i, signs := range topo.FacetSigns {
		sp.elemSigns[i] = intsToFloats(signs)
	}

	sp.bdrDofs = make([][]int, m.NB())
	sp.bdrSigns = make([][]float64, m.NB())
	for f, fc := range topo.Facets {
		if fc.BdrElem >= 0 {
			sp.bdrDofs[fc.BdrElem] = []int{f}
			sp.bdrSigns[fc.BdrElem] = []float64{1}
		}
	}
	return sp, nil
}

func offsetAll(idx []int, off int) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = v + off
	}
	return out
}

func intsToFloats(in []int) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// ScalarNDof returns the number of scalar dofs.
func (sp *Space) ScalarNDof() int { return sp.nScalar }

// NDof returns the total number of dofs including vector components.
func (sp *Space) NDof() int {
	if sp.VDim <= 1 {
		return sp.nScalar
	}
	return sp.nScalar * sp.VDim
}

// VDof maps a scalar dof and component to a global dof.
func (sp *Space) VDof(scalar, comp int) int {
	if sp.VDim <= 1 {
		return scalar
	}
	if sp.Ordering == ByVDim {
		return scalar*sp.VDim + comp
	}
	return comp*sp.nScalar + scalar
}

// ElementDofs returns the scalar dofs of element i and their signs.
// Signs are nil for sign-free spaces.
func (sp *Space) ElementDofs(i int) ([]int, []float64) {
	if sp.elemSigns == nil {
		return sp.elemDofs[i], nil
	}
	return sp.elemDofs[i], sp.elemSigns[i]
}

// BoundaryDofs returns the scalar dofs of boundary element i and their
// signs. L2 spaces carry no boundary dofs.
func (sp *Space) BoundaryDofs(i int) ([]int, []float64) {
	if sp.bdrDofs == nil {
		return nil, nil
	}
	if sp.bdrSigns == nil {
		return sp.bdrDofs[i], nil
	}
	return sp.bdrDofs[i], sp.bdrSigns[i]
}

// BoundaryScalarDofs collects the sorted unique scalar dofs that lie on
// boundary elements whose attribute is in attrs.
func (sp *Space) BoundaryScalarDofs(attrs map[int]bool) []int {
	seen := map[int]bool{}
	for i, be := range sp.Mesh.Boundary {
		if !attrs[be.Attr] {
			continue
		}
		dofs, _ := sp.BoundaryDofs(i)
		for _, d := range dofs {
			seen[d] = true
		}
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// VDofsFor expands scalar dofs to all vector components.
func (sp *Space) VDofsFor(scalarDofs []int) []int {
	if sp.VDim <= 1 {
		return scalarDofs
	}
	out := make([]int, 0, len(scalarDofs)*sp.VDim)
	for _, s := range scalarDofs {
		for c := 0; c < sp.VDim; c++ {
			out = append(out, sp.VDof(s, c))
		}
	}
	sort.Ints(out)
	return out
}

// h1Elem returns the H1 table for geom, or an error for spaces of a
// different kind.
func (sp *Space) h1Elem(geom mesh.Geometry) (*H1Element, error) {
	if sp.Kind != H1Kind {
		return nil, fmt.Errorf("space is not an H1 space")
	}
	fe, ok := sp.h1[geom]
	if !ok {
		var err error
		fe, err = H1Elem(geom, sp.Order)
		if err != nil {
			return nil, err
		}
		sp.h1[geom] = fe
	}
	return fe, nil
}

// modalBasis returns the modal table for geom.
func (sp *Space) modalBasis(geom mesh.Geometry) (*ModalBasis, error) {
	if sp.Kind != L2Kind {
		return nil, fmt.Errorf("space is not an L2 space")
	}
	mb, ok := sp.modal[geom]
	if !ok {
		return nil, fmt.Errorf("no modal basis for geometry %s", geom)
	}
	return mb, nil
}
