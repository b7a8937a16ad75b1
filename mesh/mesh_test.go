package mesh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTriSquare = `MFEM mesh v1.0

dimension
2

elements
2
1 2 0 1 2
1 2 2 1 3

boundary
4
1 1 0 1
2 1 1 3
3 1 3 2
4 1 2 0

vertices
4
2
0 0
1 0
0 1
1 1
`

const oneTet = `MFEM mesh v1.0

dimension
3

elements
1
1 4 0 1 2 3

boundary
4
1 2 0 2 1
1 2 0 1 3
1 2 1 2 3
1 2 0 3 2

vertices
4
3
0 0 0
1 0 0
0 1 0
0 0 1
`

func TestReadTwoTriangleSquare(t *testing.T) {
	m, err := Read(strings.NewReader(twoTriSquare))
	require.NoError(t, err)

	assert.Equal(t, 2, m.Dim)
	assert.Equal(t, 2, m.SpaceDim)
	assert.Equal(t, 4, m.NV())
	assert.Equal(t, 2, m.NE())
	assert.Equal(t, 4, m.NB())
	assert.Equal(t, 4, m.MaxBdrAttr())
	assert.Equal(t, 1, m.MaxElemAttr())

	lo, hi := m.BoundingBox()
	assert.Equal(t, 0.0, lo[0])
	assert.Equal(t, 1.0, hi[0])
	assert.Equal(t, 1.0, hi[1])

	assert.Equal(t, Triangle, m.Elements[0].Geom)
	assert.Equal(t, []int{0, 1, 2}, m.Elements[0].Verts)
	assert.Equal(t, Segment, m.Boundary[0].Geom)
}

func TestReadRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"missing header", "dimension\n2\n", "header"},
		{"bad geometry code", "MFEM mesh v1.0\ndimension\n2\nelements\n1\n1 9 0 1 2\nvertices\n3\n2\n0 0\n1 0\n0 1\n", "geometry code"},
		{"vertex count mismatch", "MFEM mesh v1.0\ndimension\n2\nelements\n1\n1 2 0 1\nvertices\n3\n2\n0 0\n1 0\n0 1\n", "vertices"},
		{"vertex index out of range", "MFEM mesh v1.0\ndimension\n2\nelements\n1\n1 2 0 1 7\nvertices\n3\n2\n0 0\n1 0\n0 1\n", "out of range"},
		{"bad coordinate", "MFEM mesh v1.0\ndimension\n2\nelements\n1\n1 2 0 1 2\nvertices\n3\n2\n0 0\nx 0\n0 1\n", "coordinate"},
		{"missing section", "MFEM mesh v1.0\ndimension\n2\nvertices\n1\n2\n0 0\n", "elements"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.text))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestReadIgnoresComments(t *testing.T) {
	withComments := strings.Replace(twoTriSquare, "dimension", "# a comment line\ndimension", 1)
	m, err := Read(strings.NewReader(withComments))
	require.NoError(t, err)
	assert.Equal(t, 2, m.NE())
}

func TestTopologyTwoTriangles(t *testing.T) {
	m, err := Read(strings.NewReader(twoTriSquare))
	require.NoError(t, err)
	topo, err := m.Topology()
	require.NoError(t, err)

	assert.Equal(t, 5, topo.NumEdges())
	assert.Len(t, topo.InteriorFacets(), 1)
	assert.Len(t, topo.BoundaryFacets(), 4)

	// The diagonal is shared with opposite orientation signs.
	fi := topo.InteriorFacets()[0]
	f := topo.Facets[fi]
	assert.True(t, f.Interior())
	s0 := topo.FacetSigns[f.Elem[0]][f.LocalIdx[0]]
	s1 := topo.FacetSigns[f.Elem[1]][f.LocalIdx[1]]
	assert.Equal(t, -1, s0*s1)

	// Every boundary element resolved to a facet.
	for _, id := range topo.BoundaryFacets() {
		assert.GreaterOrEqual(t, topo.Facets[id].BdrElem, 0)
	}

	assert.ElementsMatch(t, []int{0}, topo.VertElems[0])
	assert.ElementsMatch(t, []int{0, 1}, topo.VertElems[1])
}

func TestRefineTriangles(t *testing.T) {
	m, err := Read(strings.NewReader(twoTriSquare))
	require.NoError(t, err)

	r, err := m.RefineMarked([]int{0})
	require.NoError(t, err)

	// Both triangles share the diagonal as their longest edge, so marking one
	// bisects both.
	assert.Equal(t, 4, r.NE())
	assert.Equal(t, 5, r.NV())
	assert.Equal(t, 4, r.NB())

	topo, err := r.Topology()
	require.NoError(t, err)
	for _, id := range topo.BoundaryFacets() {
		assert.GreaterOrEqual(t, topo.Facets[id].BdrElem, 0)
	}

	// Original mesh untouched.
	assert.Equal(t, 2, m.NE())
	assert.Equal(t, 4, m.NV())
}

func TestRefineTet(t *testing.T) {
	m, err := Read(strings.NewReader(oneTet))
	require.NoError(t, err)

	r, err := m.RefineMarked([]int{0})
	require.NoError(t, err)

	assert.Equal(t, 2, r.NE())
	assert.Equal(t, 5, r.NV())
	assert.Equal(t, 6, r.NB())
	for _, b := range r.Boundary {
		assert.Equal(t, 1, b.Attr)
		assert.Equal(t, Triangle, b.Geom)
	}

	// Conforming: one interior face between the two children.
	topo, err := r.Topology()
	require.NoError(t, err)
	assert.Len(t, topo.InteriorFacets(), 1)
}

func TestRefineRejectsQuads(t *testing.T) {
	const quadMesh = `MFEM mesh v1.0
dimension
2
elements
1
1 3 0 1 3 2
vertices
4
2
0 0
1 0
0 1
1 1
`
	m, err := Read(strings.NewReader(quadMesh))
	require.NoError(t, err)
	_, err = m.RefineMarked([]int{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simplicial")
}
