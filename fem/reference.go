package fem

import (
	"fmt"

	"github.com/notargets/mfem-driver/mesh"
)

// refVerts lists the unit reference coordinates of each geometry's
// vertices, in the native vertex order of the mesh format.
var refVerts = map[mesh.Geometry][][3]float64{
	mesh.Point:    {{0, 0, 0}},
	mesh.Segment:  {{0, 0, 0}, {1, 0, 0}},
	mesh.Triangle: {{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
	mesh.Quad:     {{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
	mesh.Tet:      {{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	mesh.Hex: {{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}},
}

// RefVerts returns the reference coordinates of the vertices of geom.
func RefVerts(geom mesh.Geometry) [][3]float64 { return refVerts[geom] }

// H1Element evaluates a nodal H1 basis on one reference geometry.
// Dofs are ordered vertices first, then one midpoint dof per edge for
// order 2, then interior dofs.
type H1Element struct {
	Geom   mesh.Geometry
	Order  int
	NDof   int
	NVert  int
	NEdge  int
	NIntr  int
	Shape  func(p [3]float64, val []float64)
	DShape func(p [3]float64, grad [][3]float64)
}

// quadratic 1D Lagrange basis on nodes {0, 1/2, 1}
func lag2(t float64) (l0, l1, l2 float64) {
	return (1 - t) * (1 - 2*t), 4 * t * (1 - t), t * (2*t - 1)
}

func dlag2(t float64) (d0, d1, d2 float64) {
	return 4*t - 3, 4 - 8*t, 4*t - 1
}

// H1Elem returns the H1 element table for geom at the given order.
// Orders 1 and 2 are available for segments, triangles, quads and
// tets; hexahedra carry order 1 only.
func H1Elem(geom mesh.Geometry, order int) (*H1Element, error) {
	if order != 1 && order != 2 {
		return nil, fmt.Errorf("H1 basis of order %d is not available", order)
	}
	switch geom {
	case mesh.Point:
		return &H1Element{Geom: geom, Order: 1, NDof: 1, NVert: 1,
			Shape:  func(p [3]float64, v []float64) { v[0] = 1 },
			DShape: func(p [3]float64, g [][3]float64) { g[0] = [3]float64{} }}, nil

	case mesh.Segment:
		if order == 1 {
			return &H1Element{Geom: geom, Order: 1, NDof: 2, NVert: 2,
				Shape: func(p [3]float64, v []float64) {
					v[0] = 1 - p[0]
					v[1] = p[0]
				},
				DShape: func(p [3]float64, g [][3]float64) {
					g[0] = [3]float64{-1, 0, 0}
					g[1] = [3]float64{1, 0, 0}
				}}, nil
		}
		return &H1Element{Geom: geom, Order: 2, NDof: 3, NVert: 2, NEdge: 1,
			Shape: func(p [3]float64, v []float64) {
				l0, l1, l2 := lag2(p[0])
				v[0], v[1], v[2] = l0, l2, l1
			},
			DShape: func(p [3]float64, g [][3]float64) {
				d0, d1, d2 := dlag2(p[0])
				g[0] = [3]float64{d0, 0, 0}
				g[1] = [3]float64{d2, 0, 0}
				g[2] = [3]float64{d1, 0, 0}
			}}, nil

	case mesh.Triangle:
		if order == 1 {
			return &H1Element{Geom: geom, Order: 1, NDof: 3, NVert: 3,
				Shape: func(p [3]float64, v []float64) {
					v[0] = 1 - p[0] - p[1]
					v[1] = p[0]
					v[2] = p[1]
				},
				DShape: func(p [3]float64, g [][3]float64) {
					g[0] = [3]float64{-1, -1, 0}
					g[1] = [3]float64{1, 0, 0}
					g[2] = [3]float64{0, 1, 0}
				}}, nil
		}
		return &H1Element{Geom: geom, Order: 2, NDof: 6, NVert: 3, NEdge: 3,
			Shape:  triP2Shape,
			DShape: triP2DShape}, nil

	case mesh.Quad:
		if order == 1 {
			return &H1Element{Geom: geom, Order: 1, NDof: 4, NVert: 4,
				Shape: func(p [3]float64, v []float64) {
					x, y := p[0], p[1]
					v[0] = (1 - x) * (1 - y)
					v[1] = x * (1 - y)
					v[2] = x * y
					v[3] = (1 - x) * y
				},
				DShape: func(p [3]float64, g [][3]float64) {
					x, y := p[0], p[1]
					g[0] = [3]float64{y - 1, x - 1, 0}
					g[1] = [3]float64{1 - y, -x, 0}
					g[2] = [3]float64{y, x, 0}
					g[3] = [3]float64{-y, 1 - x, 0}
				}}, nil
		}
		return &H1Element{Geom: geom, Order: 2, NDof: 9, NVert: 4, NEdge: 4, NIntr: 1,
			Shape:  quadQ2Shape,
			DShape: quadQ2DShape}, nil

	case mesh.Tet:
		if order == 1 {
			return &H1Element{Geom: geom, Order: 1, NDof: 4, NVert: 4,
				Shape: func(p [3]float64, v []float64) {
					v[0] = 1 - p[0] - p[1] - p[2]
					v[1] = p[0]
					v[2] = p[1]
					v[3] = p[2]
				},
				DShape: func(p [3]float64, g [][3]float64) {
					g[0] = [3]float64{-1, -1, -1}
					g[1] = [3]float64{1, 0, 0}
					g[2] = [3]float64{0, 1, 0}
					g[3] = [3]float64{0, 0, 1}
				}}, nil
		}
		return &H1Element{Geom: geom, Order: 2, NDof: 10, NVert: 4, NEdge: 6,
			Shape:  tetP2Shape,
			DShape: tetP2DShape}, nil

	case mesh.Hex:
		if order != 1 {
			return nil, fmt.Errorf("H1 basis of order %d is not available on hexahedra", order)
		}
		return &H1Element{Geom: geom, Order: 1, NDof: 8, NVert: 8,
			Shape: func(p [3]float64, v []float64) {
				x, y, z := p[0], p[1], p[2]
				for i, rv := range refVerts[mesh.Hex] {
					sx := rv[0]*x + (1-rv[0])*(1-x)
					sy := rv[1]*y + (1-rv[1])*(1-y)
					sz := rv[2]*z + (1-rv[2])*(1-z)
					v[i] = sx * sy * sz
				}
			},
			DShape: func(p [3]float64, g [][3]float64) {
				x, y, z := p[0], p[1], p[2]
				for i, rv := range refVerts[mesh.Hex] {
					sx := rv[0]*x + (1-rv[0])*(1-x)
					sy := rv[1]*y + (1-rv[1])*(1-y)
					sz := rv[2]*z + (1-rv[2])*(1-z)
					dx := 2*rv[0] - 1
					dy := 2*rv[1] - 1
					dz := 2*rv[2] - 1
					g[i] = [3]float64{dx * sy * sz, sx * dy * sz, sx * sy * dz}
				}
			}}, nil
	}
	return nil, fmt.Errorf("no H1 basis for geometry %s", geom)
}

func triBary(p [3]float64) (l [3]float64, dl [3][3]float64) {
	l = [3]float64{1 - p[0] - p[1], p[0], p[1]}
	dl = [3][3]float64{{-1, -1, 0}, {1, 0, 0}, {0, 1, 0}}
	return
}

func triP2Shape(p [3]float64, v []float64) {
	l, _ := triBary(p)
	for i := 0; i < 3; i++ {
		v[i] = l[i] * (2*l[i] - 1)
	}
	edges := mesh.GeometryEdges(mesh.Triangle)
	for e, ev := range edges {
		v[3+e] = 4 * l[ev[0]] * l[ev[1]]
	}
}

func triP2DShape(p [3]float64, g [][3]float64) {
	l, dl := triBary(p)
	for i := 0; i < 3; i++ {
		f := 4*l[i] - 1
		g[i] = [3]float64{f * dl[i][0], f * dl[i][1], 0}
	}
	edges := mesh.GeometryEdges(mesh.Triangle)
	for e, ev := range edges {
		a, b := ev[0], ev[1]
		for d := 0; d < 2; d++ {
			g[3+e][d] = 4 * (l[a]*dl[b][d] + l[b]*dl[a][d])
		}
		g[3+e][2] = 0
	}
}

func quadQ2Shape(p [3]float64, v []float64) {
	lx0, lx1, lx2 := lag2(p[0])
	ly0, ly1, ly2 := lag2(p[1])
	v[0] = lx0 * ly0
	v[1] = lx2 * ly0
	v[2] = lx2 * ly2
	v[3] = lx0 * ly2
	v[4] = lx1 * ly0
	v[5] = lx2 * ly1
	v[6] = lx1 * ly2
	v[7] = lx0 * ly1
	v[8] = lx1 * ly1
}

func quadQ2DShape(p [3]float64, g [][3]float64) {
	lx0, lx1, lx2 := lag2(p[0])
	ly0, ly1, ly2 := lag2(p[1])
	dx0, dx1, dx2 := dlag2(p[0])
	dy0, dy1, dy2 := dlag2(p[1])
	set := func(i int, lx, dx, ly, dy float64) {
		g[i] = [3]float64{dx * ly, lx * dy, 0}
	}
	set(0, lx0, dx0, ly0, dy0)
	set(1, lx2, dx2, ly0, dy0)
	set(2, lx2, dx2, ly2, dy2)
	set(3, lx0, dx0, ly2, dy2)
	set(4, lx1, dx1, ly0, dy0)
	set(5, lx2, dx2, ly1, dy1)
	set(6, lx1, dx1, ly2, dy2)
	set(7, lx0, dx0, ly1, dy1)
	set(8, lx1, dx1, ly1, dy1)
}

func tetBary(p [3]float64) (l [4]float64, dl [4][3]float64) {
	l = [4]float64{1 - p[0] - p[1] - p[2], p[0], p[1], p[2]}
	dl = [4][3]float64{{-1, -1, -1}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	return
}

func tetP2Shape(p [3]float64, v []float64) {
	l, _ := tetBary(p)
	for i := 0; i < 4; i++ {
		v[i] = l[i] * (2*l[i] - 1)
	}
	edges := mesh.GeometryEdges(mesh.Tet)
	for e, ev := range edges {
		v[4+e] = 4 * l[ev[0]] * l[ev[1]]
	}
}

func tetP2DShape(p [3]float64, g [][3]float64) {
	l, dl := tetBary(p)
	for i := 0; i < 4; i++ {
		f := 4*l[i] - 1
		g[i] = [3]float64{f * dl[i][0], f * dl[i][1], f * dl[i][2]}
	}
	edges := mesh.GeometryEdges(mesh.Tet)
	for e, ev := range edges {
		a, b := ev[0], ev[1]
		for d := 0; d < 3; d++ {
			g[4+e][d] = 4 * (l[a]*dl[b][d] + l[b]*dl[a][d])
		}
	}
}
