package fem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/mfem-driver/mesh"
)

func integrate(r *Rule, f func(p [3]float64) float64) float64 {
	s := 0.0
	for q, p := range r.Points {
		s += r.Weights[q] * f(p)
	}
	return s
}

func TestJacobiGQLegendreExactness(t *testing.T) {
	// N=3 gives 4 points, exact through degree 7
	x, w, err := JacobiGQ(0, 0, 3)
	require.NoError(t, err)
	require.Len(t, x, 4)

	moment := func(k int) float64 {
		s := 0.0
		for i := range x {
			s += w[i] * math.Pow(x[i], float64(k))
		}
		return s
	}
	assert.InDelta(t, 2.0, moment(0), 1e-12)
	assert.InDelta(t, 0.0, moment(1), 1e-12)
	assert.InDelta(t, 2.0/3, moment(2), 1e-12)
	assert.InDelta(t, 2.0/5, moment(4), 1e-12)
	assert.InDelta(t, 2.0/7, moment(6), 1e-12)
	assert.InDelta(t, 0.0, moment(7), 1e-12)
}

func TestJacobiGLEndpoints(t *testing.T) {
	x, err := JacobiGL(0, 0, 4)
	require.NoError(t, err)
	require.Len(t, x, 5)
	assert.InDelta(t, -1.0, x[0], 1e-14)
	assert.InDelta(t, 1.0, x[4], 1e-14)
	for i := 1; i < len(x); i++ {
		assert.Greater(t, x[i], x[i-1])
	}
}

func TestJacobiPOrthonormal(t *testing.T) {
	x, w, err := JacobiGQ(0, 0, 8)
	require.NoError(t, err)
	for m := 0; m <= 4; m++ {
		for n := 0; n <= 4; n++ {
			s := 0.0
			for i := range x {
				s += w[i] * JacobiP(x[i], 0, 0, m) * JacobiP(x[i], 0, 0, n)
			}
			want := 0.0
			if m == n {
				want = 1
			}
			assert.InDeltaf(t, want, s, 1e-12, "m=%d n=%d", m, n)
		}
	}
}

func TestSegmentRule(t *testing.T) {
	r, err := GeometryRule(mesh.Segment, 5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, integrate(r, func(p [3]float64) float64 { return 1 }), 1e-13)
	assert.InDelta(t, 0.5, integrate(r, func(p [3]float64) float64 { return p[0] }), 1e-13)
	assert.InDelta(t, 1.0/6, integrate(r, func(p [3]float64) float64 { return p[0] * p[0] * p[0] * p[0] * p[0] }), 1e-13)
}

func TestTriangleRuleMoments(t *testing.T) {
	r, err := GeometryRule(mesh.Triangle, 6)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, integrate(r, func(p [3]float64) float64 { return 1 }), 1e-13)
	assert.InDelta(t, 1.0/6, integrate(r, func(p [3]float64) float64 { return p[0] }), 1e-13)
	assert.InDelta(t, 1.0/6, integrate(r, func(p [3]float64) float64 { return p[1] }), 1e-13)
	assert.InDelta(t, 1.0/24, integrate(r, func(p [3]float64) float64 { return p[0] * p[1] }), 1e-13)
	assert.InDelta(t, 1.0/12, integrate(r, func(p [3]float64) float64 { return p[0] * p[0] }), 1e-13)
}

func TestTetRuleMoments(t *testing.T) {
	r, err := GeometryRule(mesh.Tet, 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/6, integrate(r, func(p [3]float64) float64 { return 1 }), 1e-13)
	assert.InDelta(t, 1.0/24, integrate(r, func(p [3]float64) float64 { return p[0] }), 1e-13)
	assert.InDelta(t, 1.0/24, integrate(r, func(p [3]float64) float64 { return p[2] }), 1e-13)
	assert.InDelta(t, 1.0/720, integrate(r, func(p [3]float64) float64 { return p[0] * p[1] * p[2] }), 1e-13)
}

func TestQuadAndHexRules(t *testing.T) {
	rq, err := GeometryRule(mesh.Quad, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, integrate(rq, func(p [3]float64) float64 { return 1 }), 1e-13)
	assert.InDelta(t, 0.25, integrate(rq, func(p [3]float64) float64 { return p[0] * p[1] }), 1e-13)

	rh, err := GeometryRule(mesh.Hex, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, integrate(rh, func(p [3]float64) float64 { return 1 }), 1e-13)
	assert.InDelta(t, 0.125, integrate(rh, func(p [3]float64) float64 { return p[0] * p[1] * p[2] }), 1e-13)
}

func TestModalBasisOrthonormalOnTriangle(t *testing.T) {
	mb, err := NewModalBasis(mesh.Triangle, 2)
	require.NoError(t, err)
	r, err := GeometryRule(mesh.Triangle, 10)
	require.NoError(t, err)

	nd := mb.NDof
	val := make([]float64, nd)
	gram := make([][]float64, nd)
	for i := range gram {
		gram[i] = make([]float64, nd)
	}
	for q, p := range r.Points {
		mb.Eval(p, val)
		for i := 0; i < nd; i++ {
			for j := 0; j < nd; j++ {
				gram[i][j] += r.Weights[q] * val[i] * val[j]
			}
		}
	}
	for i := 0; i < nd; i++ {
		for j := 0; j < nd; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDeltaf(t, want, gram[i][j], 1e-10, "i=%d j=%d", i, j)
		}
	}
}

func TestModalBasisOrthonormalOnTet(t *testing.T) {
	mb, err := NewModalBasis(mesh.Tet, 1)
	require.NoError(t, err)
	r, err := GeometryRule(mesh.Tet, 8)
	require.NoError(t, err)

	nd := mb.NDof
	val := make([]float64, nd)
	for i := 0; i < nd; i++ {
		for j := 0; j < nd; j++ {
			s := 0.0
			for q, p := range r.Points {
				mb.Eval(p, val)
				s += r.Weights[q] * val[i] * val[j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDeltaf(t, want, s, 1e-10, "i=%d j=%d", i, j)
		}
	}
}

func TestModalGradientMatchesFiniteDifference(t *testing.T) {
	for _, tc := range []struct {
		geom  mesh.Geometry
		order int
		p     [3]float64
	}{
		{mesh.Segment, 3, [3]float64{0.37, 0, 0}},
		{mesh.Triangle, 3, [3]float64{0.21, 0.33, 0}},
		{mesh.Quad, 2, [3]float64{0.41, 0.27, 0}},
		{mesh.Tet, 2, [3]float64{0.21, 0.17, 0.29}},
	} {
		mb, err := NewModalBasis(tc.geom, tc.order)
		require.NoError(t, err)
		nd := mb.NDof
		val := make([]float64, nd)
		grad := make([][3]float64, nd)
		mb.EvalGrad(tc.p, val, grad)

		h := 1e-5
		dim := tc.geom.Dim()
		plus := make([]float64, nd)
		minus := make([]float64, nd)
		for d := 0; d < dim; d++ {
			pp, pm := tc.p, tc.p
			pp[d] += h
			pm[d] -= h
			mb.Eval(pp, plus)
			mb.Eval(pm, minus)
			for i := 0; i < nd; i++ {
				fd := (plus[i] - minus[i]) / (2 * h)
				assert.InDeltaf(t, fd, grad[i][d], 1e-4, "%s mode %d dir %d", tc.geom, i, d)
			}
		}
	}
}

func TestH1PartitionOfUnity(t *testing.T) {
	pts := map[mesh.Geometry][3]float64{
		mesh.Segment:  {0.3, 0, 0},
		mesh.Triangle: {0.2, 0.3, 0},
		mesh.Quad:     {0.6, 0.25, 0},
		mesh.Tet:      {0.2, 0.25, 0.3},
		mesh.Hex:      {0.3, 0.6, 0.2},
	}
	for geom, p := range pts {
		for order := 1; order <= 2; order++ {
			if geom == mesh.Hex && order == 2 {
				continue
			}
			el, err := H1Elem(geom, order)
			require.NoError(t, err)
			val := make([]float64, el.NDof)
			grad := make([][3]float64, el.NDof)
			el.Shape(p, val)
			el.DShape(p, grad)

			sum := 0.0
			var gsum [3]float64
			for i := range val {
				sum += val[i]
				for d := 0; d < 3; d++ {
					gsum[d] += grad[i][d]
				}
			}
			assert.InDeltaf(t, 1.0, sum, 1e-12, "%s order %d", geom, order)
			for d := 0; d < 3; d++ {
				assert.InDeltaf(t, 0.0, gsum[d], 1e-12, "%s order %d dir %d", geom, order, d)
			}
		}
	}
}

func TestH1NodalKronecker(t *testing.T) {
	for _, tc := range []struct {
		geom  mesh.Geometry
		order int
	}{
		{mesh.Triangle, 1}, {mesh.Triangle, 2},
		{mesh.Quad, 1}, {mesh.Quad, 2},
		{mesh.Tet, 1}, {mesh.Tet, 2},
		{mesh.Segment, 2}, {mesh.Hex, 1},
	} {
		el, err := H1Elem(tc.geom, tc.order)
		require.NoError(t, err)
		refs := RefVerts(tc.geom)
		nodes := append([][3]float64{}, refs...)
		if tc.order == 2 {
			for _, ev := range mesh.GeometryEdges(tc.geom) {
				a, b := refs[ev[0]], refs[ev[1]]
				nodes = append(nodes, [3]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2})
			}
			if el.NIntr > 0 {
				var c [3]float64
				for _, v := range refs {
					for d := 0; d < 3; d++ {
						c[d] += v[d]
					}
				}
				for d := 0; d < 3; d++ {
					c[d] /= float64(len(refs))
				}
				nodes = append(nodes, c)
			}
		}
		require.Len(t, nodes, el.NDof)
		val := make([]float64, el.NDof)
		for j, node := range nodes {
			el.Shape(node, val)
			for i := range val {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDeltaf(t, want, val[i], 1e-12, "%s order %d phi_%d(node %d)", tc.geom, tc.order, i, j)
			}
		}
	}
}

func TestH1RejectsUnsupportedOrders(t *testing.T) {
	_, err := H1Elem(mesh.Hex, 2)
	assert.Error(t, err)
	_, err = H1Elem(mesh.Prism, 1)
	assert.Error(t, err)
}
