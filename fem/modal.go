package fem

import (
	"fmt"
	"math"

	"github.com/notargets/mfem-driver/mesh"
)

// ModalBasis is the orthonormal modal basis used by discontinuous
// spaces: tensor Legendre modes on segments, quads and hexes, Dubiner
// modes on triangles and tets. Orthonormality holds in the L2 inner
// product of the unit reference element.
type ModalBasis struct {
	Geom  mesh.Geometry
	Order int
	NDof  int
	modes [][3]int
}

// NewModalBasis builds the modal basis of the given polynomial order.
func NewModalBasis(geom mesh.Geometry, order int) (*ModalBasis, error) {
	if order < 0 {
		return nil, fmt.Errorf("modal basis order must be non-negative, got %d", order)
	}
	b := &ModalBasis{Geom: geom, Order: order}
	N := order
	switch geom {
	case mesh.Segment:
		for i := 0; i <= N; i++ {
			b.modes = append(b.modes, [3]int{i, 0, 0})
		}
	case mesh.Triangle:
		for i := 0; i <= N; i++ {
			for j := 0; j <= N-i; j++ {
				b.modes = append(b.modes, [3]int{i, j, 0})
			}
		}
	case mesh.Quad:
		for i := 0; i <= N; i++ {
			for j := 0; j <= N; j++ {
				b.modes = append(b.modes, [3]int{i, j, 0})
			}
		}
	case mesh.Tet:
		for i := 0; i <= N; i++ {
			for j := 0; j <= N-i; j++ {
				for k := 0; k <= N-i-j; k++ {
					b.modes = append(b.modes, [3]int{i, j, k})
				}
			}
		}
	case mesh.Hex:
		for i := 0; i <= N; i++ {
			for j := 0; j <= N; j++ {
				for k := 0; k <= N; k++ {
					b.modes = append(b.modes, [3]int{i, j, k})
				}
			}
		}
	default:
		return nil, fmt.Errorf("no modal basis for geometry %s", geom)
	}
	b.NDof = len(b.modes)
	return b, nil
}

// Eval evaluates all modes at unit reference point p.
func (b *ModalBasis) Eval(p [3]float64, val []float64) {
	for m, ijk := range b.modes {
		val[m] = b.evalMode(p, ijk)
	}
}

// EvalGrad evaluates all modes and their unit-reference gradients.
func (b *ModalBasis) EvalGrad(p [3]float64, val []float64, grad [][3]float64) {
	for m, ijk := range b.modes {
		val[m] = b.evalMode(p, ijk)
		grad[m] = b.gradMode(p, ijk)
	}
}

func (b *ModalBasis) evalMode(p [3]float64, ijk [3]int) float64 {
	i, j, k := ijk[0], ijk[1], ijk[2]
	r := 2*p[0] - 1
	s := 2*p[1] - 1
	t := 2*p[2] - 1
	switch b.Geom {
	case mesh.Segment:
		return math.Sqrt2 * JacobiP(r, 0, 0, i)
	case mesh.Quad:
		return 2 * JacobiP(r, 0, 0, i) * JacobiP(s, 0, 0, j)
	case mesh.Hex:
		return 2 * math.Sqrt2 * JacobiP(r, 0, 0, i) * JacobiP(s, 0, 0, j) * JacobiP(t, 0, 0, k)
	case mesh.Triangle:
		return 2 * simplex2DP(r, s, i, j)
	case mesh.Tet:
		return 2 * math.Sqrt2 * simplex3DP(r, s, t, i, j, k)
	}
	return 0
}

func (b *ModalBasis) gradMode(p [3]float64, ijk [3]int) [3]float64 {
	i, j, k := ijk[0], ijk[1], ijk[2]
	r := 2*p[0] - 1
	s := 2*p[1] - 1
	t := 2*p[2] - 1
	// the unit-to-[-1,1] map contributes a factor 2 per direction
	switch b.Geom {
	case mesh.Segment:
		return [3]float64{2 * math.Sqrt2 * GradJacobiP(r, 0, 0, i), 0, 0}
	case mesh.Quad:
		pi, pj := JacobiP(r, 0, 0, i), JacobiP(s, 0, 0, j)
		di, dj := GradJacobiP(r, 0, 0, i), GradJacobiP(s, 0, 0, j)
		return [3]float64{4 * di * pj, 4 * pi * dj, 0}
	case mesh.Hex:
		pi, pj, pk := JacobiP(r, 0, 0, i), JacobiP(s, 0, 0, j), JacobiP(t, 0, 0, k)
		di, dj, dk := GradJacobiP(r, 0, 0, i), GradJacobiP(s, 0, 0, j), GradJacobiP(t, 0, 0, k)
		c := 4 * math.Sqrt2
		return [3]float64{c * di * pj * pk, c * pi * dj * pk, c * pi * pj * dk}
	case mesh.Triangle:
		dr, ds := gradSimplex2DP(r, s, i, j)
		return [3]float64{4 * dr, 4 * ds, 0}
	case mesh.Tet:
		dr, ds, dt := gradSimplex3DP(r, s, t, i, j, k)
		c := 4 * math.Sqrt2
		return [3]float64{c * dr, c * ds, c * dt}
	}
	return [3]float64{}
}

// rsToAB collapses triangle coordinates (r,s) on [-1,1] to the tensor
// coordinates (a,b).
func rsToAB(r, s float64) (a, b float64) {
	if s != 1 {
		a = 2*(1+r)/(1-s) - 1
	} else {
		a = -1
	}
	return a, s
}

// simplex2DP evaluates the orthonormal Dubiner mode (i,j) on the
// [-1,1] reference triangle.
func simplex2DP(r, s float64, i, j int) float64 {
	a, b := rsToAB(r, s)
	h1 := JacobiP(a, 0, 0, i)
	h2 := JacobiP(b, float64(2*i+1), 0, j)
	return math.Sqrt2 * h1 * h2 * intPow(1-b, i)
}

func gradSimplex2DP(r, s float64, id, jd int) (dr, ds float64) {
	a, b := rsToAB(r, s)
	fa := JacobiP(a, 0, 0, id)
	dfa := GradJacobiP(a, 0, 0, id)
	gb := JacobiP(b, float64(2*id+1), 0, jd)
	dgb := GradJacobiP(b, float64(2*id+1), 0, jd)

	dr = dfa * gb
	if id > 0 {
		dr *= intPow(0.5*(1-b), id-1)
	}
	ds = dfa * gb * 0.5 * (1 + a)
	if id > 0 {
		ds *= intPow(0.5*(1-b), id-1)
	}
	tmp := dgb * intPow(0.5*(1-b), id)
	if id > 0 {
		tmp -= 0.5 * float64(id) * gb * intPow(0.5*(1-b), id-1)
	}
	ds += fa * tmp

	norm := math.Pow(2, float64(id)+0.5)
	return dr * norm, ds * norm
}

// rstToABC collapses tet coordinates (r,s,t) on [-1,1] to the tensor
// coordinates (a,b,c).
func rstToABC(r, s, t float64) (a, b, c float64) {
	if s+t != 0 {
		a = 2*(1+r)/(-s-t) - 1
	} else {
		a = -1
	}
	if t != 1 {
		b = 2*(1+s)/(1-t) - 1
	} else {
		b = -1
	}
	return a, b, t
}

// simplex3DP evaluates the orthonormal Dubiner mode (i,j,k) on the
// [-1,1] reference tet.
func simplex3DP(r, s, t float64, i, j, k int) float64 {
	a, b, c := rstToABC(r, s, t)
	h1 := JacobiP(a, 0, 0, i)
	h2 := JacobiP(b, float64(2*i+1), 0, j)
	h3 := JacobiP(c, float64(2*(i+j)+2), 0, k)
	return 2 * math.Sqrt2 * h1 * h2 * intPow(1-b, i) * h3 * intPow(1-c, i+j)
}

func gradSimplex3DP(r, s, t float64, id, jd, kd int) (dr, ds, dt float64) {
	a, b, c := rstToABC(r, s, t)
	fa := JacobiP(a, 0, 0, id)
	dfa := GradJacobiP(a, 0, 0, id)
	gb := JacobiP(b, float64(2*id+1), 0, jd)
	dgb := GradJacobiP(b, float64(2*id+1), 0, jd)
	hc := JacobiP(c, float64(2*(id+jd)+2), 0, kd)
	dhc := GradJacobiP(c, float64(2*(id+jd)+2), 0, kd)

	dr = dfa * gb * hc
	if id > 0 {
		dr *= intPow(0.5*(1-b), id-1)
	}
	if id+jd > 0 {
		dr *= intPow(0.5*(1-c), id+jd-1)
	}

	ds = 0.5 * (1 + a) * dr
	tmp := dgb * intPow(0.5*(1-b), id)
	if id > 0 {
		tmp -= 0.5 * float64(id) * gb * intPow(0.5*(1-b), id-1)
	}
	if id+jd > 0 {
		tmp *= intPow(0.5*(1-c), id+jd-1)
	}
	tmp *= fa * hc
	ds += tmp

	dt = 0.5*(1+a)*dr + 0.5*(1+b)*tmp
	tmp2 := dhc * intPow(0.5*(1-c), id+jd)
	if id+jd > 0 {
		tmp2 -= 0.5 * float64(id+jd) * hc * intPow(0.5*(1-c), id+jd-1)
	}
	tmp2 *= fa * gb * intPow(0.5*(1-b), id)
	dt += tmp2

	norm := math.Pow(2, float64(2*id+jd)+1.5)
	return dr * norm, ds * norm, dt * norm
}
