package fem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/mfem-driver/mesh"
)

// Rule is a quadrature rule on a reference element. Points use the
// unit reference coordinates of the element geometry.
type Rule struct {
	Points  [][3]float64
	Weights []float64
}

// Len returns the number of quadrature points.
func (r *Rule) Len() int { return len(r.Points) }

// JacobiGQ computes the N+1 point Gauss-Jacobi quadrature for weight
// (1-x)^alpha (1+x)^beta on [-1,1] via the symmetric tridiagonal
// eigenvalue problem of the recurrence coefficients.
func JacobiGQ(alpha, beta float64, N int) (x, w []float64, err error) {
	if N == 0 {
		x0 := -(alpha - beta) / (alpha + beta + 2)
		return []float64{x0}, []float64{jacobiGamma0(alpha, beta)}, nil
	}

	n := N + 1
	diag := make([]float64, n)
	off := make([]float64, n-1)
	for i := 0; i < n; i++ {
		h1 := 2*float64(i) + alpha + beta
		if i == 0 && alpha+beta < 10*2.2e-16 {
			diag[i] = 0
		} else {
			diag[i] = -0.5 * (alpha*alpha - beta*beta) / (h1 + 2) / h1
		}
		if i < n-1 {
			fi := float64(i + 1)
			off[i] = 2 / (h1 + 2) * math.Sqrt(fi*(fi+alpha+beta)*(fi+alpha)*(fi+beta)/
				(h1+1)/(h1+3))
		}
	}

	J := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		J.SetSym(i, i, diag[i])
		if i < n-1 {
			J.SetSym(i, i+1, off[i])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(J, true); !ok {
		return nil, nil, fmt.Errorf("jacobi quadrature eigensolve failed for N=%d", N)
	}
	x = eig.Values(nil)
	var V mat.Dense
	eig.VectorsTo(&V)

	w = make([]float64, n)
	g0 := jacobiGamma0(alpha, beta)
	for j := 0; j < n; j++ {
		v0 := V.At(0, j)
		w[j] = v0 * v0 * g0
	}
	return x, w, nil
}

// JacobiGL computes the N+1 Gauss-Lobatto points for the Jacobi weight
// (alpha,beta) on [-1,1], endpoints included.
func JacobiGL(alpha, beta float64, N int) ([]float64, error) {
	x := make([]float64, N+1)
	if N == 0 {
		x[0] = 0
		return x, nil
	}
	x[0] = -1
	x[N] = 1
	if N == 1 {
		return x, nil
	}
	xi, _, err := JacobiGQ(alpha+1, beta+1, N-2)
	if err != nil {
		return nil, err
	}
	copy(x[1:N], xi)
	return x, nil
}

// gauss01 returns the n point Gauss-Legendre rule on [0,1].
func gauss01(n int) (x, w []float64, err error) {
	x, w, err = JacobiGQ(0, 0, n-1)
	if err != nil {
		return nil, nil, err
	}
	for i := range x {
		x[i] = 0.5 * (x[i] + 1)
		w[i] *= 0.5
	}
	return x, w, nil
}

// gaussJacobi01 returns the n point rule for weight (1-x)^alpha on [0,1].
func gaussJacobi01(alpha float64, n int) (x, w []float64, err error) {
	x, w, err = JacobiGQ(alpha, 0, n-1)
	if err != nil {
		return nil, nil, err
	}
	scale := math.Pow(2, -(alpha + 1))
	for i := range x {
		x[i] = 0.5 * (x[i] + 1)
		w[i] *= scale
	}
	return x, w, nil
}

// GeometryRule builds a quadrature rule on the unit reference element
// of geom, exact for polynomials of the given total degree. Simplex
// rules use the collapsed coordinate construction so the weight
// factors of the Duffy map are integrated exactly.
func GeometryRule(geom mesh.Geometry, degree int) (*Rule, error) {
	if degree < 0 {
		degree = 0
	}
	n := degree/2 + 1

	switch geom {
	case mesh.Point:
		return &Rule{Points: [][3]float64{{}}, Weights: []float64{1}}, nil

	case mesh.Segment:
		x, w, err := gauss01(n)
		if err != nil {
			return nil, err
		}
		r := &Rule{}
		for i := range x {
			r.Points = append(r.Points, [3]float64{x[i], 0, 0})
			r.Weights = append(r.Weights, w[i])
		}
		return r, nil

	case mesh.Triangle:
		xi, wi, err := gauss01(n)
		if err != nil {
			return nil, err
		}
		eta, we, err := gaussJacobi01(1, n)
		if err != nil {
			return nil, err
		}
		r := &Rule{}
		for j := range eta {
			for i := range xi {
				r.Points = append(r.Points, [3]float64{xi[i] * (1 - eta[j]), eta[j], 0})
				r.Weights = append(r.Weights, wi[i]*we[j])
			}
		}
		return r, nil

	case mesh.Quad:
		x, w, err := gauss01(n)
		if err != nil {
			return nil, err
		}
		r := &Rule{}
		for j := range x {
			for i := range x {
				r.Points = append(r.Points, [3]float64{x[i], x[j], 0})
				r.Weights = append(r.Weights, w[i]*w[j])
			}
		}
		return r, nil

	case mesh.Tet:
		xi, wi, err := gauss01(n)
		if err != nil {
			return nil, err
		}
		eta, we, err := gaussJacobi01(1, n)
		if err != nil {
			return nil, err
		}
		zeta, wz, err := gaussJacobi01(2, n)
		if err != nil {
			return nil, err
		}
		r := &Rule{}
		for k := range zeta {
			for j := range eta {
				for i := range xi {
					x := xi[i] * (1 - eta[j]) * (1 - zeta[k])
					y := eta[j] * (1 - zeta[k])
					r.Points = append(r.Points, [3]float64{x, y, zeta[k]})
					r.Weights = append(r.Weights, wi[i]*we[j]*wz[k])
				}
			}
		}
		return r, nil

	case mesh.Hex:
		x, w, err := gauss01(n)
		if err != nil {
			return nil, err
		}
		r := &Rule{}
		for k := range x {
			for j := range x {
				for i := range x {
					r.Points = append(r.Points, [3]float64{x[i], x[j], x[k]})
					r.Weights = append(r.Weights, w[i]*w[j]*w[k])
				}
			}
		}
		return r, nil
	}
	return nil, fmt.Errorf("no quadrature rule for geometry %s", geom)
}
