package linalg

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// RationalFit is a barycentric rational approximant built by AAA:
// r(x) = sum(W_s F_s/(x-Z_s)) / sum(W_s/(x-Z_s)).
type RationalFit struct {
	Z []float64
	F []float64
	W []float64
}

// AAA fits a rational function to the sampled values by adaptive
// Antoulas-Anderson interpolation: greedily add the worst sample as a
// support point, then choose barycentric weights as the smallest
// right singular vector of the Loewner matrix. Stops when the maximum
// error falls below tol times the largest sample magnitude.
func AAA(samples, values []float64, tol float64, maxTerms int) (*RationalFit, error) {
	m := len(samples)
	if len(values) != m {
		return nil, fmt.Errorf("got %d samples but %d values", m, len(values))
	}
	if m < 2 {
		return nil, fmt.Errorf("rational fit needs at least 2 samples, got %d", m)
	}
	if maxTerms < 1 {
		return nil, fmt.Errorf("maxTerms must be positive, got %d", maxTerms)
	}

	fmax := 0.0
	mean := 0.0
	for _, v := range values {
		mean += v
		if a := math.Abs(v); a > fmax {
			fmax = a
		}
	}
	mean /= float64(m)

	R := make([]float64, m)
	for i := range R {
		R[i] = mean
	}
	inSupport := make([]bool, m)
	fit := &RationalFit{}

	for len(fit.Z) < maxTerms {
		j, worst := -1, -1.0
		for i := 0; i < m; i++ {
			if inSupport[i] {
				continue
			}
			if e := math.Abs(values[i] - R[i]); e > worst {
				worst, j = e, i
			}
		}
		if j < 0 {
			break
		}
		inSupport[j] = true
		fit.Z = append(fit.Z, samples[j])
		fit.F = append(fit.F, values[j])

		cols := len(fit.Z)
		rows := m - cols
		if rows == 0 {
			fit.Z = fit.Z[:cols-1]
			fit.F = fit.F[:cols-1]
			break
		}
		A := mat.NewDense(rows, cols, nil)
		r := 0
		for i := 0; i < m; i++ {
			if inSupport[i] {
				continue
			}
			for s := 0; s < cols; s++ {
				A.Set(r, s, (values[i]-fit.F[s])/(samples[i]-fit.Z[s]))
			}
			r++
		}
		var svd mat.SVD
		if !svd.Factorize(A, mat.SVDThin) {
			return nil, fmt.Errorf("rational fit: SVD failed to converge")
		}
		var V mat.Dense
		svd.VTo(&V)
		nmin := cols
		if rows < nmin {
			nmin = rows
		}
		fit.W = make([]float64, cols)
		for s := 0; s < cols; s++ {
			fit.W[s] = V.At(s, nmin-1)
		}

		maxErr := 0.0
		for i := 0; i < m; i++ {
			if inSupport[i] {
				R[i] = values[i]
				continue
			}
			num, den := 0.0, 0.0
			for s := 0; s < cols; s++ {
				d := 1 / (samples[i] - fit.Z[s])
				num += fit.W[s] * fit.F[s] * d
				den += fit.W[s] * d
			}
			R[i] = num / den
			if e := math.Abs(values[i] - R[i]); e > maxErr {
				maxErr = e
			}
		}
		if maxErr <= tol*fmax {
			break
		}
	}
	if len(fit.Z) < 2 {
		return nil, fmt.Errorf("rational fit did not reach a usable order")
	}
	return fit, nil
}

// Eval evaluates the barycentric form at x.
func (rf *RationalFit) Eval(x float64) float64 {
	num, den := 0.0, 0.0
	for s := range rf.Z {
		dx := x - rf.Z[s]
		if dx == 0 {
			return rf.F[s]
		}
		d := rf.W[s] / dx
		num += d * rf.F[s]
		den += d
	}
	return num / den
}

// PoleResidues converts the barycentric form to partial fractions:
// r(x) = scale + sum(residues_i/(x-poles_i)). Poles are the roots of
// the weighted node polynomial, found as companion-matrix
// eigenvalues; a significantly complex pole is an error for the real
// spectral intervals this is used on.
func (rf *RationalFit) PoleResidues() (poles, residues []float64, scale float64, err error) {
	mN := len(rf.Z)
	sumW, sumWF := 0.0, 0.0
	for s := range rf.W {
		sumW += rf.W[s]
		sumWF += rf.W[s] * rf.F[s]
	}
	scale = sumWF / sumW

	prod := polyFromRoots(rf.Z)
	q := make([]float64, mN)
	for s := 0; s < mN; s++ {
		qs := deflateRoot(prod, rf.Z[s])
		for i := range qs {
			q[i] += rf.W[s] * qs[i]
		}
	}
	maxc := 0.0
	for _, c := range q {
		if a := math.Abs(c); a > maxc {
			maxc = a
		}
	}
	deg := mN - 1
	for deg > 0 && math.Abs(q[deg]) <= 1e-13*maxc {
		deg--
	}
	if deg < 1 {
		return nil, nil, scale, nil
	}
	C := mat.NewDense(deg, deg, nil)
	for i := 1; i < deg; i++ {
		C.Set(i, i-1, 1)
	}
	for i := 0; i < deg; i++ {
		C.Set(i, deg-1, -q[i]/q[deg])
	}
	var eig mat.Eigen
	if !eig.Factorize(C, mat.EigenNone) {
		return nil, nil, scale, fmt.Errorf("pole computation failed to converge")
	}
	for _, p := range eig.Values(nil) {
		if math.Abs(imag(p)) > 1e-6*(1+cmplx.Abs(p)) {
			return nil, nil, scale, fmt.Errorf("rational fit produced a complex pole %v", p)
		}
		poles = append(poles, real(p))
	}
	sort.Float64s(poles)

	residues = make([]float64, len(poles))
	for i, p := range poles {
		num, dden := 0.0, 0.0
		for s := range rf.Z {
			d := 1 / (p - rf.Z[s])
			num += rf.W[s] * rf.F[s] * d
			dden -= rf.W[s] * d * d
		}
		residues[i] = num / dden
	}
	return poles, residues, scale, nil
}

// polyFromRoots expands prod(x-z) into ascending coefficients.
func polyFromRoots(roots []float64) []float64 {
	p := make([]float64, 1, len(roots)+1)
	p[0] = 1
	for _, z := range roots {
		np := make([]float64, len(p)+1)
		for i, c := range p {
			np[i+1] += c
			np[i] -= z * c
		}
		p = np
	}
	return p
}

// deflateRoot divides p (ascending coefficients) by its exact root z.
func deflateRoot(p []float64, z float64) []float64 {
	n := len(p) - 1
	q := make([]float64, n)
	q[n-1] = p[n]
	for i := n - 1; i >= 1; i-- {
		q[i-1] = p[i] + z*q[i]
	}
	return q
}
