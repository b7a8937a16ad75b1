// Package fem provides the finite element core: quadrature rules,
// reference elements, function spaces, and assembly of bilinear and
// linear forms over unstructured meshes.
package fem

import "math"

// jacobiGamma0 is the L2 norm squared of the constant Jacobi mode for
// weight (1-x)^alpha (1+x)^beta on [-1,1].
func jacobiGamma0(alpha, beta float64) float64 {
	return math.Pow(2, alpha+beta+1) *
		math.Gamma(alpha+1) * math.Gamma(beta+1) / math.Gamma(alpha+beta+2)
}

// JacobiP evaluates the orthonormal Jacobi polynomial of type
// (alpha,beta) and order n at a single point x in [-1,1].
func JacobiP(x, alpha, beta float64, n int) float64 {
	gamma0 := jacobiGamma0(alpha, beta)
	pOld := 1.0 / math.Sqrt(gamma0)
	if n == 0 {
		return pOld
	}

	gamma1 := (alpha + 1) * (beta + 1) / (alpha + beta + 3) * gamma0
	p := ((alpha+beta+2)*x + (alpha - beta)) / 2 / math.Sqrt(gamma1)
	if n == 1 {
		return p
	}

	aOld := 2.0 / (2.0 + alpha + beta) * math.Sqrt((alpha+1)*(beta+1)/(alpha+beta+3))
	for i := 1; i < n; i++ {
		h1 := 2*float64(i) + alpha + beta
		aNew := 2.0 / (h1 + 2) * math.Sqrt((float64(i)+1)*(float64(i)+1+alpha+beta)*
			(float64(i)+1+alpha)*(float64(i)+1+beta)/(h1+1)/(h1+3))
		bNew := -(alpha*alpha - beta*beta) / h1 / (h1 + 2)
		pNew := (-aOld*pOld + (x-bNew)*p) / aNew
		pOld, p = p, pNew
		aOld = aNew
	}
	return p
}

// GradJacobiP evaluates the derivative of the orthonormal Jacobi
// polynomial of type (alpha,beta) and order n at x.
func GradJacobiP(x, alpha, beta float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(float64(n)*(float64(n)+alpha+beta+1)) *
		JacobiP(x, alpha+1, beta+1, n-1)
}

// intPow computes x^n for small non-negative integer n.
func intPow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
