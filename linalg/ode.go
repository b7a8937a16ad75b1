package linalg

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TimeOperator is a first-order system du/dt = f(t, u). ImplicitSolve
// finds k with k = f(t, u + dtk*k), which is the building block of
// the implicit integrators.
type TimeOperator interface {
	Size() int
	Mult(t float64, u, du []float64) error
	ImplicitSolve(dtk, t float64, u, k []float64) error
}

// RK4Step advances u from t by dt with the classic fourth-order
// explicit Runge-Kutta scheme.
func RK4Step(op TimeOperator, t, dt float64, u []float64) error {
	n := op.Size()
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	y := make([]float64, n)

	if err := op.Mult(t, u, k1); err != nil {
		return err
	}
	copy(y, u)
	floats.AddScaled(y, 0.5*dt, k1)
	if err := op.Mult(t+0.5*dt, y, k2); err != nil {
		return err
	}
	copy(y, u)
	floats.AddScaled(y, 0.5*dt, k2)
	if err := op.Mult(t+0.5*dt, y, k3); err != nil {
		return err
	}
	copy(y, u)
	floats.AddScaled(y, dt, k3)
	if err := op.Mult(t+dt, y, k4); err != nil {
		return err
	}
	for i := range u {
		u[i] += dt / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
	}
	return nil
}

// BackwardEulerStep advances u from t by dt with the first-order
// implicit Euler scheme.
func BackwardEulerStep(op TimeOperator, t, dt float64, u []float64) error {
	k := make([]float64, op.Size())
	if err := op.ImplicitSolve(dt, t+dt, u, k); err != nil {
		return err
	}
	floats.AddScaled(u, dt, k)
	return nil
}

// SDIRK34Step advances u with the L-stable three-stage, fourth-order
// singly diagonally implicit Runge-Kutta scheme of Crouzeix.
func SDIRK34Step(op TimeOperator, t, dt float64, u []float64) error {
	gamma := math.Cos(math.Pi/18)/math.Sqrt(3) + 0.5
	delta := 1 / (6 * (2*gamma - 1) * (2*gamma - 1))
	a21 := 0.5 - gamma
	a31 := 2 * gamma
	a32 := 1 - 4*gamma
	c := [3]float64{gamma, 0.5, 1 - gamma}
	b := [3]float64{delta, 1 - 2*delta, delta}

	n := op.Size()
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	y := make([]float64, n)

	if err := op.ImplicitSolve(gamma*dt, t+c[0]*dt, u, k1); err != nil {
		return err
	}
	copy(y, u)
	floats.AddScaled(y, a21*dt, k1)
	if err := op.ImplicitSolve(gamma*dt, t+c[1]*dt, y, k2); err != nil {
		return err
	}
	copy(y, u)
	floats.AddScaled(y, a31*dt, k1)
	floats.AddScaled(y, a32*dt, k2)
	if err := op.ImplicitSolve(gamma*dt, t+c[2]*dt, y, k3); err != nil {
		return err
	}
	floats.AddScaled(u, b[0]*dt, k1)
	floats.AddScaled(u, b[1]*dt, k2)
	floats.AddScaled(u, b[2]*dt, k3)
	return nil
}

// SecondOrderOperator is a system d2u/dt2 = f(t, u, v). ImplicitSolve
// finds a with a = f(t, u + fac0*a, v + fac1*a); with fac0 = fac1 = 0
// it reduces to an explicit acceleration solve.
type SecondOrderOperator interface {
	Size() int
	ImplicitSolve(fac0, fac1, t float64, u, v, a []float64) error
}

// Newmark integrates a second-order system with the Newmark-beta
// scheme. Beta=0.25, Gamma=0.5 is the unconditionally stable average
// acceleration method.
type Newmark struct {
	Beta, Gamma float64

	started bool
	a       []float64
}

// Step advances displacement u and velocity v from t by dt. The first
// call bootstraps the acceleration from the operator at (u, v).
func (nm *Newmark) Step(op SecondOrderOperator, t, dt float64, u, v []float64) error {
	if nm.a == nil {
		nm.a = make([]float64, op.Size())
	}
	if !nm.started {
		if err := op.ImplicitSolve(0, 0, t, u, v, nm.a); err != nil {
			return err
		}
		nm.started = true
	}
	floats.AddScaled(u, dt, v)
	floats.AddScaled(u, (0.5-nm.Beta)*dt*dt, nm.a)
	floats.AddScaled(v, (1-nm.Gamma)*dt, nm.a)
	if err := op.ImplicitSolve(nm.Beta*dt*dt, nm.Gamma*dt, t+dt, u, v, nm.a); err != nil {
		return err
	}
	floats.AddScaled(u, nm.Beta*dt*dt, nm.a)
	floats.AddScaled(v, nm.Gamma*dt, nm.a)
	return nil
}
