// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"math"
	"math/rand/v2"
	"testing"
)

type scalarFunc struct {
	phi, der func(float64) float64
}

// search runs the line search to completion from the step alpha1.
func (fn scalarFunc) search(w *wolfe, alpha1 float64, maxIter int) (stp float64, status searchStatus, evals int) {
	stp = alpha1
	status = w.start(fn.phi(0), fn.der(0), stp)
	for status == searchEval {
		if evals == maxIter {
			panic("STP NOT CONVERGE")
		}
		evals++
		stp, status = w.next(stp, fn.phi(stp), fn.der(stp))
	}
	return
}

func wolfeConditionHold(s, c1, c2 float64, fn scalarFunc) bool {
	phi0, der0 := fn.phi(0), fn.der(0)
	phi1, der1 := fn.phi(s), fn.der(s)
	if phi1 > phi0+c1*s*der0 {
		return false
	}
	return math.Abs(der1) <= c2*math.Abs(der0)
}

func TestScalarSearch(t *testing.T) {

	fns := []scalarFunc{
		{
			func(s float64) float64 { return -s - math.Pow(s, 3) + math.Pow(s, 4) },
			func(s float64) float64 { return -1 - 3*math.Pow(s, 2) + 4*math.Pow(s, 3) },
		},
		{
			func(s float64) float64 { return math.Exp(-4*s) + math.Pow(s, 2) },
			func(s float64) float64 { return -4*math.Exp(-4*s) + 2*s },
		},
		{
			func(s float64) float64 { return -math.Sin(10 * s) },
			func(s float64) float64 { return -10 * math.Cos(10*s) },
		},
	}

	const c1, c2 = 1e-4, 0.9
	rnd := rand.New(rand.NewPCG(2, 3))
	for k, fn := range fns {
		for i := 0; i < 3; i++ {
			phi0, der0 := fn.phi(0), fn.der(0)

			// the initial step guess of scipy's scalar_search_wolfe1
			alpha1 := 1.0
			if oldPhi0 := rnd.Float64(); der0 != 0 {
				alpha1 = math.Min(1, 1.01*2*(phi0-oldPhi0)/der0)
				if alpha1 < 0 {
					alpha1 = 1
				}
			}

			w := wolfe{ftol: c1, gtol: c2, xtol: 1e-14, stpMin: 1e-8, stpMax: 50}
			stp, status, _ := fn.search(&w, alpha1, 100)
			if status != searchConverged || !wolfeConditionHold(stp, c1, c2, fn) {
				t.Fatalf("function %d: search ended at %v with %v", k, stp, status)
			}
		}
	}
}

// Test functions (1), (2) and (3) of Moré and Thuente, "Line search algorithms
// with guaranteed sufficient decrease", ACM TOMS 20 (1994).
func TestMoreThuente(t *testing.T) {
	const beta1, beta2 = 2.0, 0.004
	f1 := scalarFunc{
		func(a float64) float64 { return -a / (a*a + beta1) },
		func(a float64) float64 { return (a*a - beta1) / ((a*a + beta1) * (a*a + beta1)) },
	}
	f2 := scalarFunc{
		func(a float64) float64 { return math.Pow(a+beta2, 5) - 2*math.Pow(a+beta2, 4) },
		func(a float64) float64 { return 5*math.Pow(a+beta2, 4) - 8*math.Pow(a+beta2, 3) },
	}
	const l, beta3 = 39.0, 0.01
	f3 := scalarFunc{
		func(a float64) float64 {
			phi0 := (a-1)*(a-1)/(2*beta3) + beta3/2
			if a <= 1-beta3 {
				phi0 = 1 - a
			} else if a >= 1+beta3 {
				phi0 = a - 1
			}
			return phi0 + 2*(1-beta3)/(l*math.Pi)*math.Sin(l*math.Pi/2*a)
		},
		func(a float64) float64 {
			der0 := (a - 1) / beta3
			if a <= 1-beta3 {
				der0 = -1
			} else if a >= 1+beta3 {
				der0 = 1
			}
			return der0 + (1-beta3)*math.Cos(l*math.Pi/2*a)
		},
	}

	tests := []struct {
		fn       scalarFunc
		ftol     float64
		gtol     float64
		maxEvals int
	}{
		{f1, 1e-3, 1e-1, 30},
		{f2, 1e-1, 1e-1, 30},
		{f3, 1e-1, 1e-1, 30},
	}
	for k, tt := range tests {
		for _, alpha1 := range []float64{1e-3, 1e-1, 1e1, 1e3} {
			w := wolfe{ftol: tt.ftol, gtol: tt.gtol, xtol: 1e-10, stpMin: 0, stpMax: 1e10}
			stp, status, evals := tt.fn.search(&w, alpha1, tt.maxEvals)
			if status != searchConverged {
				t.Fatalf("function %d from %v: %v at %v", k+1, alpha1, status, stp)
			}
			if !wolfeConditionHold(stp, tt.ftol, tt.gtol, tt.fn) {
				t.Fatalf("function %d from %v: Wolfe conditions fail at %v after %d evaluations", k+1, alpha1, stp, evals)
			}
		}
	}
}

func TestScalarSearchLimits(t *testing.T) {
	descent := scalarFunc{
		func(s float64) float64 { return -s },
		func(s float64) float64 { return -1 },
	}
	w := wolfe{ftol: 1e-3, gtol: 0.9, xtol: 0.1, stpMin: 0, stpMax: 2}
	stp, status, _ := descent.search(&w, 1, 20)
	if status != searchWarnMax || stp != 2 {
		t.Fatalf("unbounded descent ended at %v with %v", stp, status)
	}

	// ascent, step beyond stpMax, negative tolerance, empty interval
	inputs := []struct {
		w   wolfe
		g0  float64
		stp float64
	}{
		{wolfe{ftol: 1e-3, gtol: 0.9, stpMax: 1}, 1, 0.5},
		{wolfe{ftol: 1e-3, gtol: 0.9, stpMax: 1}, -1, 2},
		{wolfe{ftol: -1, gtol: 0.9, stpMax: 1}, -1, 0.5},
		{wolfe{ftol: 1e-3, gtol: 0.9, stpMin: 2, stpMax: 1}, -1, 1.5},
	}
	for k, in := range inputs {
		if status := in.w.start(0, in.g0, in.stp); status != searchErrInput {
			t.Fatalf("input %d accepted: %v", k, status)
		}
	}
}
