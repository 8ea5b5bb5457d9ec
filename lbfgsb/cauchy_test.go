// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"gonum.org/v1/gonum/floats"
)

var quiet = tracer{level: LogNoop}

type cauchyCase struct {
	x, g   []float64
	bounds []Bound
	xc     []float64
	states []varState
	nSeg   int
}

func runCauchy(t *testing.T, x, g []float64, bounds []Bound, mdl *curvature) (*workspace, int) {
	t.Helper()
	n := len(x)
	bx, err := newBox(n, bounds)
	if err != nil {
		t.Fatal(err)
	}
	w := newWorkspace(n, mdl.m)
	bx.initStates(w.states)
	nSeg, err := cauchy(x, g, bx.projGradNorm(x, g), &bx, mdl, &w, quiet)
	if err != nil {
		t.Fatal(err)
	}
	return &w, nSeg
}

func TestCauchy(t *testing.T) {
	tests := []cauchyCase{
		{ // both variables reach a bound, the second one first
			x: []float64{0, 0}, g: []float64{1, 2},
			bounds: []Bound{Within(-1, 1), Within(-1, 1)},
			xc:     []float64{-1, -1},
			states: []varState{stateAtLower, stateAtLower},
			nSeg:   2,
		},
		{ // the model minimizer comes before any breakpoint
			x: []float64{0, 0}, g: []float64{1, 2},
			bounds: []Bound{Within(-3, 3), Within(-3, 3)},
			xc:     []float64{-1, -2},
			states: []varState{stateFree, stateFree},
			nSeg:   1,
		},
		{ // tied breakpoints are all crossed at once
			x: []float64{0, 0, 0}, g: []float64{1, 1, 1},
			bounds: []Bound{Within(-0.5, 1), Within(-0.5, 1), Within(-0.5, 1)},
			xc:     []float64{-0.5, -0.5, -0.5},
			states: []varState{stateAtLower, stateAtLower, stateAtLower},
			nSeg:   3,
		},
		{ // a variable at its bound with the gradient pointing outwards stays
			x: []float64{1, 0}, g: []float64{-1, 1},
			bounds: []Bound{Within(-1, 1), Within(-1, 1)},
			xc:     []float64{1, -1},
			states: []varState{stateAtUpper, stateAtLower},
			nSeg:   2,
		},
		{ // unconstrained steepest descent with B = I
			x: []float64{1, 1}, g: []float64{2, 20},
			xc:     []float64{-1, -19},
			states: []varState{stateUnbounded, stateUnbounded},
			nSeg:   1,
		},
		{ // zero gradient component and a fixed variable
			x: []float64{0, 2, 0}, g: []float64{0, 5, 1},
			bounds: []Bound{Within(-1, 1), Within(2, 2), AtLeast(-3)},
			xc:     []float64{0, 2, -1},
			states: []varState{stateStill, stateFixed, stateFree},
			nSeg:   1,
		},
	}

	for k, tt := range tests {
		mdl := newCurvature(len(tt.x), 0)
		w, nSeg := runCauchy(t, tt.x, tt.g, tt.bounds, &mdl)
		if !floats.EqualApprox(w.xc, tt.xc, 1e-15) {
			t.Fatalf("case %d: xc = %v, want %v", k, w.xc, tt.xc)
		}
		if !slices.Equal(w.states, tt.states) {
			t.Fatalf("case %d: states = %v, want %v", k, w.states, tt.states)
		}
		if nSeg != tt.nSeg {
			t.Fatalf("case %d: nSeg = %d, want %d", k, nSeg, tt.nSeg)
		}
	}
}

func TestCauchyStationary(t *testing.T) {
	mdl := newCurvature(2, 0)
	x := []float64{0, 1}
	w, nSeg := runCauchy(t, x, []float64{1, -1}, []Bound{Within(0, 1), Within(0, 1)}, &mdl)
	if nSeg != 0 || !floats.Equal(w.xc, x) {
		t.Fatalf("xc = %v after %d segments", w.xc, nSeg)
	}
}

// model evaluates gᵀ(z-x) + ½(z-x)ᵀB(z-x).
func model(mdl *curvature, x, g, z []float64) float64 {
	n := len(x)
	d, bd := make([]float64, n), make([]float64, n)
	floats.SubTo(d, z, x)
	if err := mdl.mulVec(d, bd, make([]float64, 2*mdl.m), make([]float64, 2*mdl.m)); err != nil {
		panic(err)
	}
	return floats.Dot(g, d) + 0.5*floats.Dot(d, bd)
}

func TestCauchyFirstMinimizer(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 8))
	const n, m = 6, 3

	for trial := 0; trial < 50; trial++ {
		mdl := newCurvature(n, m)
		pr := curvaturePairs(rnd, n, 1+rnd.IntN(5))
		for k := range pr.s {
			if _, err := mdl.update(pr.s[k], pr.y[k]); err != nil {
				t.Fatal(err)
			}
		}

		bounds := make([]Bound, n)
		x, g := make([]float64, n), make([]float64, n)
		for i := range x {
			bounds[i] = Within(-1, 1)
			x[i] = rnd.Float64()*2 - 1
			g[i] = (rnd.Float64()*2 - 1) * 5
		}
		w, _ := runCauchy(t, x, g, bounds, &mdl)
		bx, _ := newBox(n, bounds)
		if !bx.feasible(w.xc) {
			t.Fatalf("trial %d: infeasible GCP %v", trial, w.xc)
		}

		at := func(s float64) []float64 {
			z := make([]float64, n)
			floats.AddScaledTo(z, x, -s, g)
			bx.project(z)
			return z
		}

		// recover the breakpoint parameter from a coordinate left inside the box
		tc := -1.0
		for i := range x {
			if w.xc[i] > -1 && w.xc[i] < 1 && math.Abs(g[i]) > 1e-3 {
				tc = (x[i] - w.xc[i]) / g[i]
				break
			}
		}
		if tc < 0 {
			continue
		}
		if !floats.EqualApprox(at(tc), w.xc, 1e-9) {
			t.Fatalf("trial %d: GCP %v is not on the projected path", trial, w.xc)
		}

		// the model decreases along the path up to the GCP and is minimal there
		mc := model(&mdl, x, g, w.xc)
		tol := 1e-9 * math.Max(1, math.Abs(mc))
		for k := 0; k <= 100; k++ {
			s := tc * float64(k) / 100
			if mk := model(&mdl, x, g, at(s)); mk < mc-tol {
				t.Fatalf("trial %d: model %v at t=%v is below the GCP value %v", trial, mk, s, mc)
			}
		}
		if mk := model(&mdl, x, g, at(tc*1.001+1e-6)); mk < mc-tol {
			t.Fatalf("trial %d: model keeps decreasing past the GCP", trial)
		}
	}
}

func TestSortBreakpoints(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 1))
	for k := 1; k < 200; k++ {
		brk := make([]breakpoint, k)
		for i := range brk {
			brk[i] = breakpoint{t: float64(rnd.IntN(10)), i: i}
		}
		rnd.Shuffle(k, func(i, j int) { brk[i], brk[j] = brk[j], brk[i] })
		sortBreakpoints(brk)
		for i := 1; i < k; i++ {
			a, b := brk[i-1], brk[i]
			if a.t > b.t || a.t == b.t && a.i > b.i {
				t.Fatalf("breakpoints out of order at %d: %v %v", i, a, b)
			}
		}
	}
}

func TestPartition(t *testing.T) {
	w := newWorkspace(4, 0)
	copy(w.states, []varState{stateFree, stateAtLower, stateUnbounded, stateFixed})
	for i := range w.wasFree {
		w.wasFree[i] = true
	}
	if !partition(&w, quiet) {
		t.Fatal("change of the free set not reported")
	}
	if w.nFree != 2 || !slices.Equal(w.index[:2], []int{0, 2}) {
		t.Fatalf("free = %v", w.index[:w.nFree])
	}
	if !slices.Equal(w.index[2:], []int{3, 1}) {
		t.Fatalf("active = %v", w.index[w.nFree:])
	}
	if partition(&w, quiet) {
		t.Fatal("unchanged free set reported as changed")
	}
}
