// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates gradients by finite differences for objectives
// that cannot be evaluated outside their bounds.
package numdiff

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/lbfgsb/lbfgsb"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

// Scheme selects the finite difference formula.
type Scheme int

const (
	// Forward use the first order accuracy forward difference.
	Forward Scheme = iota
	// Central use central difference in interior points and the second order accuracy
	// forward or backward difference near the boundary.
	Central
)

func (s Scheme) String() string {
	switch s {
	case Forward:
		return "forward"
	case Central:
		return "central"
	default:
		return "unknown"
	}
}

// ParseScheme maps "forward" and "central" to their Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "forward", "2-point":
		return Forward, nil
	case "central", "3-point":
		return Central, nil
	}
	return 0, fmt.Errorf("numdiff: unknown scheme %q", name)
}

// Gradient approximates the gradient of a scalar objective by finite differences.
// Every evaluation point stays inside Bounds: the step is flipped or shrunk
// near a bound and the central scheme falls back to a one sided formula.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// A Gradient keeps scratch space and must not be shared between goroutines.
type Gradient struct {
	// Function of which to estimate the gradient.
	Func func(x []float64) float64
	// Finite difference scheme to use.
	Scheme Scheme
	// Optional bounds on the variables, same convention as lbfgsb.Problem.
	Bounds []lbfgsb.Bound
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)) with RelStep being selected automatically.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0) when RelStep is provided.
	RelStep float64
	// Absolute step size to use, possibly adjusted to fit into the bounds.
	// The RelStep is used when AbsStep is not provide.
	// For Central scheme the sign of AbsStep is ignored.
	AbsStep float64

	lower, upper []float64
	step         []float64
	oneSide      []bool
	work         []float64
}

// check validates the settings against x0 and sizes the scratch space.
func (gr *Gradient) check(x0, g []float64) error {

	n := len(x0)
	switch {
	case n == 0:
		return errors.New("numdiff: empty x0")
	case gr.Scheme != Forward && gr.Scheme != Central:
		return errors.New("numdiff: unknown scheme")
	case gr.Func == nil:
		return errors.New("numdiff: object function is required")
	case len(g) != n:
		return fmt.Errorf("numdiff: gradient has %d elements but x0 has %d", len(g), n)
	case gr.Bounds != nil && len(gr.Bounds) != n:
		return errors.New("numdiff: invalid bound dimension")
	}

	if len(gr.step) != n {
		gr.lower = make([]float64, n)
		gr.upper = make([]float64, n)
		gr.step = make([]float64, n)
		gr.oneSide = make([]bool, n)
		gr.work = make([]float64, n)
	}

	for i := range x0 {
		lb, ub := math.Inf(-1), math.Inf(1)
		if gr.Bounds != nil {
			b := gr.Bounds[i]
			if !math.IsNaN(b.Lower) {
				lb = b.Lower
			}
			if !math.IsNaN(b.Upper) {
				ub = b.Upper
			}
		}
		if lb > ub {
			return fmt.Errorf("numdiff: invalid bound range at %d", i)
		}
		if x0[i] < lb || x0[i] > ub {
			return fmt.Errorf("numdiff: x0[%d] violates bound constraints", i)
		}
		gr.lower[i], gr.upper[i] = lb, ub
	}
	return nil
}

// Diff returns f(x0) and stores the gradient estimate into g.
// The derivative of a variable whose bounds coincide is zero.
func (gr *Gradient) Diff(x0, g []float64) (float64, error) {

	if err := gr.check(x0, g); err != nil {
		return math.NaN(), err
	}

	bnd := false
	for i := range x0 {
		if bnd = !(math.IsInf(gr.lower[i], 0) && math.IsInf(gr.upper[i], 0)); bnd {
			break
		}
	}

	gr.absoluteStep(x0)
	gr.adjustToBounds(x0, bnd)

	x := gr.work
	copy(x, x0)
	if gr.Scheme == Central {
		return gr.approxCentral(x, g), nil
	}
	return gr.approxForward(x, g), nil
}

// Evaluator adapts the estimate to the callback expected by lbfgsb.Minimize.
func (gr *Gradient) Evaluator() lbfgsb.Evaluator {
	return gr.Diff
}

func (gr *Gradient) adjustToBounds(x0 []float64, bnd bool) {
	h, o := gr.step, gr.oneSide
	for i := range o {
		o[i] = false
	}
	if gr.Scheme == Central {
		for i, v := range h {
			h[i] = math.Abs(v)
		}
	}

	if !bnd {
		return
	}

	if gr.Scheme == Forward {
		for i, x := range x0 {
			lb, ub := gr.lower[i], gr.upper[i]
			ld, ud := x-lb, ub-x
			h0 := h[i]
			violated := x+h0 < lb || x+h0 > ub
			fitting := math.Abs(h0) < math.Max(ld, ud)
			if violated && fitting {
				h[i] = -h0
			} else if !fitting {
				if ud >= ld {
					h[i] = ud
				} else {
					h[i] = -ld
				}
			}
		}
		return
	}

	for i, x := range x0 {
		lb, ub := gr.lower[i], gr.upper[i]
		ld, ud := x-lb, ub-x
		central := ld >= h[i] && ud >= h[i]
		if !central {
			if ud >= ld {
				h[i] = math.Min(h[i], 0.5*ud)
			} else {
				h[i] = -math.Min(h[i], 0.5*ld)
			}
			o[i] = true
		}
		if minDist := math.Min(ud, ld); !central && math.Abs(h[i]) <= minDist {
			h[i] = minDist
			o[i] = false
		}
	}
}

func (gr *Gradient) absoluteStep(x0 []float64) {
	h := gr.step

	eps := sqrtEps
	if gr.Scheme == Central {
		eps = cubeEps
	}

	abs, rel := gr.AbsStep, gr.RelStep
	for i, v := range x0 {
		if abs == 0 && rel == 0 {
			h[i] = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
			continue
		}
		s := abs
		if s == 0 {
			s = math.Copysign(rel, v) * math.Abs(v)
		}
		if (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		h[i] = s
	}
}

func (gr *Gradient) approxForward(x0, g []float64) float64 {
	fun := gr.Func
	f0 := fun(x0)
	for i, s := range gr.step {
		if gr.lower[i] == gr.upper[i] {
			g[i] = 0
			continue
		}
		t := x0[i]
		x0[i] = t + s
		g[i] = (fun(x0) - f0) / s
		x0[i] = t
	}
	return f0
}

func (gr *Gradient) approxCentral(x0, g []float64) float64 {
	fun := gr.Func
	f0 := fun(x0)
	for i, s := range gr.step {
		if gr.lower[i] == gr.upper[i] {
			g[i] = 0
			continue
		}
		x := x0[i]
		d := 1.0 / (2 * s)
		if gr.oneSide[i] {
			x0[i] = x + s
			f1 := fun(x0)
			x0[i] = x + 2*s
			f2 := fun(x0)
			g[i] = (4*f1 - 3*f0 - f2) * d
		} else {
			x0[i] = x - s
			f1 := fun(x0)
			x0[i] = x + s
			f2 := fun(x0)
			g[i] = (f2 - f1) * d
		}
		x0[i] = x
	}
	return f0
}
