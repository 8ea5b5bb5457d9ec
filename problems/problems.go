// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problems collects benchmark objectives for the L-BFGS-B solver.
package problems

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/lbfgsb/lbfgsb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/functions"
)

// ErrUnknown is returned by Lookup for a name that is not registered.
var ErrUnknown = errors.New("problems: unknown benchmark")

// Benchmark is an objective with its gradient, default bounds and starting point.
type Benchmark struct {
	Name  string
	Doc   string
	Dim   int  // default dimension
	Min   int  // smallest supported dimension
	Fixed bool // the dimension cannot be changed

	// Optimum is the minimum value of the objective within the bounds at the default dimension.
	Optimum float64

	bounds func(n int) []lbfgsb.Bound
	start  func(n int) []float64
	eval   func(x, g []float64) float64
}

// Func returns the objective value at x.
func (b Benchmark) Func(x []float64) float64 {
	g := make([]float64, len(x))
	return b.eval(x, g)
}

// Eval computes the objective at x and stores the gradient into g.
func (b Benchmark) Eval(x, g []float64) (float64, error) {
	return b.eval(x, g), nil
}

// Setup builds the problem of dimension n with its starting point.
// A non-positive n selects the default dimension.
func (b Benchmark) Setup(n int, set *lbfgsb.Settings) (*lbfgsb.Problem, []float64, error) {
	if n <= 0 {
		n = b.Dim
	}
	if b.Fixed && n != b.Dim {
		return nil, nil, fmt.Errorf("%w: %s is only defined for n=%d", lbfgsb.ErrInvalidInput, b.Name, b.Dim)
	}
	if n < b.Min {
		return nil, nil, fmt.Errorf("%w: %s needs n ≥ %d", lbfgsb.ErrInvalidInput, b.Name, b.Min)
	}
	p := &lbfgsb.Problem{N: n, Settings: set}
	if b.bounds != nil {
		p.Bounds = b.bounds(n)
	}
	return p, b.start(n), nil
}

var registry = []Benchmark{
	{
		Name: "rosenbrock-box",
		Doc:  "Rosenbrock chain with odd variables in [1,100] and even ones in [-100,100], started at 3",
		Dim:  25,
		Min:  2,
		bounds: func(n int) []lbfgsb.Bound {
			b := make([]lbfgsb.Bound, n)
			for i := range b {
				if i%2 == 0 {
					b[i] = lbfgsb.Within(1, 100)
				} else {
					b[i] = lbfgsb.Within(-100, 100)
				}
			}
			return b
		},
		start: func(n int) []float64 { return slices.Repeat([]float64{3}, n) },
		eval:  rosenbrockChain,
	},
	{
		Name:  "rosenbrock",
		Doc:   "unconstrained extended Rosenbrock started at (-1.2, 1, ...)",
		Dim:   10,
		Min:   2,
		start: alternate(-1.2, 1),
		eval:  gonumEval(functions.ExtendedRosenbrock{}),
	},
	{
		Name:   "beale",
		Doc:    "Beale function on [-4.5, 4.5]², minimum at (3, 0.5)",
		Dim:    2,
		Min:    2,
		Fixed:  true,
		bounds: uniform(lbfgsb.Within(-4.5, 4.5)),
		start:  func(int) []float64 { return []float64{1, 1} },
		eval:   gonumEval(functions.Beale{}),
	},
	{
		Name:  "wood",
		Doc:   "unconstrained Wood function started at (-3, -1, -3, -1)",
		Dim:   4,
		Min:   4,
		Fixed: true,
		start: func(int) []float64 { return []float64{-3, -1, -3, -1} },
		eval:  gonumEval(functions.Wood{}),
	},
	{
		Name:    "quadratic-box",
		Doc:     "separable quadratic ½Σ i(xᵢ - cᵢ)² with cᵢ = ±2 outside the box [-1, 1]",
		Dim:     8,
		Min:     1,
		bounds:  uniform(lbfgsb.Within(-1, 1)),
		start:   func(n int) []float64 { return make([]float64, n) },
		eval:    quadraticBox,
		Optimum: 18, // every coordinate stops at distance 1 from its target
	},
	{
		Name:    "logsumexp",
		Doc:     "log-partition minus linear term of a small exponential family, x ≥ -10",
		Dim:     3,
		Min:     3,
		Fixed:   true,
		bounds:  uniform(lbfgsb.AtLeast(-10)),
		start:   func(int) []float64 { return make([]float64, 3) },
		eval:    logSumExp,
		Optimum: 1.5591321672741119,
	},
}

// All returns every registered benchmark.
func All() []Benchmark {
	return slices.Clone(registry)
}

// Names returns the registered benchmark names.
func Names() []string {
	names := make([]string, len(registry))
	for i, b := range registry {
		names[i] = b.Name
	}
	return names
}

// Lookup returns the benchmark with the given name.
func Lookup(name string) (Benchmark, error) {
	for _, b := range registry {
		if b.Name == name {
			return b, nil
		}
	}
	return Benchmark{}, fmt.Errorf("%w: %q", ErrUnknown, name)
}

type gonumFunc interface {
	Func(x []float64) float64
	Grad(grad, x []float64)
}

func gonumEval(fn gonumFunc) func(x, g []float64) float64 {
	return func(x, g []float64) float64 {
		fn.Grad(g, x)
		return fn.Func(x)
	}
}

func uniform(b lbfgsb.Bound) func(n int) []lbfgsb.Bound {
	return func(n int) []lbfgsb.Bound {
		return slices.Repeat([]lbfgsb.Bound{b}, n)
	}
}

func alternate(a, b float64) func(n int) []float64 {
	return func(n int) []float64 {
		x := make([]float64, n)
		for i := range x {
			if i%2 == 0 {
				x[i] = a
			} else {
				x[i] = b
			}
		}
		return x
	}
}

// rosenbrockChain is f = (x₁ - 1)² + 4Σ(xᵢ - xᵢ₋₁²)².
func rosenbrockChain(x, g []float64) float64 {
	n := len(x)
	d1 := x[0] - 1
	f := 0.25 * d1 * d1
	for i := 1; i < n; i++ {
		d := x[i] - x[i-1]*x[i-1]
		f += d * d
	}
	f *= 4

	t1 := x[1] - x[0]*x[0]
	g[0] = 2*(x[0]-1) - 16*x[0]*t1
	for i := 1; i < n-1; i++ {
		t2 := t1
		t1 = x[i+1] - x[i]*x[i]
		g[i] = 8*t2 - 16*x[i]*t1
	}
	g[n-1] = 8 * t1
	return f
}

func quadraticTarget(i int) float64 {
	if i%2 == 0 {
		return 2
	}
	return -2
}

func quadraticBox(x, g []float64) float64 {
	f := 0.0
	for i, v := range x {
		w := float64(i + 1)
		d := v - quadraticTarget(i)
		f += 0.5 * w * d * d
		g[i] = w * d
	}
	return f
}

var (
	lseK = []float64{1., 0.3, 0.5}
	lseF = mat.NewDense(5, 3, []float64{
		1, 1, 1,
		1, 1, 0,
		1, 0, 1,
		1, 0, 0,
		1, 0, 0,
	})
)

// logSumExp is f = log Σⱼ exp((Fx)ⱼ) - Kᵀx.
func logSumExp(x, g []float64) float64 {
	k, F := lseK, lseF

	var fx mat.VecDense
	fx.MulVec(F, mat.NewVecDense(3, x))
	z := fx.RawVector().Data
	logZ := floats.LogSumExp(z)
	f := logZ - floats.Dot(k, x)

	// g = Fᵀ softmax(Fx) - K
	for i, v := range z {
		z[i] = math.Exp(v - logZ)
	}
	grad := mat.NewVecDense(3, g)
	grad.MulVec(F.T(), &fx)
	floats.Sub(g, k)
	return f
}
