// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/optimize/functions"
)

func TestMethodRosenbrock(t *testing.T) {
	fn := functions.ExtendedRosenbrock{}
	p := optimize.Problem{Func: fn.Func, Grad: fn.Grad}
	x0 := []float64{-1.2, 1, -1.2, 1, -1.2, 1}

	set := DefaultSettings()
	set.Factr = 10
	set.Pgtol = 1e-9
	m := &Method{Settings: set}

	res, err := optimize.Minimize(p, x0, nil, m)
	require.NoError(t, err)
	// gonum may stop first on its own gradient threshold
	assert.Contains(t, []optimize.Status{optimize.MethodConverge, optimize.GradientThreshold}, res.Status)
	assert.Less(t, res.F, 1e-12)
	for i, v := range res.X {
		assert.InDelta(t, 1, v, 1e-5, "x[%d]", i)
	}

	stats := m.Stats()
	assert.Greater(t, stats.Iterations, 0)
	assert.Equal(t, stats.Evaluations, res.Stats.FuncEvaluations)
	assert.Equal(t, stats.Iterations, res.Stats.MajorIterations)
	assert.Equal(t, []float64{-1.2, 1, -1.2, 1, -1.2, 1}, x0)
}

func TestMethodBounds(t *testing.T) {
	target := []float64{3, -3, 0.5}
	p := optimize.Problem{
		Func: func(x []float64) float64 {
			f := 0.0
			for i, v := range x {
				f += (v - target[i]) * (v - target[i])
			}
			return f
		},
		Grad: func(g, x []float64) {
			for i, v := range x {
				g[i] = 2 * (v - target[i])
			}
		},
	}
	m := &Method{Bounds: []Bound{Within(-1, 1), Within(-1, 1), Within(-1, 1)}}
	res, err := optimize.Minimize(p, []float64{0, 0, 0}, nil, m)
	require.NoError(t, err)
	assert.Equal(t, optimize.MethodConverge, res.Status)
	assert.InDeltaSlice(t, []float64{1, -1, 0.5}, res.X, 1e-8)

	status, err := m.Status()
	assert.Equal(t, optimize.MethodConverge, status)
	assert.NoError(t, err)
}

func TestMethodIterationLimit(t *testing.T) {
	fn := functions.ExtendedRosenbrock{}
	set := DefaultSettings()
	set.MaxIterations = 2
	m := &Method{Settings: set}
	res, err := optimize.Minimize(optimize.Problem{Func: fn.Func, Grad: fn.Grad}, []float64{-1.2, 1}, nil, m)
	require.NoError(t, err)
	assert.Equal(t, optimize.IterationLimit, res.Status)
	assert.Equal(t, 2, m.Stats().Iterations)
}

func TestMethodUses(t *testing.T) {
	m := &Method{}
	_, err := m.Uses(optimize.Available{})
	assert.ErrorIs(t, err, optimize.ErrMissingGrad)

	has, err := m.Uses(optimize.Available{Grad: true, Hess: true})
	require.NoError(t, err)
	assert.Equal(t, optimize.Available{Grad: true}, has)
	assert.Equal(t, 1, m.Init(4, 8))
}
