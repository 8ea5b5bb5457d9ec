// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"context"
	"math"
	"testing"

	"github.com/curioloop/lbfgsb/lbfgsb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestGradients(t *testing.T) {
	for _, b := range All() {
		t.Run(b.Name, func(t *testing.T) {
			n := b.Dim
			if !b.Fixed && n > 6 {
				n = 6
			}
			p, x0, err := b.Setup(n, nil)
			require.NoError(t, err)
			require.Len(t, x0, p.N)

			// shift the start a little so no component of the gradient vanishes by symmetry
			x := make([]float64, n)
			for i := range x {
				x[i] = x0[i] + 0.1*float64(i+1)/float64(n)
			}

			g := make([]float64, n)
			f, err := b.Eval(x, g)
			require.NoError(t, err)
			assert.Equal(t, f, b.Func(x))

			want := fd.Gradient(nil, b.Func, x, &fd.Settings{Formula: fd.Central})
			for i := range g {
				assert.InDelta(t, want[i], g[i], 1e-5*math.Max(1, math.Abs(want[i])), "component %d", i)
			}
		})
	}
}

func TestSetup(t *testing.T) {
	b, err := Lookup("beale")
	require.NoError(t, err)

	_, _, err = b.Setup(3, nil)
	assert.ErrorIs(t, err, lbfgsb.ErrInvalidInput)

	p, x0, err := b.Setup(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.N)
	assert.Equal(t, []float64{1, 1}, x0)
	assert.Len(t, p.Bounds, 2)

	r, err := Lookup("rosenbrock-box")
	require.NoError(t, err)
	_, _, err = r.Setup(1, nil)
	assert.ErrorIs(t, err, lbfgsb.ErrInvalidInput)

	p, x0, err = r.Setup(8, lbfgsb.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 8, p.N)
	assert.NotNil(t, p.Settings)
	assert.Equal(t, lbfgsb.Both, p.Bounds[0].Kind())
	assert.Equal(t, 1.0, p.Bounds[0].Lower)
	assert.Equal(t, -100.0, p.Bounds[1].Lower)
	for _, v := range x0 {
		assert.Equal(t, 3.0, v)
	}

	_, err = Lookup("himmelblau")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Len(t, Names(), len(All()))
}

func TestSolveAll(t *testing.T) {
	tolerance := map[string]float64{
		"beale": 1e-4,
		"wood":  1e-4,
	}
	for _, b := range All() {
		t.Run(b.Name, func(t *testing.T) {
			set := lbfgsb.DefaultSettings()
			set.Factr = 10
			set.Pgtol = 1e-8
			set.MaxIterations = 2000

			p, x0, err := b.Setup(0, set)
			require.NoError(t, err)
			res, err := lbfgsb.Minimize(context.Background(), p, x0, b.Eval, nil)
			require.NoError(t, err)

			tol, ok := tolerance[b.Name]
			if !ok {
				tol = 1e-6
			}
			assert.InDelta(t, b.Optimum, res.F, tol, "%s stopped with %v", b.Name, res.Task)
			for i, bd := range p.Bounds {
				kind := bd.Kind()
				if kind == lbfgsb.LowerOnly || kind == lbfgsb.Both {
					assert.GreaterOrEqual(t, res.X[i], bd.Lower)
				}
				if kind == lbfgsb.UpperOnly || kind == lbfgsb.Both {
					assert.LessOrEqual(t, res.X[i], bd.Upper)
				}
			}
		})
	}
}
