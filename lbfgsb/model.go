// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// correction is an accepted pair sₖ = xₖ₊₁ - xₖ, yₖ = gₖ₊₁ - gₖ.
type correction struct {
	s, y []float64
	rho  float64 // 1 / yᵀs
}

// curvature is the limited-memory BFGS matrix in compact form
//
//	B = θI - WMWᵀ
//	W = [ Y  θS ]
//	M = [ -D   Lᵀ  ]⁻¹
//	    [  L  θSᵀS ]
//
// where D = 𝚍𝚒𝚊𝚐{ sᵢᵀyᵢ } and L is the strict lower triangle of SᵀY.
// Pairs are indexed chronologically: 0 is the oldest, col-1 the newest.
type curvature struct {
	n, m  int
	theta float64

	ring []correction
	head int // slot of the oldest pair
	col  int // number of stored pairs

	sy []float64 // m×m, lower triangle holds sᵢᵀyⱼ (i ≥ j)
	ss []float64 // m×m, symmetric sᵢᵀsⱼ
	wt []float64 // m×m, upper triangle holds Jᵀ with T = θSᵀS + LD⁻¹Lᵀ = JJᵀ

	updates int // accepted pairs since the last reset
	skipped int // pairs rejected by the curvature condition
	alpha   []float64
}

func newCurvature(n, m int) curvature {
	c := curvature{n: n, m: m, theta: one}
	if m == 0 {
		return c
	}
	c.ring = make([]correction, m)
	for i := range c.ring {
		c.ring[i].s = make([]float64, n)
		c.ring[i].y = make([]float64, n)
	}
	c.sy = make([]float64, m*m)
	c.ss = make([]float64, m*m)
	c.wt = make([]float64, m*m)
	c.alpha = make([]float64, m)
	return c
}

// pair returns the j-th oldest stored pair.
func (c *curvature) pair(j int) *correction {
	return &c.ring[(c.head+j)%c.m]
}

// reset discards every pair and restores θ = 1.
func (c *curvature) reset() {
	c.theta = one
	c.head, c.col = 0, 0
	c.updates = 0
}

// update offers a new correction pair to the model. It returns false when
// the pair fails the curvature condition yᵀs > 𝚎𝚙𝚜𝚖𝚌𝚑‖y‖² and is skipped.
// A non-nil error means the refactored T is not positive definite.
func (c *curvature) update(s, y []float64) (bool, error) {

	ys := floats.Dot(y, s)
	yy := floats.Dot(y, y)
	if !(ys > epsilon*yy) {
		c.skipped++
		return false, nil
	}

	c.theta = yy / ys
	c.updates++
	if c.m == 0 {
		return true, nil
	}

	m := c.m
	var slot int
	if c.col < m {
		slot = (c.head + c.col) % m
		c.col++
	} else {
		slot = c.head
		c.head = (c.head + 1) % m
		// drop the oldest row and column
		for i := 0; i < m-1; i++ {
			copy(c.ss[i*m:i*m+m-1], c.ss[(i+1)*m+1:(i+1)*m+m])
			copy(c.sy[i*m:i*m+i+1], c.sy[(i+1)*m+1:(i+1)*m+i+2])
		}
	}

	p := &c.ring[slot]
	copy(p.s, s)
	copy(p.y, y)
	p.rho = one / ys

	k := c.col - 1
	for j := 0; j < k; j++ {
		q := c.pair(j)
		c.sy[k*m+j] = floats.Dot(s, q.y)
		ss := floats.Dot(q.s, s)
		c.ss[j*m+k], c.ss[k*m+j] = ss, ss
	}
	c.sy[k*m+k] = ys
	c.ss[k*m+k] = floats.Dot(s, s)

	return true, c.formT()
}

// formT computes T = θSᵀS + LD⁻¹Lᵀ and factorizes T = JJᵀ
// with Jᵀ stored in the upper triangle of wt.
func (c *curvature) formT() error {
	m, col, theta := c.m, c.col, c.theta
	for i := 0; i < col; i++ {
		for j := i; j < col; j++ {
			ldl := zero
			for k := 0; k < i; k++ {
				ldl += c.sy[i*m+k] * c.sy[j*m+k] / c.sy[k*m+k]
			}
			c.wt[i*m+j] = theta*c.ss[i*m+j] + ldl
		}
	}
	if !cholesky(c.wt, col, m) {
		return errNotPosDefT
	}
	return nil
}

// mulMiddle computes p = Mv for a vector v of length 2·col.
func (c *curvature) mulMiddle(v, p []float64) error {

	m, col := c.m, c.col
	if col == 0 {
		return nil
	}

	v1, v2 := v[:col], v[col:2*col]
	p1, p2 := p[:col], p[col:2*col]

	// Solve  [ D¹ᐟ²     O ] [ p₁ ] = [ v₁ ]
	//        [ -LD⁻¹ᐟ²  J ] [ p₂ ]   [ v₂ ]
	for i := 0; i < col; i++ {
		sum := zero
		for j := 0; j < i; j++ {
			sum += c.sy[i*m+j] * v1[j] / c.sy[j*m+j]
		}
		p2[i] = v2[i] + sum
	}
	solveUpperT(c.wt, col, m, p2)
	for i := 0; i < col; i++ {
		p1[i] = v1[i] / math.Sqrt(c.sy[i*m+i])
	}

	// Solve  [ -D¹ᐟ²  D⁻¹ᐟ²Lᵀ ] [ p₁ ] = [ p₁ ]
	//        [  O     Jᵀ      ] [ p₂ ]   [ p₂ ]
	solveUpperN(c.wt, col, m, p2)
	for i := 0; i < col; i++ {
		d := c.sy[i*m+i]
		sum := zero
		for j := i + 1; j < col; j++ {
			sum += c.sy[j*m+i] * p2[j]
		}
		p1[i] = -p1[i]/math.Sqrt(d) + sum/d
	}

	if !finite(p[:2*col]) {
		return errNonFiniteModel
	}
	return nil
}

// product computes Wᵀv = [ Yᵀv ; θSᵀv ] into w.
func (c *curvature) product(v, w []float64) {
	for j := 0; j < c.col; j++ {
		q := c.pair(j)
		w[j] = floats.Dot(q.y, v)
		w[c.col+j] = c.theta * floats.Dot(q.s, v)
	}
}

// mulVec computes out = Bv = θv - WMWᵀv. The scratch slices hold 2m values.
func (c *curvature) mulVec(v, out, wv, mwv []float64) error {
	floats.ScaleTo(out, c.theta, v)
	if c.col == 0 {
		return nil
	}
	col := c.col
	c.product(v, wv)
	if err := c.mulMiddle(wv, mwv); err != nil {
		return err
	}
	for j := 0; j < col; j++ {
		q := c.pair(j)
		floats.AddScaled(out, -mwv[j], q.y)
		floats.AddScaled(out, -c.theta*mwv[col+j], q.s)
	}
	return nil
}

// solveVec computes out = B⁻¹v by the two-loop recursion with H₀ = I/θ.
func (c *curvature) solveVec(v, out []float64) error {
	copy(out, v)
	for j := c.col - 1; j >= 0; j-- {
		q := c.pair(j)
		a := q.rho * floats.Dot(q.s, out)
		c.alpha[j] = a
		floats.AddScaled(out, -a, q.y)
	}
	floats.Scale(one/c.theta, out)
	for j := 0; j < c.col; j++ {
		q := c.pair(j)
		b := q.rho * floats.Dot(q.y, out)
		floats.AddScaled(out, c.alpha[j]-b, q.s)
	}
	if !finite(out) {
		return errNonFiniteModel
	}
	return nil
}
