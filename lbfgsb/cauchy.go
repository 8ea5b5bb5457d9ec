// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// breakpoint is the step tᵢ along -g at which variable i reaches its bound.
type breakpoint struct {
	t float64
	i int
}

// sortBreakpoints orders breakpoints by ascending t, ties by ascending index.
func sortBreakpoints(brk []breakpoint) {
	slices.SortFunc(brk, func(a, b breakpoint) int {
		if c := cmp.Compare(a.t, b.t); c != 0 {
			return c
		}
		return cmp.Compare(a.i, b.i)
	})
}

// cauchy computes the generalized Cauchy point (GCP) into w.xc.
//
// Given xₖ, fₖ, gₖ and the compact Bₖ, the quadratic model of f at xₖ is
//
//	mₖ(x) = fₖ + gₖᵀ(x-xₖ) + ½(x-xₖ)ᵀBₖ(x-xₖ)
//
// The GCP is the first local minimizer of mₖ along the piecewise linear path
// 𝚙𝚛𝚘𝚓(xₖ - tgₖ). Each segment of the path ends at a breakpoint
//
//	tᵢ = (xᵢ - uᵢ)/gᵢ  if gᵢ < 0
//	tᵢ = (xᵢ - lᵢ)/gᵢ  if gᵢ > 0
//	tᵢ = ∞             otherwise
//
// On return w.states tells which variables are pinned at a bound and the
// number of explored segments is reported.
func cauchy(x, g []float64, pgNorm float64, bx *box, mdl *curvature, w *workspace, tr tracer) (int, error) {

	xc := w.xc
	copy(xc, x)

	// ‖ 𝚙𝚛𝚘𝚓 g ‖∞ = 0 means every gᵢ points out of the box
	if pgNorm <= zero {
		tr.log(LogTrace, "Subgnorm = 0.  GCP = X.")
		return 0, nil
	}

	theta, col := mdl.theta, mdl.col
	d, states := w.d, w.states

	p := w.p[:2*col] // p = Wᵀd
	c := w.c[:2*col] // c = Wᵀ(xᶜ - x)
	wb := w.wb[:2*col]
	v := w.v[:2*col]
	for j := range p {
		p[j], c[j] = zero, zero
	}

	// f′ = gᵀd = -dᵀd
	// f″ = -θf′ - pᵀMp
	f1 := zero
	bounded := true
	brk := w.brk[:0]

	tr.log(LogTrace, "---------------- CAUCHY entered-------------------")

	for i, gi := range g {
		k := bx.kind[i]
		neg := -gi
		st := states[i]

		if st != stateFixed && st != stateUnbounded {
			st = stateFree
			tl, tu := zero, zero
			if k.hasLower() {
				tl = x[i] - bx.lower[i]
			}
			if k.hasUpper() {
				tu = bx.upper[i] - x[i]
			}
			switch {
			case k.hasLower() && tl <= zero:
				if neg <= zero {
					st = stateAtLower
				}
			case k.hasUpper() && tu <= zero:
				if neg >= zero {
					st = stateAtUpper
				}
			case neg == zero:
				st = stateStill
			}
			states[i] = st

			if st == stateFree {
				switch {
				case k.hasLower() && neg < zero:
					brk = append(brk, breakpoint{t: tl / -neg, i: i})
				case k.hasUpper() && neg > zero:
					brk = append(brk, breakpoint{t: tu / neg, i: i})
				default:
					bounded = bounded && neg == zero
				}
			}
		}

		if st != stateFree && st != stateUnbounded {
			d[i] = zero
			continue
		}
		if st == stateUnbounded && neg != zero {
			bounded = false
		}

		d[i] = neg
		f1 -= neg * neg
		for j := 0; j < col; j++ {
			q := mdl.pair(j)
			p[j] += q.y[i] * neg
			p[col+j] += q.s[i] * neg
		}
	}

	if f1 == zero {
		// no variable moves along -g
		return 0, nil
	}
	for j := col; j < 2*col; j++ {
		p[j] *= theta
	}

	f2 := -theta * f1
	f2Org := f2
	if col > 0 {
		if err := mdl.mulMiddle(p, v); err != nil {
			return 0, err
		}
		f2 -= floats.Dot(v, p)
	}
	dtMin := -f1 / f2
	tSum, tOld := zero, zero
	nSeg := 1
	allFixed := false

	sortBreakpoints(brk)
	if tr.enable(LogTrace) {
		tr.log(LogTrace, "There are %d  breakpoints", len(brk))
	}

	for k, b := range brk {
		dt := b.t - tOld
		// zero length segments never stop the walk
		if dt > zero && dtMin < dt {
			if tr.enable(LogVerbose) {
				tr.log(LogVerbose, "Piece %3d f1, f2 at start point %11.4e %11.4e", nSeg, f1, f2)
				tr.log(LogVerbose, "Distance to the next break point = %11.4e", dt)
				tr.log(LogVerbose, "Distance to the stationary point = %11.4e", dtMin)
			}
			break
		}

		tSum += dt
		tOld = b.t
		i := b.i
		di := d[i]
		d[i] = zero
		if di > zero {
			xc[i] = bx.upper[i]
			states[i] = stateAtUpper
		} else {
			xc[i] = bx.lower[i]
			states[i] = stateAtLower
		}
		zi := xc[i] - x[i]
		if tr.enable(LogChange) {
			tr.log(LogChange, "Variable %d is fixed.", i)
		}

		left := len(brk) - k - 1
		if left == 0 && len(brk) == len(x) {
			// every variable has reached its bound
			dtMin = dt
			allFixed = true
			break
		}

		nSeg++
		di2 := di * di

		// f′ = f′ + Δt f″ + dᵢ² - θdᵢzᵢ
		// f″ = f″ - θdᵢ²
		f1 += dt*f2 + di2 - theta*di*zi
		f2 -= theta * di2

		if col > 0 {
			floats.AddScaled(c, dt, p)
			// wb = [ yᵢ θsᵢ ] the row of W of the fixed variable
			for j := 0; j < col; j++ {
				q := mdl.pair(j)
				wb[j] = q.y[i]
				wb[col+j] = theta * q.s[i]
			}
			if err := mdl.mulMiddle(wb, v); err != nil {
				return nSeg, err
			}
			wmc, wmp, wmw := floats.Dot(v, c), floats.Dot(v, p), floats.Dot(v, wb)
			floats.AddScaled(p, -di, wb)
			f1 += di * wmc
			f2 += two*di*wmp - di2*wmw
		}

		f2 = math.Max(epsilon*f2Org, f2)
		switch {
		case left > 0:
			dtMin = -f1 / f2
		case bounded:
			f1, f2, dtMin = zero, zero, zero
		default:
			dtMin = -f1 / f2
		}
		if math.IsNaN(dtMin) || math.IsInf(dtMin, 0) {
			return nSeg, errNonFiniteModel
		}
	}

	if !allFixed {
		dtMin = math.Max(zero, dtMin)
		tSum += dtMin
		floats.AddScaled(xc, tSum, d)
	}

	if tr.enable(LogTrace) {
		tr.log(LogTrace, "GCP found in this segment %d", nSeg)
		tr.log(LogTrace, "---------------- exit CAUCHY----------------------")
	}
	if tr.enable(LogVerbose) {
		tr.log(LogVerbose, "Cauchy X = %v", xc)
	}
	return nSeg, nil
}

// partition collects the free variables at the GCP into w.index[:nFree] and the
// active ones into w.index[nFree:]. It reports whether the free set changed.
func partition(w *workspace, tr tracer) bool {
	n := len(w.states)
	free, active := 0, n
	changed := false
	for i, st := range w.states {
		isFree := st.free()
		if isFree {
			w.index[free] = i
			free++
		} else {
			active--
			w.index[active] = i
		}
		if isFree != w.wasFree[i] {
			changed = true
			if tr.enable(LogChange) {
				if isFree {
					tr.log(LogChange, "Variable %d enters the set of free variables", i)
				} else {
					tr.log(LogChange, "Variable %d leaves the set of free variables", i)
				}
			}
			w.wasFree[i] = isFree
		}
	}
	w.nFree = free
	return changed
}
