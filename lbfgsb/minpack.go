// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import "math"

// Safeguard constants of the Moré–Thuente step selection.
const (
	xtrapl = 1.1  // lower extrapolation factor before a bracket is found
	xtrapu = 4.0  // upper extrapolation factor before a bracket is found
	p66    = 0.66 // a bracket that shrinks less than this triggers bisection
)

// searchStatus is the outcome of one step of the scalar line search.
type searchStatus int

const (
	searchEval      searchStatus = iota // evaluate φ and φ′ at the returned step
	searchConverged                     // the strong Wolfe conditions hold
	searchWarnRound                     // rounding errors prevent progress
	searchWarnXtol                      // the bracket is narrower than 𝚡𝚝𝚘𝚕
	searchWarnMax                       // the step reached its upper limit
	searchWarnMin                       // the step reached its lower limit
	searchErrInput                      // inconsistent tolerances or initial step
)

func (s searchStatus) done() bool {
	return s >= searchConverged && s <= searchWarnMin
}

func (s searchStatus) String() string {
	switch s {
	case searchEval:
		return "FG"
	case searchConverged:
		return "CONVERGENCE"
	case searchWarnRound:
		return "WARNING: ROUNDING ERRORS PREVENT PROGRESS"
	case searchWarnXtol:
		return "WARNING: XTOL TEST SATISFIED"
	case searchWarnMax:
		return "WARNING: STP = STPMAX"
	case searchWarnMin:
		return "WARNING: STP = STPMIN"
	default:
		return "ERROR"
	}
}

// endpoint is a step with its function value and derivative.
type endpoint struct {
	t, f, g float64
}

// wolfe finds a step satisfying the strong Wolfe conditions
//
//	φ(ɑ) ≤ φ(0) + 𝚏𝚝𝚘𝚕·ɑ·φ′(0)
//	|φ′(ɑ)| ≤ 𝚐𝚝𝚘𝚕·|φ′(0)|
//
// by the safeguarded bracketing of Moré and Thuente (MINPACK-2 dcsrch).
// The caller evaluates φ at every step the search proposes.
type wolfe struct {
	ftol, gtol, xtol float64
	stpMin, stpMax   float64

	bracket bool
	stage   int // 1 until a step with ψ(ɑ) ≤ 0 and φ′(ɑ) ≥ 0 is seen, then 2
	f0, g0  float64
	x, y    endpoint // best step so far and the other end of the interval
	lo, hi  float64  // interval the next trial step is kept in
	width   float64
	width1  float64
}

// start initializes the search with φ(0), φ′(0) and the first trial step.
func (w *wolfe) start(f0, g0, stp float64) searchStatus {
	switch {
	case stp < w.stpMin, stp > w.stpMax, g0 >= zero,
		w.ftol < zero, w.gtol < zero, w.xtol < zero,
		w.stpMin < zero, w.stpMax < w.stpMin:
		return searchErrInput
	}
	w.bracket = false
	w.stage = 1
	w.f0, w.g0 = f0, g0
	w.width = w.stpMax - w.stpMin
	w.width1 = w.width / half
	w.x = endpoint{t: zero, f: f0, g: g0}
	w.y = w.x
	w.lo = zero
	w.hi = stp + xtrapu*stp
	return searchEval
}

// next consumes φ(stp), φ′(stp) and returns the next trial step with a status.
// Any status other than searchEval ends the search.
func (w *wolfe) next(stp, f, g float64) (float64, searchStatus) {

	gtest := w.ftol * w.g0
	ftest := w.f0 + stp*gtest

	if w.stage == 1 && f <= ftest && g >= zero {
		w.stage = 2
	}

	switch {
	case f <= ftest && math.Abs(g) <= w.gtol*(-w.g0):
		return stp, searchConverged
	case stp == w.stpMin && (f > ftest || g >= gtest):
		return stp, searchWarnMin
	case stp == w.stpMax && f <= ftest && g <= gtest:
		return stp, searchWarnMax
	case w.bracket && w.hi-w.lo <= w.xtol*w.hi:
		return stp, searchWarnXtol
	case w.bracket && (stp <= w.lo || stp >= w.hi):
		return stp, searchWarnRound
	}

	if w.stage == 1 && f <= w.x.f && f > ftest {
		// the modified function ψ(ɑ) = φ(ɑ) - φ(0) - 𝚏𝚝𝚘𝚕·ɑ·φ′(0)
		// drives the step while sufficient decrease is not met
		shift := func(e endpoint) endpoint {
			return endpoint{t: e.t, f: e.f - e.t*gtest, g: e.g - gtest}
		}
		x, y := shift(w.x), shift(w.y)
		stp = step(&x, &y, endpoint{stp, f - stp*gtest, g - gtest}, &w.bracket, w.lo, w.hi)
		w.x = endpoint{t: x.t, f: x.f + x.t*gtest, g: x.g + gtest}
		w.y = endpoint{t: y.t, f: y.f + y.t*gtest, g: y.g + gtest}
	} else {
		stp = step(&w.x, &w.y, endpoint{stp, f, g}, &w.bracket, w.lo, w.hi)
	}

	// force a sufficient decrease in the size of the interval
	if w.bracket {
		if math.Abs(w.y.t-w.x.t) >= p66*w.width1 {
			stp = w.x.t + half*(w.y.t-w.x.t)
		}
		w.width1 = w.width
		w.width = math.Abs(w.y.t - w.x.t)
	}

	if w.bracket {
		w.lo = math.Min(w.x.t, w.y.t)
		w.hi = math.Max(w.x.t, w.y.t)
	} else {
		w.lo = stp + xtrapl*(stp-w.x.t)
		w.hi = stp + xtrapu*(stp-w.x.t)
	}

	stp = math.Max(stp, w.stpMin)
	stp = math.Min(stp, w.stpMax)

	// without further progress fall back to the best step
	if w.bracket && (stp <= w.lo || stp >= w.hi) || w.bracket && w.hi-w.lo <= w.xtol*w.hi {
		stp = w.x.t
	}
	return stp, searchEval
}

// step computes a safeguarded step (MINPACK-2 dcstep) and updates the interval
// containing a minimizer. x is the endpoint with the least function value,
// y the other endpoint and p the current trial. The new step is kept in [lo, hi].
func step(x, y *endpoint, p endpoint, bracket *bool, lo, hi float64) float64 {

	sgnd := p.g * (x.g / math.Abs(x.g))
	var stpf float64

	switch {
	case p.f > x.f:
		// Higher function value: the minimum is bracketed. Take the cubic step
		// when it is closer to x, otherwise the average of cubic and quadratic.
		theta := three*(x.f-p.f)/(p.t-x.t) + x.g + p.g
		s := max3(theta, x.g, p.g)
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(x.g/s)*(p.g/s))
		if p.t < x.t {
			gamma = -gamma
		}
		pp := (gamma - x.g) + theta
		q := ((gamma - x.g) + gamma) + p.g
		r := pp / q
		stpc := x.t + r*(p.t-x.t)
		stpq := x.t + ((x.g/((x.f-p.f)/(p.t-x.t)+x.g))/two)*(p.t-x.t)
		if math.Abs(stpc-x.t) < math.Abs(stpq-x.t) {
			stpf = stpc
		} else {
			stpf = stpc + (stpq-stpc)/two
		}
		*bracket = true

	case sgnd < zero:
		// Lower function value and derivatives of opposite sign: the minimum is
		// bracketed. Take the step farthest from p among cubic and secant.
		theta := three*(x.f-p.f)/(p.t-x.t) + x.g + p.g
		s := max3(theta, x.g, p.g)
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(x.g/s)*(p.g/s))
		if p.t > x.t {
			gamma = -gamma
		}
		pp := (gamma - p.g) + theta
		q := ((gamma - p.g) + gamma) + x.g
		r := pp / q
		stpc := p.t + r*(x.t-p.t)
		stpq := p.t + (p.g/(p.g-x.g))*(x.t-p.t)
		if math.Abs(stpc-p.t) > math.Abs(stpq-p.t) {
			stpf = stpc
		} else {
			stpf = stpq
		}
		*bracket = true

	case math.Abs(p.g) < math.Abs(x.g):
		// Lower function value, same sign derivatives, decreasing magnitude.
		// The cubic is used only if it tends to infinity in the step direction
		// or its minimum lies beyond p.
		theta := three*(x.f-p.f)/(p.t-x.t) + x.g + p.g
		s := max3(theta, x.g, p.g)
		gamma := s * math.Sqrt(math.Max(zero, (theta/s)*(theta/s)-(x.g/s)*(p.g/s)))
		if p.t > x.t {
			gamma = -gamma
		}
		pp := (gamma - p.g) + theta
		q := (gamma + (x.g - p.g)) + gamma
		r := pp / q
		var stpc float64
		switch {
		case r < zero && gamma != zero:
			stpc = p.t + r*(x.t-p.t)
		case p.t > x.t:
			stpc = hi
		default:
			stpc = lo
		}
		stpq := p.t + (p.g/(p.g-x.g))*(x.t-p.t)

		if *bracket {
			// keep the step inside the bracket, closer to p than to y
			if math.Abs(stpc-p.t) < math.Abs(stpq-p.t) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			if p.t > x.t {
				stpf = math.Min(p.t+p66*(y.t-p.t), stpf)
			} else {
				stpf = math.Max(p.t+p66*(y.t-p.t), stpf)
			}
		} else {
			// extrapolate with the farthest step, within [lo, hi]
			if math.Abs(stpc-p.t) > math.Abs(stpq-p.t) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			stpf = math.Min(hi, stpf)
			stpf = math.Max(lo, stpf)
		}

	default:
		// Lower function value, same sign derivatives, non decreasing magnitude.
		if *bracket {
			theta := three*(p.f-y.f)/(y.t-p.t) + y.g + p.g
			s := max3(theta, y.g, p.g)
			gamma := s * math.Sqrt((theta/s)*(theta/s)-(y.g/s)*(p.g/s))
			if p.t > y.t {
				gamma = -gamma
			}
			pp := (gamma - p.g) + theta
			q := ((gamma - p.g) + gamma) + y.g
			r := pp / q
			stpf = p.t + r*(y.t-p.t)
		} else if p.t > x.t {
			stpf = hi
		} else {
			stpf = lo
		}
	}

	// update the interval which contains a minimizer
	if p.f > x.f {
		*y = p
	} else {
		if sgnd < zero {
			*y = *x
		}
		*x = p
	}
	return stpf
}

func max3(a, b, c float64) float64 {
	return math.Max(math.Abs(a), math.Max(math.Abs(b), math.Abs(c)))
}
