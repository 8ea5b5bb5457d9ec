// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// searchNoBnd caps the step when no bound limits it.
const searchNoBnd = 1.0e+10

// beginSearch starts a line search along dₖ = x̂ - xₖ subject to the bounds.
// The step λₖ starts from the unit step and the trial xₖ + λₖdₖ must satisfy
//   - sufficient decrease condition: fₖ₊₁ ≤ fₖ + ɑλₖgₖᵀdₖ
//   - curvature condition: |gₖ₊₁ᵀdₖ| ≤ β|gₖᵀdₖ|
func (s *Session) beginSearch() error {
	x, w := s.cur.x, &s.work
	defer since(&s.stats.SearchTime, time.Now())

	floats.SubTo(w.d, w.xc, x)
	w.dNorm = floats.Norm(w.d, 2)

	// the largest step keeping xₖ + λdₖ feasible
	stpMax := searchNoBnd
	if s.box.constrained {
		if s.stats.Iterations == 0 {
			stpMax = one
		} else {
			stpMax = s.box.maxStep(x, w.d, searchNoBnd)
		}
	}

	stp := one
	if s.stats.Iterations == 0 && !s.box.boxed {
		stp = math.Min(one/w.dNorm, stpMax)
	}

	w.gd = floats.Dot(s.cur.g, w.d)
	if !(w.gd < zero) {
		// the search is impossible when the directional derivative ≥ 0
		return errAscentDirection
	}

	w.search.stpMin, w.search.stpMax = zero, stpMax
	if w.search.start(s.cur.f, w.gd, stp) == searchErrInput {
		return errSearchBracketing
	}
	w.stp = stp
	w.numBack = 0

	s.trial()
	s.phase = phaseSearch
	s.request()
	return nil
}

// trial writes xₖ + λₖdₖ, or x̂ for the unit step, into the trial buffer.
func (s *Session) trial() {
	w := &s.work
	if w.stp == one {
		copy(w.trialX, w.xc)
	} else {
		floats.AddScaledTo(w.trialX, s.cur.x, w.stp, w.d)
	}
	s.box.project(w.trialX)
}
