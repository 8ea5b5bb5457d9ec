// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// searchBackSlow is the line search length above which a convergence on
// the relative reduction is reported with a warning.
const searchBackSlow = 10

func since(d *time.Duration, t time.Time) { *d += time.Since(t) }

// start projects x₀ onto the box and asks for its evaluation.
func (s *Session) start() {
	s.began = time.Now()
	w := &s.work

	if moved, atBound := s.box.project(s.cur.x); moved > 0 && s.tr.enable(LogTrace) {
		s.tr.log(LogTrace, "%d variables were projected onto the box, %d start at a bound", moved, atBound)
	}
	s.box.initStates(w.states)
	for i, st := range w.states {
		w.wasFree[i] = st.free()
	}

	s.printInit()
	copy(w.trialX, s.cur.x)
	s.phase = phaseInitial
	s.request()
}

// initial takes f₀ and g₀, then checks whether x₀ is already stationary.
func (s *Session) initial() {
	w := &s.work
	s.cur.f = w.trialF
	copy(s.cur.g, w.trialG)

	pg := s.box.projGradNorm(s.cur.x, s.cur.g)
	s.stats.ProjGrad = pg
	s.tr.fields(LogEval, logrus.Fields{
		"iter": 0, "nfg": s.stats.Evaluations, "projg": pg, "f": s.cur.f,
	}, "initial point")

	if s.gradConverged(pg) {
		s.finish(Task{Kind: Converged, Reason: ConvProjGrad}, nil)
		return
	}
	s.iteration()
}

// iteration runs the Cauchy point search and the subspace minimization from
// the current iterate, then issues the first trial of the line search.
// A breakdown refreshes the limited memory and retries from the same point.
func (s *Session) iteration() {
	for {
		if s.tr.enable(LogTrace) {
			s.tr.log(LogTrace, "ITERATION %5d", s.stats.Iterations+1)
		}
		err := s.prepare()
		if err == nil || !s.refresh(err) {
			return
		}
	}
}

func (s *Session) prepare() error {
	x, g, w := s.cur.x, s.cur.g, &s.work

	t0 := time.Now()
	nseg, err := cauchy(x, g, s.stats.ProjGrad, &s.box, &s.mdl, w, s.tr)
	since(&s.stats.CauchyTime, t0)
	if err != nil {
		return err
	}
	changed := partition(w, s.tr)
	w.segments = nseg
	s.stats.Segments += nseg
	s.stats.Active = s.n - w.nFree

	t1 := time.Now()
	outcome, err := subspace(x, g, &s.box, &s.mdl, w, changed || !w.kValid, s.tr)
	since(&s.stats.SubspaceTime, t1)
	if err != nil {
		w.kValid = false
		return err
	}
	if outcome != SubspaceSkipped && w.nFree < s.n {
		w.kValid = true
	}
	w.outcome = outcome
	s.stats.Subspace = outcome

	return s.beginSearch()
}

// searchStep feeds the trial evaluation to the line search.
func (s *Session) searchStep() {
	w := &s.work
	defer since(&s.stats.SearchTime, time.Now())

	w.numBack++
	gd := floats.Dot(w.trialG, w.d)
	stp, status := w.search.next(w.stp, w.trialF, gd)

	switch {
	case status == searchEval:
		if w.numBack >= s.set.Search.MaxEvals {
			s.searchFailed(errSearchExhausted)
			return
		}
		if lim := s.set.MaxEvaluations; lim > 0 && s.stats.Evaluations >= lim {
			s.stop(StopEvaluationLimit, nil)
			return
		}
		w.stp = stp
		s.trial()
		s.request()
	case status.done():
		if status != searchConverged {
			if s.tr.enable(LogTrace) {
				s.tr.log(LogTrace, "%v", status)
			}
			if w.trialF > s.cur.f {
				s.searchFailed(errSearchNoDescent)
				return
			}
		}
		s.acceptStep()
	default:
		s.searchFailed(errSearchBracketing)
	}
}

func (s *Session) searchFailed(err error) {
	s.stats.LineEvals = s.work.numBack
	if s.refresh(err) {
		s.iteration()
	}
}

// acceptStep moves to the trial point, tests convergence and offers the
// new correction pair to the curvature model.
func (s *Session) acceptStep() {
	w, cur := &s.work, &s.cur

	floats.SubTo(w.sv, w.trialX, cur.x)
	floats.SubTo(w.yv, w.trialG, cur.g)
	s.fPrev = cur.f
	copy(cur.x, w.trialX)
	copy(cur.g, w.trialG)
	cur.f = w.trialF
	w.hasLast = false

	s.stats.Iterations++
	s.stats.LineEvals = w.numBack
	s.stats.Step = w.stp
	s.stats.ProjGrad = s.box.projGradNorm(cur.x, cur.g)
	s.printIter()

	s.pending = s.converged(s.stats.ProjGrad)
	if !s.pending.Done() {
		accepted, err := s.mdl.update(w.sv, w.yv)
		switch {
		case err != nil:
			s.tr.warn("Nonpositive definiteness in Cholesky factorization in formt; refreshing LBFGS memory")
			s.mdl.reset()
			s.stats.Refreshes++
			w.kValid = false
		case accepted:
			w.kValid = false
		default:
			if s.tr.enable(LogTrace) {
				s.tr.log(LogTrace, "ys=%10.3e BFGS update SKIPPED", floats.Dot(w.sv, w.yv))
			}
		}
		s.stats.Skipped = s.mdl.skipped
		s.stats.Updates = s.mdl.updates
	}

	s.phase = phaseIterate
	s.task = Task{Kind: NewIterate, X: cur.x, G: cur.g}
}

func (s *Session) gradConverged(pg float64) bool {
	return pg == zero || s.set.Pgtol > zero && pg <= s.set.Pgtol
}

// converged tests the stopping criteria after an accepted step and returns
// a terminal task, or the zero task when the iteration goes on.
func (s *Session) converged(pg float64) Task {
	if s.gradConverged(pg) {
		return Task{Kind: Converged, Reason: ConvProjGrad}
	}
	if s.set.Factr > zero {
		tol := epsilon * s.set.Factr
		scale := math.Max(math.Abs(s.fPrev), math.Max(math.Abs(s.cur.f), one))
		if s.fPrev-s.cur.f <= tol*scale {
			return Task{Kind: Converged, Reason: ConvRelReduction}
		}
	}
	if lim := s.set.MaxIterations; lim > 0 && s.stats.Iterations >= lim {
		return Task{Kind: Stopped, Reason: StopIterationLimit}
	}
	if lim := s.set.MaxEvaluations; lim > 0 && s.stats.Evaluations >= lim {
		return Task{Kind: Stopped, Reason: StopEvaluationLimit}
	}
	return Task{}
}

// refresh discards the limited memory after a breakdown and reports whether
// the iteration can be retried. With an empty memory the session is stopped.
func (s *Session) refresh(err error) bool {
	s.work.kValid = false

	if s.tr.enable(LogLast) {
		switch {
		case errors.Is(err, errNotPosDef1stK), errors.Is(err, errNotPosDef2ndK):
			s.tr.warn("Nonpositive definiteness in Cholesky factorization in formk;")
		case errors.Is(err, errAscentDirection):
			s.tr.warn("Ascent direction in projection gd = %g", s.work.gd)
		case errors.Is(err, errSearchExhausted), errors.Is(err, errSearchNoDescent), errors.Is(err, errSearchBracketing):
			s.tr.warn("Bad direction in the line search; %v", err)
		default:
			s.tr.warn("%v", err)
		}
	}

	if s.mdl.col == 0 {
		s.stop(StopNumericalFailure, fmt.Errorf("%w: %w", ErrNumericalFailure, err))
		return false
	}
	s.tr.warn("Refreshing LBFGS memory and restarting iteration.")
	s.mdl.reset()
	s.stats.Refreshes++
	s.stats.Updates = 0
	return true
}

func (s *Session) printInit() {
	t := s.tr
	if !t.enable(LogLast) {
		return
	}
	t.fields(LogLast, logrus.Fields{
		"n": s.n, "m": s.set.M, "epsmch": epsilon,
		"factr": s.set.Factr, "pgtol": s.set.Pgtol,
	}, "RUNNING THE L-BFGS-B CODE")
	if t.enable(LogVerbose) {
		t.log(LogVerbose, "L  = %.2e", s.box.lower)
		t.log(LogVerbose, "X0 = %.2e", s.cur.x)
		t.log(LogVerbose, "U  = %.2e", s.box.upper)
	}
}

func (s *Session) printIter() {
	t, w := s.tr, &s.work
	stpNorm := w.stp * w.dNorm
	if t.enable(LogTrace) {
		t.log(LogTrace, "LINE SEARCH %d times; norm of step = %12.5e", w.numBack, stpNorm)
	}
	if t.enable(LogVerbose) {
		t.log(LogVerbose, "X = %.2e", s.cur.x)
		t.log(LogVerbose, "G = %.2e", s.cur.g)
	}
	t.fields(LogEval, logrus.Fields{
		"iter":  s.stats.Iterations,
		"nfg":   s.stats.Evaluations,
		"nseg":  w.segments,
		"nact":  s.stats.Active,
		"sub":   w.outcome.String(),
		"itls":  w.numBack,
		"stepl": w.stp,
		"tstep": stpNorm,
		"projg": s.stats.ProjGrad,
		"f":     s.cur.f,
	}, "iterate")
}

func (s *Session) printExit() {
	t := s.tr
	if !t.enable(LogLast) {
		return
	}
	st := &s.stats
	t.fields(LogLast, logrus.Fields{
		"n":     s.n,
		"tit":   st.Iterations,
		"tnf":   st.Evaluations,
		"tnint": st.Segments,
		"skip":  st.Skipped,
		"upd":   st.Updates,
		"nact":  st.Active,
		"projg": st.ProjGrad,
		"f":     s.cur.f,
		"time":  time.Since(s.began).String(),
	}, s.task.String())

	if s.err != nil {
		t.warn("%v", s.err)
	}
	if s.task.Reason == ConvRelReduction && st.LineEvals >= searchBackSlow {
		t.warn("more than %d function and gradient evaluations in the last line search", searchBackSlow)
	}
	if t.enable(LogChange) {
		t.log(LogChange, "X = %.2e", s.cur.x)
	}
	if t.enable(LogEval) {
		t.fields(LogEval, logrus.Fields{
			"cauchy":   st.CauchyTime.String(),
			"subspace": st.SubspaceTime.String(),
			"search":   st.SearchTime.String(),
		}, "time")
	}
}
