// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Problem specifies the problem for L-BFGS-B optimizer.
type Problem struct {
	N        int       // The problem dimension
	Bounds   []Bound   // Optional bounds, nil means unconstrained
	Settings *Settings // Optional settings, nil means DefaultSettings()
}

// phase is the position of the driver inside an outer iteration.
type phase int

const (
	phaseStart   phase = iota // nothing evaluated yet
	phaseInitial              // waiting for f and g at x₀
	phaseSearch               // waiting for f and g at a line-search trial
	phaseIterate              // a NewIterate was reported
	phaseDone                 // terminal
)

// iterate is the last accepted point.
type iterate struct {
	x, g []float64
	f    float64
}

// workspace is the scratch of a session, allocated once from n and m.
type workspace struct {
	states  []varState
	wasFree []bool
	brk     []breakpoint
	index   []int // free variables in index[:nFree], active ones after
	nFree   int

	xc []float64 // Cauchy point, then subspace minimizer
	xp []float64 // copy of xc before projection
	d  []float64 // Cauchy direction, then search direction
	r  []float64 // reduced gradient, then subspace Newton direction
	u  []float64
	bu []float64

	trialX, trialG []float64
	trialF         float64
	last           iterate // last trial evaluated since the iterate was accepted
	hasLast        bool
	sv, yv         []float64 // correction pair candidate

	p, c, wb, v, wv []float64 // 2m
	wn              []float64 // 2m×2m factor of K
	kValid          bool

	search   wolfe
	stp      float64 // current trial step
	stpMax   float64
	gd       float64 // gᵀd at the current iterate
	numBack  int     // evaluations in the current line search
	dNorm    float64 // ‖d‖₂
	outcome  Subspace
	segments int
}

func newWorkspace(n, m int) workspace {
	m2 := 2 * m
	return workspace{
		states:  make([]varState, n),
		wasFree: make([]bool, n),
		brk:     make([]breakpoint, 0, n),
		index:   make([]int, n),
		xc:      make([]float64, n),
		xp:      make([]float64, n),
		d:       make([]float64, n),
		r:       make([]float64, n),
		u:       make([]float64, n),
		bu:      make([]float64, n),
		trialX:  make([]float64, n),
		trialG:  make([]float64, n),
		last:    iterate{x: make([]float64, n), g: make([]float64, n)},
		sv:      make([]float64, n),
		yv:      make([]float64, n),
		p:       make([]float64, m2),
		c:       make([]float64, m2),
		wb:      make([]float64, m2),
		v:       make([]float64, m2),
		wv:      make([]float64, m2),
		wn:      make([]float64, m2*m2),
	}
}

// Stats summarizes the progress of a session.
type Stats struct {
	Iterations  int      // completed outer iterations
	Evaluations int      // function and gradient evaluations
	Segments    int      // Cauchy path segments explored in total
	Active      int      // variables pinned at a bound at the last Cauchy point
	Skipped     int      // correction pairs rejected by the curvature condition
	Updates     int      // correction pairs accepted since the last memory refresh
	Refreshes   int      // times the limited memory was discarded after a breakdown
	Subspace    Subspace // outcome of the last subspace minimization
	LineEvals   int      // evaluations of the last line search
	Step        float64  // last accepted step length
	ProjGrad    float64  // ‖ 𝚙𝚛𝚘𝚓 g ‖∞ at the current point

	CauchyTime   time.Duration
	SubspaceTime time.Duration
	SearchTime   time.Duration
}

// Session is one run of L-BFGS-B driven by reverse communication:
// the caller repeatedly calls Advance and evaluates the objective whenever
// the returned task asks for it. A session must not be used concurrently.
type Session struct {
	id   uuid.UUID
	n    int
	set  Settings
	box  box
	tr   tracer
	mdl  curvature
	work workspace
	cur  iterate

	phase   phase
	task    Task
	pending Task // outcome of the convergence test, reported after NewIterate
	fPrev   float64
	err     error
	stats   Stats
	began   time.Time
}

// New creates a session starting from x0, which is copied.
func (p *Problem) New(x0 []float64, logger *Logger) (*Session, error) {

	n := p.N
	set := DefaultSettings()
	if p.Settings != nil {
		s := *p.Settings
		set = &s
	}

	var err error
	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case len(x0) != n:
		err = fmt.Errorf("initial x has %d elements but n=%d", len(x0), n)
	case !finite(x0):
		err = errors.New("initial x must be finite")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err = set.Validate(); err != nil {
		return nil, err
	}

	bx, err := newBox(n, p.Bounds)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	s := &Session{
		id:   id,
		n:    n,
		set:  *set,
		box:  bx,
		tr:   newTracer(logger, id.String()),
		mdl:  newCurvature(n, set.M),
		work: newWorkspace(n, set.M),
		cur: iterate{
			x: append([]float64(nil), x0...),
			g: make([]float64, n),
			f: math.NaN(),
		},
		task: Task{Kind: Start},
	}
	s.work.search = wolfe{
		ftol: set.Search.Alpha,
		gtol: set.Search.Beta,
		xtol: set.Search.Eps,
	}
	return s, nil
}

// ID identifies the session in log entries.
func (s *Session) ID() uuid.UUID { return s.id }

// Task returns the live task.
func (s *Session) Task() Task { return s.task }

// X returns the current point. It must not be modified.
// While running this is the last accepted iterate. When a line search is cut
// short by a failed evaluation it is the last trial that was evaluated.
func (s *Session) X() []float64 { return s.cur.x }

// F returns the function value at X.
// It is NaN until the initial point has been evaluated.
func (s *Session) F() float64 { return s.cur.f }

// G returns the gradient at X. It must not be modified.
func (s *Session) G() []float64 { return s.cur.g }

// Stats returns the progress counters.
func (s *Session) Stats() Stats { return s.stats }

// Settings returns the settings in effect.
func (s *Session) Settings() Settings { return s.set }

// ExitReason reports why the session ended.
// ok is false while the session is still running.
func (s *Session) ExitReason() (reason Reason, ok bool) {
	if !s.task.Done() {
		return ReasonNone, false
	}
	return s.task.Reason, true
}

// Err returns the error that stopped the session.
// It is nil while running, after convergence and when a limit was reached.
func (s *Session) Err() error { return s.err }

// Advance drives the session to its next task.
//
// The first call and the calls answering NewIterate take a nil evaluation.
// A call answering RequestEvaluation must carry f and g at Task.X; a nil
// evaluation or one carrying an error stops the session with StopUserCancelled
// and non-finite values stop it with StopNumericalFailure.
// Once the task is terminal it is returned unchanged.
func (s *Session) Advance(res *Evaluation) Task {
	switch s.phase {
	case phaseStart:
		s.start()
	case phaseInitial:
		if s.receive(res) {
			s.initial()
		}
	case phaseSearch:
		if s.receive(res) {
			s.searchStep()
		}
	case phaseIterate:
		if s.pending.Done() {
			s.finish(s.pending, nil)
		} else {
			s.iteration()
		}
	}
	return s.task
}

// receive validates an evaluation and stores it as the trial point values.
func (s *Session) receive(res *Evaluation) bool {
	var (
		reason Reason
		err    error
	)
	switch {
	case res == nil:
		reason, err = StopUserCancelled, fmt.Errorf("%w: no evaluation supplied", ErrUserCancelled)
	case res.Err != nil:
		reason, err = StopUserCancelled, fmt.Errorf("%w: %w", ErrUserCancelled, res.Err)
	case len(res.G) != s.n:
		reason, err = StopUserCancelled, fmt.Errorf("%w: gradient has %d elements but n=%d", ErrUserCancelled, len(res.G), s.n)
	case math.IsNaN(res.F) || math.IsInf(res.F, 0) || !finite(res.G):
		reason, err = StopNumericalFailure, fmt.Errorf("%w: non-finite evaluation at the trial point", ErrNumericalFailure)
	default:
		w := &s.work
		w.trialF = res.F
		copy(w.trialG, res.G)
		if s.phase == phaseSearch {
			copy(w.last.x, w.trialX)
			copy(w.last.g, w.trialG)
			w.last.f = w.trialF
			w.hasLast = true
		}
		s.stats.Evaluations++
		return true
	}
	s.rollForward()
	s.stop(reason, err)
	return false
}

// rollForward makes the last evaluated trial the current point.
func (s *Session) rollForward() {
	w := &s.work
	if !w.hasLast {
		return
	}
	copy(s.cur.x, w.last.x)
	copy(s.cur.g, w.last.g)
	s.cur.f = w.last.f
	s.stats.ProjGrad = s.box.projGradNorm(s.cur.x, s.cur.g)
	w.hasLast = false
}

func (s *Session) request() {
	s.task = Task{Kind: RequestEvaluation, X: s.work.trialX, G: s.work.trialG}
}

func (s *Session) stop(reason Reason, err error) {
	s.finish(Task{Kind: Stopped, Reason: reason}, err)
}

func (s *Session) finish(t Task, err error) {
	s.phase = phaseDone
	s.task = Task{Kind: t.Kind, Reason: t.Reason}
	s.err = err
	s.printExit()
}
