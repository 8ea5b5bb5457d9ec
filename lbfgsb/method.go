// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"gonum.org/v1/gonum/optimize"
)

// Method adapts L-BFGS-B to gonum's optimize.Method so it can be driven by
// optimize.Minimize. The bounds are honored even though gonum has no notion
// of them; the objective is only ever evaluated inside the box.
type Method struct {
	Bounds   []Bound   // Optional bounds, nil means unconstrained
	Settings *Settings // Optional settings, nil means DefaultSettings()
	Logger   *Logger

	status optimize.Status
	err    error
	stats  Stats
}

var (
	_ optimize.Method   = (*Method)(nil)
	_ optimize.Statuser = (*Method)(nil)
)

// Status reports how the last run ended.
func (m *Method) Status() (optimize.Status, error) {
	return m.status, m.err
}

// Stats returns the progress counters of the last run.
func (m *Method) Stats() Stats {
	return m.stats
}

func (m *Method) Init(dim, tasks int) int {
	m.status = optimize.NotTerminated
	m.err = nil
	m.stats = Stats{}
	return 1
}

func (m *Method) Uses(has optimize.Available) (optimize.Available, error) {
	if !has.Grad {
		return optimize.Available{}, optimize.ErrMissingGrad
	}
	return optimize.Available{Grad: true}, nil
}

func (m *Method) Run(operation chan<- optimize.Task, result <-chan optimize.Task, tasks []optimize.Task) {
	m.status, m.err = m.run(operation, result, tasks[0])
	close(operation)
}

func (m *Method) run(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task) (optimize.Status, error) {

	task.ID = 0
	loc := task.Location
	p := Problem{N: len(loc.X), Bounds: m.Bounds, Settings: m.Settings}
	s, err := p.New(loc.X, m.Logger)
	if err != nil {
		finish(result)
		return optimize.Failure, err
	}
	if len(loc.Gradient) != len(loc.X) {
		loc.Gradient = make([]float64, len(loc.X))
	}

	// send issues an operation and reports false once gonum asked to stop
	send := func(op optimize.Operation) bool {
		task.Op = op
		operation <- task
		task = <-result
		return task.Op != optimize.PostIteration
	}
	publish := func() {
		copy(loc.X, s.X())
		copy(loc.Gradient, s.G())
		loc.F = s.F()
	}

	reported := false
	t := s.Advance(nil)
	for !t.Done() {
		switch t.Kind {
		case RequestEvaluation:
			copy(loc.X, t.X)
			if !send(optimize.FuncEvaluation | optimize.GradEvaluation) {
				m.stats = s.Stats()
				finish(result)
				return optimize.NotTerminated, nil
			}
			t = s.Advance(&Evaluation{F: loc.F, G: loc.Gradient})
		case NewIterate:
			publish()
			reported = true
			if !send(optimize.MajorIteration) {
				m.stats = s.Stats()
				finish(result)
				return optimize.NotTerminated, nil
			}
			t = s.Advance(nil)
		}
	}

	m.stats = s.Stats()
	publish()
	if !reported && !send(optimize.MajorIteration) {
		finish(result)
		return optimize.NotTerminated, nil
	}

	status := optimize.Failure
	switch t.Reason {
	case ConvProjGrad, ConvRelReduction:
		status = optimize.MethodConverge
	case StopIterationLimit:
		status = optimize.IterationLimit
	case StopEvaluationLimit:
		status = optimize.FunctionEvaluationLimit
	}
	task.Op = optimize.MethodDone
	operation <- task
	finish(result)
	return status, s.Err()
}

// finish reads result until it is closed so that it happens before operation is closed.
func finish(result <-chan optimize.Task) {
	for range result {
	}
}
