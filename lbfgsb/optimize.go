// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"context"
	"errors"
	"fmt"
)

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	F       float64   // Final function value.
	X, G    []float64 // Final solution and gradient.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Task  Task  // Final task of the session.
	Stats Stats // Progress counters.
}

// Minimize drives a session from x0 until it terminates, calling eval for
// every requested point.
//
// The context is checked before each evaluation and a panic raised by eval
// is recovered; both stop the session with StopUserCancelled. Unless the
// problem itself is invalid the result is returned, together with the error
// that stopped the session if any.
func Minimize(ctx context.Context, p *Problem, x0 []float64, eval Evaluator, logger *Logger) (*Result, error) {

	if eval == nil {
		return nil, fmt.Errorf("%w: evaluation target is required", ErrInvalidInput)
	}
	s, err := p.New(x0, logger)
	if err != nil {
		return nil, err
	}

	task := s.Advance(nil)
	for !task.Done() {
		var res *Evaluation
		if task.Kind == RequestEvaluation {
			res = evaluate(ctx, eval, task)
		}
		task = s.Advance(res)
	}

	return &Result{
		OK: task.Kind == Converged,
		X:  s.X(), F: s.F(), G: s.G(),
		Summary: Summary{
			Task:  task,
			Stats: s.Stats(),
		},
	}, s.Err()
}

func evaluate(ctx context.Context, eval Evaluator, task Task) (res *Evaluation) {
	if err := ctx.Err(); err != nil {
		return &Evaluation{Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			res = &Evaluation{Err: errors.Join(errEvalPanic, err)}
		}
	}()
	f, err := eval(task.X, task.G)
	return &Evaluation{F: f, G: task.G, Err: err}
}

var errEvalPanic = errors.New("callback requested halt")
