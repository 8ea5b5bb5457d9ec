// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"errors"
	"math"
)

const (
	zero  = 0.0
	one   = 1.0
	two   = 2.0
	three = 3.0
	half  = 0.5
)

// epsilon is the machine precision of float64.
var epsilon = math.Nextafter(1, 2) - 1

// Error categories reported by a session. Every error returned by this
// package wraps exactly one of them and can be tested with errors.Is.
var (
	// ErrInvalidInput is reported by Problem.New before any iteration starts.
	ErrInvalidInput = errors.New("lbfgsb: invalid input")
	// ErrNumericalFailure stops a session on breakdown of the model or line search,
	// or when the objective returns non-finite values.
	ErrNumericalFailure = errors.New("lbfgsb: numerical failure")
	// ErrUserCancelled stops a session when the caller fails to supply an evaluation.
	ErrUserCancelled = errors.New("lbfgsb: evaluation cancelled")
)

// Recoverable breakdowns. The driver refreshes the limited memory when one of
// them occurs and only escalates to ErrNumericalFailure once the memory is empty.
var (
	errNotPosDefT       = errors.New("the triangular factor T of the middle matrix is not positive definite")
	errNotPosDef1stK    = errors.New("the 1st block of the K matrix is not positive definite")
	errNotPosDef2ndK    = errors.New("the 2nd block of the K matrix is not positive definite")
	errNonFiniteModel   = errors.New("the curvature model produced non-finite values")
	errAscentDirection  = errors.New("the directional derivative along the search direction is not negative")
	errSearchExhausted  = errors.New("the line search exceeded its evaluation budget")
	errSearchNoDescent  = errors.New("the line search ended on a point that increases f")
	errSearchBracketing = errors.New("the line search could not bracket an admissible step")
)

// TaskKind enumerates the states of the session protocol.
type TaskKind int

const (
	// Start is the state of a session that has not been advanced yet.
	Start TaskKind = iota
	// RequestEvaluation asks the caller for f and g at Task.X.
	RequestEvaluation
	// NewIterate reports a completed outer iteration.
	NewIterate
	// Converged is terminal: a convergence criterion was met.
	Converged
	// Stopped is terminal: the session ended early, see Task.Reason.
	Stopped
)

func (k TaskKind) String() string {
	switch k {
	case Start:
		return "START"
	case RequestEvaluation:
		return "FG"
	case NewIterate:
		return "NEW_X"
	case Converged:
		return "CONVERGENCE"
	case Stopped:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Reason qualifies a terminal task.
type Reason int

const (
	ReasonNone Reason = iota
	// ConvProjGrad means ‖𝚙𝚛𝚘𝚓 g‖∞ ≤ 𝚙𝚐𝚝𝚘𝚕.
	ConvProjGrad
	// ConvRelReduction means (fₖ - fₖ₊₁)/𝚖𝚊𝚡(|fₖ|,|fₖ₊₁|,1) ≤ 𝚏𝚊𝚌𝚝𝚛 × 𝚎𝚙𝚜𝚖𝚌𝚑.
	ConvRelReduction
	// StopUserCancelled means the caller did not supply a valid evaluation.
	StopUserCancelled
	// StopNumericalFailure means the algorithm could not make progress.
	StopNumericalFailure
	// StopIterationLimit means Settings.MaxIterations was reached.
	StopIterationLimit
	// StopEvaluationLimit means Settings.MaxEvaluations was reached.
	StopEvaluationLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ConvProjGrad:
		return "NORM_OF_PROJECTED_GRADIENT_<=_PGTOL"
	case ConvRelReduction:
		return "REL_REDUCTION_OF_F_<=_FACTR*EPSMCH"
	case StopUserCancelled:
		return "USER_CANCELLED"
	case StopNumericalFailure:
		return "ABNORMAL_TERMINATION"
	case StopIterationLimit:
		return "TOTAL_NO._OF_ITERATIONS_REACH_LIMIT"
	case StopEvaluationLimit:
		return "TOTAL_NO._OF_F,G_EVALUATIONS_EXCEEDS_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// Task is the value returned by Session.Advance.
type Task struct {
	Kind   TaskKind
	Reason Reason
	// X is the point to evaluate when Kind is RequestEvaluation.
	// It is owned by the session and must not be modified.
	X []float64
	// G is a buffer of length n the caller may fill with the gradient at X
	// and pass back as Evaluation.G.
	G []float64
}

// Done reports whether the task is terminal.
func (t Task) Done() bool {
	return t.Kind == Converged || t.Kind == Stopped
}

func (t Task) String() string {
	if t.Reason != ReasonNone {
		return t.Kind.String() + ": " + t.Reason.String()
	}
	return t.Kind.String()
}

// Evaluation answers a RequestEvaluation task.
type Evaluation struct {
	F   float64
	G   []float64
	Err error // a non-nil error cancels the session
}

// Evaluator computes the objective at x and stores its gradient into g.
type Evaluator func(x, g []float64) (f float64, err error)

func finite(v []float64) bool {
	for _, e := range v {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return false
		}
	}
	return true
}
