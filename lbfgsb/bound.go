// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"fmt"
	"math"
)

// BoundKind encodes which sides of a variable are constrained.
type BoundKind int

const (
	Unbounded BoundKind = iota // no finite bound
	LowerOnly                  // lᵢ ≤ xᵢ
	Both                       // lᵢ ≤ xᵢ ≤ uᵢ
	UpperOnly                  // xᵢ ≤ uᵢ
)

func (k BoundKind) hasLower() bool { return k == LowerOnly || k == Both }
func (k BoundKind) hasUpper() bool { return k == UpperOnly || k == Both }

func (k BoundKind) String() string {
	switch k {
	case Unbounded:
		return "unbounded"
	case LowerOnly:
		return "lower"
	case Both:
		return "both"
	case UpperOnly:
		return "upper"
	default:
		return "unknown"
	}
}

// Bound represents the bounds for an optimization variable.
// A side is absent when its value is NaN or infinite.
type Bound struct {
	Lower, Upper float64
}

// Unbound returns a bound without any constraint.
func Unbound() Bound { return Bound{Lower: math.NaN(), Upper: math.NaN()} }

// AtLeast returns the bound lo ≤ x.
func AtLeast(lo float64) Bound { return Bound{Lower: lo, Upper: math.NaN()} }

// AtMost returns the bound x ≤ hi.
func AtMost(hi float64) Bound { return Bound{Lower: math.NaN(), Upper: hi} }

// Within returns the bound lo ≤ x ≤ hi.
func Within(lo, hi float64) Bound { return Bound{Lower: lo, Upper: hi} }

// Kind classifies the bound from the presence of finite values.
func (b Bound) Kind() BoundKind {
	return classify(b.Lower, b.Upper)
}

func present(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func classify(lo, hi float64) BoundKind {
	l, u := present(lo), present(hi)
	switch {
	case l && u:
		return Both
	case l:
		return LowerOnly
	case u:
		return UpperOnly
	default:
		return Unbounded
	}
}

// varState tracks the status of a variable with respect to its bounds.
// States up to stateStill are considered free by the subspace minimizer.
type varState int8

const (
	stateUnbounded varState = -1 // no bound at all
	stateFree      varState = 0  // interior, may move
	stateStill     varState = 1  // zero gradient, does not move along -g
	stateAtLower   varState = 2  // pinned at lᵢ
	stateAtUpper   varState = 3  // pinned at uᵢ
	stateFixed     varState = 4  // lᵢ = uᵢ
)

func (s varState) free() bool { return s <= stateStill }

// box holds the classified bounds of a problem.
type box struct {
	kind        []BoundKind
	lower       []float64
	upper       []float64
	constrained bool // at least one bound is present
	boxed       bool // every variable has both bounds
}

func newBox(n int, bounds []Bound) (box, error) {
	if bounds != nil && len(bounds) != n {
		return box{}, fmt.Errorf("%w: bounds size %d must equal to n=%d", ErrInvalidInput, len(bounds), n)
	}
	b := box{
		kind:  make([]BoundKind, n),
		lower: make([]float64, n),
		upper: make([]float64, n),
		boxed: true,
	}
	for i := 0; i < n; i++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if bounds != nil {
			lo, hi = bounds[i].Lower, bounds[i].Upper
		}
		k := classify(lo, hi)
		if k == Both && lo > hi {
			return box{}, fmt.Errorf("%w: bound range at %d has no feasible solution", ErrInvalidInput, i)
		}
		b.kind[i], b.lower[i], b.upper[i] = k, lo, hi
		b.constrained = b.constrained || k != Unbounded
		b.boxed = b.boxed && k == Both
	}
	return b, nil
}

// clamp projects v onto the interval of variable i.
func (b *box) clamp(i int, v float64) float64 {
	k := b.kind[i]
	if k.hasLower() && v < b.lower[i] {
		return b.lower[i]
	}
	if k.hasUpper() && v > b.upper[i] {
		return b.upper[i]
	}
	return v
}

// project clamps x into the box in place and reports how many coordinates
// were moved and how many lie exactly on a bound afterwards.
//
//	𝚙𝚛𝚘𝚓 xᵢ = uᵢ    if xᵢ > uᵢ
//	𝚙𝚛𝚘𝚓 xᵢ = lᵢ    if xᵢ < lᵢ
//	𝚙𝚛𝚘𝚓 xᵢ = xᵢ    otherwise
func (b *box) project(x []float64) (moved, atBound int) {
	for i, xi := range x {
		k := b.kind[i]
		switch {
		case k.hasLower() && xi <= b.lower[i]:
			if xi < b.lower[i] {
				x[i] = b.lower[i]
				moved++
			}
			atBound++
		case k.hasUpper() && xi >= b.upper[i]:
			if xi > b.upper[i] {
				x[i] = b.upper[i]
				moved++
			}
			atBound++
		}
	}
	return
}

// initStates assigns the starting state of every variable.
func (b *box) initStates(states []varState) {
	for i, k := range b.kind {
		switch {
		case k == Unbounded:
			states[i] = stateUnbounded
		case k == Both && b.upper[i]-b.lower[i] <= zero:
			states[i] = stateFixed
		default:
			states[i] = stateFree
		}
	}
}

// projGradNorm computes the infinity norm of the projected gradient.
//
//	𝚙𝚛𝚘𝚓 gᵢ = 𝚖𝚊𝚡(xᵢ - uᵢ, gᵢ) if gᵢ < 0
//	𝚙𝚛𝚘𝚓 gᵢ = 𝚖𝚒𝚗(xᵢ - lᵢ, gᵢ) if gᵢ > 0
//	𝚙𝚛𝚘𝚓 gᵢ = gᵢ               otherwise
func (b *box) projGradNorm(x, g []float64) float64 {
	norm := zero
	for i, gi := range g {
		k := b.kind[i]
		if gi < zero {
			if k.hasUpper() {
				gi = math.Max(x[i]-b.upper[i], gi)
			}
		} else if k.hasLower() {
			gi = math.Min(x[i]-b.lower[i], gi)
		}
		norm = math.Max(norm, math.Abs(gi))
	}
	return norm
}

// maxStep returns the largest α ≤ limit such that x + αd stays inside the box.
func (b *box) maxStep(x, d []float64, limit float64) float64 {
	stp := limit
	for i, di := range d {
		k := b.kind[i]
		if k == Unbounded {
			continue
		}
		switch {
		case di < zero && k.hasLower():
			span := b.lower[i] - x[i]
			if span >= zero {
				stp = zero
			} else if di*stp < span {
				stp = span / di
			}
		case di > zero && k.hasUpper():
			span := b.upper[i] - x[i]
			if span <= zero {
				stp = zero
			} else if di*stp > span {
				stp = span / di
			}
		}
	}
	return stp
}
