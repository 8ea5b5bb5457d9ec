// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

// Subspace tells where the subspace minimizer of an iteration ended up.
type Subspace int

const (
	SubspaceSkipped   Subspace = iota // no free variable or no curvature pair
	SubspaceWithinBox                 // the Newton point is feasible
	SubspaceProjected                 // the Newton point was projected onto the box
	SubspaceTruncated                 // the step was cut at the first bound crossing
)

func (s Subspace) String() string {
	switch s {
	case SubspaceSkipped:
		return "---"
	case SubspaceWithinBox:
		return "con"
	case SubspaceProjected:
		return "bnd"
	case SubspaceTruncated:
		return "trc"
	default:
		return "???"
	}
}

// subspace computes an approximate minimizer of the model over the free variables
//
//	m̃ₖ(d̃) ≡ d̃ᵀr̃ᶜ + ½d̃ᵀB̃ₖd̃
//
// anchored at the Cauchy point, where r̃ᶜ = -Zᵀ(g + B(xᶜ - xₖ)) is the reduced
// gradient. The Newton direction d̃ᵘ = -B̃ₖ⁻¹r̃ᶜ is taken, the point xᶜ + d̃ᵘ is
// projected onto the box and, when the projection does not give a descent
// direction, the step is truncated at the first bound instead.
//
// On return w.xc holds the subspace minimizer x̂.
func subspace(x, g []float64, bx *box, mdl *curvature, w *workspace, rebuild bool, tr tracer) (Subspace, error) {

	free := w.index[:w.nFree]
	if len(free) == 0 || mdl.col == 0 {
		return SubspaceSkipped, nil
	}

	tr.log(LogTrace, "----------------SUBSM entered-----------------")

	xc := w.xc
	d := w.r[:len(free)] // d̃ᵘ in the coordinates of the free variables

	if len(free) == len(x) {
		// Z = I: the reduced model is the full model and x̂ = xₖ - Bₖ⁻¹gₖ
		if err := mdl.solveVec(g, w.u); err != nil {
			return SubspaceSkipped, err
		}
		for i := range d {
			d[i] = x[i] - w.u[i] - xc[i]
		}
	} else {
		if err := reduceGradient(x, g, mdl, w); err != nil {
			return SubspaceSkipped, err
		}
		if rebuild {
			if err := formK(mdl, w); err != nil {
				return SubspaceSkipped, err
			}
		}
		if err := newtonDirection(mdl, w); err != nil {
			return SubspaceSkipped, err
		}
	}

	outcome := project(x, g, bx, w, tr)

	tr.log(LogTrace, "----------------exit SUBSM --------------------")
	return outcome, nil
}

// reduceGradient computes r̃ᶜ = -Zᵀ(g + B(xᶜ - xₖ)) into w.r.
func reduceGradient(x, g []float64, mdl *curvature, w *workspace) error {
	floats.SubTo(w.u, w.xc, x)
	if err := mdl.mulVec(w.u, w.bu, w.wb, w.v); err != nil {
		return err
	}
	for j, k := range w.index[:w.nFree] {
		w.r[j] = -g[k] - w.bu[k]
	}
	return nil
}

// formK forms the 2col×2col indefinite matrix
//
//	K = [ -D - YᵀZZᵀY/θ     Laᵀ - Rzᵀ ]
//	    [  La - Rz          θSᵀAAᵀS   ]
//
// where La is the strict lower triangle of SᵀAAᵀY and Rz the upper triangle
// of SᵀZZᵀY, then factorizes K = LELᵀ with
//
//	L = [  L₁              0  ]    E = [ -I  0 ]
//	    [ (Rz - La)L₁⁻ᵀ    L₂ ]        [  0  I ]
//
// Lᵀ is stored in the upper triangle of w.wn.
func formK(mdl *curvature, w *workspace) error {

	col, theta := mdl.col, mdl.theta
	m2 := 2 * mdl.m
	wn := w.wn
	free, active := w.index[:w.nFree], w.index[w.nFree:]

	// upper triangle of [ D + YᵀZZᵀY/θ    -Laᵀ + Rzᵀ ]
	//                   [ -La + Rz         θSᵀAAᵀS    ]
	for a := 0; a < col; a++ {
		pa := mdl.pair(a)
		for b := a; b < col; b++ {
			pb := mdl.pair(b)
			yy, ss := zero, zero
			for _, k := range free {
				yy += pa.y[k] * pb.y[k]
			}
			for _, k := range active {
				ss += pa.s[k] * pb.s[k]
			}
			wn[a*m2+b] = yy / theta
			wn[(col+a)*m2+col+b] = theta * ss
		}
		wn[a*m2+a] += mdl.sy[a*mdl.m+a]
		for b := 0; b < col; b++ {
			pb := mdl.pair(b)
			sy := zero
			if b > a {
				for _, k := range active {
					sy -= pb.s[k] * pa.y[k]
				}
			} else {
				for _, k := range free {
					sy += pb.s[k] * pa.y[k]
				}
			}
			wn[a*m2+col+b] = sy
		}
	}

	// L₁ᵀ: Cholesky of the 1st block
	if !cholesky(wn, col, m2) {
		return errNotPosDef1stK
	}
	// L₁⁻¹(-Laᵀ + Rzᵀ) in the upper right block
	blas64.Trsm(blas.Left, blas.Trans, one,
		upper(wn, col, m2), general(wn[col:], col, col, m2))
	// θSᵀAAᵀS + [L₁⁻¹(-Laᵀ+Rzᵀ)]ᵀ[L₁⁻¹(-Laᵀ+Rzᵀ)] in the 2nd block
	blas64.Syrk(blas.Trans, one, general(wn[col:], col, col, m2),
		one, symmetric(wn[col*m2+col:], col, m2))
	// L₂ᵀ: Cholesky of the 2nd block
	if !cholesky(wn[col*m2+col:], col, m2) {
		return errNotPosDef2ndK
	}
	return nil
}

// newtonDirection turns w.r into the subspace Newton direction
//
//	d̃ᵘ = (1/θ)r̃ᶜ + (1/θ²)ZᵀWK⁻¹WᵀZr̃ᶜ
//
// using the factorization K = LELᵀ held in w.wn.
func newtonDirection(mdl *curvature, w *workspace) error {

	col, theta := mdl.col, mdl.theta
	m2 := 2 * mdl.m
	free := w.index[:w.nFree]
	r := w.r[:len(free)]
	wv := w.wv[:2*col]

	// v = WᵀZr̃ᶜ
	for j := 0; j < col; j++ {
		q := mdl.pair(j)
		yr, sr := zero, zero
		for i, k := range free {
			yr += q.y[k] * r[i]
			sr += q.s[k] * r[i]
		}
		wv[j] = yr
		wv[col+j] = theta * sr
	}

	// K⁻¹v = L⁻ᵀE⁻¹L⁻¹v
	solveUpperT(w.wn, 2*col, m2, wv)
	floats.Scale(-one, wv[:col])
	solveUpperN(w.wn, 2*col, m2, wv)
	if !finite(wv) {
		return errNonFiniteModel
	}

	for j := 0; j < col; j++ {
		q := mdl.pair(j)
		a, b := wv[j]/theta, wv[col+j]
		for i, k := range free {
			r[i] += q.y[k]*a + q.s[k]*b
		}
	}
	floats.Scale(one/theta, r)
	return nil
}

// project moves the free variables of w.xc along w.r and clips them into the box.
// When x̂ - xₖ is not a descent direction the path from xᶜ is truncated instead
//
//	ɑ⁎ = 𝚖𝚊𝚡 { ɑ : ɑ ≤ 1, lᵢ - xᶜᵢ ≤ ɑd̃ᵘᵢ ≤ uᵢ - xᶜᵢ (i ∈ 𝓕) }
//
// and the variable blocking ɑ⁎ is fixed at its bound.
func project(x, g []float64, bx *box, w *workspace, tr tracer) Subspace {

	xc, xp := w.xc, w.xp
	free := w.index[:w.nFree]
	d := w.r[:len(free)]
	copy(xp, xc)

	projected := false
	for i, k := range free {
		v := xc[k] + d[i]
		c := bx.clamp(k, v)
		kind := bx.kind[k]
		if kind.hasLower() && c == bx.lower[k] || kind.hasUpper() && c == bx.upper[k] {
			projected = true
		}
		xc[k] = c
	}
	if !projected {
		return SubspaceWithinBox
	}

	// (x̂ - xₖ)ᵀgₖ
	sgn := zero
	for i, gi := range g {
		sgn += (xc[i] - x[i]) * gi
	}
	if sgn <= zero {
		return SubspaceProjected
	}

	copy(xc, xp)
	tr.log(LogLast, "Positive dir derivative in projection. Using the backtracking step.")

	alpha, ibd := one, -1
	for i, k := range free {
		kind, dk := bx.kind[k], d[i]
		stp := alpha
		switch {
		case dk < zero && kind.hasLower():
			if span := bx.lower[k] - xc[k]; span >= zero {
				stp = zero
			} else if dk*alpha < span {
				stp = span / dk
			}
		case dk > zero && kind.hasUpper():
			if span := bx.upper[k] - xc[k]; span <= zero {
				stp = zero
			} else if dk*alpha > span {
				stp = span / dk
			}
		}
		if stp < alpha {
			alpha, ibd = stp, i
		}
	}

	if ibd >= 0 && alpha < one {
		k := ibd
		if d[k] > zero {
			xc[free[k]] = bx.upper[free[k]]
		} else {
			xc[free[k]] = bx.lower[free[k]]
		}
		d[k] = zero
	}
	for i, k := range free {
		xc[k] += alpha * d[i]
	}
	return SubspaceTruncated
}
