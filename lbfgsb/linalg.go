// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// Small dense kernels on row-major storage with an explicit leading dimension.
// The n-vectors are handled by gonum/floats; these views serve the 2m×2m
// matrices of the compact representation.

func vector(v []float64) blas64.Vector {
	return blas64.Vector{N: len(v), Inc: 1, Data: v}
}

// upper views the leading n×n upper triangle of a with leading dimension ld.
func upper(a []float64, n, ld int) blas64.Triangular {
	return blas64.Triangular{Uplo: blas.Upper, Diag: blas.NonUnit, N: n, Stride: ld, Data: a}
}

func general(a []float64, rows, cols, ld int) blas64.General {
	return blas64.General{Rows: rows, Cols: cols, Stride: ld, Data: a}
}

func symmetric(a []float64, n, ld int) blas64.Symmetric {
	return blas64.Symmetric{Uplo: blas.Upper, N: n, Stride: ld, Data: a}
}

// cholesky overwrites the upper triangle of the n×n symmetric matrix a
// with R such that A = RᵀR. It reports false when A is not positive definite.
func cholesky(a []float64, n, ld int) bool {
	if n == 0 {
		return true
	}
	_, ok := lapack64.Potrf(symmetric(a, n, ld))
	return ok
}

// solveUpperT solves Rᵀx = b in place, R being the n×n upper triangle of a.
func solveUpperT(a []float64, n, ld int, b []float64) {
	if n == 0 {
		return
	}
	blas64.Trsv(blas.Trans, upper(a, n, ld), vector(b[:n]))
}

// solveUpperN solves Rx = b in place, R being the n×n upper triangle of a.
func solveUpperN(a []float64, n, ld int, b []float64) {
	if n == 0 {
		return
	}
	blas64.Trsv(blas.NoTrans, upper(a, n, ld), vector(b[:n]))
}
