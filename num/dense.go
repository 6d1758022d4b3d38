// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package num provides the dense numeric primitives shared by the kernel
// ridge solvers: batched kernel-stack products, column-wise operations,
// index gathering for cross-validation slicing, and the power-iteration
// spectral estimate used to size gradient steps.
package num

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Stack is a batch of same-sized dense matrices, one per kernel.
type Stack []*mat.Dense

// Gather extracts the sub-matrix at the given row and column indices from
// every kernel in the stack. A nil index slice selects the full axis.
func (s Stack) Gather(rows, cols []int) Stack {
	out := make(Stack, len(s))
	for i, k := range s {
		out[i] = Gather(k, rows, cols)
	}
	return out
}

// MulEach computes 𝐊ₖ·𝐗 for every kernel in the stack.
func (s Stack) MulEach(x *mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(s))
	for i, k := range s {
		var m mat.Dense
		m.Mul(k, x)
		out[i] = &m
	}
	return out
}

// Gather copies the sub-matrix of m at the given row and column indices.
// A nil index slice selects the full axis.
func Gather(m *mat.Dense, rows, cols []int) *mat.Dense {
	r, c := m.Dims()
	if rows == nil {
		rows = indexRange(r)
	}
	if cols == nil {
		cols = indexRange(c)
	}
	out := mat.NewDense(len(rows), len(cols), nil)
	for i, ri := range rows {
		for j, cj := range cols {
			out.Set(i, j, m.At(ri, cj))
		}
	}
	return out
}

func indexRange(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Zeros allocates an r×c zero matrix.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Full allocates an r×c matrix filled with v.
func Full(r, c int, v float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}

// Exp returns the elementwise exponential of m as a new matrix.
func Exp(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, m)
	return out
}

// ScaleCols writes src·diag(w) into dst. dst may alias src.
func ScaleCols(dst, src *mat.Dense, w []float64) {
	d, s := dst.RawMatrix(), src.RawMatrix()
	for i := 0; i < s.Rows; i++ {
		dr := d.Data[i*d.Stride : i*d.Stride+d.Cols]
		sr := s.Data[i*s.Stride : i*s.Stride+s.Cols]
		for j, v := range sr {
			dr[j] = v * w[j]
		}
	}
}

// AddScaledCols accumulates src·diag(w) into dst.
func AddScaledCols(dst, src *mat.Dense, w []float64) {
	d, s := dst.RawMatrix(), src.RawMatrix()
	for i := 0; i < s.Rows; i++ {
		dr := d.Data[i*d.Stride : i*d.Stride+d.Cols]
		sr := s.Data[i*s.Stride : i*s.Stride+s.Cols]
		for j, v := range sr {
			dr[j] += v * w[j]
		}
	}
}

// ColDots computes the per-column dot products of a and b.
func ColDots(a, b *mat.Dense) []float64 {
	ra, rb := a.RawMatrix(), b.RawMatrix()
	dots := make([]float64, ra.Cols)
	for i := 0; i < ra.Rows; i++ {
		ar := ra.Data[i*ra.Stride : i*ra.Stride+ra.Cols]
		br := rb.Data[i*rb.Stride : i*rb.Stride+rb.Cols]
		for j, v := range ar {
			dots[j] += v * br[j]
		}
	}
	return dots
}

// ColNorms computes the per-column Euclidean norms of m.
func ColNorms(m *mat.Dense) []float64 {
	norms := ColDots(m, m)
	for j, v := range norms {
		norms[j] = math.Sqrt(v)
	}
	return norms
}

// MaxAbsDiff returns 𝚖𝚊𝚡|aᵢⱼ - bᵢⱼ| over all elements.
func MaxAbsDiff(a, b *mat.Dense) float64 {
	ra, rb := a.RawMatrix(), b.RawMatrix()
	diff := 0.0
	for i := 0; i < ra.Rows; i++ {
		ar := ra.Data[i*ra.Stride : i*ra.Stride+ra.Cols]
		br := rb.Data[i*rb.Stride : i*rb.Stride+rb.Cols]
		for j, v := range ar {
			if d := math.Abs(v - br[j]); d > diff {
				diff = d
			}
		}
	}
	return diff
}

// AllFinite reports whether every element of m is finite.
func AllFinite(m *mat.Dense) bool {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		for _, v := range raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols] {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// Logspace returns n values spaced evenly on a log₁₀ scale from 10^lo to 10^hi.
func Logspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = math.Pow(10, lo)
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = math.Pow(10, lo+float64(i)*step)
	}
	return out
}

// NewRand returns a generator seeded with the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// TimeRand returns a generator seeded from the wall clock.
// Results are not reproducible across runs.
func TimeRand() *rand.Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}
