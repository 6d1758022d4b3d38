// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ridge implements kernel ridge regression in the dual
// representation with per-target kernel weights:
//
//	(Σₖ 𝛄ₖ·𝐊ₖ + 𝛂·𝐈)·𝐱 = 𝐛
//
// solved per target column by conjugate gradients, fixed-step gradient
// descent or a truncated Neumann series, plus a random-search solver over
// kernel-weight and penalty candidates.
package ridge

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
)

// MulOperator computes (Σₖ 𝛄[k,t]·𝐊ₖ + 𝛂·𝐈)·𝐗 for every target column t.
// gammas has one row per kernel and one column per target.
func MulOperator(ks num.Stack, gammas *mat.Dense, alpha float64, x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := num.Zeros(r, c)
	var tmp mat.Dense
	for k, kk := range ks {
		tmp.Mul(kk, x)
		num.AddScaledCols(out, &tmp, mat.Row(nil, k, gammas))
	}
	if alpha != 0 {
		o, xr := out.RawMatrix(), x.RawMatrix()
		for i := 0; i < o.Rows; i++ {
			or := o.Data[i*o.Stride : i*o.Stride+o.Cols]
			xrr := xr.Data[i*xr.Stride : i*xr.Stride+xr.Cols]
			for j, v := range xrr {
				or[j] += alpha * v
			}
		}
	}
	return out
}

// ConjugateGradient solves (Σₖ 𝛄ₖ·𝐊ₖ + 𝛂·𝐈)·𝐗 = 𝐁 per target column.
// A non-nil x0 warm-starts the iteration. A column stops updating once its
// residual norm drops below tol·‖bₜ‖.
func ConjugateGradient(ks num.Stack, b, gammas, x0 *mat.Dense, alpha float64, maxIter int, tol float64) *mat.Dense {
	rows, cols := b.Dims()
	var x *mat.Dense
	if x0 != nil {
		x = mat.DenseCopyOf(x0)
	} else {
		x = num.Zeros(rows, cols)
	}

	var r mat.Dense
	r.Sub(b, MulOperator(ks, gammas, alpha, x))
	p := mat.DenseCopyOf(&r)

	rs := num.ColDots(&r, &r)
	thresh := num.ColNorms(b)
	active := make([]bool, cols)
	remain := 0
	for t := range thresh {
		thresh[t] *= tol
		active[t] = math.Sqrt(rs[t]) > thresh[t]
		if active[t] {
			remain++
		}
	}

	step := make([]float64, cols)
	negStep := make([]float64, cols)
	beta := make([]float64, cols)
	for it := 0; it < maxIter && remain > 0; it++ {
		ap := MulOperator(ks, gammas, alpha, p)
		pap := num.ColDots(p, ap)
		for t := range step {
			step[t], negStep[t] = 0, 0
			if active[t] {
				if pap[t] == 0 {
					active[t] = false
					remain--
					continue
				}
				step[t] = rs[t] / pap[t]
				negStep[t] = -step[t]
			}
		}
		num.AddScaledCols(x, p, step)
		num.AddScaledCols(&r, ap, negStep)

		rsNew := num.ColDots(&r, &r)
		for t := range beta {
			beta[t] = 0
			if active[t] {
				if math.Sqrt(rsNew[t]) <= thresh[t] || rs[t] == 0 {
					active[t] = false
					remain--
					continue
				}
				beta[t] = rsNew[t] / rs[t]
			}
		}
		num.ScaleCols(p, p, beta)
		p.Add(p, &r)
		rs = rsNew
	}
	return x
}

// GradientDescent solves the same system as ConjugateGradient with a
// fixed-step gradient descent, the step bounded by per-kernel Lipschitz
// constants. rnd seeds the power iteration behind those constants.
func GradientDescent(ks num.Stack, b, gammas, x0 *mat.Dense, alpha float64, maxIter int, tol float64, rnd *rand.Rand) (*mat.Dense, error) {
	lips, err := num.Lipschitz(ks, num.KernelizeX, rnd)
	if err != nil {
		return nil, err
	}

	rows, cols := b.Dims()
	var x *mat.Dense
	if x0 != nil {
		x = mat.DenseCopyOf(x0)
	} else {
		x = num.Zeros(rows, cols)
	}

	step := make([]float64, cols)
	for t := range step {
		l := alpha
		for k := range ks {
			l += gammas.At(k, t) * lips[k]
		}
		step[t] = -1 / (l + 1e-15)
	}

	thresh := num.ColNorms(b)
	for t := range thresh {
		thresh[t] *= tol
	}

	var g mat.Dense
	for it := 0; it < maxIter; it++ {
		g.Sub(MulOperator(ks, gammas, alpha, x), b)
		done := true
		for t, n := range num.ColNorms(&g) {
			if n > thresh[t] {
				done = false
				break
			}
		}
		if done {
			break
		}
		num.AddScaledCols(x, &g, step)
	}
	return x, nil
}

// NeumannSeries approximates the solution of the ridge system with a
// truncated Neumann series: 𝐀⁻¹ ≈ 𝚏𝚊𝚌𝚝𝚘𝚛·Σᵢ (𝐈 - 𝚏𝚊𝚌𝚝𝚘𝚛·𝐀)ⁱ.
func NeumannSeries(ks num.Stack, b, gammas *mat.Dense, maxIter int, factor, alpha float64) *mat.Dense {
	term := mat.DenseCopyOf(b)
	sum := mat.DenseCopyOf(b)
	var next mat.Dense
	for i := 1; i < maxIter; i++ {
		at := MulOperator(ks, gammas, alpha, term)
		at.Scale(factor, at)
		next.Sub(term, at)
		term.Copy(&next)
		sum.Add(sum, term)
	}
	sum.Scale(factor, sum)
	return sum
}
