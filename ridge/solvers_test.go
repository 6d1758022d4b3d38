// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
)

// spdKernel builds 𝐀𝐀ᵗ/n + s·𝐈, a well-conditioned SPD kernel.
func spdKernel(n int, s float64, rnd interface{ NormFloat64() float64 }) *mat.Dense {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rnd.NormFloat64())
		}
	}
	var k mat.Dense
	k.Mul(a, a.T())
	k.Scale(1/float64(n), &k)
	for i := 0; i < n; i++ {
		k.Set(i, i, k.At(i, i)+s)
	}
	return &k
}

func randDense(r, c int, rnd interface{ NormFloat64() float64 }) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rnd.NormFloat64())
		}
	}
	return m
}

func residualNorms(ks num.Stack, b, gammas, x *mat.Dense, alpha float64) []float64 {
	var res mat.Dense
	res.Sub(MulOperator(ks, gammas, alpha, x), b)
	return num.ColNorms(&res)
}

func TestMulOperator(t *testing.T) {
	k1 := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	k2 := mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	gammas := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})

	out := MulOperator(num.Stack{k1, k2}, gammas, 0.5, x)
	// column 0 weights only k1, column 1 only k2
	assert.InDelta(t, 1*1+0.5*1, out.At(0, 0), 1e-15)
	assert.InDelta(t, 4+0.5*2, out.At(0, 1), 1e-15)
	assert.InDelta(t, 3+0.5*3, out.At(1, 0), 1e-15)
	assert.InDelta(t, 2+0.5*4, out.At(1, 1), 1e-15)
}

func TestConjugateGradient(t *testing.T) {
	rnd := num.NewRand(11)
	ks := num.Stack{spdKernel(8, 0.5, rnd), spdKernel(8, 0.5, rnd)}
	b := randDense(8, 3, rnd)
	gammas := num.Full(2, 3, 1)

	x := ConjugateGradient(ks, b, gammas, nil, 1, 200, 1e-12)
	for _, n := range residualNorms(ks, b, gammas, x, 1) {
		assert.Less(t, n, 1e-9)
	}
}

func TestConjugateGradientWarmStart(t *testing.T) {
	rnd := num.NewRand(12)
	ks := num.Stack{spdKernel(6, 1, rnd)}
	b := randDense(6, 2, rnd)
	gammas := num.Full(1, 2, 1)

	x0 := ConjugateGradient(ks, b, gammas, nil, 1, 100, 1e-14)
	// warm-starting from the solution leaves it untouched
	x1 := ConjugateGradient(ks, b, gammas, x0, 1, 100, 1e-10)
	assert.InDelta(t, 0.0, num.MaxAbsDiff(x0, x1), 1e-12)
}

func TestGradientDescent(t *testing.T) {
	rnd := num.NewRand(13)
	ks := num.Stack{spdKernel(6, 0.5, rnd)}
	b := randDense(6, 2, rnd)
	gammas := num.Full(1, 2, 1)

	x, err := GradientDescent(ks, b, gammas, nil, 1, 5000, 1e-8, rnd)
	require.NoError(t, err)
	for _, n := range residualNorms(ks, b, gammas, x, 1) {
		assert.Less(t, n, 1e-6)
	}
}

func TestNeumannSeries(t *testing.T) {
	// with 𝐊₁ = 𝐊₂ = 𝐈 and 𝛂 = 1 the operator is 3𝐈, whose inverse the
	// series reaches once 𝚏𝚊𝚌𝚝𝚘𝚛·3 < 1
	eye := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		eye.Set(i, i, 1)
	}
	ks := num.Stack{eye, eye}
	b := randDense(4, 2, num.NewRand(14))
	gammas := num.Full(2, 2, 1)

	x := NeumannSeries(ks, b, gammas, 200, 0.3, 1)
	var want mat.Dense
	want.Scale(1.0/3.0, b)
	assert.InDelta(t, 0.0, num.MaxAbsDiff(x, &want), 1e-12)
}
