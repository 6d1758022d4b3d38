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

func TestDirichletSamples(t *testing.T) {
	samples := DirichletSamples(10, 4, []float64{0.1, 1}, num.NewRand(21))
	r, c := samples.Dims()
	require.Equal(t, 10, r)
	require.Equal(t, 4, c)
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			v := samples.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}

	again := DirichletSamples(10, 4, []float64{0.1, 1}, num.NewRand(21))
	assert.InDelta(t, 0.0, num.MaxAbsDiff(samples, again), 0)
}

func TestSearchValidation(t *testing.T) {
	_, err := (&Search{}).Run()
	require.ErrorContains(t, err, "kernel stack")

	eye := identity(4)
	_, err = (&Search{Ks: num.Stack{eye}}).Run()
	require.ErrorContains(t, err, "target matrix")

	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	_, err = (&Search{Ks: num.Stack{eye}, Y: y}).Run()
	require.ErrorContains(t, err, "candidates are required")

	gammas := num.Full(1, 2, 0.5)
	_, err = (&Search{Ks: num.Stack{eye}, Y: y, Gammas: gammas, Alphas: []float64{1}}).Run()
	require.ErrorContains(t, err, "candidate width")
}

func TestSearchPicksInformativeKernel(t *testing.T) {
	rnd := num.NewRand(22)
	n := 12

	// the first kernel is built from three informative features, the
	// second is an identity kernel whose cross-fold predictions vanish
	x := randDense(n, 3, rnd)
	var signalM mat.Dense
	signalM.Mul(x, x.T())
	signalM.Scale(1.0/3.0, &signalM)
	signal, noise := &signalM, identity(n)

	beta := randDense(3, 2, rnd)
	var y mat.Dense
	y.Mul(x, beta)

	search := &Search{
		Ks: num.Stack{signal, noise},
		Y:  &y,
		Gammas: mat.NewDense(2, 2, []float64{
			1, 0,
			0, 1,
		}),
		Alphas:         []float64{0.01, 1},
		CV:             KFold{K: 3},
		ComputeWeights: true,
	}
	res, err := search.Run()
	require.NoError(t, err)

	r, c := res.Scores.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, c)
	for t2 := 0; t2 < c; t2++ {
		assert.Equal(t, 1.0, res.BestGammas.At(0, t2), "target %d should pick the signal kernel", t2)
		assert.Equal(t, 0.0, res.BestGammas.At(1, t2))
		assert.Greater(t, res.Scores.At(0, t2), res.Scores.At(1, t2))
	}

	// the refit dual weights solve (𝐊 + 𝛂·𝐈)·𝐱 = 𝐲 exactly
	require.NotNil(t, res.DualWeights)
	for t2 := 0; t2 < c; t2++ {
		gammas := mat.NewDense(2, 1, []float64{1, 0})
		xt := num.Gather(res.DualWeights, nil, []int{t2})
		yt := num.Gather(&y, nil, []int{t2})
		var res2 mat.Dense
		res2.Sub(MulOperator(search.Ks, gammas, res.BestAlphas[t2], xt), yt)
		assert.Less(t, num.ColNorms(&res2)[0], 1e-7)
	}
}

func TestSearchTargetBatch(t *testing.T) {
	rnd := num.NewRand(23)
	n := 10
	k := spdKernel(n, 0.5, rnd)
	y := randDense(n, 3, rnd)

	base := &Search{
		Ks:     num.Stack{k},
		Y:      y,
		Gammas: num.Full(1, 1, 1),
		Alphas: []float64{0.1, 1, 10},
		CV:     KFold{K: 2},
	}
	all, err := base.Run()
	require.NoError(t, err)

	batched := *base
	batched.TargetBatch = 1
	one, err := batched.Run()
	require.NoError(t, err)

	assert.InDelta(t, 0.0, num.MaxAbsDiff(all.Scores, one.Scores), 1e-12)
	assert.Equal(t, all.BestAlphas, one.BestAlphas)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
