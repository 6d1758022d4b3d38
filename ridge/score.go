// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ridge

import (
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
)

// ScoreFunc computes a per-target score of predictions against targets.
// Larger is better.
type ScoreFunc func(yTrue, yPred *mat.Dense) []float64

// R2Score computes the per-target coefficient of determination
// 1 - ‖y - ŷ‖²/‖y - ȳ‖².
func R2Score(yTrue, yPred *mat.Dense) []float64 {
	r, c := yTrue.Dims()
	var res mat.Dense
	res.Sub(yPred, yTrue)
	ssRes := num.ColDots(&res, &res)

	means := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			means[j] += yTrue.At(i, j)
		}
	}
	for j := range means {
		means[j] /= float64(r)
	}
	ssTot := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := yTrue.At(i, j) - means[j]
			ssTot[j] += d * d
		}
	}

	scores := make([]float64, c)
	for j := range scores {
		if ssTot[j] == 0 {
			scores[j] = 0
			continue
		}
		scores[j] = 1 - ssRes[j]/ssTot[j]
	}
	return scores
}

// NegMSE computes the per-target negated mean squared error.
func NegMSE(yTrue, yPred *mat.Dense) []float64 {
	r, _ := yTrue.Dims()
	var res mat.Dense
	res.Sub(yPred, yTrue)
	scores := num.ColDots(&res, &res)
	for j, v := range scores {
		scores[j] = -v / float64(r)
	}
	return scores
}
