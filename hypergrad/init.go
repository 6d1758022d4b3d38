// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hypergrad

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
	"github.com/curioloop/mkridge/ridge"
)

const (
	dirichletSamples = 10
	searchGridLow    = -10
	searchGridHigh   = 25
	searchGridSize   = 31
)

// dirichlet candidates cover a sparse and a near-uniform regime
var dirichletConcentrations = []float64{0.1, 1}

// initialize produces the starting deltas and dual weights.
//
// The search strategies run the random-search solver over kernel-weight
// candidates and a log-spaced penalty grid, then fold the winning penalty
// into the deltas: 𝛅 = 𝚕𝚘𝚐(𝛄*/𝛂*) and the dual weights are rescaled by 𝛂*.
func (sp *solveSpec) initialize() (deltas, dualWeights *mat.Dense, err error) {
	switch sp.init.Strategy {
	case InitConst:
		deltas = num.Full(sp.nKernels, sp.nTargets, sp.init.Const)

	case InitArray:
		deltas = mat.DenseCopyOf(sp.init.Deltas)

	case InitDirichlet, InitRidgeCV:
		var gammas *mat.Dense
		if sp.init.Strategy == InitDirichlet {
			gammas = ridge.DirichletSamples(dirichletSamples, sp.nKernels, dirichletConcentrations, sp.rnd)
		} else {
			gammas = num.Full(1, sp.nKernels, 1/float64(sp.nKernels))
		}

		search := &ridge.Search{
			Ks:             sp.ks,
			Y:              sp.y,
			Gammas:         gammas,
			Alphas:         num.Logspace(searchGridLow, searchGridHigh, searchGridSize),
			CV:             sp.cv,
			Score:          sp.score,
			TargetBatch:    sp.batch,
			ComputeWeights: true,
		}
		if sp.logger.enable(LogProgress) {
			search.Progress = func(done, total int) {
				sp.logger.log("init search %d/%d candidates\n", done, total)
			}
		}
		var res *ridge.SearchResult
		if res, err = search.Run(); err != nil {
			return nil, nil, err
		}

		deltas = num.Zeros(sp.nKernels, sp.nTargets)
		for k := 0; k < sp.nKernels; k++ {
			for t := 0; t < sp.nTargets; t++ {
				deltas.Set(k, t, math.Log(res.BestGammas.At(k, t)/res.BestAlphas[t]))
			}
		}
		dualWeights = res.DualWeights
		num.ScaleCols(dualWeights, dualWeights, res.BestAlphas)
	}

	if dualWeights == nil {
		if sp.initialDual != nil {
			dualWeights = mat.DenseCopyOf(sp.initialDual)
		} else {
			dualWeights = num.Zeros(sp.nSamples, sp.nTargets)
		}
	}
	return deltas, dualWeights, nil
}
