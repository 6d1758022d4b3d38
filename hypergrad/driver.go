// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hypergrad

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
	"github.com/curioloop/mkridge/ridge"
)

const (
	// stronger configuration of the first dual refit; later rounds rely
	// on that starting point
	firstRefitIter = 50
	firstRefitTol  = 1e-2
	// final full-data refit
	finalRefitIter = 100
	finalRefitTol  = 1e-3
)

// batchState holds the per-fold working state of one target batch.
// Fold count is fixed for a fit call, so every slice is allocated once
// and indexed by fold number.
type batchState struct {
	dualCV    []*mat.Dense // per-fold dual weights on the train rows
	prevSol   []*mat.Dense // warm starts of the Hessian-inverse solve
	stepSizes [][]float64
	yTrain    []*mat.Dense
	yVal      []*mat.Dense
}

// Solve runs the hypergradient descent over every target batch and
// returns the score history, the refit dual weights and the final deltas.
func (s *Solver) Solve() (*Result, error) {
	sp := &s.spec

	deltas, dualWeights, err := sp.initialize()
	if err != nil {
		return nil, err
	}

	folds := sp.cv.Split(sp.nSamples)

	// fold kernels depend only on the fixed split, not on the batch or
	// the iteration
	foldTrain := make([]num.Stack, len(folds))
	foldVal := make([]num.Stack, len(folds))
	for kk, fold := range folds {
		foldTrain[kk] = sp.ks.Gather(fold.Train, fold.Train)
		foldVal[kk] = sp.ks.Gather(fold.Val, fold.Train)
	}

	scores := make([][]float64, sp.maxIter*sp.maxInnerHyper)
	for i := range scores {
		scores[i] = make([]float64, sp.nTargets)
	}

	nBatches := (sp.nTargets + sp.batch - 1) / sp.batch
	for bb, start := 0, 0; start < sp.nTargets; bb, start = bb+1, start+sp.batch {
		stop := min(start+sp.batch, sp.nTargets)
		err := sp.solveBatch(bb, nBatches, start, stop, folds, foldTrain, foldVal, deltas, dualWeights, scores)
		if err != nil {
			return nil, err
		}
	}

	return &Result{Scores: scores, DualWeights: dualWeights, Deltas: deltas}, nil
}

func (sp *solveSpec) solveBatch(bb, nBatches, start, stop int, folds []ridge.Fold, foldTrain, foldVal []num.Stack, deltas, dualWeights *mat.Dense, scores [][]float64) error {
	nSplits := len(folds)
	cols := make([]int, stop-start)
	for i := range cols {
		cols[i] = start + i
	}

	deltasB := deltas.Slice(0, sp.nKernels, start, stop).(*mat.Dense)

	st := batchState{
		dualCV:    make([]*mat.Dense, nSplits),
		prevSol:   make([]*mat.Dense, nSplits),
		stepSizes: make([][]float64, nSplits),
		yTrain:    make([]*mat.Dense, nSplits),
		yVal:      make([]*mat.Dense, nSplits),
	}
	for kk, fold := range folds {
		// slicing the global initialization at the train rows may be a
		// poor starting point
		st.dualCV[kk] = num.Gather(dualWeights, fold.Train, cols)
		st.yTrain[kk] = num.Gather(sp.y, fold.Train, cols)
		st.yVal[kk] = num.Gather(sp.y, fold.Val, cols)
	}

	for ii := 0; ii < sp.maxIter; ii++ {
		if sp.logger.enable(LogProgress) {
			sp.logger.log("batch %d/%d iteration %d/%d\n", bb+1, nBatches, ii+1, sp.maxIter)
		}

		gammas := num.Exp(deltasB)

		// refit the dual weights with the current kernel weights
		for kk := range folds {
			if ii == 0 {
				// the first pass needs more iterations to produce
				// something reasonable, and conjugate gradients
				// converge faster
				tol := math.Min(firstRefitTol, sp.cgTol[0])
				st.dualCV[kk] = ridge.ConjugateGradient(
					foldTrain[kk], st.yTrain[kk], gammas, st.dualCV[kk],
					ridgePenalty, firstRefitIter, tol)
				continue
			}
			sol, err := sp.ridgeSolve(foldTrain[kk], st.yTrain[kk], gammas, st.dualCV[kk], sp.maxInnerDual, sp.cgTol[ii])
			if err != nil {
				return err
			}
			st.dualCV[kk] = sol
		}

		deltasOld := mat.DenseCopyOf(deltasB)
		for jj := 0; jj < sp.maxInnerHyper; jj++ {
			if err := sp.updateDeltas(ii, jj, start, stop, folds, foldTrain, foldVal, deltasB, &st, scores); err != nil {
				return fmt.Errorf("target batch %d iteration %d: %w", bb, ii, err)
			}
		}

		if sp.tol > 0 && num.MaxAbsDiff(deltasOld, deltasB) < sp.tol {
			break
		}
	}

	// refit the dual weights on the entire training set with the final
	// kernel weights
	gammas := num.Exp(deltasB)
	yB := sp.y.Slice(0, sp.nSamples, start, stop).(*mat.Dense)
	dualB := dualWeights.Slice(0, sp.nSamples, start, stop).(*mat.Dense)
	refit := ridge.ConjugateGradient(sp.ks, yB, gammas, dualB, ridgePenalty, finalRefitIter, finalRefitTol)
	dualB.Copy(refit)
	return nil
}

// updateDeltas performs one hypergradient step: per-fold gradients are
// combined weighted by validation-set size, the step size is the
// elementwise minimum over folds, and the fold-mean score is recorded.
func (sp *solveSpec) updateDeltas(ii, jj, start, stop int, folds []ridge.Fold, foldTrain, foldVal []num.Stack, deltasB *mat.Dense, st *batchState, scores [][]float64) error {
	nSplits := len(folds)
	width := stop - start

	grads := num.Zeros(sp.nKernels, width)
	foldScores := make([][]float64, nSplits)

	var weighted mat.Dense
	for kk, fold := range folds {
		grad, step, preds, sol, err := sp.deltaGradient(
			foldVal[kk], st.yVal[kk], deltasB, st.dualCV[kk],
			foldTrain[kk], sp.cgTol[ii], st.prevSol[kk])
		if err != nil {
			return err
		}
		weighted.Scale(float64(len(fold.Val))/float64(sp.nSamples), grad)
		grads.Add(grads, &weighted)
		foldScores[kk] = sp.score(st.yVal[kk], preds)
		st.prevSol[kk] = sol
		st.stepSizes[kk] = step
	}

	it := ii*sp.maxInnerHyper + jj
	for t := 0; t < width; t++ {
		mean := 0.0
		for kk := range foldScores {
			mean += foldScores[kk][t]
		}
		scores[it][start+t] = mean / float64(nSplits)
	}

	// the minimum step size over folds is the safe choice
	stepMin := make([]float64, width)
	copy(stepMin, st.stepSizes[0])
	for kk := 1; kk < nSplits; kk++ {
		for t, v := range st.stepSizes[kk] {
			if v < stepMin[t] {
				stepMin[t] = v
			}
		}
	}

	for k := 0; k < sp.nKernels; k++ {
		for t := 0; t < width; t++ {
			deltasB.Set(k, t, deltasB.At(k, t)-grads.At(k, t)*stepMin[t])
		}
	}
	if !num.AllFinite(num.Exp(deltasB)) {
		return fmt.Errorf("%w: kernel weights overflow after delta update", ErrDivergence)
	}

	if sp.logger.enable(LogTrace) {
		sp.logger.log("  inner %d score %.6g step %.3g\n", jj, scores[it][start], stepMin[0])
	}
	return nil
}
