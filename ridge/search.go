// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ridge

import (
	"errors"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/curioloop/mkridge/num"
)

// DirichletSamples draws n kernel-weight combinations from Dirichlet
// distributions, cycling through the given concentrations. Each row of the
// result sums to one. A nil rnd falls back to a wall-clock seeded generator.
func DirichletSamples(n, nKernels int, concentrations []float64, rnd *rand.Rand) *mat.Dense {
	if rnd == nil {
		rnd = num.TimeRand()
	}
	dists := make([]*distmv.Dirichlet, len(concentrations))
	for i, c := range concentrations {
		alpha := make([]float64, nKernels)
		for j := range alpha {
			alpha[j] = c
		}
		dists[i] = distmv.NewDirichlet(alpha, rnd)
	}
	out := mat.NewDense(n, nKernels, nil)
	row := make([]float64, nKernels)
	for i := 0; i < n; i++ {
		dists[i%len(dists)].Rand(row)
		out.SetRow(i, row)
	}
	return out
}

// Search specifies a random search over kernel-weight combinations and
// ridge penalties, scored by cross-validation.
type Search struct {
	Ks             num.Stack   // training kernels, (nKernels) of (n×n)
	Y              *mat.Dense  // training targets, (n×nTargets)
	Gammas         *mat.Dense  // kernel-weight candidates, (nCandidates×nKernels)
	Alphas         []float64   // ridge penalty candidates
	CV             Splitter    // optional, defaults to KFold{5}
	Score          ScoreFunc   // optional, defaults to R2Score
	TargetBatch    int         // optional target batch size for predictions
	ComputeWeights bool        // refit dual weights for the winning candidates
	Progress       func(done, total int)
}

// SearchResult holds the per-target winners of a Search.
type SearchResult struct {
	// Scores is the best cross-validated score over penalties, one row per
	// candidate, one column per target.
	Scores *mat.Dense
	// BestGammas holds the winning kernel weights, (nKernels×nTargets).
	BestGammas *mat.Dense
	// BestAlphas holds the winning penalty per target.
	BestAlphas []float64
	// DualWeights are the full-data refit coefficients for the winning
	// combination per target. Nil unless ComputeWeights was set.
	DualWeights *mat.Dense
}

// Run evaluates every candidate on every fold. The per-fold kernel is
// eigendecomposed once per candidate so that all penalties share the same
// factorization.
func (s *Search) Run() (*SearchResult, error) {
	if len(s.Ks) == 0 {
		return nil, errors.New("kernel stack must not be empty")
	}
	if s.Y == nil {
		return nil, errors.New("target matrix is required")
	}
	n, nTargets := s.Y.Dims()
	for _, k := range s.Ks {
		r, c := k.Dims()
		if r != n || c != n {
			return nil, errors.New("kernel dimensions must match sample count")
		}
	}
	if s.Gammas == nil {
		return nil, errors.New("kernel weight candidates are required")
	}
	nCand, nKernels := s.Gammas.Dims()
	if nKernels != len(s.Ks) {
		return nil, errors.New("candidate width must match kernel count")
	}
	if len(s.Alphas) == 0 {
		return nil, errors.New("penalty candidates are required")
	}

	cv := s.CV
	if cv == nil {
		cv = KFold{K: 5}
	}
	score := s.Score
	if score == nil {
		score = R2Score
	}
	batch := s.TargetBatch
	if batch <= 0 {
		batch = nTargets
	}

	folds := cv.Split(n)
	nSplits := len(folds)

	scores := mat.NewDense(nCand, nTargets, nil)
	bestScore := make([]float64, nTargets)
	bestCand := make([]int, nTargets)
	bestAlpha := make([]float64, nTargets)
	for t := range bestScore {
		bestScore[t] = math.Inf(-1)
	}

	cvScores := make([][]float64, len(s.Alphas))
	for a := range cvScores {
		cvScores[a] = make([]float64, nTargets)
	}

	for c := 0; c < nCand; c++ {
		kc := combineKernels(s.Ks, mat.Row(nil, c, s.Gammas))
		for a := range cvScores {
			for t := range cvScores[a] {
				cvScores[a][t] = 0
			}
		}

		for _, fold := range folds {
			kTrain := num.Gather(kc, fold.Train, fold.Train)
			kVal := num.Gather(kc, fold.Val, fold.Train)
			vals, vecs, err := symEig(kTrain)
			if err != nil {
				return nil, err
			}
			yTrain := num.Gather(s.Y, fold.Train, nil)
			yVal := num.Gather(s.Y, fold.Val, nil)

			var w mat.Dense
			w.Mul(vecs.T(), yTrain)

			for a, alpha := range s.Alphas {
				for b0 := 0; b0 < nTargets; b0 += batch {
					b1 := min(b0+batch, nTargets)
					var scaled, dual, preds mat.Dense
					wb := w.Slice(0, len(fold.Train), b0, b1).(*mat.Dense)
					scaled.CloneFrom(wb)
					scaleRows(&scaled, vals, alpha)
					dual.Mul(vecs, &scaled)
					preds.Mul(kVal, &dual)
					yb := yVal.Slice(0, len(fold.Val), b0, b1).(*mat.Dense)
					for t, v := range score(yb, &preds) {
						cvScores[a][b0+t] += v / float64(nSplits)
					}
				}
			}
		}

		for t := 0; t < nTargets; t++ {
			bs, ba := math.Inf(-1), s.Alphas[0]
			for a := range s.Alphas {
				if cvScores[a][t] > bs {
					bs, ba = cvScores[a][t], s.Alphas[a]
				}
			}
			scores.Set(c, t, bs)
			if bs > bestScore[t] {
				bestScore[t], bestCand[t], bestAlpha[t] = bs, c, ba
			}
		}

		if s.Progress != nil {
			s.Progress(c+1, nCand)
		}
	}

	bestGammas := mat.NewDense(nKernels, nTargets, nil)
	for t := 0; t < nTargets; t++ {
		for k := 0; k < nKernels; k++ {
			bestGammas.Set(k, t, s.Gammas.At(bestCand[t], k))
		}
	}

	res := &SearchResult{
		Scores:     scores,
		BestGammas: bestGammas,
		BestAlphas: bestAlpha,
	}
	if !s.ComputeWeights {
		return res, nil
	}

	dualWeights := num.Zeros(n, nTargets)
	byCand := make(map[int][]int)
	for t, c := range bestCand {
		byCand[c] = append(byCand[c], t)
	}
	for c, targets := range byCand {
		kc := combineKernels(s.Ks, mat.Row(nil, c, s.Gammas))
		vals, vecs, err := symEig(kc)
		if err != nil {
			return nil, err
		}
		yc := num.Gather(s.Y, nil, targets)
		var w, dual mat.Dense
		w.Mul(vecs.T(), yc)
		for j, t := range targets {
			for i := 0; i < n; i++ {
				w.Set(i, j, w.At(i, j)/(vals[i]+bestAlpha[t]))
			}
		}
		dual.Mul(vecs, &w)
		for j, t := range targets {
			for i := 0; i < n; i++ {
				dualWeights.Set(i, t, dual.At(i, j))
			}
		}
	}
	res.DualWeights = dualWeights
	return res, nil
}

// combineKernels computes Σₖ wₖ·𝐊ₖ.
func combineKernels(ks num.Stack, w []float64) *mat.Dense {
	n, _ := ks[0].Dims()
	out := num.Zeros(n, n)
	var tmp mat.Dense
	for k, kk := range ks {
		tmp.Scale(w[k], kk)
		out.Add(out, &tmp)
	}
	return out
}

// scaleRows divides row i of w by (vals[i] + alpha).
func scaleRows(w *mat.Dense, vals []float64, alpha float64) {
	raw := w.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		f := 1 / (vals[i] + alpha)
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] *= f
		}
	}
}

// symEig eigendecomposes a symmetric kernel, symmetrizing first to absorb
// round-off from the gather.
func symEig(k *mat.Dense) ([]float64, *mat.Dense, error) {
	n, _ := k.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(k.At(i, j)+k.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, nil, errors.New("kernel eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	return vals, &vecs, nil
}
