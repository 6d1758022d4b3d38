// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hypergrad

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
)

const (
	// ridge penalty of the inner solves; the kernel weights absorb the
	// actual regularization through 𝛅 = 𝚕𝚘𝚐(𝛄/𝛂)
	ridgePenalty = 1.0
	// iteration cap of the warm-started Hessian-inverse solve
	hyperSolveIter = 100
	// truncation and scale of the Neumann approximation
	neumannIter   = 5
	neumannFactor = 1e-5
	// guards against a zero Lipschitz estimate
	stepEps = 1e-15
)

// expDeltaChi computes 𝚎𝚡𝚙(𝛅ₖ)·(𝐊ₖ·𝐖) per kernel along with the summed
// predictions.
func expDeltaChi(ks num.Stack, expDelta, dualWeights *mat.Dense) ([]*mat.Dense, *mat.Dense) {
	chi := ks.MulEach(dualWeights)
	r, c := chi[0].Dims()
	preds := num.Zeros(r, c)
	for k, m := range chi {
		num.ScaleCols(m, m, mat.Row(nil, k, expDelta))
		preds.Add(preds, m)
	}
	return chi, preds
}

// DeltaLoss computes the per-target L2 validation loss
// ½‖Σₖ 𝚎𝚡𝚙(𝛅ₖ)·𝐊ₖᵛᵃˡ·𝐖 − 𝐘ᵛᵃˡ‖².
func DeltaLoss(ksVal num.Stack, yVal, deltas, dualWeights *mat.Dense) []float64 {
	_, preds := expDeltaChi(ksVal, num.Exp(deltas), dualWeights)
	var res mat.Dense
	res.Sub(preds, yVal)
	loss := num.ColDots(&res, &res)
	for t, v := range loss {
		loss[t] = 0.5 * v
	}
	return loss
}

// deltasHessian builds the per-target Hessian of the direct gradient.
//
// The direct gradient corresponds to the linear problem
// 𝚊𝚛𝚐𝚖𝚒𝚗_𝛅 ‖𝚎𝚡𝚙(𝛅)·𝛘 − 𝐘‖² with 𝛘 = 𝐊·𝐖. The Hessian is not just 𝛘ᵗ𝛘:
// the exponential parametrization adds the right-hand side to the diagonal.
func deltasHessian(edChi []*mat.Dense, y *mat.Dense) []*mat.Dense {
	nKernels := len(edChi)
	nVal, nTargets := edChi[0].Dims()

	hs := make([]*mat.Dense, nTargets)
	for t := 0; t < nTargets; t++ {
		x := num.Zeros(nVal, nKernels)
		for k := 0; k < nKernels; k++ {
			for i := 0; i < nVal; i++ {
				x.Set(i, k, edChi[k].At(i, t))
			}
		}
		h := num.Zeros(nKernels, nKernels)
		h.Mul(x.T(), x)
		for k := 0; k < nKernels; k++ {
			xtb := 0.0
			for i := 0; i < nVal; i++ {
				xtb += x.At(i, k) * y.At(i, t)
			}
			h.Set(k, k, 2*h.At(k, k)+xtb)
		}
		hs[t] = h
	}
	return hs
}

// deltaGradient computes, for one fold, the gradient of the validation
// loss with respect to the deltas, a safe step size per target, the fold's
// validation predictions and, for the indirect methods, the Hessian-inverse
// solution used to warm-start the next call.
func (sp *solveSpec) deltaGradient(ksVal num.Stack, yVal, deltas, dualWeights *mat.Dense, ksTrain num.Stack, tol float64, prev *mat.Dense) (grad *mat.Dense, step []float64, preds, sol *mat.Dense, err error) {
	nKernels, nTargets := deltas.Dims()
	expDelta := num.Exp(deltas)

	edChi, preds := expDeltaChi(ksVal, expDelta, dualWeights)

	var residuals mat.Dense
	residuals.Sub(preds, yVal)

	direct := num.Zeros(nKernels, nTargets)
	for k, m := range edChi {
		direct.SetRow(k, num.ColDots(&residuals, m))
	}

	// these Lipschitz constants only bound the direct gradient
	lips, err := num.Lipschitz(deltasHessian(edChi, yVal), num.KernelizeX, sp.rnd)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	step = lips
	for t, l := range step {
		step[t] = 1 / (l + stepEps)
	}

	if sp.gradMethod == GradientDirect {
		return direct, step, preds, nil, nil
	}

	if ksTrain == nil {
		return nil, nil, nil, nil, errors.New("training kernels are required for the indirect gradient")
	}
	if sp.gradMethod == GradientConjugate && !(tol > 0) {
		return nil, nil, nil, nil, errors.New("tolerance is required for the conjugate hypergradient")
	}

	nTrain, _ := dualWeights.Dims()
	nabla := num.Zeros(nTrain, nTargets)
	var tmp mat.Dense
	for k := range ksVal {
		tmp.Mul(ksVal[k].T(), &residuals)
		num.AddScaledCols(nabla, &tmp, mat.Row(nil, k, expDelta))
	}

	// solve (Σₖ 𝚎𝚡𝚙(𝛅ₖ)·𝐊ₖ + 𝐈)·𝐗 = 𝛁g₁
	sol = sp.hyperSolve(ksTrain, nabla, expDelta, prev, tol)

	chiTrain := ksTrain.MulEach(dualWeights)
	indirect := num.Zeros(nKernels, nTargets)
	for k, m := range chiTrain {
		dots := num.ColDots(m, sol)
		for t := range dots {
			dots[t] *= expDelta.At(k, t)
		}
		indirect.SetRow(k, dots)
	}

	grad = num.Zeros(nKernels, nTargets)
	grad.Sub(direct, indirect)
	if !num.AllFinite(grad) {
		return nil, nil, nil, nil, fmt.Errorf("%w: non-finite hypergradient", ErrDivergence)
	}
	return grad, step, preds, sol, nil
}
