// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hypergrad solves multiple-kernel ridge regression with
// cross-validated hyperparameter tuning via hypergradient descent.
//
// Given a stack of precomputed kernels 𝐊₁…𝐊ₘ and targets 𝐘, it jointly
// learns per-target dual weights and per-target log kernel weights
// ("deltas", 𝛅 = 𝚕𝚘𝚐(𝛄/𝛂)) by descending a cross-validation objective:
// an outer gradient descent over the deltas wraps an inner ridge solve of
//
//	(Σₖ 𝚎𝚡𝚙(𝛅ₖ)·𝐊ₖ + 𝐈)·𝐱 = 𝐛
//
// per fold. The hypergradient is the sum of a direct term and, unless
// disabled, an indirect term obtained by implicit differentiation through
// the inner solve.
package hypergrad

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mkridge/num"
	"github.com/curioloop/mkridge/ridge"
)

// ErrDivergence reports that a delta update or a hypergradient produced
// non-finite values. The affected target batch is aborted; callers may
// retry with a tighter tolerance or a better-conditioned kernel stack.
var ErrDivergence = errors.New("numerical divergence")

// GradientMethod selects how the hypergradient is computed.
type GradientMethod int

const (
	// GradientConjugate inverts the inner Hessian with a warm-started
	// conjugate-gradient solve.
	GradientConjugate GradientMethod = iota
	// GradientNeumann approximates the inverse with a short Neumann series.
	GradientNeumann
	// GradientDirect keeps only the direct term, treating the dual weights
	// as independent of the deltas. No linear solve is performed.
	GradientDirect
)

// RidgeMethod selects the inner dual-weight solver.
type RidgeMethod int

const (
	// RidgeConjugate refits dual weights by conjugate gradients.
	RidgeConjugate RidgeMethod = iota
	// RidgeGradient refits dual weights by fixed-step gradient descent.
	RidgeGradient
)

// InitStrategy selects how the starting deltas are produced.
type InitStrategy int

const (
	// InitConst fills every delta with Init.Const.
	InitConst InitStrategy = iota
	// InitArray copies Init.Deltas as-is.
	InitArray
	// InitDirichlet searches ten Dirichlet kernel-weight candidates over a
	// log-spaced penalty grid and keeps the per-target winner.
	InitDirichlet
	// InitRidgeCV searches a single uniform kernel-weight combination over
	// the penalty grid, equivalent to plain ridge on the averaged kernel.
	InitRidgeCV
)

// Init specifies the starting deltas and, through the search strategies,
// the starting dual weights.
type Init struct {
	Strategy InitStrategy
	Const    float64    // used by InitConst
	Deltas   *mat.Dense // used by InitArray, (nKernels×nTargets)
}

// LogLevel controls the frequency of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogProgress print one line per target batch and outer iteration.
	LogProgress LogLevel = 0
	// LogTrace print also scores and step sizes of every iteration.
	LogTrace LogLevel = 1
)

// Logger reports optimization progress. It is purely cosmetic: a nil
// logger is a no-op and the output never affects numerics or control flow.
// The writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
}

func (l *Logger) enable(level LogLevel) bool {
	return l != nil && l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Problem specifies a multiple-kernel ridge fit with hypergradient tuning.
type Problem struct {
	Ks num.Stack  // training kernels, (nKernels) of (nSamples×nSamples)
	Y  *mat.Dense // training targets, (nSamples×nTargets)

	// Score computes the per-target validation score. Defaults to R2Score.
	Score ridge.ScoreFunc
	// CV splits samples into folds. When nil, a contiguous KFold with
	// Folds splits (default 10) is used.
	CV    ridge.Splitter
	Folds int

	// Init selects the starting deltas; DualWeights optionally provides
	// starting dual weights for the non-search strategies.
	Init        Init
	DualWeights *mat.Dense

	// MaxIter bounds the outer loop over delta updates. Zero skips
	// straight to the final full-data refit.
	MaxIter int
	// Tol stops the outer loop early once the largest absolute delta
	// change over a round falls below it. Zero means 1e-2; a negative or
	// NaN value disables the check.
	Tol float64
	// MaxIterInnerDual bounds the dual refit on every outer iteration
	// after the first. Default 1.
	MaxIterInnerDual int
	// MaxIterInnerHyper is the number of delta updates per outer
	// iteration. Default 1.
	MaxIterInnerHyper int
	// CGTol is the conjugate-gradient tolerance of the inner solves.
	// Default 1e-3. CGTolIter optionally varies it per outer iteration
	// and must then have length MaxIter.
	CGTol     float64
	CGTolIter []float64
	// TargetBatch processes targets in contiguous batches of this size to
	// bound memory. Default all targets at once.
	TargetBatch int

	Gradient GradientMethod
	Ridge    RidgeMethod

	// Rand seeds the power iterations and the Dirichlet initialization.
	// When nil a wall-clock seeded generator is used and results are not
	// reproducible across runs.
	Rand   *rand.Rand
	Logger *Logger
}

// Result holds the outcome of a fit.
type Result struct {
	// Scores holds the fold-mean validation score of every outer×inner
	// iteration: MaxIter*MaxIterInnerHyper rows of nTargets values.
	Scores [][]float64
	// DualWeights are the kernel ridge coefficients refit on the full
	// training set with the final deltas, (nSamples×nTargets).
	DualWeights *mat.Dense
	// Deltas are the final log kernel weights, (nKernels×nTargets).
	Deltas *mat.Dense
}

// Solver runs the hypergradient descent for one problem.
type Solver struct {
	spec solveSpec
}

type innerSolver func(ks num.Stack, b, gammas, x0 *mat.Dense, maxIter int, tol float64) (*mat.Dense, error)

type hyperSolver func(ks num.Stack, b, gammas, prev *mat.Dense, tol float64) *mat.Dense

type solveSpec struct {
	ks num.Stack
	y  *mat.Dense

	nSamples, nTargets, nKernels int

	score ridge.ScoreFunc
	cv    ridge.Splitter

	init        Init
	initialDual *mat.Dense

	maxIter       int
	tol           float64
	maxInnerDual  int
	maxInnerHyper int
	cgTol         []float64
	batch         int

	gradMethod GradientMethod

	ridgeSolve innerSolver
	hyperSolve hyperSolver // nil for GradientDirect

	rnd    *rand.Rand
	logger *Logger
}

// New validates the problem and dispatches the method selection to
// concrete solvers.
func (p *Problem) New() (*Solver, error) {
	if p.Y == nil {
		return nil, errors.New("target matrix is required")
	}
	nSamples, nTargets := p.Y.Dims()
	nKernels := len(p.Ks)

	var err error
	switch {
	case nKernels == 0:
		err = errors.New("kernel stack must not be empty")
	case p.MaxIter < 0:
		err = errors.New("max iteration must not be negative")
	case p.MaxIterInnerDual < 0:
		err = errors.New("inner dual iteration must not be negative")
	case p.MaxIterInnerHyper < 0:
		err = errors.New("inner hyper iteration must not be negative")
	case p.CGTol < 0:
		err = errors.New("conjugate gradient tolerance must not be negative")
	case p.TargetBatch < 0:
		err = errors.New("target batch size must not be negative")
	case len(p.CGTolIter) > 0 && len(p.CGTolIter) != p.MaxIter:
		err = errors.New("tolerance schedule length must equal max iteration")
	}
	if err != nil {
		return nil, err
	}

	for _, k := range p.Ks {
		r, c := k.Dims()
		if r != nSamples || c != nSamples {
			return nil, errors.New("kernel dimensions must match sample count")
		}
	}
	if p.DualWeights != nil {
		r, c := p.DualWeights.Dims()
		if r != nSamples || c != nTargets {
			return nil, errors.New("initial dual weight dimensions must match targets")
		}
	}

	switch p.Init.Strategy {
	case InitConst, InitDirichlet, InitRidgeCV:
	case InitArray:
		if p.Init.Deltas == nil {
			return nil, errors.New("initial deltas array is required")
		}
		r, c := p.Init.Deltas.Dims()
		if r != nKernels || c != nTargets {
			return nil, errors.New("initial delta dimensions must match kernels and targets")
		}
	default:
		return nil, fmt.Errorf("unknown parameter init strategy=%d", p.Init.Strategy)
	}

	spec := solveSpec{
		ks:          p.Ks,
		y:           p.Y,
		nSamples:    nSamples,
		nTargets:    nTargets,
		nKernels:    nKernels,
		score:       p.Score,
		cv:          p.CV,
		init:        p.Init,
		initialDual: p.DualWeights,
		maxIter:     p.MaxIter,
		tol:         p.Tol,
		gradMethod:  p.Gradient,
		rnd:         p.Rand,
		logger:      p.Logger,
	}

	if spec.score == nil {
		spec.score = ridge.R2Score
	}
	if spec.cv == nil {
		folds := p.Folds
		if folds <= 0 {
			folds = 10
		}
		spec.cv = ridge.KFold{K: folds}
	}
	if spec.rnd == nil {
		spec.rnd = num.TimeRand()
	}
	if spec.logger == nil {
		spec.logger = &Logger{Level: LogNoop}
	}
	if spec.logger.Msg == nil {
		spec.logger.Msg = os.Stdout
	}
	if spec.tol == 0 {
		spec.tol = 1e-2
	}

	spec.maxInnerDual = max(p.MaxIterInnerDual, 1)
	spec.maxInnerHyper = max(p.MaxIterInnerHyper, 1)
	spec.batch = p.TargetBatch
	if spec.batch == 0 {
		spec.batch = nTargets
	}

	cgTol := p.CGTol
	if cgTol == 0 {
		cgTol = 1e-3
	}
	spec.cgTol = p.CGTolIter
	if len(spec.cgTol) == 0 {
		spec.cgTol = make([]float64, max(p.MaxIter, 1))
		for i := range spec.cgTol {
			spec.cgTol[i] = cgTol
		}
	}

	rnd := spec.rnd
	switch p.Ridge {
	case RidgeConjugate:
		spec.ridgeSolve = func(ks num.Stack, b, gammas, x0 *mat.Dense, maxIter int, tol float64) (*mat.Dense, error) {
			return ridge.ConjugateGradient(ks, b, gammas, x0, ridgePenalty, maxIter, tol), nil
		}
	case RidgeGradient:
		spec.ridgeSolve = func(ks num.Stack, b, gammas, x0 *mat.Dense, maxIter int, tol float64) (*mat.Dense, error) {
			return ridge.GradientDescent(ks, b, gammas, x0, ridgePenalty, maxIter, tol, rnd)
		}
	default:
		return nil, fmt.Errorf("unknown parameter kernel ridge method=%d", p.Ridge)
	}

	switch p.Gradient {
	case GradientConjugate:
		spec.hyperSolve = func(ks num.Stack, b, gammas, prev *mat.Dense, tol float64) *mat.Dense {
			return ridge.ConjugateGradient(ks, b, gammas, prev, ridgePenalty, hyperSolveIter, tol)
		}
	case GradientNeumann:
		spec.hyperSolve = func(ks num.Stack, b, gammas, _ *mat.Dense, _ float64) *mat.Dense {
			return ridge.NeumannSeries(ks, b, gammas, neumannIter, neumannFactor, ridgePenalty)
		}
	case GradientDirect:
		spec.hyperSolve = nil
	default:
		return nil, fmt.Errorf("unknown parameter hyper gradient method=%d", p.Gradient)
	}

	if math.IsNaN(spec.tol) {
		spec.tol = -1
	}

	return &Solver{spec: spec}, nil
}
