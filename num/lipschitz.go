// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package num

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Kernelize selects how each matrix is symmetrized before the
// power iteration.
type Kernelize int

const (
	// KernelizeXTX estimates the top eigenvalue of 𝐗ᵗ𝐗.
	KernelizeXTX Kernelize = iota
	// KernelizeXXT estimates the top eigenvalue of 𝐗𝐗ᵗ.
	KernelizeXXT
	// KernelizeX uses the matrix as-is, assuming it is already symmetric.
	KernelizeX
)

const (
	lipschitzIter = 10
	normEps       = 1e-16
)

// Lipschitz estimates the largest eigenvalue of each matrix in the batch
// using a fixed number of power iterations.
//
// The estimate is only as accurate as the spectral gap allows, which is
// acceptable for sizing a conservative gradient step. A nil rnd falls back
// to a wall-clock seeded generator.
func Lipschitz(xs []*mat.Dense, mode Kernelize, rnd *rand.Rand) ([]float64, error) {
	if rnd == nil {
		rnd = TimeRand()
	}

	kernels := make([]*mat.Dense, len(xs))
	switch mode {
	case KernelizeXTX:
		for i, x := range xs {
			var k mat.Dense
			k.Mul(x.T(), x)
			kernels[i] = &k
		}
	case KernelizeXXT:
		for i, x := range xs {
			var k mat.Dense
			k.Mul(x, x.T())
			kernels[i] = &k
		}
	case KernelizeX:
		copy(kernels, xs)
	default:
		return nil, fmt.Errorf("unknown parameter kernelize=%d", mode)
	}

	evs := make([]float64, len(kernels))
	for i, k := range kernels {
		n, _ := k.Dims()
		v := mat.NewVecDense(n, nil)
		for j := 0; j < n; j++ {
			v.SetVec(j, rnd.NormFloat64())
		}
		var kv mat.VecDense
		for it := 0; it < lipschitzIter; it++ {
			v.ScaleVec(1/(mat.Norm(v, 2)+normEps), v)
			kv.MulVec(k, v)
			v.CopyVec(&kv)
		}
		evs[i] = mat.Norm(v, 2)
	}
	return evs, nil
}
