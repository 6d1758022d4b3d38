// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ridge

// Fold is one train/validation split of sample indices.
type Fold struct {
	Train, Val []int
}

// Splitter produces a fixed partition of sample indices into folds.
// Train and validation indices of each fold are disjoint, and the
// validation sets of all folds cover every sample exactly once.
type Splitter interface {
	// NSplits reports the number of folds.
	NSplits() int
	// Split partitions the sample indices 0..n-1 into folds.
	Split(n int) []Fold
}

// KFold splits samples into K contiguous folds.
type KFold struct {
	K int
}

// NSplits reports the number of folds.
func (k KFold) NSplits() int { return k.K }

// Split partitions 0..n-1 into K contiguous validation blocks. The first
// n%K folds receive one extra sample.
func (k KFold) Split(n int) []Fold {
	folds := make([]Fold, k.K)
	size, rem := n/k.K, n%k.K
	start := 0
	for i := range folds {
		stop := start + size
		if i < rem {
			stop++
		}
		val := make([]int, 0, stop-start)
		train := make([]int, 0, n-(stop-start))
		for j := 0; j < n; j++ {
			if j >= start && j < stop {
				val = append(val, j)
			} else {
				train = append(train, j)
			}
		}
		folds[i] = Fold{Train: train, Val: val}
		start = stop
	}
	return folds
}
