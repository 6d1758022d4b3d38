// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKFoldSplit(t *testing.T) {
	folds := KFold{K: 3}.Split(10)
	require.Len(t, folds, 3)
	assert.Equal(t, 3, KFold{K: 3}.NSplits())

	assert.Len(t, folds[0].Val, 4)
	assert.Len(t, folds[1].Val, 3)
	assert.Len(t, folds[2].Val, 3)

	seen := make(map[int]int)
	for _, fold := range folds {
		require.Len(t, fold.Train, 10-len(fold.Val))
		onTrain := make(map[int]bool)
		for _, i := range fold.Train {
			onTrain[i] = true
		}
		for _, i := range fold.Val {
			require.False(t, onTrain[i], "train and validation overlap at %d", i)
			seen[i]++
		}
	}
	// validation blocks cover every sample exactly once
	require.Len(t, seen, 10)
	for i, n := range seen {
		assert.Equal(t, 1, n, "sample %d", i)
	}
}

func TestKFoldContiguous(t *testing.T) {
	folds := KFold{K: 2}.Split(6)
	assert.Equal(t, []int{0, 1, 2}, folds[0].Val)
	assert.Equal(t, []int{3, 4, 5}, folds[0].Train)
	assert.Equal(t, []int{3, 4, 5}, folds[1].Val)
	assert.Equal(t, []int{0, 1, 2}, folds[1].Train)
}
