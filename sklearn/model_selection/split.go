// Package model_selection provides dataset splitting and cross-validation helpers.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Split holds the partitions produced by TrainTestSplit together with the
// original row indices of each partition.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest *mat.Dense

	TrainIndices []int
	TestIndices  []int
}

// TrainTestSplit shuffles the rows of X and y with a PCG source seeded by
// randomState and holds out ceil(testSize*n) rows for testing.
// The same inputs and seed always produce the same partitions.
func TrainTestSplit(X, y mat.Matrix, testSize float64, randomState uint64) (*Split, error) {
	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if nSamples != yRows {
		return nil, errors.NewDimensionError("TrainTestSplit", nSamples, yRows, 0)
	}
	if testSize <= 0 || testSize >= 1 || math.IsNaN(testSize) {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}

	nTest := int(math.Ceil(testSize * float64(nSamples)))
	nTrain := nSamples - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("with n_samples=%d and test_size=%v, the resulting train or test set is empty", nSamples, testSize))
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	r := rand.New(rand.NewPCG(randomState, randomState))
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	s := &Split{
		TestIndices:  indices[:nTest:nTest],
		TrainIndices: indices[nTest:],
	}
	s.XTrain, s.YTrain = Subset(X, y, s.TrainIndices)
	s.XTest, s.YTest = Subset(X, y, s.TestIndices)
	return s, nil
}

// Subset copies the rows named by indices, in that order, out of X and y.
func Subset(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, xCols := X.Dims()
	_, yCols := y.Dims()

	xSubset := mat.NewDense(len(indices), xCols, nil)
	ySubset := mat.NewDense(len(indices), yCols, nil)
	for i, idx := range indices {
		for j := 0; j < xCols; j++ {
			xSubset.Set(i, j, X.At(idx, j))
		}
		for j := 0; j < yCols; j++ {
			ySubset.Set(i, j, y.At(idx, j))
		}
	}
	return xSubset, ySubset
}
