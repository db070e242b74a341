package model_selection

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/YuminosukeSato/medcharge/core/model"
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Fold represents a single fold in cross-validation
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 5 // Default to 5-fold
	}
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// Split generates train/test indices for each fold. The first
// nSamples%NSplits folds get one extra test sample.
func (kf *KFold) Split(nSamples int) ([]Fold, error) {
	if kf.NSplits > nSamples {
		return nil, errors.NewValidationError("n_splits", "cannot be greater than the number of samples", kf.NSplits)
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.RandomSeed, kf.RandomSeed))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([]Fold, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	current := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}

		test := make([]int, testSize)
		copy(test, indices[current:current+testSize])

		train := make([]int, 0, nSamples-testSize)
		train = append(train, indices[:current]...)
		train = append(train, indices[current+testSize:]...)

		folds[i] = Fold{TrainIndices: train, TestIndices: test}
		current += testSize
	}
	return folds, nil
}

// Estimator is a regressor whose hyperparameters can be cloned into a fresh,
// unfitted instance for every fold.
type Estimator interface {
	model.Regressor
	model.SKLearnCompatible
}

// CVResult stores cross-validation results
type CVResult struct {
	TestScores []float64
}

// Mean returns mean test score
func (cv *CVResult) Mean() float64 {
	if len(cv.TestScores) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, score := range cv.TestScores {
		sum += score
	}
	return sum / float64(len(cv.TestScores))
}

// Std returns the sample standard deviation of test scores
func (cv *CVResult) Std() float64 {
	if len(cv.TestScores) <= 1 {
		return 0.0
	}
	mean := cv.Mean()
	sumSq := 0.0
	for _, score := range cv.TestScores {
		diff := score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(cv.TestScores)-1))
}

// CrossValScore fits a clone of estimator on every fold concurrently and
// records the R² of each held-out fold.
func CrossValScore(estimator Estimator, X, y mat.Matrix, kf *KFold) (*CVResult, error) {
	nSamples, _ := X.Dims()
	folds, err := kf.Split(nSamples)
	if err != nil {
		return nil, err
	}

	result := &CVResult{TestScores: make([]float64, len(folds))}
	errs := make([]error, len(folds))

	var wg sync.WaitGroup
	for idx := range folds {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			fold := folds[idx]

			est, ok := estimator.Clone().(Estimator)
			if !ok {
				errs[idx] = errors.NewModelError("CrossValScore", "clone is not a regressor", nil)
				return
			}

			trainX, trainY := Subset(X, y, fold.TrainIndices)
			testX, testY := Subset(X, y, fold.TestIndices)
			if err := est.Fit(trainX, trainY); err != nil {
				errs[idx] = errors.Wrapf(err, "fold %d training failed", idx)
				return
			}
			score, err := est.Score(testX, testY)
			if err != nil {
				errs[idx] = errors.Wrapf(err, "fold %d scoring failed", idx)
				return
			}
			result.TestScores[idx] = score
		}(idx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
