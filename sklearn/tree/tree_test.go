package tree

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TestDecisionTreeRegressor_FitPredict_Step tests that a step function is fitted exactly
func TestDecisionTreeRegressor_FitPredict_Step(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})

	y := mat.NewDense(8, 1, []float64{
		0, 0, 0, 0, // lower left
		10, 10, 10, 10, // upper right
	})

	dt := NewDecisionTreeRegressor(WithMaxDepth(5), WithRandomState(42))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	predictions, err := dt.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	for i := 0; i < 8; i++ {
		if predictions.At(i, 0) != y.At(i, 0) {
			t.Errorf("Sample %d: expected %v, got %v", i, y.At(i, 0), predictions.At(i, 0))
		}
	}

	XTest := mat.NewDense(2, 2, []float64{
		0.5, 0.5,
		3.5, 3.5,
	})
	testPreds, err := dt.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict on test data: %v", err)
	}
	if testPreds.At(0, 0) != 0 {
		t.Errorf("Test point (0.5,0.5) should be 0, got %v", testPreds.At(0, 0))
	}
	if testPreds.At(1, 0) != 10 {
		t.Errorf("Test point (3.5,3.5) should be 10, got %v", testPreds.At(1, 0))
	}

	if dt.GetDepth() != 1 {
		t.Errorf("Expected a single split, got depth %d", dt.GetDepth())
	}
	if dt.GetNLeaves() != 2 {
		t.Errorf("Expected 2 leaves, got %d", dt.GetNLeaves())
	}
}

// TestDecisionTreeRegressor_LeafMean tests that leaves predict the mean target
func TestDecisionTreeRegressor_LeafMean(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{1, 2, 10, 11})

	dt := NewDecisionTreeRegressor(WithMaxDepth(1))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	predictions, err := dt.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}

	expected := []float64{1.5, 1.5, 10.5, 10.5}
	for i, want := range expected {
		if got := predictions.At(i, 0); math.Abs(got-want) > 1e-12 {
			t.Errorf("Sample %d: expected %v, got %v", i, want, got)
		}
	}

	// Threshold is midway between 2 and 3
	if dt.nodes_[0].Threshold != 2.5 {
		t.Errorf("Expected root threshold 2.5, got %v", dt.nodes_[0].Threshold)
	}
}

// TestDecisionTreeRegressor_Score tests the R² score
func TestDecisionTreeRegressor_Score(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := mat.NewDense(6, 1, []float64{3, 1, 4, 1, 5, 9})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// A fully grown tree memorizes distinct inputs
	score, err := dt.Score(X, y)
	if err != nil {
		t.Fatalf("Failed to score: %v", err)
	}
	if math.Abs(score-1.0) > 1e-12 {
		t.Errorf("Expected score 1.0 on training data, got %v", score)
	}

	shallow := NewDecisionTreeRegressor(WithMaxDepth(1))
	if err := shallow.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	shallowScore, err := shallow.Score(X, y)
	if err != nil {
		t.Fatalf("Failed to score: %v", err)
	}
	if shallowScore >= score || shallowScore <= 0 {
		t.Errorf("Expected 0 < shallow score < 1, got %v", shallowScore)
	}
}

// TestDecisionTreeRegressor_FeatureImportances tests feature importance calculation
func TestDecisionTreeRegressor_FeatureImportances(t *testing.T) {
	// Feature 0 decides the target, feature 1 is noise
	X := mat.NewDense(8, 2, []float64{
		0, 5,
		1, 3,
		2, 7,
		3, 1,
		4, 6,
		5, 2,
		6, 8,
		7, 4,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 100, 100, 100, 100})

	dt := NewDecisionTreeRegressor(WithRandomState(7))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	importances := dt.GetFeatureImportances()
	if len(importances) != 2 {
		t.Fatalf("Expected 2 feature importances, got %d", len(importances))
	}

	sum := 0.0
	for _, imp := range importances {
		if imp < 0 {
			t.Errorf("Importance should be non-negative, got %v", imp)
		}
		sum += imp
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("Feature importances should sum to 1.0, got %v", sum)
	}
	if importances[0] != 1.0 {
		t.Errorf("Feature 0 should carry all importance, got %v", importances)
	}
}

// TestDecisionTreeRegressor_MaxDepth tests max depth constraint
func TestDecisionTreeRegressor_MaxDepth(t *testing.T) {
	X := mat.NewDense(16, 1, nil)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i*i%7))
	}

	tests := []struct {
		maxDepth  int
		maxLeaves int
	}{
		{1, 2},
		{2, 4},
		{3, 8},
	}

	for _, tt := range tests {
		dt := NewDecisionTreeRegressor(WithMaxDepth(tt.maxDepth))
		if err := dt.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit model: %v", err)
		}
		if dt.GetDepth() > tt.maxDepth {
			t.Errorf("max_depth=%d: tree depth %d exceeds limit", tt.maxDepth, dt.GetDepth())
		}
		if dt.GetNLeaves() > tt.maxLeaves {
			t.Errorf("max_depth=%d: %d leaves exceeds %d", tt.maxDepth, dt.GetNLeaves(), tt.maxLeaves)
		}
	}
}

// TestDecisionTreeRegressor_MinSamples tests min samples constraints
func TestDecisionTreeRegressor_MinSamples(t *testing.T) {
	X := mat.NewDense(10, 2, nil)
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%3))
		y.Set(i, 0, float64(i%2))
	}

	dt := NewDecisionTreeRegressor(
		WithMinSamplesSplit(5),
		WithMinSamplesLeaf(2),
	)
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	if dt.GetNLeaves() > 5 {
		t.Errorf("Too many leaves (%d) given min_samples_leaf=2", dt.GetNLeaves())
	}
	for i, n := range dt.nodes_ {
		if n.isLeaf() && n.NSamples < 2 {
			t.Errorf("Leaf %d has %d samples, want >= 2", i, n.NSamples)
		}
		if !n.isLeaf() && n.NSamples < 5 {
			t.Errorf("Node %d split with %d samples, want >= 5", i, n.NSamples)
		}
	}
}

// TestDecisionTreeRegressor_MinImpurityDecrease tests that weak splits are pruned
func TestDecisionTreeRegressor_MinImpurityDecrease(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{1, 2, 10, 11})

	// Root variance is 20.5, the best split reduces it by 20.25
	dt := NewDecisionTreeRegressor(WithMinImpurityDecrease(21))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	if dt.GetNLeaves() != 1 {
		t.Errorf("Expected a single leaf, got %d", dt.GetNLeaves())
	}
}

// TestDecisionTreeRegressor_Deterministic tests that identical inputs give identical trees
func TestDecisionTreeRegressor_Deterministic(t *testing.T) {
	X := mat.NewDense(30, 3, nil)
	y := mat.NewDense(30, 1, nil)
	for i := 0; i < 30; i++ {
		X.Set(i, 0, float64(i%5))
		X.Set(i, 1, float64(i%5)) // duplicate of feature 0, splits tie
		X.Set(i, 2, float64((i*7)%11))
		y.Set(i, 0, float64(i%5)*3+float64((i*7)%11))
	}

	fit := func() *DecisionTreeRegressor {
		dt := NewDecisionTreeRegressor(WithRandomState(42))
		if err := dt.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit model: %v", err)
		}
		return dt
	}

	a, b := fit(), fit()
	if len(a.nodes_) != len(b.nodes_) {
		t.Fatalf("Node counts differ: %d vs %d", len(a.nodes_), len(b.nodes_))
	}
	for i := range a.nodes_ {
		if a.nodes_[i] != b.nodes_[i] {
			t.Errorf("Node %d differs: %+v vs %+v", i, a.nodes_[i], b.nodes_[i])
		}
	}
}

// TestDecisionTreeRegressor_ParallelPredict tests that parallel prediction matches sequential
func TestDecisionTreeRegressor_ParallelPredict(t *testing.T) {
	X := mat.NewDense(20, 1, nil)
	y := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i/4))
	}

	seq := NewDecisionTreeRegressor(WithNJobs(1))
	par := NewDecisionTreeRegressor(WithNJobs(4))
	for _, dt := range []*DecisionTreeRegressor{seq, par} {
		if err := dt.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit model: %v", err)
		}
	}

	rows := 5000
	XTest := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		XTest.Set(i, 0, float64(i%25)-2.5)
	}

	a, err := seq.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	b, err := par.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	if !mat.Equal(a, b) {
		t.Error("Parallel predictions differ from sequential predictions")
	}
}

// TestDecisionTreeRegressor_Errors tests error handling
func TestDecisionTreeRegressor_Errors(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 1, 1, 2, 2, 3, 3})
	y := mat.NewDense(4, 1, []float64{0, 1, 2, 3})

	t.Run("NotFitted", func(t *testing.T) {
		dt := NewDecisionTreeRegressor()
		_, err := dt.Predict(X)
		var notFitted *errors.NotFittedError
		if !errors.As(err, &notFitted) {
			t.Errorf("Expected NotFittedError, got %v", err)
		}
	})

	t.Run("FeatureMismatch", func(t *testing.T) {
		dt := NewDecisionTreeRegressor()
		if err := dt.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit model: %v", err)
		}
		_, err := dt.Predict(mat.NewDense(1, 3, []float64{1, 2, 3}))
		var dimErr *errors.DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("Expected DimensionError, got %v", err)
		}
		if dimErr.Expected != 2 || dimErr.Got != 3 {
			t.Errorf("Unexpected dimension error: %+v", dimErr)
		}
	})

	t.Run("RowMismatch", func(t *testing.T) {
		dt := NewDecisionTreeRegressor()
		err := dt.Fit(X, mat.NewDense(3, 1, []float64{0, 1, 2}))
		var dimErr *errors.DimensionError
		if !errors.As(err, &dimErr) {
			t.Errorf("Expected DimensionError, got %v", err)
		}
	})

	t.Run("NaNInput", func(t *testing.T) {
		dt := NewDecisionTreeRegressor()
		bad := mat.NewDense(4, 2, []float64{0, 0, 1, math.NaN(), 2, 2, 3, 3})
		err := dt.Fit(bad, y)
		var numErr *errors.NumericalInstabilityError
		if !errors.As(err, &numErr) {
			t.Errorf("Expected NumericalInstabilityError, got %v", err)
		}
		if dt.IsFitted() {
			t.Error("Model should not be fitted after a failed Fit")
		}
	})

	t.Run("InvalidCriterion", func(t *testing.T) {
		dt := NewDecisionTreeRegressor(WithCriterion("gini"))
		err := dt.Fit(X, y)
		var valErr *errors.ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("Expected ValidationError, got %v", err)
		}
	})

	t.Run("InvalidMinSamplesLeaf", func(t *testing.T) {
		dt := NewDecisionTreeRegressor(WithMinSamplesLeaf(0))
		if err := dt.Fit(X, y); err == nil {
			t.Error("Expected error for min_samples_leaf=0")
		}
	})
}

// TestDecisionTreeRegressor_GetSetParams tests parameter getting and setting
func TestDecisionTreeRegressor_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeRegressor(
		WithMaxDepth(5),
		WithMinSamplesSplit(10),
		WithRandomState(42),
	)

	params := dt.GetParams(true)
	if params["criterion"] != CriterionSquaredError {
		t.Errorf("Expected criterion=squared_error, got %v", params["criterion"])
	}
	if params["max_depth"] != 5 {
		t.Errorf("Expected max_depth=5, got %v", params["max_depth"])
	}
	if params["min_samples_split"] != 10 {
		t.Errorf("Expected min_samples_split=10, got %v", params["min_samples_split"])
	}
	if params["random_state"] != int64(42) {
		t.Errorf("Expected random_state=42, got %v", params["random_state"])
	}

	err := dt.SetParams(map[string]interface{}{
		"max_depth":        10,
		"min_samples_leaf": 3,
		"random_state":     nil,
	})
	if err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}

	params = dt.GetParams(true)
	if params["max_depth"] != 10 {
		t.Errorf("Expected max_depth=10, got %v", params["max_depth"])
	}
	if params["min_samples_leaf"] != 3 {
		t.Errorf("Expected min_samples_leaf=3, got %v", params["min_samples_leaf"])
	}
	if params["random_state"] != nil {
		t.Errorf("Expected random_state=nil, got %v", params["random_state"])
	}

	if err := dt.SetParams(map[string]interface{}{"max_depth": "deep"}); err == nil {
		t.Error("Expected error for wrong parameter type")
	}
	if err := dt.SetParams(map[string]interface{}{"min_samples_split": 1}); err == nil {
		t.Error("Expected error for min_samples_split=1")
	}
	if err := dt.SetParams(map[string]interface{}{"splitter": "random"}); err == nil {
		t.Error("Expected error for unknown parameter")
	}
	if dt.GetParams(false)["max_depth"] != 10 {
		t.Error("Rejected SetParams should leave parameters unchanged")
	}
}

// TestDecisionTreeRegressor_Clone tests that Clone copies parameters but not fitted state
func TestDecisionTreeRegressor_Clone(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	dt := NewDecisionTreeRegressor(WithMaxDepth(3))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	clone, ok := dt.Clone().(*DecisionTreeRegressor)
	if !ok {
		t.Fatal("Clone should return *DecisionTreeRegressor")
	}
	if clone.IsFitted() {
		t.Error("Clone should not be fitted")
	}
	if clone.GetParams(true)["max_depth"] != 3 {
		t.Error("Clone should keep max_depth")
	}
	if !dt.IsFitted() {
		t.Error("Cloning should not reset the original")
	}
}

// TestDecisionTreeRegressor_SetParamsAfterFit tests that changing a structural
// parameter discards the fitted tree while n_jobs does not
func TestDecisionTreeRegressor_SetParamsAfterFit(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := mat.NewDense(6, 1, []float64{1, 1, 1, 5, 5, 5})

	dt := NewDecisionTreeRegressor()
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	if err := dt.SetParams(map[string]interface{}{"n_jobs": 2, "max_depth": 0}); err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if !dt.IsFitted() {
		t.Error("Unchanged structural parameters should keep the fitted tree")
	}

	if err := dt.SetParams(map[string]interface{}{"max_depth": 1}); err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if dt.IsFitted() {
		t.Error("Changing max_depth should discard the fitted tree")
	}
	if dt.GetNLeaves() != 0 || dt.GetFeatureImportances() != nil {
		t.Error("Learned attributes should be cleared")
	}
	_, err := dt.Predict(X)
	var notFitted *errors.NotFittedError
	if !errors.As(err, &notFitted) {
		t.Errorf("Expected NotFittedError after SetParams, got %v", err)
	}

	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to refit model: %v", err)
	}
	if dt.GetDepth() != 1 {
		t.Errorf("Expected depth 1 after refit, got %d", dt.GetDepth())
	}
}
