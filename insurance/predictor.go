package insurance

import (
	"github.com/YuminosukeSato/medcharge/metrics"
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"github.com/YuminosukeSato/medcharge/sklearn/linear_model"
	"github.com/YuminosukeSato/medcharge/sklearn/model_selection"
	"github.com/YuminosukeSato/medcharge/sklearn/tree"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// Predictor wraps the fitted tree together with its train/test partitions.
// It is read-only after Train and safe for concurrent use.
type Predictor struct {
	model   *tree.DecisionTreeRegressor
	split   *model_selection.Split
	options TrainOptions
}

// PredictCharge predicts the charges for a single person.
func (p *Predictor) PredictCharge(f FeatureVector) (float64, error) {
	X := mat.NewDense(1, len(FeatureNames), f.Values())
	pred, err := p.model.Predict(X)
	if err != nil {
		return 0, err
	}
	return pred.At(0, 0), nil
}

// Model returns the fitted tree.
func (p *Predictor) Model() *tree.DecisionTreeRegressor {
	return p.model
}

// Options returns the options the predictor was trained with.
func (p *Predictor) Options() TrainOptions {
	return p.options
}

// Evaluation compares the tree with an OLS baseline on the held-out partition.
type Evaluation struct {
	TrainSamples int
	TestSamples  int
	Depth        int
	Leaves       int

	Tree     metrics.Report
	Baseline metrics.Report
}

// Evaluate scores the tree and a LinearRegression fitted on the same
// training partition against the held-out rows.
func (p *Predictor) Evaluate() (*Evaluation, error) {
	treePred, err := p.model.Predict(p.split.XTest)
	if err != nil {
		return nil, err
	}
	treeReport, err := metrics.Evaluate(p.split.YTest, treePred)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate decision tree")
	}

	baseline := linear_model.NewLinearRegression()
	if err := baseline.Fit(p.split.XTrain, p.split.YTrain); err != nil {
		return nil, errors.Wrap(err, "fit baseline")
	}
	basePred, err := baseline.Predict(p.split.XTest)
	if err != nil {
		return nil, err
	}
	baseReport, err := metrics.Evaluate(p.split.YTest, basePred)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate baseline")
	}

	log.GetLoggerWithName("insurance").Info("Model evaluated",
		log.PhaseKey, log.PhaseTesting,
		log.SamplesKey, treeReport.N,
		log.R2ScoreKey, treeReport.R2,
		log.MAEKey, treeReport.MAE,
		log.RMSEKey, treeReport.RMSE,
	)

	return &Evaluation{
		TrainSamples: len(p.split.TrainIndices),
		TestSamples:  len(p.split.TestIndices),
		Depth:        p.model.GetDepth(),
		Leaves:       p.model.GetNLeaves(),
		Tree:         treeReport,
		Baseline:     baseReport,
	}, nil
}

// CrossValidate runs k-fold cross-validation of the tree's hyperparameters
// on the training partition.
func (p *Predictor) CrossValidate(nSplits int) (*model_selection.CVResult, error) {
	kf := model_selection.NewKFold(nSplits, true, p.options.RandomState)
	return model_selection.CrossValScore(p.model, p.split.XTrain, p.split.YTrain, kf)
}

// TestPredictions returns actual and predicted charges for the held-out rows.
func (p *Predictor) TestPredictions() (actual, predicted []float64, err error) {
	pred, err := p.model.Predict(p.split.XTest)
	if err != nil {
		return nil, nil, err
	}
	n, _ := p.split.YTest.Dims()
	actual = make([]float64, n)
	predicted = make([]float64, n)
	for i := 0; i < n; i++ {
		actual[i] = p.split.YTest.At(i, 0)
		predicted[i] = pred.At(i, 0)
	}
	return actual, predicted, nil
}

// FeatureImportances maps each feature name to its normalized importance.
func (p *Predictor) FeatureImportances() map[string]float64 {
	return lo.SliceToMap(lo.Zip2(FeatureNames, p.model.GetFeatureImportances()),
		func(t lo.Tuple2[string, float64]) (string, float64) {
			return t.A, t.B
		})
}
