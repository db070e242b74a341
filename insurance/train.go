package insurance

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"github.com/YuminosukeSato/medcharge/sklearn/model_selection"
	"github.com/YuminosukeSato/medcharge/sklearn/tree"
	"github.com/rs/zerolog"
)

// TrainOptions controls the split and the tree hyperparameters.
type TrainOptions struct {
	TestSize        float64
	RandomState     uint64
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
}

// DefaultTrainOptions returns an 80/20 split seeded with 42 and a fully grown tree.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		TestSize:        0.2,
		RandomState:     42,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// TrainOption configures Train.
type TrainOption func(*TrainOptions)

// WithTestSize sets the held-out fraction.
func WithTestSize(size float64) TrainOption {
	return func(o *TrainOptions) {
		o.TestSize = size
	}
}

// WithRandomState seeds both the split and the tree.
func WithRandomState(seed uint64) TrainOption {
	return func(o *TrainOptions) {
		o.RandomState = seed
	}
}

// WithMaxDepth limits the tree depth. 0 means unlimited.
func WithMaxDepth(depth int) TrainOption {
	return func(o *TrainOptions) {
		o.MaxDepth = depth
	}
}

// WithMinSamplesSplit sets the tree's min_samples_split.
func WithMinSamplesSplit(n int) TrainOption {
	return func(o *TrainOptions) {
		o.MinSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the tree's min_samples_leaf.
func WithMinSamplesLeaf(n int) TrainOption {
	return func(o *TrainOptions) {
		o.MinSamplesLeaf = n
	}
}

// WithOptions replaces every option at once.
func WithOptions(opts TrainOptions) TrainOption {
	return func(o *TrainOptions) {
		*o = opts
	}
}

// UnmappedSmokerError reports dataset rows whose smoker value was neither
// "yes" nor "no". Training refuses such a table.
type UnmappedSmokerError struct {
	Rows []int
}

func (e *UnmappedSmokerError) Error() string {
	return fmt.Sprintf("medcharge: %d rows have a smoker value other than \"yes\" or \"no\" (rows %v)", len(e.Rows), e.Rows)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *UnmappedSmokerError) MarshalZerologObject(event *zerolog.Event) {
	event.Ints("rows", e.Rows).
		Str("type", "UnmappedSmokerError")
}

// Train splits table, fits a decision tree on the training partition and
// returns a ready Predictor.
func Train(table *Table, opts ...TrainOption) (*Predictor, error) {
	o := DefaultTrainOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if table == nil || table.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "train")
	}
	if len(table.Unmapped) > 0 {
		return nil, errors.WithStack(&UnmappedSmokerError{Rows: append([]int(nil), table.Unmapped...)})
	}

	logger := log.GetLoggerWithName("insurance").With(log.PhaseKey, log.PhaseTraining)
	start := time.Now()

	split, err := model_selection.TrainTestSplit(table.Matrix(), table.Target(), o.TestSize, o.RandomState)
	if err != nil {
		return nil, errors.Wrap(err, "split dataset")
	}

	regressor := tree.NewDecisionTreeRegressor(
		tree.WithRandomState(int64(o.RandomState)),
		tree.WithMaxDepth(o.MaxDepth),
		tree.WithMinSamplesSplit(o.MinSamplesSplit),
		tree.WithMinSamplesLeaf(o.MinSamplesLeaf),
	)
	if err := regressor.Fit(split.XTrain, split.YTrain); err != nil {
		return nil, errors.NewModelError("insurance.Train", "fit decision tree", err)
	}

	logger.Info("Model trained",
		log.ModelNameKey, "DecisionTreeRegressor",
		log.SamplesKey, len(split.TrainIndices),
		log.FeaturesKey, len(FeatureNames),
		log.DepthKey, regressor.GetDepth(),
		log.LeavesKey, regressor.GetNLeaves(),
		log.TestSizeKey, o.TestSize,
		log.RandomSeedKey, o.RandomState,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return &Predictor{model: regressor, split: split, options: o}, nil
}

// TrainFromFile loads the dataset at path and trains on it.
func TrainFromFile(path string, opts ...TrainOption) (*Predictor, error) {
	table, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	return Train(table, opts...)
}
