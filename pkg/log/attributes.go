package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "DecisionTreeRegressor", "LinearRegression"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// SourceKey names where the data came from, usually a file path.
	SourceKey = "data.source"

	// UnmappedKey counts rows whose categorical value could not be encoded.
	UnmappedKey = "data.unmapped"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// MAEKey records the mean absolute error.
	MAEKey = "metrics.mae"

	// RMSEKey records the root mean squared error.
	RMSEKey = "metrics.rmse"
)

// Tree structure
const (
	// DepthKey records the depth of a fitted tree.
	DepthKey = "tree.depth"

	// LeavesKey records the number of leaves of a fitted tree.
	LeavesKey = "tree.leaves"
)

// Configuration
const (
	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// TestSizeKey records the held-out fraction of the train/test split.
	TestSizeKey = "config.test_size"

	// AddrKey records a listen address.
	AddrKey = "server.addr"
)

// Standard attribute values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationScore   = "score"

	PhaseTraining      = "training"
	PhaseInference     = "inference"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"
)
