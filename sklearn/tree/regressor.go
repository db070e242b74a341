// Package tree implements CART decision trees with a scikit-learn compatible API.
package tree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/YuminosukeSato/medcharge/core/model"
	"github.com/YuminosukeSato/medcharge/core/parallel"
	"github.com/YuminosukeSato/medcharge/metrics"
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"gonum.org/v1/gonum/mat"
)

const (
	// CriterionSquaredError is the variance-reduction criterion.
	CriterionSquaredError = "squared_error"

	// featureThreshold is the minimum gap between two consecutive sorted
	// feature values for a threshold to be placed between them.
	featureThreshold = 1e-7

	// impurityEpsilon treats nodes below this variance as pure.
	impurityEpsilon = 1e-12

	leafFeature = -1
)

// node is one entry of the flattened tree. Children are indices into the
// node slice; leaves have Feature == leafFeature.
type node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Impurity  float64
	NSamples  int
	Depth     int
}

func (n node) isLeaf() bool {
	return n.Feature == leafFeature
}

// DecisionTreeRegressor is a CART regression tree grown with the best-split
// strategy, compatible with scikit-learn's DecisionTreeRegressor.
type DecisionTreeRegressor struct {
	state *model.StateManager

	// Hyperparameters
	criterion           string
	maxDepth            int // 0 means unlimited
	minSamplesSplit     int
	minSamplesLeaf      int
	minImpurityDecrease float64
	randomState         int64
	hasRandomState      bool
	nJobs               int

	// Learned parameters
	nodes_              []node
	nFeatures_          int
	nSamples_           int
	featureImportances_ []float64
	depth_              int
	nLeaves_            int
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithCriterion sets the split quality criterion. Only "squared_error" is supported.
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits the depth of the tree. 0 grows until leaves are pure.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples needed to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.minSamplesLeaf = n
	}
}

// WithMinImpurityDecrease requires a split to reduce weighted impurity by at least v.
func WithMinImpurityDecrease(v float64) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.minImpurityDecrease = v
	}
}

// WithRandomState seeds the order in which features are examined at each
// split, which decides ties between equally good splits.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.randomState = seed
		dt.hasRandomState = true
	}
}

// WithNJobs sets the number of goroutines used by Predict on large inputs.
// 0 uses every CPU, 1 predicts sequentially.
func WithNJobs(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.nJobs = n
	}
}

// NewDecisionTreeRegressor creates a regressor with scikit-learn defaults.
func NewDecisionTreeRegressor(options ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		state:           model.NewStateManager(),
		criterion:       CriterionSquaredError,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		nJobs:           1,
	}
	for _, opt := range options {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeRegressor) validateParams() error {
	if dt.criterion != CriterionSquaredError {
		return errors.NewValidationError("criterion", "must be \"squared_error\"", dt.criterion)
	}
	if dt.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0 (0 means unlimited)", dt.maxDepth)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	if dt.minImpurityDecrease < 0 {
		return errors.NewValidationError("min_impurity_decrease", "must be >= 0", dt.minImpurityDecrease)
	}
	return nil
}

// Fit grows the tree on X (n_samples×n_features) and y (n_samples×1).
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")
	start := time.Now()

	if err := dt.validateParams(); err != nil {
		return err
	}

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.Wrap(errors.ErrEmptyData, "DecisionTreeRegressor.Fit")
	}
	if rows != yRows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", 1, yCols, 1)
	}
	if err := errors.CheckMatrix("DecisionTreeRegressor.Fit", X); err != nil {
		return err
	}
	if err := errors.CheckMatrix("DecisionTreeRegressor.Fit", y); err != nil {
		return err
	}

	b := &builder{
		dt:          dt,
		xs:          make([][]float64, cols),
		ys:          make([]float64, rows),
		importances: make([]float64, cols),
		order:       dt.featureOrder(cols),
	}
	for j := 0; j < cols; j++ {
		b.xs[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			b.xs[j][i] = X.At(i, j)
		}
	}
	for i := 0; i < rows; i++ {
		b.ys[i] = y.At(i, 0)
	}

	indices := make([]int, rows)
	for i := range indices {
		indices[i] = i
	}
	b.grow(indices, 0)

	dt.state.Reset()
	dt.nodes_ = b.nodes
	dt.nFeatures_ = cols
	dt.nSamples_ = rows
	dt.featureImportances_ = normalize(b.importances)
	dt.depth_ = 0
	dt.nLeaves_ = 0
	for _, n := range dt.nodes_ {
		if n.isLeaf() {
			dt.nLeaves_++
			if n.Depth > dt.depth_ {
				dt.depth_ = n.Depth
			}
		}
	}
	dt.state.SetFitted(cols, rows)

	log.GetLoggerWithName("tree.regressor").Debug("Fitted DecisionTreeRegressor",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.DepthKey, dt.depth_,
		log.LeavesKey, dt.nLeaves_,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// featureOrder returns the order features are examined in at every node.
func (dt *DecisionTreeRegressor) featureOrder(nFeatures int) []int {
	if !dt.hasRandomState {
		order := make([]int, nFeatures)
		for i := range order {
			order[i] = i
		}
		return order
	}
	seed := uint64(dt.randomState)
	r := rand.New(rand.NewPCG(seed, seed))
	return r.Perm(nFeatures)
}

type builder struct {
	dt          *DecisionTreeRegressor
	xs          [][]float64 // feature-major copy of X
	ys          []float64
	order       []int
	nodes       []node
	importances []float64
}

type split struct {
	feature   int
	threshold float64
	proxy     float64
}

// grow builds the subtree for indices depth-first and returns its node index.
func (b *builder) grow(indices []int, depth int) int {
	n := len(indices)
	mean, impurity := b.stats(indices)

	id := len(b.nodes)
	b.nodes = append(b.nodes, node{
		Feature:  leafFeature,
		Left:     -1,
		Right:    -1,
		Value:    mean,
		Impurity: impurity,
		NSamples: n,
		Depth:    depth,
	})

	dt := b.dt
	if (dt.maxDepth > 0 && depth >= dt.maxDepth) ||
		n < dt.minSamplesSplit ||
		n < 2*dt.minSamplesLeaf ||
		impurity <= impurityEpsilon {
		return id
	}

	best, ok := b.bestSplit(indices)
	if !ok {
		return id
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range indices {
		if b.xs[best.feature][i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	_, leftImpurity := b.stats(left)
	_, rightImpurity := b.stats(right)
	nTotal := float64(len(b.ys))
	nNode := float64(n)
	nLeft := float64(len(left))
	nRight := float64(len(right))
	decrease := nNode / nTotal * (impurity - nLeft/nNode*leftImpurity - nRight/nNode*rightImpurity)
	if decrease+impurityEpsilon < dt.minImpurityDecrease {
		return id
	}

	b.importances[best.feature] += nNode*impurity - nLeft*leftImpurity - nRight*rightImpurity

	leftID := b.grow(left, depth+1)
	rightID := b.grow(right, depth+1)

	nd := &b.nodes[id]
	nd.Feature = best.feature
	nd.Threshold = best.threshold
	nd.Left = leftID
	nd.Right = rightID
	return id
}

// stats returns the mean and the variance (squared_error impurity) of ys over indices.
func (b *builder) stats(indices []int) (mean, impurity float64) {
	if len(indices) == 0 {
		return 0, 0
	}
	for _, i := range indices {
		mean += b.ys[i]
	}
	mean /= float64(len(indices))
	for _, i := range indices {
		d := b.ys[i] - mean
		impurity += d * d
	}
	return mean, impurity / float64(len(indices))
}

// bestSplit maximizes sumL²/nL + sumR²/nR, which is equivalent to minimizing
// the weighted squared error of the two children.
func (b *builder) bestSplit(indices []int) (split, bool) {
	n := len(indices)
	minLeaf := b.dt.minSamplesLeaf

	var total float64
	for _, i := range indices {
		total += b.ys[i]
	}

	best := split{feature: -1, proxy: math.Inf(-1)}
	sorted := make([]int, n)
	for _, f := range b.order {
		x := b.xs[f]
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, c int) bool {
			return x[sorted[a]] < x[sorted[c]]
		})
		if x[sorted[n-1]] <= x[sorted[0]]+featureThreshold {
			continue
		}

		var sumLeft float64
		for pos := 0; pos < n-1; pos++ {
			sumLeft += b.ys[sorted[pos]]
			nLeft := pos + 1
			nRight := n - nLeft
			if nLeft < minLeaf {
				continue
			}
			if nRight < minLeaf {
				break
			}
			lo, hi := x[sorted[pos]], x[sorted[pos+1]]
			if hi <= lo+featureThreshold {
				continue
			}
			sumRight := total - sumLeft
			proxy := sumLeft*sumLeft/float64(nLeft) + sumRight*sumRight/float64(nRight)
			if proxy > best.proxy {
				threshold := lo/2 + hi/2
				if threshold >= hi || math.IsInf(threshold, 0) {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, proxy: proxy}
			}
		}
	}
	return best, best.feature >= 0
}

func normalize(values []float64) []float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	out := make([]float64, len(values))
	if sum <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / sum
	}
	return out
}

// Predict returns an n_samples×1 matrix of predicted values.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeRegressor.Predict", cols); err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix("DecisionTreeRegressor.Predict", X); err != nil {
		return nil, err
	}

	predictions := mat.NewDense(rows, 1, nil)
	parallel.ParallelizeWithThreshold(rows, parallel.DefaultThreshold, dt.nJobs, func(start, end int) {
		for i := start; i < end; i++ {
			predictions.Set(i, 0, dt.predictRow(X, i))
		}
	})
	return predictions, nil
}

func (dt *DecisionTreeRegressor) predictRow(X mat.Matrix, row int) float64 {
	idx := 0
	for {
		n := dt.nodes_[idx]
		if n.isLeaf() {
			return n.Value
		}
		if X.At(row, n.Feature) <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Score returns the coefficient of determination R² of the prediction.
func (dt *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	yTrue, err := metrics.ColumnVector("DecisionTreeRegressor.Score", y)
	if err != nil {
		return 0, err
	}
	yPred, err := metrics.ColumnVector("DecisionTreeRegressor.Score", predictions)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yTrue, yPred)
}

// GetDepth returns the depth of the fitted tree (a single leaf has depth 0).
func (dt *DecisionTreeRegressor) GetDepth() int {
	return dt.depth_
}

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeRegressor) GetNLeaves() int {
	return dt.nLeaves_
}

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTreeRegressor) GetFeatureImportances() []float64 {
	if dt.featureImportances_ == nil {
		return nil
	}
	out := make([]float64, len(dt.featureImportances_))
	copy(out, dt.featureImportances_)
	return out
}

// NFeatures returns the number of features seen during Fit.
func (dt *DecisionTreeRegressor) NFeatures() int {
	return dt.nFeatures_
}

// IsFitted returns whether the model has been fitted.
func (dt *DecisionTreeRegressor) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the model's hyperparameters (scikit-learn compatible).
func (dt *DecisionTreeRegressor) GetParams(deep bool) map[string]interface{} {
	var randomState interface{}
	if dt.hasRandomState {
		randomState = dt.randomState
	}
	return map[string]interface{}{
		"criterion":             dt.criterion,
		"max_depth":             dt.maxDepth,
		"min_samples_split":     dt.minSamplesSplit,
		"min_samples_leaf":      dt.minSamplesLeaf,
		"min_impurity_decrease": dt.minImpurityDecrease,
		"random_state":          randomState,
		"n_jobs":                dt.nJobs,
	}
}

// SetParams sets the model's hyperparameters (scikit-learn compatible).
// Unknown keys and values of the wrong type are rejected. Changing any
// parameter other than n_jobs discards the fitted tree; call Fit again.
func (dt *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	before := dt.GetParams(false)
	next := *dt
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			next.criterion, ok = value.(string)
		case "max_depth":
			next.maxDepth, ok = value.(int)
		case "min_samples_split":
			next.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			next.minSamplesLeaf, ok = value.(int)
		case "min_impurity_decrease":
			next.minImpurityDecrease, ok = value.(float64)
		case "n_jobs":
			next.nJobs, ok = value.(int)
		case "random_state":
			switch v := value.(type) {
			case nil:
				next.hasRandomState, ok = false, true
			case int:
				next.randomState, next.hasRandomState, ok = int64(v), true, true
			case int64:
				next.randomState, next.hasRandomState, ok = v, true, true
			}
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "unexpected type", value)
		}
	}
	if err := next.validateParams(); err != nil {
		return err
	}
	*dt = next

	after := dt.GetParams(false)
	for key, value := range after {
		if key != "n_jobs" && value != before[key] {
			dt.resetFitted()
			break
		}
	}
	return nil
}

// resetFitted drops the learned tree.
func (dt *DecisionTreeRegressor) resetFitted() {
	dt.state.Reset()
	dt.nodes_ = nil
	dt.featureImportances_ = nil
	dt.nFeatures_, dt.nSamples_, dt.depth_, dt.nLeaves_ = 0, 0, 0, 0
}

// Clone returns an unfitted regressor with the same hyperparameters.
func (dt *DecisionTreeRegressor) Clone() model.SKLearnCompatible {
	clone := *dt
	clone.state = model.NewStateManager()
	clone.resetFitted()
	return &clone
}

// String returns the string representation of the model.
func (dt *DecisionTreeRegressor) String() string {
	if !dt.state.IsFitted() {
		return fmt.Sprintf("DecisionTreeRegressor(criterion=%s, max_depth=%d, min_samples_split=%d, min_samples_leaf=%d)",
			dt.criterion, dt.maxDepth, dt.minSamplesSplit, dt.minSamplesLeaf)
	}
	return fmt.Sprintf("DecisionTreeRegressor(n_features=%d, depth=%d, leaves=%d, fitted=true)",
		dt.nFeatures_, dt.depth_, dt.nLeaves_)
}
