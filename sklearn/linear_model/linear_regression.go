// Package linear_model provides linear regression estimators.
package linear_model

import (
	"fmt"

	"github.com/YuminosukeSato/medcharge/core/model"
	"github.com/YuminosukeSato/medcharge/metrics"
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LinearRegression is an ordinary least squares model solved by QR
// decomposition, compatible with scikit-learn's LinearRegression.
// It serves as the baseline the decision tree is compared against.
type LinearRegression struct {
	state *model.StateManager

	// Hyperparameters
	fitIntercept bool

	// Learned parameters
	coef_      []float64
	intercept_ float64
	nFeatures_ int
}

// LinearRegressionOption は設定オプション
type LinearRegressionOption func(*LinearRegression)

// WithFitIntercept は切片の学習有無を設定
func WithFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}

// NewLinearRegression は新しいLinearRegressionモデルを作成
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習
func (lr *LinearRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LinearRegression.Fit")

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()

	// 入力検証
	if rows != yRows {
		return errors.NewDimensionError("LinearRegression.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LinearRegression.Fit", 1, yCols, 1)
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", X); err != nil {
		return err
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", y); err != nil {
		return err
	}

	offset := 0
	if lr.fitIntercept {
		offset = 1
	}
	if rows < cols+offset {
		return errors.NewValueError("LinearRegression.Fit",
			fmt.Sprintf("need at least %d samples for %d features, got %d", cols+offset, cols, rows))
	}

	// [1 | X] の行列を作成
	XFit := mat.NewDense(rows, cols+offset, nil)
	for i := 0; i < rows; i++ {
		if lr.fitIntercept {
			XFit.Set(i, 0, 1.0)
		}
		for j := 0; j < cols; j++ {
			XFit.Set(i, j+offset, X.At(i, j))
		}
	}

	// 正規方程式より数値的に安定なQR分解を使用
	var qr mat.QR
	qr.Factorize(XFit)

	coefficients := mat.NewDense(cols+offset, 1, nil)
	if err := qr.SolveTo(coefficients, false, y); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "failed to solve linear system", err)
	}

	lr.intercept_ = 0.0
	if lr.fitIntercept {
		lr.intercept_ = coefficients.At(0, 0)
	}
	lr.coef_ = make([]float64, cols)
	for i := 0; i < cols; i++ {
		lr.coef_[i] = coefficients.At(i+offset, 0)
	}
	for _, c := range lr.coef_ {
		if err := errors.CheckScalar("LinearRegression.Fit", c, 0); err != nil {
			return err
		}
	}

	lr.nFeatures_ = cols
	lr.state.SetFitted(cols, rows)
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := lr.state.RequireFeatures("LinearRegression.Predict", cols); err != nil {
		return nil, err
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		pred := lr.intercept_
		for j := 0; j < cols; j++ {
			pred += X.At(i, j) * lr.coef_[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	yTrue, err := metrics.ColumnVector("LinearRegression.Score", y)
	if err != nil {
		return 0, err
	}
	yPred, err := metrics.ColumnVector("LinearRegression.Score", predictions)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yTrue, yPred)
}

// Coef は学習された重み係数を返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef_ == nil {
		return nil
	}
	coef := make([]float64, len(lr.coef_))
	copy(coef, lr.coef_)
	return coef
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept_
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// GetParams returns the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) GetParams(deep bool) map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
	}
}

// SetParams sets the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "fit_intercept":
			v, ok := value.(bool)
			if !ok {
				return errors.NewValidationError(key, "unexpected type", value)
			}
			lr.fitIntercept = v
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return nil
}

// Clone はモデルの新しいインスタンスを作成（同じハイパーパラメータ、未学習）
func (lr *LinearRegression) Clone() model.SKLearnCompatible {
	return NewLinearRegression(WithFitIntercept(lr.fitIntercept))
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.state.IsFitted() {
		return fmt.Sprintf("LinearRegression(fit_intercept=%t)", lr.fitIntercept)
	}
	return fmt.Sprintf("LinearRegression(fit_intercept=%t, n_features=%d, fitted=true)",
		lr.fitIntercept, lr.nFeatures_)
}
