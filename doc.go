// Package medcharge predicts medical insurance charges with a decision tree
// regressor trained on the public Medical_insurance.csv dataset.
//
// The model uses four features, in this order: age, bmi, children and
// smoker (1 for "yes", 0 for "no"). Training holds out 20% of the rows with
// a fixed seed, so the same dataset always produces the same tree.
//
// # Packages
//
//   - insurance: dataset loading, training, evaluation and single predictions
//   - sklearn/tree: DecisionTreeRegressor (CART, squared error)
//   - sklearn/linear_model: ordinary least squares baseline
//   - sklearn/model_selection: TrainTestSplit, KFold and CrossValScore
//   - metrics: MSE, RMSE, MAE and R²
//   - ui: the prediction form and its HTTP front end
//   - config: file and flag configuration
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Quick Start
//
//	predictor, err := insurance.TrainFromFile("Medical_insurance.csv")
//	if err != nil {
//		log.Fatal(err)
//	}
//	charges, err := predictor.PredictCharge(insurance.FeatureVector{
//		Age: 35, BMI: 28.5, Children: 2, Smoker: insurance.SmokerIndicator("yes"),
//	})
//
// Or from the command line:
//
//	medcharge serve --data Medical_insurance.csv
//	medcharge predict --age 35 --bmi 28.5 --children 2 --smoker yes
//	medcharge evaluate --cv --plot predictions.png
package medcharge
