// Package ui binds user input to the charge predictor. Form holds the four
// raw input fields and the output text independently of how they are shown;
// WebServer renders it as an HTML form and a JSON endpoint.
package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/medcharge/insurance"
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
)

const (
	// ErrorTitle is the title of the error dialog.
	ErrorTitle = "Error"

	// InvalidInputMessage is shown whenever an input field cannot be parsed.
	InvalidInputMessage = "Please enter valid numeric values for age and BMI, and an integer value for children."

	// WindowTitle is the title of every surface.
	WindowTitle = "Medical Charges Prediction"

	outputFormat = "Predicted medical charges: $%.2f"
)

// SmokerChoices are the values offered by the smoker selector.
var SmokerChoices = []string{insurance.SmokerYes, insurance.SmokerNo}

// ChargePredictor predicts charges for one feature vector. *insurance.Predictor implements it.
type ChargePredictor interface {
	PredictCharge(f insurance.FeatureVector) (float64, error)
}

// Dialog displays a modal error.
type Dialog interface {
	ShowError(title, message string)
}

// DialogFunc adapts a function to Dialog.
type DialogFunc func(title, message string)

// ShowError calls f(title, message).
func (f DialogFunc) ShowError(title, message string) {
	f(title, message)
}

// FormatOutput renders a predicted value the way the output field shows it.
func FormatOutput(charges float64) string {
	return fmt.Sprintf(outputFormat, charges)
}

// Form is the interactive predictor: four raw text fields, a Predict action
// and a read-only output text.
type Form struct {
	Age      string
	BMI      string
	Children string
	Smoker   string

	// Output holds the last successful prediction. A failed click leaves it unchanged.
	Output string

	charges   float64
	predictor ChargePredictor
	dialog    Dialog
}

// NewForm creates an empty form bound to a trained predictor.
func NewForm(predictor ChargePredictor, dialog Dialog) *Form {
	return &Form{
		predictor: predictor,
		dialog:    dialog,
	}
}

// Features parses the raw fields. Age and BMI must be finite decimal numbers,
// Children a decimal integer; surrounding whitespace is ignored and single
// underscores between digits are allowed. Smoker is 1 only for exactly "yes".
func (f *Form) Features() (insurance.FeatureVector, error) {
	age, err := parseNumber("age", f.Age)
	if err != nil {
		return insurance.FeatureVector{}, err
	}
	bmi, err := parseNumber("bmi", f.BMI)
	if err != nil {
		return insurance.FeatureVector{}, err
	}
	children, err := parseInteger(f.Children)
	if err != nil {
		return insurance.FeatureVector{}, errors.NewInputParseError("children", f.Children, "integer")
	}
	return insurance.FeatureVector{
		Age:      age,
		BMI:      bmi,
		Children: children,
		Smoker:   insurance.SmokerIndicator(f.Smoker),
	}, nil
}

func parseNumber(field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	// hex float literals are Go syntax only
	if hasHexPrefix(s) {
		return 0, errors.NewInputParseError(field, raw, "number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NewInputParseError(field, raw, "number")
	}
	return v, nil
}

func parseInteger(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	digits := strings.TrimLeft(s, "+-")
	if len(s)-len(digits) > 1 || !separatorsOK(digits) {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s[:len(s)-len(digits)] + strings.ReplaceAll(digits, "_", ""))
}

func hasHexPrefix(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// separatorsOK reports whether every underscore in s sits between two digits.
func separatorsOK(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			continue
		}
		if i == 0 || i == len(s)-1 || !isDigit(s[i-1]) || !isDigit(s[i+1]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// OnPredictClicked parses the fields, predicts and updates Output. Any
// failure is shown in the dialog and returned; Output is then left unchanged.
func (f *Form) OnPredictClicked() error {
	logger := log.GetLoggerWithName("ui").With(log.PhaseKey, log.PhaseInference)

	features, err := f.Features()
	if err != nil {
		logger.Debug("Rejected form input", log.OperationKey, log.OperationPredict, "reason", err.Error())
		f.dialog.ShowError(ErrorTitle, InvalidInputMessage)
		return err
	}

	charges, err := f.predictor.PredictCharge(features)
	if err != nil {
		logger.Error("Prediction failed", err)
		f.dialog.ShowError(ErrorTitle, err.Error())
		return err
	}

	f.charges = charges
	f.Output = FormatOutput(charges)
	return nil
}

// Charges returns the unformatted value behind Output.
func (f *Form) Charges() float64 {
	return f.charges
}
