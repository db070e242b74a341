// Package insurance prepares the medical insurance dataset, trains the charge
// model and answers single-row charge predictions.
package insurance

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Smoker choices accepted in the dataset and offered by the input surfaces.
const (
	SmokerYes = "yes"
	SmokerNo  = "no"
)

// RequiredColumns are the CSV columns the preparer reads. Other columns are ignored.
var RequiredColumns = []string{"age", "bmi", "children", "smoker", "charges"}

// FeatureNames is the column order of every feature matrix.
var FeatureNames = []string{"age", "bmi", "children", "smoker"}

// Record is one CSV row as decoded by gocsv.
type Record struct {
	Age      Cell   `csv:"age"`
	BMI      Cell   `csv:"bmi"`
	Children Cell   `csv:"children"`
	Smoker   string `csv:"smoker"`
	Charges  Cell   `csv:"charges"`
}

// Cell is a numeric CSV cell. A blank cell decodes to NaN instead of 0, and
// parseTable rejects it.
type Cell float64

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (c *Cell) UnmarshalCSV(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*c = Cell(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	*c = Cell(f)
	return nil
}

// Missing reports whether the cell was blank.
func (c Cell) Missing() bool {
	return math.IsNaN(float64(c))
}

// FeatureVector is one model input. Smoker is 1 for smokers and 0 otherwise;
// NaN marks a dataset value that could not be mapped.
type FeatureVector struct {
	Age      float64
	BMI      float64
	Children int
	Smoker   float64
}

// Values returns the features in FeatureNames order.
func (f FeatureVector) Values() []float64 {
	return []float64{f.Age, f.BMI, float64(f.Children), f.Smoker}
}

// EncodeSmoker maps a dataset smoker value to 1 ("yes") or 0 ("no").
// Any other value yields NaN and false.
func EncodeSmoker(value string) (float64, bool) {
	switch value {
	case SmokerYes:
		return 1, true
	case SmokerNo:
		return 0, true
	default:
		return math.NaN(), false
	}
}

// SmokerIndicator maps a user selection to the smoker feature: exactly "yes"
// is 1, anything else is 0.
func SmokerIndicator(choice string) float64 {
	if choice == SmokerYes {
		return 1
	}
	return 0
}

// Table is the numeric form of the dataset.
type Table struct {
	Features []FeatureVector
	Charges  []float64

	// Unmapped holds the row indices whose smoker value was neither "yes" nor "no".
	Unmapped []int
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Features)
}

// Matrix returns the n×4 feature matrix.
func (t *Table) Matrix() *mat.Dense {
	X := mat.NewDense(len(t.Features), len(FeatureNames), nil)
	for i, f := range t.Features {
		X.SetRow(i, f.Values())
	}
	return X
}

// Target returns the n×1 charges matrix.
func (t *Table) Target() *mat.Dense {
	y := make([]float64, len(t.Charges))
	copy(y, t.Charges)
	return mat.NewDense(len(y), 1, y)
}
