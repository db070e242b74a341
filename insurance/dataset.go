package insurance

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var utf8BOM = []byte("\ufeff")

// LoadTable reads the dataset at path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	return parseTable(path, data)
}

// ReadTable reads a dataset from r.
func ReadTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	return parseTable("input", data)
}

func parseTable(source string, data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err == io.EOF {
		return nil, errors.Wrapf(errors.ErrEmptyData, "dataset %s", source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", source)
	}
	if missing := lo.Without(RequiredColumns, header...); len(missing) > 0 {
		return nil, errors.NewSchemaError(source, missing)
	}

	var records []*Record
	if err := gocsv.UnmarshalBytes(data, &records); err != nil {
		return nil, errors.Wrapf(err, "parse dataset %s", source)
	}
	if len(records) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "dataset %s", source)
	}

	if err := checkCells(source, records); err != nil {
		return nil, err
	}

	table := &Table{
		Features: make([]FeatureVector, len(records)),
		Charges:  make([]float64, len(records)),
	}
	var unmappedValues []string
	for i, r := range records {
		smoker, ok := EncodeSmoker(r.Smoker)
		if !ok {
			table.Unmapped = append(table.Unmapped, i)
			unmappedValues = append(unmappedValues, r.Smoker)
		}
		table.Features[i] = FeatureVector{
			Age:      float64(r.Age),
			BMI:      float64(r.BMI),
			Children: int(r.Children),
			Smoker:   smoker,
		}
		table.Charges[i] = float64(r.Charges)
	}

	if len(table.Unmapped) > 0 {
		errors.Warn(errors.NewDataConversionWarning("string", "float64",
			fmt.Sprintf("%d smoker values outside {yes, no} in %s were encoded as NaN: %q",
				len(table.Unmapped), source, lo.Uniq(unmappedValues))))
	}

	log.GetLoggerWithName("insurance").Debug("Dataset loaded",
		log.SourceKey, source,
		log.SamplesKey, table.Len(),
		log.FeaturesKey, len(FeatureNames),
		log.UnmappedKey, len(table.Unmapped),
	)
	return table, nil
}

// MissingValueError reports blank numeric cells. The dataset is not imputed.
type MissingValueError struct {
	Source  string
	Rows    []int
	Columns []string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("medcharge: %s has missing values in columns %v (rows %v)", e.Source, e.Columns, e.Rows)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *MissingValueError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Ints("rows", e.Rows).
		Strs("columns", e.Columns).
		Str("type", "MissingValueError")
}

// checkCells rejects blank numeric cells and fractional children counts.
func checkCells(source string, records []*Record) error {
	missing := &MissingValueError{Source: source}
	for i, r := range records {
		cells := []struct {
			column string
			value  Cell
		}{
			{"age", r.Age}, {"bmi", r.BMI}, {"children", r.Children}, {"charges", r.Charges},
		}
		blank := false
		for _, c := range cells {
			if c.value.Missing() {
				missing.Columns = append(missing.Columns, c.column)
				blank = true
			}
		}
		if blank {
			missing.Rows = append(missing.Rows, i)
			continue
		}
		if children := float64(r.Children); children != math.Trunc(children) || children < 0 {
			return errors.NewValueError("insurance.ReadTable",
				fmt.Sprintf("children in row %d of %s must be a non-negative integer, got %v", i, source, children))
		}
	}
	if len(missing.Rows) > 0 {
		missing.Columns = lo.Uniq(missing.Columns)
		return errors.WithStack(missing)
	}
	return nil
}
