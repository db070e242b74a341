package insurance

import (
	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePredictionPlot writes a scatter plot of actual against predicted
// held-out charges to path. The image format follows the file extension.
func SavePredictionPlot(p *Predictor, path string) error {
	actual, predicted, err := p.TestPredictions()
	if err != nil {
		return err
	}

	points := make(plotter.XYs, len(actual))
	for i := range actual {
		points[i].X = actual[i]
		points[i].Y = predicted[i]
	}

	pl := plot.New()
	pl.Title.Text = "Medical charges: held-out predictions"
	pl.X.Label.Text = "Actual charges ($)"
	pl.Y.Label.Text = "Predicted charges ($)"

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return errors.Wrap(err, "build scatter")
	}
	scatter.GlyphStyle.Radius = vg.Points(2)

	// y = x reference line
	identity := plotter.NewFunction(func(x float64) float64 { return x })
	identity.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	pl.Add(plotter.NewGrid(), scatter, identity)
	pl.Legend.Add("prediction", scatter)
	pl.Legend.Add("perfect fit", identity)
	pl.Legend.Top = true
	pl.Legend.Left = true

	if err := pl.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
