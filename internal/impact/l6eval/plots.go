package l6eval

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	curveColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	chanceColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	markerColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// WritePlots renders roc.png and precision_recall.png into dir and returns
// the written paths.
func WritePlots(dir string, r *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot dir: %w", err)
	}
	var written []string
	if r.ROCAUCDefined {
		path := filepath.Join(dir, "roc.png")
		if err := writeROCPlot(path, r.ROC, r.ROCAUC); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	path := filepath.Join(dir, "precision_recall.png")
	if err := writePRPlot(path, r); err != nil {
		return written, err
	}
	return append(written, path), nil
}

func writeROCPlot(path string, c ROCCurve, auc float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROC (AUC = %.4f)", auc)
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, len(c.FPR))
	for i := range c.FPR {
		pts[i] = plotter.XY{X: c.FPR[i], Y: c.TPR[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("roc line: %w", err)
	}
	line.Color = curveColor
	line.Width = vg.Points(1.5)

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return err
	}
	chance.Color = chanceColor
	chance.Width = vg.Points(1)
	chance.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}

	p.Add(chance, line)
	p.Legend.Add("model", line)
	p.Legend.Add("chance", chance)
	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writePRPlot(path string, r *Report) error {
	p := plot.New()
	p.Title.Text = "Precision / recall by threshold"
	p.X.Label.Text = "Threshold"
	p.Y.Label.Text = "Score"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.05

	prec := make(plotter.XYs, len(r.Sweep))
	rec := make(plotter.XYs, len(r.Sweep))
	f := make(plotter.XYs, len(r.Sweep))
	for i, op := range r.Sweep {
		prec[i] = plotter.XY{X: op.Threshold, Y: op.Precision}
		rec[i] = plotter.XY{X: op.Threshold, Y: op.Recall}
		f[i] = plotter.XY{X: op.Threshold, Y: op.F1}
	}

	series := []struct {
		name string
		pts  plotter.XYs
		col  color.Color
	}{
		{"precision", prec, curveColor},
		{"recall", rec, color.RGBA{R: 44, G: 160, B: 44, A: 255}},
		{"f1", f, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.name, err)
		}
		line.Color = s.col
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	for _, t := range []float64{r.BalancedThreshold(), r.RecallTargetThreshold()} {
		mark, err := plotter.NewLine(plotter.XYs{{X: t, Y: 0}, {X: t, Y: 1}})
		if err != nil {
			return err
		}
		mark.Color = markerColor
		mark.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(mark)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
