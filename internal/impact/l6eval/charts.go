package l6eval

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderDashboard writes an HTML page with the threshold sweep and the top
// features of r.
func RenderDashboard(w io.Writer, r *Report) error {
	xs := make([]string, len(r.Sweep))
	prec := make([]opts.LineData, len(r.Sweep))
	rec := make([]opts.LineData, len(r.Sweep))
	f := make([]opts.LineData, len(r.Sweep))
	for i, op := range r.Sweep {
		xs[i] = fmt.Sprintf("%.4f", op.Threshold)
		prec[i] = opts.LineData{Value: op.Precision}
		rec[i] = opts.LineData{Value: op.Recall}
		f[i] = opts.LineData{Value: op.F1}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Impact model evaluation", Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Threshold sweep",
			Subtitle: fmt.Sprintf("balanced=%.4f recall@%.2f=%.4f auc=%.4f",
				r.BalancedThreshold(), r.TargetRecall, r.RecallTargetThreshold(), r.ROCAUC),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "threshold", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(xs).
		AddSeries("precision", prec).
		AddSeries("recall", rec).
		AddSeries("f1", f)

	page := components.NewPage()
	page.AddCharts(line)

	if len(r.TopFeatures) > 0 {
		names := make([]string, len(r.TopFeatures))
		gains := make([]opts.BarData, len(r.TopFeatures))
		for i, fi := range r.TopFeatures {
			names[i] = fi.Feature
			gains[i] = opts.BarData{Value: fi.Gain}
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "520px"}),
			charts.WithTitleOpts(opts.Title{Title: "Top features", Subtitle: "share of split gain"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(names).AddSeries("gain", gains)
		page.AddCharts(bar)
	}

	return page.Render(w)
}
