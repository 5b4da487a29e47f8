// Package visual renders the equity history as a self-contained HTML chart.
package visual

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"guardian/internal/manager"
)

const (
	chartWidthPx  = 1180
	chartHeightPx = 420

	colorBackground    = "#10141c"
	colorTextPrimary   = "#e6e9ef"
	colorTextSecondary = "#8b93a7"
	colorEquity        = "#4fc3f7"
)

// RenderEquityCurve writes a single-series balance chart.
func RenderEquityCurve(w io.Writer, samples []manager.EquitySample) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
			PageTitle:       "Equity",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Account Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 8,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}),
	)

	xAxis := make([]string, len(samples))
	data := make([]opts.LineData, len(samples))
	for i, s := range samples {
		xAxis[i] = s.At.UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: s.Balance}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Balance", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line.Render(w)
}
