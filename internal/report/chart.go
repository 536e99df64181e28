package report

import (
	"fmt"
	"io"
	"math"

	"sigtrack/internal/stats"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#0f172a"
	colorTextPrimary   = "#e2e8f0"
	colorTextSecondary = "#94a3b8"
	colorCount         = "#38bdf8"
	colorWinRate       = "#22c55e"
	colorIdeal         = "#f59e0b"
)

// RenderCalibration 输出置信度分档的胜率与样本量 HTML 图表。
// 理想校准线取各档中点，模型置信度与实际胜率越接近越好。
func RenderCalibration(w io.Writer, title string, buckets []stats.Bucket) error {
	if len(buckets) == 0 {
		return fmt.Errorf("no calibration buckets to render")
	}
	xAxis := make([]string, len(buckets))
	counts := make([]opts.BarData, len(buckets))
	winRates := make([]opts.LineData, len(buckets))
	ideal := make([]opts.LineData, len(buckets))
	for i, b := range buckets {
		xAxis[i] = b.Label
		counts[i] = opts.BarData{Value: b.Count}
		winRates[i] = opts.LineData{Value: round(b.WinRate*100, 2)}
		ideal[i] = opts.LineData{Value: round((b.Lower+b.Upper)/2*100, 2)}
	}

	init := opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           "960px",
		Height:          "480px",
		BackgroundColor: colorBackground,
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      "bars: decided signals per bucket | lines: win rate vs. confidence (%)",
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "40", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "signals",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	bar.ExtendYAxis(opts.YAxis{
		Name:      "win rate %",
		Min:       0,
		Max:       100,
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
	})
	bar.SetXAxis(xAxis).
		AddSeries("decided", counts, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCount, Opacity: opts.Float(0.6)}))

	line := charts.NewLine()
	line.SetXAxis(xAxis).
		AddSeries("win rate", winRates, charts.WithLineStyleOpts(opts.LineStyle{Color: colorWinRate, Width: 2}),
			charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, ShowSymbol: opts.Bool(true)})).
		AddSeries("ideal", ideal, charts.WithLineStyleOpts(opts.LineStyle{Color: colorIdeal, Width: 1, Type: "dashed"}),
			charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, ShowSymbol: opts.Bool(false)}))
	bar.Overlap(line)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(bar)
	return page.Render(w)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
