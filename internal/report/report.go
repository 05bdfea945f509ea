// Package report renders the performance report page: an equity curve built
// from realized trades plus a per-trade PnL breakdown, one page per
// paper/live partition.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"vela/internal/store/model"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// Render writes the HTML report for one partition's trades, oldest first.
func Render(w io.Writer, trades []model.TradeModel, isLive bool) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	mode := "paper"
	if isLive {
		mode = "live"
	}

	page.AddCharts(
		buildEquityCurve(trades, mode),
		buildTradeBars(trades, mode),
	)
	return page.Render(w)
}

func baseInit() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
}

func buildEquityCurve(trades []model.TradeModel, mode string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("Equity Curve (%s)", mode),
			Subtitle:      fmt.Sprintf("%d trades, cumulative realized PnL", len(trades)),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	xAxis := make([]string, 0, len(trades))
	points := make([]opts.LineData, 0, len(trades))
	var equity float64
	for _, tr := range trades {
		equity += tr.RealizedPnL
		xAxis = append(xAxis, time.Unix(tr.ClosedAtUnix, 0).UTC().Format("01-02 15:04"))
		points = append(points, opts.LineData{Value: round2(equity)})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("equity", points,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func buildTradeBars(trades []model.TradeModel, mode string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("Per-Trade PnL (%s)", mode),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	xAxis := make([]string, 0, len(trades))
	bars := make([]opts.BarData, 0, len(trades))
	for _, tr := range trades {
		label := fmt.Sprintf("%s %s", strings.ToUpper(strings.ReplaceAll(tr.Symbol, "/", "")), tr.ExitReason)
		xAxis = append(xAxis, label)
		color := colorWin
		if tr.RealizedPnL < 0 {
			color = colorLoss
		}
		bars = append(bars, opts.BarData{
			Value:     round2(tr.RealizedPnL),
			ItemStyle: &opts.ItemStyle{Color: color},
		})
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("pnl", bars)
	return bar
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
