package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// RenderHTML writes a page with the failure-probability grid and the task
// instances, demonstrations and suggested next demonstration.
func RenderHTML(w io.Writer, h *Heatmap) error {
	page := components.NewPage()
	page.PageTitle = "Demonstration sufficiency"
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(gridChart(h), scatterChart(h))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render heat map: %w", err)
	}
	return nil
}

func gridChart(h *Heatmap) *charts.HeatMap {
	xLabels := make([]string, len(h.X))
	for i, iv := range h.X {
		xLabels[i] = fmt.Sprintf("%.3g..%.3g", iv.Lo, iv.Hi)
	}
	yLabels := make([]string, len(h.Y))
	for i, iv := range h.Y {
		yLabels[i] = fmt.Sprintf("%.3g..%.3g", iv.Lo, iv.Hi)
	}

	data := make([]opts.HeatMapData, 0, len(h.X)*len(h.Y))
	for r, row := range h.Values {
		for c, v := range row {
			if math.IsNaN(v) {
				data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, "-"}})
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, v}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Arm failure probability", Width: "900px", Height: "700px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Arm failure probability", Subtitle: h.subtitle()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: h.XName, NameLocation: "middle", NameGap: 30, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels, Name: h.YName, NameLocation: "middle", NameGap: 60, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("failure probability", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{@[2]}"}))
	return hm
}

func scatterChart(h *Heatmap) *charts.Scatter {
	xmin, xmax, ymin, ymax := h.Bounds()

	var ok, failed []opts.ScatterData
	for _, in := range h.Instances {
		pt := opts.ScatterData{Value: []interface{}{in.X, in.Y}}
		if in.Failed {
			failed = append(failed, pt)
		} else {
			ok = append(ok, pt)
		}
	}
	demos := make([]opts.ScatterData, 0, len(h.Demonstrations))
	for _, d := range h.Demonstrations {
		demos = append(demos, opts.ScatterData{Name: fmt.Sprintf("demo %d", d.ID), Value: []interface{}{d.X, d.Y, d.Score}})
	}
	var next []opts.ScatterData
	if len(h.Next) > 0 {
		next = append(next, opts.ScatterData{Name: "next", Value: []interface{}{h.Next[0].X, h.Next[0].Y}, Symbol: "diamond"})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Task instances", Width: "900px", Height: "700px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Task instances", Subtitle: fmt.Sprintf("instances=%d demonstrations=%d", len(h.Instances), len(h.Demonstrations))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xmin, Max: xmax, Name: h.XName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: ymin, Max: ymax, Name: h.YName, NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("succeeded", ok, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}))
	scatter.AddSeries("failed", failed, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))
	scatter.AddSeries("demonstrations", demos, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#3e4989"}))
	scatter.AddSeries("next demonstration", next, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 18}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#fde725"}))
	return scatter
}
