package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var channelColors = []string{"#e41a1c", "#377eb8", "#4daf4a", "#984ea3", "#ff7f00", "#a65628", "#f781bf", "#999999"}

// StructurePage describes one fitted item for RenderStructurePage.
type StructurePage struct {
	Title    string
	Channels atoms.ChannelSet
	Fitted   atoms.Structure
	// Truth is nil when the true structure is unknown.
	Truth   *atoms.Structure
	Visited []fit.VisitedEntry
}

// RenderStructurePage writes an HTML page with an x/y projection of the
// fitted atoms (filled) and true atoms (hollow), one series per channel,
// followed by the fit loss of every visited structure.
func RenderStructurePage(w io.Writer, page StructurePage) error {
	scatter := charts.NewScatter()
	pad := projectionExtent(page.Fitted, page.Truth)
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: page.Title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: page.Title, Subtitle: fmt.Sprintf("fitted=%d", page.Fitted.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -pad, Max: pad, Name: "X (Å)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -pad, Max: pad, Name: "Y (Å)", NameLocation: "middle", NameGap: 30}),
	)

	for c := 0; c < numTypes(page); c++ {
		name := channelName(page.Channels, c)
		color := channelColors[c%len(channelColors)]
		if pts := projection(page.Fitted, c); len(pts) > 0 {
			scatter.AddSeries("fit "+name, pts,
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
		}
		if page.Truth == nil {
			continue
		}
		if pts := projection(*page.Truth, c); len(pts) > 0 {
			scatter.AddSeries("true "+name, pts,
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16, Symbol: "emptyCircle"}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Search history", Subtitle: fmt.Sprintf("visited=%d", len(page.Visited))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Visit", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Loss"}),
	)
	x := make([]string, len(page.Visited))
	losses := make([]opts.LineData, len(page.Visited))
	best := make([]opts.LineData, len(page.Visited))
	for i, b := range runningBest(page.Visited) {
		x[i] = strconv.Itoa(i)
		losses[i] = opts.LineData{Value: page.Visited[i].Objective.FitLoss}
		best[i] = opts.LineData{Value: b}
	}
	line.SetXAxis(x).
		AddSeries("visited", losses).
		AddSeries("best", best)

	p := components.NewPage()
	p.SetPageTitle(page.Title)
	p.AddCharts(scatter, line)
	if err := p.Render(w); err != nil {
		return fmt.Errorf("render structure page: %w", err)
	}
	return nil
}

func numTypes(page StructurePage) int {
	n := page.Channels.Len()
	grow := func(s atoms.Structure) {
		for i := 0; i < s.Len(); i++ {
			if t := s.Type(i) + 1; t > n {
				n = t
			}
		}
	}
	grow(page.Fitted)
	if page.Truth != nil {
		grow(*page.Truth)
	}
	return n
}

func channelName(cs atoms.ChannelSet, c int) string {
	if c < cs.Len() && cs[c].Name != "" {
		return cs[c].Name
	}
	return "type " + strconv.Itoa(c)
}

func projection(s atoms.Structure, channel int) []opts.ScatterData {
	var pts []opts.ScatterData
	for i := 0; i < s.Len(); i++ {
		if s.Type(i) != channel {
			continue
		}
		p := s.Coord(i)
		pts = append(pts, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return pts
}

// projectionExtent returns a symmetric axis bound covering every atom with
// a margin, at least 1.
func projectionExtent(fitted atoms.Structure, truth *atoms.Structure) float64 {
	pad := 1.0
	cover := func(s atoms.Structure) {
		for i := 0; i < s.Len(); i++ {
			p := s.Coord(i)
			pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y))+1)
		}
	}
	cover(fitted)
	if truth != nil {
		cover(*truth)
	}
	return math.Ceil(pad)
}
