package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/chemdyn/internal/trajectory"
)

// PlotOptions sizes a chart. Log plots log10 of the values, clamped at
// 1e-40 so floored species stay on the chart.
type PlotOptions struct {
	Height int
	Width  int
	Log    bool
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Height: 12, Width: 80, Log: true}
}

const logClamp = 1e-40

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Blue, asciigraph.Red, asciigraph.Green, asciigraph.Yellow,
	asciigraph.Cyan, asciigraph.Magenta,
}

var legendColors = []lipgloss.Color{"12", "9", "10", "11", "14", "13"}

func scale(values []float64, log bool) []float64 {
	if !log {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log10(math.Max(v, logClamp))
	}
	return out
}

// PlotSeries draws one series.
func PlotSeries(values []float64, caption string, opts PlotOptions) string {
	if len(values) == 0 {
		return Subtle.Render("(no data)")
	}
	if opts.Log {
		caption = "log10 " + caption
	}
	return asciigraph.Plot(scale(values, opts.Log),
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Caption(caption),
	)
}

// PlotTrajectory draws the named state components of one system on a shared
// axis, followed by a color legend. species maps names to state indices and
// must list the network's species in state order; "T" addresses the slot
// after the last species.
func PlotTrajectory(recs []trajectory.Record, species []string, system int, names []string, opts PlotOptions) (string, error) {
	index := make(map[string]int, len(species)+1)
	for i, s := range species {
		index[s] = i
	}
	index["T"] = len(species)

	var data [][]float64
	var legend []string
	for k, name := range names {
		i, ok := index[name]
		if !ok {
			return "", fmt.Errorf("unknown species %q", name)
		}
		_, values := trajectory.Series(recs, system, i)
		if len(values) == 0 {
			return "", fmt.Errorf("no records for system %d", system)
		}
		data = append(data, scale(values, opts.Log))
		c := legendColors[k%len(legendColors)]
		legend = append(legend, lipgloss.NewStyle().Foreground(c).Render("■ "+name))
	}
	if len(data) == 0 {
		return "", fmt.Errorf("nothing to plot")
	}

	caption := fmt.Sprintf("system %d", system)
	if opts.Log {
		caption = "log10 abundance, " + caption
	}
	colors := make([]asciigraph.AnsiColor, len(data))
	for k := range colors {
		colors[k] = seriesColors[k%len(seriesColors)]
	}
	graph := asciigraph.PlotMany(data,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	)
	return graph + "\n" + strings.Join(legend, "  "), nil
}
