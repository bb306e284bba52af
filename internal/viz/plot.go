package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"
)

const (
	PlotHeight = 10
	PlotWidth  = 80
	// MaxPlots bounds the number of state components plotted.
	MaxPlots = 6
)

var captions = map[string][]string{
	"oscillator": {"position", "velocity"},
	"pendulum":   {"theta (angle)", "omega (angular velocity)"},
	"cartpole":   {"cart position", "cart velocity", "pole angle", "pole angular velocity"},
}

// Caption names component i of the state of model.
func Caption(model string, i int) string {
	if names, ok := captions[model]; ok && i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("x%d", i)
}

// Column extracts component i of every row; short rows give NaN.
func Column(rows [][]float64, i int) []float64 {
	out := make([]float64, len(rows))
	for k, r := range rows {
		if i < len(r) {
			out[k] = r[i]
		} else {
			out[k] = math.NaN()
		}
	}
	return out
}

// PlotSeries draws one line plot.
func PlotSeries(data []float64, caption string) string {
	return asciigraph.Plot(data,
		asciigraph.Height(PlotHeight),
		asciigraph.Width(PlotWidth),
		asciigraph.Caption(caption),
	)
}

// PlotStates draws one plot per state component, up to MaxPlots.
func PlotStates(model string, rows [][]float64) string {
	if len(rows) == 0 {
		return ""
	}
	n := min(len(rows[0]), MaxPlots)

	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(PlotSeries(Column(rows, i), Caption(model, i)))
		b.WriteString("\n\n")
	}
	return b.String()
}
