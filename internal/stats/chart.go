package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	defaultChartHeight  = 8
	minChartWidth       = 10
	axisLabelWidth      = 7
	axisSeparator       = " │ "
	chartColor          = "\x1b[33m"
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80
)

var blockChars = []rune(" ▁▂▃▄▅▆▇█")

// RenderChart draws values as a column chart. Series longer than width are
// averaged into width buckets; shorter ones get one column per value.
func RenderChart(w io.Writer, title string, values []float64, width, height int, forceColor bool) error {
	if len(values) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultChartHeight
	}
	if width <= 0 {
		width = ChartWidthFor(terminalWidth())
	}
	if width < minChartWidth {
		width = minChartWidth
	}

	cols := bucket(values, width)
	lo, hi := bounds(cols)
	if math.Abs(hi-lo) < 1e-9 {
		lo--
		hi++
	}
	steps := height * 8
	levels := make([]int, len(cols))
	for i, v := range cols {
		levels[i] = clamp(int(math.Round((v-lo)/(hi-lo)*float64(steps))), 1, steps)
	}

	useColor := shouldUseColor(w, forceColor)
	if title != "" {
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
	}
	for row := height - 1; row >= 0; row-- {
		label := ""
		switch row {
		case height - 1:
			label = fmt.Sprintf("%.2f", hi)
		case 0:
			label = fmt.Sprintf("%.2f", lo)
		}
		var bars strings.Builder
		for _, level := range levels {
			fill := clamp(level-row*8, 0, 8)
			bars.WriteRune(blockChars[fill])
		}
		line := bars.String()
		if useColor {
			line = chartColor + line + colorReset
		}
		if _, err := fmt.Fprintf(w, "%*s%s%s\n", axisLabelWidth, label, axisSeparator, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d points, latest %.2f\n\n", len(values), values[len(values)-1])
	return err
}

// ChartWidthFor computes a chart width that fits within totalWidth.
func ChartWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minChartWidth
	}
	width := totalWidth - axisLabelWidth - len([]rune(axisSeparator))
	if width < minChartWidth {
		width = minChartWidth
	}
	return width
}

// ColorEnabled reports whether w is a terminal that accepts colour.
func ColorEnabled(w io.Writer) bool {
	return shouldUseColor(w, false)
}

func bucket(values []float64, width int) []float64 {
	if len(values) <= width {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, width)
	for i := range out {
		start := i * len(values) / width
		end := (i + 1) * len(values) / width
		if end <= start {
			end = start + 1
		}
		var sum float64
		for _, v := range values[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
