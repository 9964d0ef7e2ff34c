package stats

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// column describes one column of a plain-text report table.
type column struct {
	title string
	right bool
	// max caps the cell width; longer cells are cut with an ellipsis. Zero
	// means unbounded.
	max int
}

// textTable collects rows and lays them out with cells padded to the widest
// value in each column, measured in terminal cells.
type textTable struct {
	cols []column
	rows [][]string
}

func newTextTable(cols ...column) *textTable {
	return &textTable{cols: cols}
}

// add appends a row. Missing cells render empty and extra cells are dropped.
func (t *textTable) add(cells ...string) {
	row := make([]string, len(t.cols))
	for i := range row {
		if i < len(cells) {
			row[i] = t.clip(i, cells[i])
		}
	}
	t.rows = append(t.rows, row)
}

func (t *textTable) clip(col int, cell string) string {
	limit := t.cols[col].max
	if limit <= 0 || runewidth.StringWidth(cell) <= limit {
		return cell
	}
	return runewidth.Truncate(cell, limit, "…")
}

func (t *textTable) widths() []int {
	widths := make([]int, len(t.cols))
	for i, col := range t.cols {
		widths[i] = runewidth.StringWidth(col.title)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// lines returns the header line followed by one line per row.
func (t *textTable) lines() []string {
	if len(t.cols) == 0 {
		return nil
	}
	widths := t.widths()
	header := make([]string, len(t.cols))
	for i, col := range t.cols {
		header[i] = col.title
	}
	out := make([]string, 0, len(t.rows)+1)
	out = append(out, t.line(header, widths))
	for _, row := range t.rows {
		out = append(out, t.line(row, widths))
	}
	return out
}

func (t *textTable) line(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(' ')
		}
		gap := strings.Repeat(" ", max(0, widths[i]-runewidth.StringWidth(cell)))
		if t.cols[i].right {
			b.WriteString(gap + cell)
		} else {
			b.WriteString(cell + gap)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func (t *textTable) writeTo(w io.Writer) error {
	return writeLines(w, t.lines())
}
