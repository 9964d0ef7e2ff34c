package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

type styledRune struct {
	s       string
	width   int
	isSpace bool
}

// buildStyledRunes renders the required passphrase against what was typed.
// Extra typed runes past the end are appended as errors.
func buildStyledRunes(requiredRunes, typedRunes []rune, cursorIndex int) []styledRune {
	out := make([]styledRune, 0, len(requiredRunes))
	for i, required := range requiredRunes {
		displayed := required
		style := pendingStyle
		if i < len(typedRunes) {
			switch {
			case typedRunes[i] == required:
				style = correctStyle
			case required == ' ':
				displayed = '•'
				style = incorrectStyle
			default:
				style = incorrectStyle
			}
		}
		if i == cursorIndex {
			style = style.Underline(true)
		}
		out = append(out, newStyledRune(displayed, style.Render(string(displayed)), required == ' '))
	}
	for i := len(requiredRunes); i < len(typedRunes); i++ {
		r := typedRunes[i]
		if r == ' ' {
			r = '•'
		}
		out = append(out, newStyledRune(r, overflowStyle.Render(string(r)), false))
	}
	return out
}

func newStyledRune(r rune, rendered string, isSpace bool) styledRune {
	return styledRune{s: rendered, width: runewidth.RuneWidth(r), isSpace: isSpace}
}

func renderStyledRunes(runes []styledRune) string {
	var b strings.Builder
	for _, item := range runes {
		b.WriteString(item.s)
	}
	return b.String()
}

// wrapStyledRunes breaks lines at the last space that fits width, or mid-word
// when a word is wider than a line.
func wrapStyledRunes(runes []styledRune, width int) string {
	if width <= 0 {
		return renderStyledRunes(runes)
	}
	var lines []string
	var line []styledRune
	lineWidth := 0
	for i := 0; i < len(runes); {
		item := runes[i]
		if lineWidth+item.width > width && len(line) > 0 {
			cut := lastSpaceIndex(line)
			if cut >= 0 {
				lines = append(lines, renderStyledRunes(line[:cut]))
				line = append([]styledRune{}, line[cut+1:]...)
			} else {
				lines = append(lines, renderStyledRunes(line))
				line = nil
			}
			lineWidth = lineWidthOf(line)
			continue
		}
		line = append(line, item)
		lineWidth += item.width
		i++
	}
	lines = append(lines, renderStyledRunes(line))
	return strings.Join(lines, "\n")
}

func lineWidthOf(line []styledRune) int {
	total := 0
	for _, item := range line {
		total += item.width
	}
	return total
}

func lastSpaceIndex(line []styledRune) int {
	for i := len(line) - 1; i >= 0; i-- {
		if line[i].isSpace {
			return i
		}
	}
	return -1
}
