package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/parlons/pkg/assess"
)

var (
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	fairStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

// scoreStyle picks the colour for a percentage score.
func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 80:
		return goodStyle
	case score >= 50:
		return fairStyle
	default:
		return badStyle
	}
}

// renderResult formats a scored attempt: the score, then every reference
// word marked correct or followed by what was heard instead.
func renderResult(res *assess.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  heard %q\n",
		scoreStyle(res.Score).Render(fmt.Sprintf("%3.0f%%", res.Score)),
		res.Transcript,
	)
	words := make([]string, 0, len(res.Words))
	for _, w := range res.Words {
		switch {
		case w.Correct:
			words = append(words, goodStyle.Render("✓ "+w.Reference))
		case w.Actual == nil:
			words = append(words, badStyle.Render("✗ "+w.Reference)+dimStyle.Render(" (missing)"))
		default:
			words = append(words, badStyle.Render("✗ "+w.Reference)+dimStyle.Render(" (heard "+*w.Actual+")"))
		}
	}
	b.WriteString("  " + strings.Join(words, "  "))
	return b.String()
}

func renderPrompt(i, n int, text string) string {
	return promptStyle.Render(fmt.Sprintf("[%d/%d] Say: %s", i+1, n, text))
}

// renderLevel draws a fixed-width input meter for v in [0, 1].
func renderLevel(v float64, width int) string {
	filled := int(v*float64(width) + 0.5)
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}
