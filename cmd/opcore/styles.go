package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	header lipgloss.Style
	name   lipgloss.Style
	codec  lipgloss.Style
	result lipgloss.Style
	err    lipgloss.Style
	help   lipgloss.Style
}

// newStyles renders for w. With noColor every style is plain.
func newStyles(w io.Writer, noColor bool) styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return styles{header: plain, name: plain, codec: plain, result: plain, err: plain, help: plain}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		name:   r.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		codec:  r.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		result: r.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		err:    r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		help:   r.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}
