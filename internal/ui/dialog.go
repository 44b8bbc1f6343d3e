package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loykin/deskhost/internal/failure"
)

const dialogWidth = 88

var (
	errorColor = lipgloss.Color("#e53935")
	mutedColor = lipgloss.Color("#8a8f98")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	bodyStyle  = lipgloss.NewStyle()
	tailStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(0, 1)
)

// RenderDialog draws r as a bordered box: the title, the cause, and any
// captured output in a muted color. Lines longer than the box are wrapped.
func RenderDialog(r failure.Report) string {
	head, tail, _ := strings.Cut(r.Body, "\n\nRecent ")
	parts := []string{
		titleStyle.Render(r.Title),
		"",
		bodyStyle.Width(dialogWidth).Render(head),
	}
	if tail != "" {
		parts = append(parts, "", tailStyle.Width(dialogWidth).Render("Recent "+tail))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
