package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f472b6")).Bold(true)
	visitedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#818cf8"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
)

// Progress renders the eligible path as one line, marking visited and current steps.
func Progress(path []string, current string, visited []string) string {
	seen := make(map[string]bool, len(visited))
	for _, id := range visited {
		seen[id] = true
	}

	parts := make([]string, 0, len(path))
	for _, id := range path {
		switch {
		case id == current:
			parts = append(parts, currentStyle.Render("● "+id))
		case seen[id]:
			parts = append(parts, visitedStyle.Render("✓ "+id))
		default:
			parts = append(parts, pendingStyle.Render("○ "+id))
		}
	}
	return strings.Join(parts, pendingStyle.Render(" › "))
}
