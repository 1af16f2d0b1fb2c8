package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles are the lipgloss styles used by text output.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	ID      lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusRunning lipgloss.Style
	StatusPending lipgloss.Style
	StatusSkipped lipgloss.Style
}

// NewStyles builds styles for w. Non-terminal writers get the ASCII profile
// so no escape codes leak into pipes.
func NewStyles(w io.Writer, isTTY bool) *Styles {
	lr := lipgloss.NewRenderer(w)
	if !isTTY {
		lr.SetColorProfile(termenv.Ascii)
	}

	green := lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	red := lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	yellow := lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	blue := lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	gray := lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}

	return &Styles{
		Header1: lr.NewStyle().Bold(true).Foreground(blue).MarginBottom(1),
		Header2: lr.NewStyle().Bold(true).Underline(true),
		Bold:    lr.NewStyle().Bold(true),
		Muted:   lr.NewStyle().Foreground(gray),
		ID:      lr.NewStyle().Foreground(blue),
		Success: lr.NewStyle().Foreground(green),
		Warning: lr.NewStyle().Foreground(yellow),
		Error:   lr.NewStyle().Foreground(red).Bold(true),

		StatusSuccess: lr.NewStyle().Foreground(green).SetString("✓"),
		StatusFailed:  lr.NewStyle().Foreground(red).SetString("✗"),
		StatusRunning: lr.NewStyle().Foreground(blue).SetString("●"),
		StatusPending: lr.NewStyle().Foreground(gray).SetString("○"),
		StatusSkipped: lr.NewStyle().Foreground(yellow).SetString("-"),
	}
}

// StatusIcon returns the rendered icon for a run or stage status.
func (s *Styles) StatusIcon(status string) string {
	switch status {
	case "success", "completed":
		return s.StatusSuccess.String()
	case "failed":
		return s.StatusFailed.String()
	case "running":
		return s.StatusRunning.String()
	case "skipped":
		return s.StatusSkipped.String()
	default:
		return s.StatusPending.String()
	}
}
