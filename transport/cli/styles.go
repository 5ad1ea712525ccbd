package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	queryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	toolDoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))
)
