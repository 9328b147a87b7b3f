// Package ui renders human-facing CLI output: styled on TTYs, plain when
// piped.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Styles for terminal output.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// IsTTY reports whether stdout is an interactive terminal.
func IsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Title renders a section title.
func Title(s string) string {
	if !IsTTY() {
		return s
	}
	return titleStyle.Render(s)
}

// Label renders a field label.
func Label(s string) string {
	if !IsTTY() {
		return s
	}
	return labelStyle.Render(s)
}

// Value renders a field value.
func Value(s string) string {
	if !IsTTY() {
		return s
	}
	return valueStyle.Render(s)
}

// Success renders a success message.
func Success(s string) string {
	if !IsTTY() {
		return s
	}
	return successStyle.Render(s)
}

// Warn renders a warning message.
func Warn(s string) string {
	if !IsTTY() {
		return s
	}
	return warnStyle.Render(s)
}

// Error renders an error message.
func Error(s string) string {
	if !IsTTY() {
		return s
	}
	return errorStyle.Render(s)
}
