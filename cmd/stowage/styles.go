// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

const (
	// ColorPrimary is used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")
	// ColorMuted is used for secondary text.
	ColorMuted = lipgloss.Color("#6B7280")
	// ColorSuccess marks installed content and completed steps.
	ColorSuccess = lipgloss.Color("#10B981")
	// ColorError marks failures.
	ColorError = lipgloss.Color("#EF4444")
	// ColorWarning marks warnings.
	ColorWarning = lipgloss.Color("#F59E0B")
	// ColorHighlight marks labels and commands.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	TitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	LabelStyle    = lipgloss.NewStyle().Foreground(ColorHighlight)

	// columnStyle pads the label column of list and info output.
	columnStyle = lipgloss.NewStyle().Width(40)
)
