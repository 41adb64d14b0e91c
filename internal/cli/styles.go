// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trahoangdev/mini-chatbot/internal/model"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and the chat banner
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	// ValueStyle is used for plain values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for hints and timestamps
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// CommandStyle highlights slash commands in help text
	CommandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("48"))
)

// Chat role labels.
var (
	userLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("141")).
				Bold(true)

	systemLabelStyle = ErrorStyle
)

// roleLabel returns the styled "Name: " prefix for a message role.
func roleLabel(r model.Role) string {
	label := r.DisplayName() + ": "
	switch r {
	case model.RoleUser:
		return userLabelStyle.Render(label)
	case model.RoleAssistant:
		return assistantLabelStyle.Render(label)
	default:
		return systemLabelStyle.Render(label)
	}
}

// printMessage writes one finished message with its role label.
func printMessage(w io.Writer, m model.Message) {
	content := WrapText(m.Content, 0)
	if m.Role == model.RoleSystem {
		fmt.Fprintln(w, ErrorStyle.Render(content))
		return
	}
	fmt.Fprintln(w, roleLabel(m.Role)+content)
}

// printField writes an aligned "label value" line.
func printField(w io.Writer, label, value string) {
	fmt.Fprintln(w, LabelStyle.Render(label)+ValueStyle.Render(value))
}

// printError writes a styled error line.
func printError(w io.Writer, msg string) {
	if !strings.HasPrefix(msg, "Error: ") {
		msg = "Error: " + msg
	}
	fmt.Fprintln(w, ErrorStyle.Render(msg))
}
