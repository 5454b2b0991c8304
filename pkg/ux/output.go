// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the tidechat CLI.
package ux

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents

	ColorSlate = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Chat roles
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style

	// Citation footer
	CitationHeader lipgloss.Style
	CitationSource lipgloss.Style
	CitationScore  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(ColorTealDeep),

	CitationHeader: lipgloss.NewStyle().Foreground(ColorTealDeep),
	CitationSource: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	CitationScore:  lipgloss.NewStyle().Foreground(ColorSlate),
}

// plainMode disables ANSI styling and animations, for pipes and dumb
// terminals. Set once at startup from the TTY check.
var plainMode atomic.Bool

// SetPlain switches the package into plain-text mode.
func SetPlain(plain bool) {
	plainMode.Store(plain)
}

// Plain reports whether plain-text mode is active.
func Plain() bool {
	return plainMode.Load()
}

// styled renders text with a style unless plain mode is active.
func styled(style lipgloss.Style, text string) string {
	if Plain() {
		return text
	}
	return style.Render(text)
}

// Print helpers that respect plain mode

// Title prints a styled title line.
func Title(text string) {
	fmt.Println(styled(Styles.Title, text))
}

// Warning prints a warning message.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
}

// Info prints an informational message.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text.
func Muted(text string) {
	fmt.Println(styled(Styles.Muted, text))
}
