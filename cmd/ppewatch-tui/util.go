package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// padRight pads or cuts text to exactly width terminal cells.
func padRight(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if w := lipgloss.Width(text); w < width {
		return text + strings.Repeat(" ", width-w)
	}
	return truncate(text, width)
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// compactSingleLine folds whitespace so service error bodies fit the status line.
func compactSingleLine(text string, limit int) string {
	return truncate(strings.Join(strings.Fields(text), " "), limit)
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}

func nullCoalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func clampInt(value, lo, hi int) int {
	return max(lo, min(value, hi))
}
