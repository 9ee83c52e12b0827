package view

import (
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	titleCaser = cases.Title(language.English)
	printer    = message.NewPrinter(language.English)
)

// Funcs returns the helpers available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"formatDate":    formatDate,
		"formatDatePtr": formatDatePtr,
		"dateInput":     dateInput,
		"label":         func(v any) string { return Label(fmt.Sprint(v)) },
		"lower":         func(v any) string { return strings.ToLower(fmt.Sprint(v)) },
		"formatNumber":  FormatNumber,
		"formatBytes":   FormatBytes,
		"contains":      contains,
	}
}

// contains accepts typed enum values so templates can pass them directly.
func contains(list []string, v any) bool {
	return slices.Contains(list, fmt.Sprint(v))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02 Jan 2006 15:04")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDate(*t)
}

func dateInput(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// Label turns enum values such as IN_PROGRESS into "In Progress".
func Label(v string) string {
	if v == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(v), "_", " "))
}

// FormatNumber prints n with thousands separators.
func FormatNumber(n int) string {
	return printer.Sprintf("%d", n)
}

// FormatBytes renders a byte count using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
