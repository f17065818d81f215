// Package output provides terminal output utilities for labelforge.
//
// This package includes:
//   - Table rendering for run history, live operations, and the package cache
//   - Progress bars for downloads and uploads
//   - Spinners for indeterminate operations
//
// All table rendering functions use ASCII characters and ANSI color codes for terminal output.
// Progress indicators are thread-safe and can be used from multiple goroutines.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/labelforge/internal/status"
	"github.com/blackwell-systems/labelforge/internal/store"
)

// ANSI color codes for run status display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderRunTable renders the run-history table, newest first. The caller
// is expected to have ordered the runs already (ListRuns does).
func RenderRunTable(runs []*store.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-16s %-20s %-12s %-12s %-14s %s\n",
		"Label", "App", "Version", "Status", "Started", "Message"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	for _, run := range runs {
		version := run.ActualVersion
		if version == "" {
			version = run.RequestedVersion
		}
		if version == "" {
			version = "-"
		}

		sb.WriteString(fmt.Sprintf("%-16s %-20s %-12s %s %-14s %s\n",
			truncate(run.Label, 16),
			truncate(run.DisplayName, 20),
			truncate(version, 12),
			colorizeStatus(run.Status),
			formatRelativeTime(run.StartedAt),
			truncate(run.Message, 40)))
	}

	return sb.String()
}

// colorizeStatus renders a run status padded to 12 columns, colored when
// the terminal supports it. Padding happens before coloring so ANSI
// escapes do not skew the column width.
func colorizeStatus(runStatus string) string {
	padded := fmt.Sprintf("%-12s", runStatus)
	switch runStatus {
	case store.RunStatusSucceeded:
		return colorize(colorGreen, padded)
	case store.RunStatusFailed:
		return colorize(colorRed, padded)
	case store.RunStatusInProgress:
		return colorize(colorYellow, padded)
	case store.RunStatusUpToDate:
		return colorize(colorGray, padded)
	default:
		return padded
	}
}

// RenderOperationTable renders the live-operations table for the status
// command, most recently updated first.
func RenderOperationTable(ops []status.Operation) string {
	if len(ops) == 0 {
		return "No operations in progress.\n"
	}

	sorted := make([]status.Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-16s %-13s %-12s %-9s %s\n",
		"Label", "Status", "Phase", "Progress", "Detail"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, op := range sorted {
		phase := op.Phase
		if phase == "" {
			phase = "-"
		}
		detail := op.Detail
		if op.Status == status.StatusError {
			detail = op.Error
		}

		sb.WriteString(fmt.Sprintf("%-16s %-13s %-12s %8.0f%% %s\n",
			truncate(op.Label, 16),
			string(op.Status),
			truncate(phase, 12),
			op.OverallProgress*100,
			truncate(detail, 36)))
	}

	return sb.String()
}

// CacheEntry is one normalized artifact found in the local cache.
type CacheEntry struct {
	Label     string
	Version   string
	Filename  string
	SizeBytes int64
	ModTime   time.Time
}

// RenderCacheTable renders the local cache listing grouped by label.
func RenderCacheTable(entries []CacheEntry) string {
	if len(entries) == 0 {
		return "Cache is empty.\n"
	}

	sorted := make([]CacheEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Label != sorted[j].Label {
			return sorted[i].Label < sorted[j].Label
		}
		// Newest version first; versions that do not parse as semver fall
		// back to file age.
		vi, erri := semver.NewVersion(sorted[i].Version)
		vj, errj := semver.NewVersion(sorted[j].Version)
		if erri == nil && errj == nil && !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-16s %-12s %-40s %-10s %s\n",
		"Label", "Version", "File", "Size", "Cached"))
	sb.WriteString(strings.Repeat("─", 94))
	sb.WriteString("\n")

	var total int64
	for _, e := range sorted {
		total += e.SizeBytes
		sb.WriteString(fmt.Sprintf("%-16s %-12s %-40s %-10s %s\n",
			truncate(e.Label, 16),
			truncate(e.Version, 12),
			truncate(e.Filename, 40),
			humanize.IBytes(uint64(e.SizeBytes)),
			formatRelativeTime(e.ModTime)))
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%d files, %s total\n", len(sorted), humanize.IBytes(uint64(total))))

	return sb.String()
}

// formatRelativeTime formats a time as a relative duration like
// "5 minutes ago" or "3 days ago". Zero times render as "never".
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// truncate shortens s to maxLen, appending "…" when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return s[:maxLen]
	}
	return s[:maxLen-1] + "…"
}
