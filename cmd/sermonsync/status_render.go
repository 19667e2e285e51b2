package main

import (
	"fmt"
	"time"

	"sermonsync/internal/catalog"
)

func formatDate(date *time.Time) string {
	if date == nil {
		return "-"
	}
	return date.Format("2006-01-02")
}

// formatProgress condenses an entry's pipeline state to one table cell.
func formatProgress(entry *catalog.Entry) string {
	if entry.Status == catalog.StatusCompleted {
		return fmt.Sprintf("%d chars (%s)", len(entry.Transcript), entry.TranscriptSource)
	}
	if entry.Progress == nil {
		if entry.ErrorMessage != "" {
			return truncate(entry.ErrorMessage, 40)
		}
		return "-"
	}
	p := entry.Progress
	if p.Total > 0 {
		return fmt.Sprintf("%s %d/%d", p.Step, len(p.Completed), p.Total)
	}
	return string(p.Step)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
