package catalog

import (
	"strings"
	"time"
)

// Status represents the transcription lifecycle of a catalog entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CancelReason is the error message set when a user explicitly cancels a job.
const CancelReason = "Cancelled by user"

var allStatuses = []Status{
	StatusPending,
	StatusGenerating,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Entry represents an episode record persisted in SQLite.
//
// An entry is created by reconciliation on first sight of an episode and
// mutated by reconciliation (identity fields) and the transcription pipeline
// (status, progress, transcript). Deletion is an external admin action.
type Entry struct {
	ID               int64
	Title            string
	Date             *time.Time
	Description      string
	FeedURL          string
	ChannelURL       string
	ChannelVideoID   string
	MediaURL         string
	Status           Status
	ErrorMessage     string
	Transcript       string
	TranscriptSource string
	Progress         *Progress
	Revision         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HealthSummary describes aggregated catalog counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Generating int
	Completed  int
	Failed     int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// HasTranscript reports whether the entry already carries a usable
// transcript. Whitespace-only transcripts do not count.
func (e *Entry) HasTranscript() bool {
	return len(strings.TrimSpace(e.Transcript)) > 0
}

// ResolveMediaURL returns the asset URL transcription should use: the direct
// media asset when known, otherwise the channel page (the downloader extracts
// audio from platform pages).
func (e *Entry) ResolveMediaURL() string {
	if u := strings.TrimSpace(e.MediaURL); u != "" {
		return u
	}
	return strings.TrimSpace(e.ChannelURL)
}

// SetFailed marks the entry as failed with the given error message. Progress
// is intentionally preserved so a failed run remains resumable.
func (e *Entry) SetFailed(message string) {
	e.Status = StatusFailed
	e.ErrorMessage = message
}
