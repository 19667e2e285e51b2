// Package sources defines the episode snapshot model shared by the feed and
// channel adapters. Adapters are pure fetch-and-parse; any transport or
// parsing failure is returned to the caller, which treats it as zero episodes
// from that source rather than aborting the sync.
package sources

import "time"

// Episode is one entry from a single source: an immutable snapshot of the
// external catalog at fetch time. It is never persisted directly.
type Episode struct {
	Title       string
	Description string
	PublishDate *time.Time
	// CanonicalURL is the source's page for the episode.
	CanonicalURL string
	// MediaURL points at the playable asset when the source exposes one.
	MediaURL string
	// ExternalID is unique within the source (feed GUID, channel video id).
	ExternalID string
}
