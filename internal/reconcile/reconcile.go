// Package reconcile applies matched episode candidates to the persistent
// catalog. Merges are non-destructive: reconciliation fills gaps in existing
// entries and never overwrites a field that already has a value, so repeated
// syncs converge instead of flapping.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"sermonsync/internal/catalog"
	"sermonsync/internal/logging"
	"sermonsync/internal/match"
	"sermonsync/internal/services"
	"sermonsync/internal/sources"
)

// mergeAttempts bounds optimistic-write retries per entry.
const mergeAttempts = 3

// Store is the catalog surface reconciliation needs.
type Store interface {
	FindByFeedURL(ctx context.Context, url string) (*catalog.Entry, error)
	FindByChannelVideoID(ctx context.Context, videoID string) (*catalog.Entry, error)
	Insert(ctx context.Context, entry *catalog.Entry) (*catalog.Entry, error)
	Update(ctx context.Context, entry *catalog.Entry) error
	ChannelOnly(ctx context.Context) ([]*catalog.Entry, error)
}

// Summary reports what one reconciliation run changed.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
	// Errors maps a candidate title to the failure that skipped it. A failed
	// candidate never aborts the batch.
	Errors map[string]string
}

// Reconciler folds candidates into the catalog.
type Reconciler struct {
	store   Store
	matcher *match.Matcher
	logger  *slog.Logger
}

// New creates a reconciler. The matcher drives the backfill pass that links
// newly published feed episodes to older channel-only entries.
func New(store Store, matcher *match.Matcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{store: store, matcher: matcher, logger: logger}
}

// Run applies the candidate batch. Candidates carrying a channel identifier
// are resolved directly; feed-only candidates without an existing entry go
// through the backfill pass before being created.
func (r *Reconciler) Run(ctx context.Context, candidates []match.Candidate) (Summary, error) {
	summary := Summary{Errors: make(map[string]string)}

	var feedOnlyMisses []match.Candidate
	for i := range candidates {
		candidate := &candidates[i]
		entry, err := r.lookup(ctx, candidate)
		if err != nil {
			r.recordError(&summary, candidate.Title, err)
			continue
		}
		if entry == nil {
			if candidate.Feed != nil && candidate.Channel == nil {
				feedOnlyMisses = append(feedOnlyMisses, *candidate)
				continue
			}
			if err := r.create(ctx, candidate, &summary); err != nil {
				r.recordError(&summary, candidate.Title, err)
			}
			continue
		}
		if err := r.merge(ctx, candidate, entry, &summary); err != nil {
			r.recordError(&summary, candidate.Title, err)
		}
	}

	if err := r.backfill(ctx, feedOnlyMisses, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// lookup resolves a candidate to an existing entry, by feed URL first, then
// by channel video identifier. A miss returns nil without error.
func (r *Reconciler) lookup(ctx context.Context, candidate *match.Candidate) (*catalog.Entry, error) {
	if candidate.Feed != nil && candidate.Feed.CanonicalURL != "" {
		entry, err := r.store.FindByFeedURL(ctx, candidate.Feed.CanonicalURL)
		if err != nil {
			return nil, fmt.Errorf("find by feed url: %w", err)
		}
		if entry != nil {
			return entry, nil
		}
	}
	if candidate.Channel != nil && candidate.Channel.ExternalID != "" {
		entry, err := r.store.FindByChannelVideoID(ctx, candidate.Channel.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("find by channel video id: %w", err)
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

func (r *Reconciler) create(ctx context.Context, candidate *match.Candidate, summary *Summary) error {
	entry := entryFromCandidate(candidate)
	created, err := r.store.Insert(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	summary.Created++
	r.logger.Info("catalog entry created",
		logging.Int64(logging.FieldEntryID, created.ID),
		logging.String("title", created.Title),
		logging.Float64("confidence", candidate.Confidence))
	return nil
}

// merge fills empty fields on an existing entry from the candidate and
// persists the change if anything was filled. Optimistic-write conflicts are
// retried against a fresh read.
func (r *Reconciler) merge(ctx context.Context, candidate *match.Candidate, entry *catalog.Entry, summary *Summary) error {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		if !applyCandidate(entry, candidate) {
			summary.Unchanged++
			return nil
		}
		err := r.store.Update(ctx, entry)
		if err == nil {
			summary.Updated++
			r.logger.Info("catalog entry updated",
				logging.Int64(logging.FieldEntryID, entry.ID),
				logging.String("title", entry.Title))
			return nil
		}
		if !errors.Is(err, services.ErrConflict) {
			return fmt.Errorf("update entry: %w", err)
		}
		fresh, lookupErr := r.lookup(ctx, candidate)
		if lookupErr != nil {
			return lookupErr
		}
		if fresh == nil {
			return fmt.Errorf("entry %d disappeared during merge", entry.ID)
		}
		entry = fresh
	}
	return services.Wrap(services.ErrConflict, "reconcile", "merge", fmt.Sprintf("entry %d kept changing", entry.ID), nil)
}

// backfill links feed-only candidates to existing channel-only entries using
// the matcher itself: the stored entries stand in as the channel side. Feed
// candidates that still find no counterpart become new entries.
func (r *Reconciler) backfill(ctx context.Context, candidates []match.Candidate, summary *Summary) error {
	if len(candidates) == 0 {
		return nil
	}
	orphans, err := r.store.ChannelOnly(ctx)
	if err != nil {
		return fmt.Errorf("list channel-only entries: %w", err)
	}

	entriesByID := make(map[int64]*catalog.Entry, len(orphans))
	entryEpisodes := make([]sources.Episode, 0, len(orphans))
	for _, orphan := range orphans {
		entriesByID[orphan.ID] = orphan
		entryEpisodes = append(entryEpisodes, sources.Episode{
			Title:       orphan.Title,
			Description: orphan.Description,
			PublishDate: orphan.Date,
			ExternalID:  strconv.FormatInt(orphan.ID, 10),
		})
	}

	feedEpisodes := make([]sources.Episode, 0, len(candidates))
	byExternalID := make(map[string]*match.Candidate, len(candidates))
	for i := range candidates {
		feed := candidates[i].Feed
		feedEpisodes = append(feedEpisodes, *feed)
		byExternalID[feed.ExternalID] = &candidates[i]
	}

	for _, paired := range r.matcher.Match(feedEpisodes, entryEpisodes) {
		switch {
		case paired.Feed != nil && paired.Channel != nil:
			candidate, ok := byExternalID[paired.Feed.ExternalID]
			if !ok {
				continue
			}
			delete(byExternalID, paired.Feed.ExternalID)
			id, err := strconv.ParseInt(paired.Channel.ExternalID, 10, 64)
			if err != nil {
				continue
			}
			entry := entriesByID[id]
			if entry == nil {
				continue
			}
			r.logger.Info("backfilling channel-only entry",
				logging.Int64(logging.FieldEntryID, entry.ID),
				logging.String("title", entry.Title),
				logging.String("reason", paired.MatchReason))
			if err := r.merge(ctx, candidate, entry, summary); err != nil {
				r.recordError(summary, candidate.Title, err)
			}
		case paired.Feed != nil:
			candidate, ok := byExternalID[paired.Feed.ExternalID]
			if !ok {
				continue
			}
			delete(byExternalID, paired.Feed.ExternalID)
			if err := r.create(ctx, candidate, summary); err != nil {
				r.recordError(summary, candidate.Title, err)
			}
		}
	}

	// Feed candidates the matcher dropped entirely still become entries.
	for _, candidate := range byExternalID {
		if err := r.create(ctx, candidate, summary); err != nil {
			r.recordError(summary, candidate.Title, err)
		}
	}
	return nil
}

func (r *Reconciler) recordError(summary *Summary, title string, err error) {
	if title == "" {
		title = "(untitled)"
	}
	summary.Errors[title] = err.Error()
	r.logger.Warn("candidate skipped",
		logging.String("title", title),
		logging.Error(err))
}

// applyCandidate fills empty entry fields from the candidate, returning
// whether anything changed. Populated fields are never overwritten.
func applyCandidate(entry *catalog.Entry, candidate *match.Candidate) bool {
	changed := false
	setIfEmpty := func(target *string, value string) {
		if *target == "" && value != "" {
			*target = value
			changed = true
		}
	}

	setIfEmpty(&entry.Title, candidate.Title)
	setIfEmpty(&entry.Description, candidate.Description)
	if entry.Date == nil && candidate.Date != nil {
		date := *candidate.Date
		entry.Date = &date
		changed = true
	}
	if feed := candidate.Feed; feed != nil {
		setIfEmpty(&entry.FeedURL, feed.CanonicalURL)
		setIfEmpty(&entry.MediaURL, feed.MediaURL)
	}
	if channel := candidate.Channel; channel != nil {
		setIfEmpty(&entry.ChannelURL, channel.CanonicalURL)
		setIfEmpty(&entry.ChannelVideoID, channel.ExternalID)
		setIfEmpty(&entry.MediaURL, channel.MediaURL)
	}
	return changed
}

func entryFromCandidate(candidate *match.Candidate) *catalog.Entry {
	entry := &catalog.Entry{
		Title:       candidate.Title,
		Description: candidate.Description,
		Status:      catalog.StatusPending,
	}
	if candidate.Date != nil {
		date := *candidate.Date
		entry.Date = &date
	}
	applyCandidate(entry, candidate)
	return entry
}
