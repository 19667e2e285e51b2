package reconcile

import (
	"context"
	"testing"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/match"
	"sermonsync/internal/services"
	"sermonsync/internal/sources"
)

type fakeStore struct {
	entries map[int64]*catalog.Entry
	nextID  int64
	// conflictsLeft forces Update to fail with ErrConflict this many times.
	conflictsLeft int
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[int64]*catalog.Entry), nextID: 1}
}

func (f *fakeStore) add(entry *catalog.Entry) *catalog.Entry {
	entry.ID = f.nextID
	f.nextID++
	f.entries[entry.ID] = entry
	return entry
}

func (f *fakeStore) FindByFeedURL(_ context.Context, url string) (*catalog.Entry, error) {
	if url == "" {
		return nil, nil
	}
	for _, entry := range f.entries {
		if entry.FeedURL == url {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByChannelVideoID(_ context.Context, videoID string) (*catalog.Entry, error) {
	if videoID == "" {
		return nil, nil
	}
	for _, entry := range f.entries {
		if entry.ChannelVideoID == videoID {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, entry *catalog.Entry) (*catalog.Entry, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	clone := *entry
	return f.add(&clone), nil
}

func (f *fakeStore) Update(_ context.Context, entry *catalog.Entry) error {
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return services.Wrap(services.ErrConflict, "catalog", "update", "stale revision", nil)
	}
	stored, ok := f.entries[entry.ID]
	if !ok {
		return services.Wrap(services.ErrNotFound, "catalog", "update", "missing entry", nil)
	}
	clone := *entry
	clone.Revision = stored.Revision + 1
	f.entries[entry.ID] = &clone
	return nil
}

func (f *fakeStore) ChannelOnly(_ context.Context) ([]*catalog.Entry, error) {
	var out []*catalog.Entry
	for _, entry := range f.entries {
		if entry.ChannelVideoID != "" && entry.FeedURL == "" {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func testReconciler(store Store) *Reconciler {
	return New(store, match.New(match.Config{}), nil)
}

func pairCandidate(title string, date *time.Time) match.Candidate {
	return match.Candidate{
		Title: title,
		Date:  date,
		Feed: &sources.Episode{
			Title:        title,
			PublishDate:  date,
			CanonicalURL: "https://podcast.example/" + title,
			MediaURL:     "https://cdn.example/" + title + ".mp3",
			ExternalID:   "guid-" + title,
		},
		Channel: &sources.Episode{
			Title:        title,
			PublishDate:  date,
			CanonicalURL: "https://videos.example/watch/" + title,
			ExternalID:   "vid-" + title,
		},
		Confidence: 0.8,
	}
}

func TestRunCreatesNewEntries(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)

	summary, err := testReconciler(store).Run(context.Background(), []match.Candidate{pairCandidate("grace", &date)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Created != 1 || summary.Updated != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	entry, err := store.FindByFeedURL(context.Background(), "https://podcast.example/grace")
	if err != nil || entry == nil {
		t.Fatalf("created entry not found: %v", err)
	}
	if entry.Status != catalog.StatusPending {
		t.Fatalf("new entry should be pending, got %s", entry.Status)
	}
	if entry.ChannelVideoID != "vid-grace" || entry.MediaURL == "" {
		t.Fatalf("entry missing merged fields: %+v", entry)
	}
}

func TestRunMergePreservesExistingFields(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	store.add(&catalog.Entry{
		Title:      "grace",
		Date:       &date,
		FeedURL:    "https://podcast.example/grace",
		MediaURL:   "https://existing.example/grace.mp3",
		Status:     catalog.StatusCompleted,
		Transcript: "already transcribed",
	})

	summary, err := testReconciler(store).Run(context.Background(), []match.Candidate{pairCandidate("grace", &date)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", summary)
	}
	entry := store.entries[1]
	if entry.MediaURL != "https://existing.example/grace.mp3" {
		t.Fatalf("existing media url overwritten: %s", entry.MediaURL)
	}
	if entry.Status != catalog.StatusCompleted || entry.Transcript != "already transcribed" {
		t.Fatalf("merge touched status or transcript: %+v", entry)
	}
	if entry.ChannelVideoID != "vid-grace" || entry.ChannelURL == "" {
		t.Fatalf("merge did not fill channel fields: %+v", entry)
	}
}

func TestRunIdempotentSecondPass(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	candidates := []match.Candidate{pairCandidate("grace", &date)}
	reconciler := testReconciler(store)

	if _, err := reconciler.Run(context.Background(), candidates); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := reconciler.Run(context.Background(), candidates)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Created != 0 || summary.Updated != 0 || summary.Unchanged != 1 {
		t.Fatalf("second pass should be a no-op: %+v", summary)
	}
}

func TestRunRetriesConflictedMerge(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	store.add(&catalog.Entry{
		Title:   "grace",
		Date:    &date,
		FeedURL: "https://podcast.example/grace",
		Status:  catalog.StatusPending,
	})
	store.conflictsLeft = 1

	summary, err := testReconciler(store).Run(context.Background(), []match.Candidate{pairCandidate("grace", &date)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Updated != 1 || len(summary.Errors) != 0 {
		t.Fatalf("conflicted merge should retry and succeed: %+v", summary)
	}
}

func TestRunBackfillsChannelOnlyEntry(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	store.add(&catalog.Entry{
		Title:          "Living Water",
		Date:           &date,
		ChannelURL:     "https://videos.example/watch/living-water",
		ChannelVideoID: "vid-lw",
		Status:         catalog.StatusCompleted,
		Transcript:     "kept",
	})

	feedDate := date.Add(24 * time.Hour)
	candidate := match.Candidate{
		Title: "Living Water",
		Date:  &feedDate,
		Feed: &sources.Episode{
			Title:        "Living Water",
			PublishDate:  &feedDate,
			CanonicalURL: "https://podcast.example/living-water",
			MediaURL:     "https://cdn.example/living-water.mp3",
			ExternalID:   "guid-lw",
		},
		Confidence: 1.0,
	}

	summary, err := testReconciler(store).Run(context.Background(), []match.Candidate{candidate})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Created != 0 || summary.Updated != 1 {
		t.Fatalf("expected backfill update, got %+v", summary)
	}
	entry := store.entries[1]
	if entry.FeedURL != "https://podcast.example/living-water" {
		t.Fatalf("feed url not backfilled: %+v", entry)
	}
	if entry.Transcript != "kept" || entry.Status != catalog.StatusCompleted {
		t.Fatalf("backfill touched transcript or status: %+v", entry)
	}
}

func TestRunFeedOnlyWithoutCounterpartCreates(t *testing.T) {
	store := newFakeStore()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	candidate := match.Candidate{
		Title: "Brand New Episode",
		Date:  &date,
		Feed: &sources.Episode{
			Title:        "Brand New Episode",
			PublishDate:  &date,
			CanonicalURL: "https://podcast.example/new",
			ExternalID:   "guid-new",
		},
		Confidence: 1.0,
	}

	summary, err := testReconciler(store).Run(context.Background(), []match.Candidate{candidate})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("expected creation, got %+v", summary)
	}
}

func TestRunCollectsErrorsWithoutAborting(t *testing.T) {
	store := newFakeStore()
	store.insertErr = services.Wrap(services.ErrTransient, "catalog", "insert", "disk full", nil)
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)

	candidates := []match.Candidate{
		pairCandidate("first", &date),
		pairCandidate("second", &date),
	}
	summary, err := testReconciler(store).Run(context.Background(), candidates)
	if err != nil {
		t.Fatalf("run should not abort on per-entry errors: %v", err)
	}
	if len(summary.Errors) != 2 {
		t.Fatalf("expected 2 recorded errors, got %+v", summary.Errors)
	}
}
