package testsupport

import (
	"context"
	"testing"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEntry inserts a pending catalog entry for tests.
func NewEntry(t testing.TB, store *catalog.Store, title string, opts ...func(*catalog.Entry)) *catalog.Entry {
	t.Helper()

	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	entry := &catalog.Entry{
		Title:   title,
		Date:    &date,
		FeedURL: "https://podcast.example/" + title,
		Status:  catalog.StatusPending,
	}
	for _, opt := range opts {
		opt(entry)
	}
	created, err := store.Insert(context.Background(), entry)
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return created
}
