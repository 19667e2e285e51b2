package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sermonsync/internal/sources/feed"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Podcast</title>
    <item>
      <title>Walking in Grace - Part 1</title>
      <link>https://podcast.example/episodes/1</link>
      <guid>ep-001</guid>
      <description>First message in the series.</description>
      <pubDate>Sun, 03 May 2026 10:00:00 +0000</pubDate>
      <enclosure url="https://cdn.example/ep1.jpg" type="image/jpeg" length="1000"/>
      <enclosure url="https://cdn.example/ep1.mp3" type="audio/mpeg" length="52428800"/>
    </item>
    <item>
      <title>Walking in Grace - Part 2</title>
      <link>https://podcast.example/episodes/2</link>
      <description>Second message.</description>
    </item>
  </channel>
</rss>`

func TestFetchMapsFeedItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	adapter, err := feed.New(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("feed.New: %v", err)
	}

	episodes, err := adapter.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(episodes))
	}

	first := episodes[0]
	if first.Title != "Walking in Grace - Part 1" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.ExternalID != "ep-001" {
		t.Fatalf("expected guid as external id, got %q", first.ExternalID)
	}
	if first.MediaURL != "https://cdn.example/ep1.mp3" {
		t.Fatalf("expected audio enclosure preferred, got %q", first.MediaURL)
	}
	if first.PublishDate == nil || first.PublishDate.Day() != 3 {
		t.Fatalf("unexpected publish date: %v", first.PublishDate)
	}

	second := episodes[1]
	if second.ExternalID != "https://podcast.example/episodes/2" {
		t.Fatalf("expected link fallback for missing guid, got %q", second.ExternalID)
	}
	if second.MediaURL != "" {
		t.Fatalf("expected no media url, got %q", second.MediaURL)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := feed.New("   ", 0); err == nil {
		t.Fatal("expected error for empty feed url")
	}
}

func TestFetchPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter, err := feed.New(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("feed.New: %v", err)
	}
	if _, err := adapter.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
