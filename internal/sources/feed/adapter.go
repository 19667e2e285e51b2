// Package feed fetches the podcast catalog from an RSS/Atom feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"sermonsync/internal/sources"
)

// Adapter pulls episode snapshots from a podcast feed.
type Adapter struct {
	url    string
	parser *gofeed.Parser
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client used for feed fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.parser.Client = client
		}
	}
}

// New creates a feed adapter for the given feed URL.
func New(feedURL string, timeout time.Duration, opts ...Option) (*Adapter, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, errors.New("feed url required")
	}
	parser := gofeed.NewParser()
	if timeout > 0 {
		parser.Client = &http.Client{Timeout: timeout}
	}
	adapter := &Adapter{url: feedURL, parser: parser}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// Fetch downloads and parses the feed into episode snapshots.
func (a *Adapter) Fetch(ctx context.Context) ([]sources.Episode, error) {
	parsed, err := a.parser.ParseURLWithContext(a.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if parsed == nil {
		return nil, errors.New("feed returned no document")
	}

	episodes := make([]sources.Episode, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		episode := sources.Episode{
			Title:        strings.TrimSpace(item.Title),
			Description:  strings.TrimSpace(item.Description),
			CanonicalURL: strings.TrimSpace(item.Link),
			ExternalID:   strings.TrimSpace(item.GUID),
		}
		if episode.ExternalID == "" {
			episode.ExternalID = episode.CanonicalURL
		}
		if item.PublishedParsed != nil {
			published := item.PublishedParsed.UTC()
			episode.PublishDate = &published
		}
		episode.MediaURL = enclosureURL(item)
		if episode.Title == "" && episode.CanonicalURL == "" {
			continue
		}
		episodes = append(episodes, episode)
	}
	return episodes, nil
}

// enclosureURL prefers audio enclosures over other attachment types.
func enclosureURL(item *gofeed.Item) string {
	var fallback string
	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") {
			return strings.TrimSpace(enc.URL)
		}
		if fallback == "" {
			fallback = strings.TrimSpace(enc.URL)
		}
	}
	return fallback
}
