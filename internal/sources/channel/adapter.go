// Package channel fetches the episode catalog from the video platform's
// channel listing API.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sermonsync/internal/services"
	"sermonsync/internal/sources"
)

// videoItem describes a single upload in the channel listing response.
type videoItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
	WatchURL    string `json:"watch_url"`
	AudioURL    string `json:"audio_url"`
}

// listResponse models the paginated channel uploads payload.
type listResponse struct {
	Items         []videoItem `json:"items"`
	NextPageToken string      `json:"next_page_token"`
}

// Adapter provides access to the channel uploads API.
type Adapter struct {
	apiKey     string
	baseURL    string
	channelID  string
	httpClient *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// New creates a channel adapter.
func New(apiKey, baseURL, channelID string, timeout time.Duration, opts ...Option) (*Adapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("channel api base url required")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, errors.New("channel id required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	adapter := &Adapter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		channelID:  channelID,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// maxPages caps pagination so a misbehaving API cannot loop the sync forever.
const maxPages = 20

// Fetch lists the channel's uploads and maps them into episode snapshots.
func (a *Adapter) Fetch(ctx context.Context) ([]sources.Episode, error) {
	var episodes []sources.Episode
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		resp, err := a.listPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			episode := sources.Episode{
				Title:        strings.TrimSpace(item.Title),
				Description:  strings.TrimSpace(item.Description),
				CanonicalURL: strings.TrimSpace(item.WatchURL),
				MediaURL:     strings.TrimSpace(item.AudioURL),
				ExternalID:   strings.TrimSpace(item.ID),
			}
			if published, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
				utc := published.UTC()
				episode.PublishDate = &utc
			}
			if episode.ExternalID == "" {
				continue
			}
			episodes = append(episodes, episode)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return episodes, nil
}

func (a *Adapter) listPage(ctx context.Context, pageToken string) (*listResponse, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/videos", a.baseURL, url.PathEscape(a.channelID))
	params := url.Values{}
	if a.apiKey != "" {
		params.Set("api_key", a.apiKey)
	}
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build channel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "channel", "list uploads", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "channel", "list uploads", "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrUnauthorized, "channel", "list uploads", fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "channel", "list uploads", fmt.Sprintf("channel %s not found", a.channelID), nil)
	default:
		return nil, services.Wrap(services.ErrTransient, "channel", "list uploads", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse channel response: %w", err)
	}
	return &parsed, nil
}
