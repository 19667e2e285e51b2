// Package asr calls hosted speech-recognition endpoints. One logical
// transcription walks an attempt ladder: the primary endpoint with raw audio
// bytes, the primary with a base64 JSON body, the same two encodings against
// the fallback endpoint, then the secondary provider. Transient failures move
// down the ladder; authorization and bad-request failures stop it.
package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sermonsync/internal/config"
	"sermonsync/internal/logging"
	"sermonsync/internal/services"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	defaultBase64Max   = 10 << 20

	maxResponseBytes = 8 << 20
)

// encoding selects how audio bytes travel in the request body.
type encoding int

const (
	encodingRaw encoding = iota
	encodingBase64
)

// attempt is one rung of the ladder.
type attempt struct {
	url      string
	key      string
	encoding encoding
	label    string
}

// base64Request is the JSON body for base64-encoded uploads.
type base64Request struct {
	Audio       string `json:"audio"`
	ContentType string `json:"content_type"`
}

// transcriptionResponse covers the single-document response shape.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Client talks to the transcription providers.
type Client struct {
	cfg        config.ASR
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleep overrides the backoff sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a transcription client from configuration.
func New(cfg config.ASR, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.PrimaryURL) == "" && strings.TrimSpace(cfg.SecondaryURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "asr", "new", "no transcription endpoint configured", nil)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Base64MaxBytes <= 0 {
		cfg.Base64MaxBytes = defaultBase64Max
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcribe converts audio bytes to text, walking the attempt ladder until
// one rung yields a non-empty transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", services.Wrap(services.ErrValidation, "asr", "transcribe", "empty audio payload", nil)
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	attempts := c.buildAttempts(int64(len(audio)))
	if len(attempts) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "asr", "transcribe", "no usable attempt for payload", nil)
	}

	var lastErr error
	for _, att := range attempts {
		text, err := c.runAttempt(ctx, att, audio, contentType)
		if err == nil {
			if strings.TrimSpace(text) != "" {
				return text, nil
			}
			lastErr = services.Wrap(services.ErrValidation, "asr", att.label, "empty transcript returned", nil)
			continue
		}
		if stopsLadder(err) {
			return "", err
		}
		c.logger.Warn("transcription attempt failed",
			logging.String("attempt", att.label),
			logging.Error(err))
		lastErr = err
	}
	return "", fmt.Errorf("all transcription attempts failed: %w", lastErr)
}

// buildAttempts lays out the ladder for a payload of the given size. Base64
// rungs are skipped when the payload exceeds the configured cap.
func (c *Client) buildAttempts(size int64) []attempt {
	var attempts []attempt
	addEndpoint := func(url, key, name string) {
		if strings.TrimSpace(url) == "" {
			return
		}
		attempts = append(attempts, attempt{url: url, key: key, encoding: encodingRaw, label: name + " raw"})
		if size <= c.cfg.Base64MaxBytes {
			attempts = append(attempts, attempt{url: url, key: key, encoding: encodingBase64, label: name + " base64"})
		}
	}
	addEndpoint(c.cfg.PrimaryURL, c.cfg.APIKey, "primary")
	addEndpoint(c.cfg.FallbackURL, c.cfg.APIKey, "fallback")
	addEndpoint(c.cfg.SecondaryURL, c.cfg.SecondaryKey, "secondary")
	return attempts
}

// runAttempt retries a single rung with exponential backoff on rate limits.
// Transient failures surface immediately so the ladder can move to the next
// rung instead of hammering a broken endpoint.
func (c *Client) runAttempt(ctx context.Context, att attempt, audio []byte, contentType string) (string, error) {
	backoff := defaultBackoff
	if c.cfg.BackoffSeconds > 0 {
		backoff = time.Duration(c.cfg.BackoffSeconds) * time.Second
	}

	var lastErr error
	for try := 0; try < c.cfg.MaxAttempts; try++ {
		if try > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return "", services.Wrap(services.ErrCancelled, "asr", att.label, "cancelled during backoff", err)
			}
			backoff *= 2
		}
		text, err := c.post(ctx, att, audio, contentType)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, services.ErrRateLimited) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) post(ctx context.Context, att attempt, audio []byte, contentType string) (string, error) {
	var body io.Reader
	requestType := contentType
	if att.encoding == encodingBase64 {
		payload, err := json.Marshal(base64Request{
			Audio:       base64.StdEncoding.EncodeToString(audio),
			ContentType: contentType,
		})
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		requestType = "application/json"
	} else {
		body = bytes.NewReader(audio)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, att.url, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", requestType)
	req.Header.Set("Accept", "application/json")
	if att.key != "" {
		req.Header.Set("Authorization", "Bearer "+att.key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "asr", att.label, "request cancelled", err)
		}
		return "", services.Wrap(services.ErrTransient, "asr", att.label, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "asr", att.label, "read response", err)
	}

	if err := classifyStatus(resp.StatusCode, att.label); err != nil {
		return "", err
	}
	return parseTranscript(payload)
}

// classifyStatus maps provider HTTP statuses onto the sentinel taxonomy.
func classifyStatus(status int, label string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest:
		return services.Wrap(services.ErrBadRequest, "asr", label, "provider rejected request", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrUnauthorized, "asr", label, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, "asr", label, "provider rate limit", nil)
	default:
		return services.Wrap(services.ErrTransient, "asr", label, fmt.Sprintf("status %d", status), nil)
	}
}

// parseTranscript accepts either a single document {"text": ...} or a segment
// array [{"text": ...}, ...] joined with single spaces.
func parseTranscript(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] == '[' {
		var segments []transcriptionResponse
		if err := json.Unmarshal(trimmed, &segments); err != nil {
			return "", fmt.Errorf("parse segment response: %w", err)
		}
		parts := make([]string, 0, len(segments))
		for _, segment := range segments {
			if text := strings.TrimSpace(segment.Text); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " "), nil
	}
	var single transcriptionResponse
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(single.Text), nil
}

// stopsLadder reports whether a failure should abort every remaining rung.
func stopsLadder(err error) bool {
	return errors.Is(err, services.ErrBadRequest) ||
		errors.Is(err, services.ErrUnauthorized) ||
		errors.Is(err, services.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
