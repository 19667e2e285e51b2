package media

import (
	"context"
	"net/http"
	"time"
)

const probeTimeout = 15 * time.Second

// Prober checks remote media size ahead of a download so the caller can pick
// between single-shot and chunked transcription.
type Prober struct {
	httpClient *http.Client
}

// NewProber creates a prober.
func NewProber() *Prober {
	return &Prober{httpClient: &http.Client{Timeout: probeTimeout}}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (p *Prober) WithHTTPClient(client *http.Client) {
	if client != nil {
		p.httpClient = client
	}
}

// Size returns the Content-Length reported for the URL, or -1 when the size
// cannot be determined. An unreachable server is also reported as unknown:
// the download itself will surface the real failure.
func (p *Prober) Size(ctx context.Context, mediaURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return -1
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return -1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength
}
