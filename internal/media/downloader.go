// Package media stages remote audio locally and cuts it into transcription
// chunks. Plain media URLs are fetched over HTTP; video-platform page URLs
// route through an external extractor command instead, since their audio is
// not directly addressable.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"sermonsync/internal/logging"
	"sermonsync/internal/services"
)

// DefaultExtractorBinary is the audio extractor used for platform URLs.
const DefaultExtractorBinary = "yt-dlp"

const downloadTimeout = 30 * time.Minute

type commandRunner func(ctx context.Context, name string, args ...string) error

// Downloader stages remote audio into a local directory.
type Downloader struct {
	httpClient      *http.Client
	extractorBinary string
	platformHosts   []string
	commandRunner   commandRunner
	logger          *slog.Logger
}

// NewDownloader creates a downloader. platformHosts are hostname fragments
// (for example "youtube.com") whose URLs go through the extractor.
func NewDownloader(extractorBinary string, platformHosts []string, logger *slog.Logger) *Downloader {
	if extractorBinary == "" {
		extractorBinary = DefaultExtractorBinary
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Downloader{
		httpClient:      &http.Client{Timeout: downloadTimeout},
		extractorBinary: extractorBinary,
		platformHosts:   platformHosts,
		logger:          logger,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (d *Downloader) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	d.commandRunner = runner
}

// WithHTTPClient overrides the HTTP client used for direct downloads.
func (d *Downloader) WithHTTPClient(client *http.Client) {
	if client != nil {
		d.httpClient = client
	}
}

// Fetch stages the audio behind mediaURL into destDir and returns the local
// path.
func (d *Downloader) Fetch(ctx context.Context, mediaURL, destDir string) (string, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return "", services.Wrap(services.ErrValidation, "media", "fetch", "media url required", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure staging dir: %w", err)
	}
	if d.isPlatformURL(mediaURL) {
		return d.extract(ctx, mediaURL, destDir)
	}
	return d.download(ctx, mediaURL, destDir)
}

// isPlatformURL reports whether the URL's host matches a configured platform
// fragment.
func (d *Downloader) isPlatformURL(mediaURL string) bool {
	parsed, err := url.Parse(mediaURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, fragment := range d.platformHosts {
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		if fragment != "" && strings.Contains(host, fragment) {
			return true
		}
	}
	return false
}

// extract pulls platform audio via the extractor command as a 16kHz-friendly
// MP3.
func (d *Downloader) extract(ctx context.Context, mediaURL, destDir string) (string, error) {
	dest := filepath.Join(destDir, "source.mp3")
	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-playlist",
		"--output", dest,
		mediaURL,
	}
	d.logger.Info("extracting platform audio",
		logging.String("url", mediaURL),
		logging.String("binary", d.extractorBinary))
	if err := d.run(ctx, d.extractorBinary, args...); err != nil {
		return "", services.Wrap(services.ErrTransient, "media", "extract", "extractor failed", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("extractor produced no output: %w", err)
	}
	return dest, nil
}

func (d *Downloader) download(ctx context.Context, mediaURL, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "media", "download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrTransient
		if resp.StatusCode == http.StatusNotFound {
			marker = services.ErrNotFound
		}
		return "", services.Wrap(marker, "media", "download", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	dest := filepath.Join(destDir, stagingName(mediaURL, resp.Header.Get("Content-Type")))
	file, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		os.Remove(dest)
		return "", services.Wrap(services.ErrTransient, "media", "download", "copy body", err)
	}
	d.logger.Info("audio staged",
		logging.String("path", dest),
		logging.Int64("bytes", written))
	return dest, nil
}

func (d *Downloader) run(ctx context.Context, name string, args ...string) error {
	if d.commandRunner != nil {
		return d.commandRunner(ctx, name, args...)
	}
	return defaultRun(ctx, name, args...)
}

// defaultRun executes external tools, folding their combined output into the
// error for diagnostics.
func defaultRun(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// stagingName derives a local filename from the URL path, falling back to the
// response content type for the extension.
func stagingName(mediaURL, contentType string) string {
	name := "source"
	if parsed, err := url.Parse(mediaURL); err == nil {
		if base := filepath.Base(parsed.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	if filepath.Ext(name) == "" {
		switch {
		case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
			name += ".mp3"
		case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
			name += ".m4a"
		case strings.Contains(contentType, "wav"):
			name += ".wav"
		default:
			name += ".bin"
		}
	}
	return name
}
