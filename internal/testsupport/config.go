package testsupport

import (
	"path/filepath"
	"testing"

	"sermonsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkerBind = "127.0.0.1:0"
	cfg.Sources.FeedURL = "https://podcast.example/feed.xml"
	cfg.Sources.ChannelAPIURL = "https://channel.example/api"
	cfg.Sources.ChannelID = "test-channel"
	cfg.ASR.PrimaryURL = "https://asr.example/transcribe"
	cfg.ASR.APIKey = "test"
	cfg.Storage.LocalDir = filepath.Join(base, "blobs")

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkerURL points the orchestrator at a worker endpoint.
func WithWorkerURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcription.WorkerURL = url
	}
}
