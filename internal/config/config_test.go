package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sermonsync/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sermonsync")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.WorkerBind != "127.0.0.1:8173" {
		t.Fatalf("unexpected worker bind: %q", cfg.Paths.WorkerBind)
	}
	if cfg.Matching.AcceptThreshold != 0.6 {
		t.Fatalf("unexpected accept threshold: %v", cfg.Matching.AcceptThreshold)
	}
	if !cfg.Transcription.ResumeOnStart {
		t.Fatal("expected resume_on_start to default to true")
	}
	if cfg.Transcription.ExtractorBinary != "yt-dlp" {
		t.Fatalf("unexpected extractor binary: %q", cfg.Transcription.ExtractorBinary)
	}
	if cfg.Storage.Bucket != "audio-chunks" {
		t.Fatalf("unexpected bucket: %q", cfg.Storage.Bucket)
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[sources]
feed_url = "  https://podcast.example/feed.xml  "
channel_api_url = "https://api.example/v1/"
channel_id = "chan-1"

[matching]
accept_threshold = 0.75

[transcription]
chunk_seconds = 120
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v path=%q", exists, resolved)
	}
	if cfg.Sources.FeedURL != "https://podcast.example/feed.xml" {
		t.Fatalf("expected trimmed feed url, got %q", cfg.Sources.FeedURL)
	}
	if cfg.Sources.ChannelAPIURL != "https://api.example/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Sources.ChannelAPIURL)
	}
	if cfg.Matching.AcceptThreshold != 0.75 {
		t.Fatalf("unexpected accept threshold: %v", cfg.Matching.AcceptThreshold)
	}
	if cfg.Transcription.ChunkSeconds != 120 {
		t.Fatalf("unexpected chunk seconds: %d", cfg.Transcription.ChunkSeconds)
	}
	if cfg.Transcription.ChunkThresholdBytes != 25<<20 {
		t.Fatalf("expected default chunk threshold, got %d", cfg.Transcription.ChunkThresholdBytes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Matching.AcceptThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for accept_threshold above 1")
	}

	cfg = config.Default()
	cfg.Transcription.ChunkSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero chunk_seconds")
	}

	cfg = config.Default()
	cfg.ASR.PrimaryURL = "https://asr.example/transcribe"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "asr.api_key") {
		t.Fatalf("expected api key requirement, got %v", err)
	}

	cfg = config.Default()
	cfg.Storage.SupabaseURL = "https://project.supabase.co"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for supabase url without key")
	}
}

func TestCreateSampleLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Transcription.ChunkSeconds != config.Default().Transcription.ChunkSeconds {
		t.Fatalf("sample should keep defaults, got %d", cfg.Transcription.ChunkSeconds)
	}
}
