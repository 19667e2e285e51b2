package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"sermonsync/internal/asr"
	"sermonsync/internal/blob"
	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/media"
	"sermonsync/internal/pipeline"
	"sermonsync/internal/transcribe"
)

// newBlobStore picks the chunk storage backend: Supabase when configured,
// otherwise a directory under the data dir.
func newBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.Storage.SupabaseURL != "" {
		return blob.NewSupabaseStore(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.Bucket)
	}
	dir := cfg.Storage.LocalDir
	if dir == "" {
		dir = filepath.Join(cfg.Paths.DataDir, "blobs")
	}
	return blob.NewLocalStore(dir)
}

func splitHostFragments(fragments string) []string {
	var hosts []string
	for _, part := range strings.Split(fragments, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	return hosts
}

// buildOrchestrator wires the full transcription stack: ASR client, media
// tooling, blob storage, the chunk pipeline, and the orchestrator on top.
func buildOrchestrator(cfg *config.Config, store *catalog.Store, logger *slog.Logger) (*transcribe.Orchestrator, error) {
	asrClient, err := asr.New(cfg.ASR, logger)
	if err != nil {
		return nil, fmt.Errorf("configure asr client: %w", err)
	}
	blobs, err := newBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure blob storage: %w", err)
	}

	downloader := media.NewDownloader(
		cfg.Transcription.ExtractorBinary,
		splitHostFragments(cfg.Transcription.PlatformHostFragments),
		logger,
	)
	segmenter := media.NewSegmenter(cfg.FFmpegBinary())
	prober := media.NewProber()

	pipe := pipeline.New(store, downloader, segmenter, blobs, asrClient, pipeline.Options{
		ChunkSeconds:       cfg.Transcription.ChunkSeconds,
		ChunkDelay:         time.Duration(cfg.Transcription.ChunkDelaySeconds) * time.Second,
		MinTranscriptChars: cfg.Transcription.MinTranscriptChars,
		WorkDir:            cfg.Paths.StagingDir,
	}, logger)

	return transcribe.New(store, cfg.Transcription, asrClient, prober, downloader, pipe, cfg.Paths.StagingDir, logger), nil
}
