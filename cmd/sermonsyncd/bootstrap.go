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
)

// buildPipeline assembles the chunk pipeline the worker server runs for each
// accepted handoff.
func buildPipeline(cfg *config.Config, store *catalog.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	asrClient, err := asr.New(cfg.ASR, logger)
	if err != nil {
		return nil, fmt.Errorf("configure asr client: %w", err)
	}

	var blobs blob.Store
	if cfg.Storage.SupabaseURL != "" {
		blobs, err = blob.NewSupabaseStore(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.Bucket)
	} else {
		dir := cfg.Storage.LocalDir
		if dir == "" {
			dir = filepath.Join(cfg.Paths.DataDir, "blobs")
		}
		blobs, err = blob.NewLocalStore(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("configure blob storage: %w", err)
	}

	downloader := media.NewDownloader(
		cfg.Transcription.ExtractorBinary,
		platformHosts(cfg.Transcription.PlatformHostFragments),
		logger,
	)
	segmenter := media.NewSegmenter(cfg.FFmpegBinary())

	return pipeline.New(store, downloader, segmenter, blobs, asrClient, pipeline.Options{
		ChunkSeconds:       cfg.Transcription.ChunkSeconds,
		ChunkDelay:         time.Duration(cfg.Transcription.ChunkDelaySeconds) * time.Second,
		MinTranscriptChars: cfg.Transcription.MinTranscriptChars,
		WorkDir:            cfg.Paths.StagingDir,
	}, logger), nil
}

func platformHosts(fragments string) []string {
	var hosts []string
	for _, part := range strings.Split(fragments, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	return hosts
}
