// Package pipeline runs the chunked transcription flow for one catalog entry:
// stage the audio, cut it into chunks, upload each chunk, transcribe chunks
// in index order, combine, validate, and save. Every step persists its
// progress so a crashed or cancelled run resumes where it stopped instead of
// re-transcribing finished chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sermonsync/internal/blob"
	"sermonsync/internal/catalog"
	"sermonsync/internal/logging"
	"sermonsync/internal/media"
	"sermonsync/internal/services"
)

// TranscriptSourceChunked marks transcripts produced by this pipeline.
const TranscriptSourceChunked = "chunked-asr"

// Transcriber converts one chunk of audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Downloader stages remote audio locally.
type Downloader interface {
	Fetch(ctx context.Context, mediaURL, destDir string) (string, error)
}

// Segmenter cuts staged audio into chunks.
type Segmenter interface {
	Split(ctx context.Context, src, destDir string, chunkSeconds int) ([]media.Chunk, error)
}

// Store is the catalog surface the pipeline needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*catalog.Entry, error)
	UpdateProgress(ctx context.Context, id int64, fn func(p *catalog.Progress)) (*catalog.Entry, error)
	MarkCompleted(ctx context.Context, id int64, transcript, source string) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

// Options tunes pipeline behavior.
type Options struct {
	ChunkSeconds       int
	ChunkDelay         time.Duration
	MinTranscriptChars int
	WorkDir            string
}

// Pipeline executes chunked transcription runs.
type Pipeline struct {
	store      Store
	downloader Downloader
	segmenter  Segmenter
	blobs      blob.Store
	asr        Transcriber
	opts       Options
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline.
func New(store Store, downloader Downloader, segmenter Segmenter, blobs blob.Store, asr Transcriber, opts Options, logger *slog.Logger) *Pipeline {
	if opts.ChunkSeconds <= 0 {
		opts.ChunkSeconds = 600
	}
	if opts.MinTranscriptChars <= 0 {
		opts.MinTranscriptChars = 100
	}
	return &Pipeline{
		store:      store,
		downloader: downloader,
		segmenter:  segmenter,
		blobs:      blobs,
		asr:        asr,
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		sleep:      sleepContext,
	}
}

// WithSleep overrides the inter-chunk sleep, for tests.
func (p *Pipeline) WithSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		p.sleep = sleep
	}
}

// Run executes the pipeline for one entry. Step errors mark the entry failed
// while keeping its chunk progress for the next attempt.
func (p *Pipeline) Run(ctx context.Context, episodeID int64, mediaURL string) error {
	ctx = services.WithEntryID(ctx, episodeID)
	log := logging.WithContext(ctx, p.logger)

	transcript, err := p.run(ctx, episodeID, mediaURL, log)
	if err != nil {
		if isCancellation(err) {
			p.recordCancellation(ctx, episodeID, log)
			return err
		}
		if markErr := p.store.MarkFailed(context.WithoutCancel(ctx), episodeID, err.Error()); markErr != nil {
			log.Error("failed to record pipeline failure", logging.Error(markErr))
		}
		return err
	}

	if _, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
		progress.SetStep(catalog.StepSaving, "saving transcript", 0, 0)
	}); err != nil {
		return fmt.Errorf("record saving step: %w", err)
	}
	if err := p.store.MarkCompleted(ctx, episodeID, transcript, TranscriptSourceChunked); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	log.Info("transcription completed",
		logging.String(logging.FieldEventType, "transcript_saved"),
		logging.Int("chars", len(transcript)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, episodeID int64, mediaURL string, log *slog.Logger) (string, error) {
	workDir, err := p.workDir(episodeID)
	if err != nil {
		return "", err
	}

	// downloading
	if _, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
		progress.SetStep(catalog.StepDownloading, "staging audio", 0, 0)
	}); err != nil {
		return "", fmt.Errorf("record downloading step: %w", err)
	}
	staged, err := p.downloader.Fetch(ctx, mediaURL, workDir)
	if err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}

	// chunking
	if _, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
		progress.SetStep(catalog.StepChunking, "segmenting audio", 0, 0)
	}); err != nil {
		return "", fmt.Errorf("record chunking step: %w", err)
	}
	chunks, err := p.segmenter.Split(ctx, staged, filepath.Join(workDir, "chunks"), p.opts.ChunkSeconds)
	if err != nil {
		return "", fmt.Errorf("segment audio: %w", err)
	}

	runID := blob.NewRunID()
	for _, chunk := range chunks {
		if err := p.uploadChunk(ctx, episodeID, runID, chunk); err != nil {
			return "", err
		}
	}
	log.Info("audio chunked",
		logging.String(logging.FieldStep, string(catalog.StepChunking)),
		logging.Int("chunks", len(chunks)),
		logging.String("run_id", runID))

	// transcribing
	if err := p.transcribeChunks(ctx, episodeID, chunks, log); err != nil {
		return "", err
	}

	// combining
	return p.combine(ctx, episodeID, len(chunks), log)
}

func (p *Pipeline) uploadChunk(ctx context.Context, episodeID int64, runID string, chunk media.Chunk) error {
	file, err := os.Open(chunk.Path)
	if err != nil {
		return fmt.Errorf("open chunk %d: %w", chunk.Index, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat chunk %d: %w", chunk.Index, err)
	}
	if _, err := p.blobs.Upload(ctx, blob.ChunkName(episodeID, runID, chunk.Index), file, info.Size()); err != nil {
		return fmt.Errorf("upload chunk %d: %w", chunk.Index, err)
	}
	return nil
}

// transcribeChunks walks chunks in index order, re-reading entry status
// before each chunk so an operator cancel takes effect within one chunk.
// Chunks completed by a previous run are skipped; previously failed indices
// are retried; a failing chunk is recorded and the loop continues.
func (p *Pipeline) transcribeChunks(ctx context.Context, episodeID int64, chunks []media.Chunk, log *slog.Logger) error {
	total := len(chunks)
	for _, chunk := range chunks {
		entry, err := p.store.GetByID(ctx, episodeID)
		if err != nil {
			return fmt.Errorf("re-read entry: %w", err)
		}
		if entry == nil {
			return services.Wrap(services.ErrNotFound, "pipeline", "transcribe", fmt.Sprintf("entry %d disappeared", episodeID), nil)
		}
		if entry.Status != catalog.StatusGenerating {
			return services.Wrap(services.ErrCancelled, "pipeline", "transcribe",
				fmt.Sprintf("entry left generating state (%s)", entry.Status), nil)
		}
		if entry.Progress != nil {
			if _, done := entry.Progress.CompletedText(chunk.Index); done {
				continue
			}
		}

		if chunk.Index > 0 && p.opts.ChunkDelay > 0 {
			if err := p.sleep(ctx, p.opts.ChunkDelay); err != nil {
				return services.Wrap(services.ErrCancelled, "pipeline", "transcribe", "cancelled between chunks", err)
			}
		}

		if _, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
			progress.SetStep(catalog.StepTranscribing, fmt.Sprintf("transcribing chunk %d of %d", chunk.Index+1, total), chunk.Index+1, total)
		}); err != nil {
			return fmt.Errorf("record transcribing step: %w", err)
		}

		text, err := p.transcribeChunk(ctx, chunk)
		if err != nil {
			if errors.Is(err, services.ErrCancelled) || ctx.Err() != nil {
				return err
			}
			log.Warn("chunk transcription failed",
				logging.Int(logging.FieldChunkIndex, chunk.Index),
				logging.Error(err))
			if _, recordErr := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
				progress.SetChunkError(chunk.Index, err.Error())
			}); recordErr != nil {
				return fmt.Errorf("record chunk failure: %w", recordErr)
			}
			continue
		}

		if _, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
			progress.SetCompleted(chunk.Index, text)
		}); err != nil {
			return fmt.Errorf("persist chunk transcript: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) transcribeChunk(ctx context.Context, chunk media.Chunk) (string, error) {
	audio, err := os.ReadFile(chunk.Path)
	if err != nil {
		return "", fmt.Errorf("read chunk %d: %w", chunk.Index, err)
	}
	return p.asr.Transcribe(ctx, audio, "audio/mpeg")
}

// combine assembles chunk transcripts in index order and validates the
// result. Missing indices are tolerated with a warning; zero successes is a
// total failure.
func (p *Pipeline) combine(ctx context.Context, episodeID int64, total int, log *slog.Logger) (string, error) {
	entry, err := p.store.UpdateProgress(ctx, episodeID, func(progress *catalog.Progress) {
		progress.SetStep(catalog.StepCombining, "combining chunk transcripts", 0, 0)
	})
	if err != nil {
		return "", fmt.Errorf("record combining step: %w", err)
	}
	if entry.Progress == nil {
		return "", services.Wrap(services.ErrValidation, "pipeline", "combine", "no progress recorded", nil)
	}

	transcript, missing := entry.Progress.AssembleTranscript(total)
	if len(missing) == total || strings.TrimSpace(transcript) == "" {
		return "", services.Wrap(services.ErrValidation, "pipeline", "combine", "no chunk produced a transcript", nil)
	}
	if len(missing) > 0 {
		log.Warn("transcript assembled with gaps",
			logging.String(logging.FieldStep, string(catalog.StepCombining)),
			logging.Int("missing", len(missing)),
			logging.Int("total", total),
			logging.Any("indices", missing))
	}

	if err := ValidateTranscript(transcript, p.opts.MinTranscriptChars); err != nil {
		return "", err
	}
	return transcript, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, services.ErrCancelled) || errors.Is(err, context.Canceled)
}

// recordCancellation persists the cancelled step and leaves the entry failed.
// Completed chunk text stays in progress for the next attempt.
func (p *Pipeline) recordCancellation(ctx context.Context, episodeID int64, log *slog.Logger) {
	background := context.WithoutCancel(ctx)
	if _, progressErr := p.store.UpdateProgress(background, episodeID, func(progress *catalog.Progress) {
		progress.SetStep(catalog.StepCancelled, catalog.CancelReason, 0, 0)
	}); progressErr != nil {
		log.Error("failed to record cancellation step", logging.Error(progressErr))
	}
	if markErr := p.store.MarkFailed(background, episodeID, catalog.CancelReason); markErr != nil {
		log.Error("failed to mark cancelled entry", logging.Error(markErr))
	}
	log.Info("transcription cancelled, progress preserved")
}

func (p *Pipeline) workDir(episodeID int64) (string, error) {
	base := p.opts.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, fmt.Sprintf("episode-%d", episodeID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure work dir: %w", err)
	}
	return dir, nil
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
