// Package transcribe decides how a catalog entry gets its transcript: hand
// the episode to a remote worker when one is configured, otherwise run
// transcription in-process, chunked for long audio and single-shot for short
// audio.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/logging"
	"sermonsync/internal/pipeline"
	"sermonsync/internal/services"
)

// TranscriptSourceSingle marks transcripts from a single ASR call.
const TranscriptSourceSingle = "asr"

const (
	defaultDelegateTimeout = 10 * time.Second
	defaultStatusRecheck   = 2 * time.Second
	defaultChunkThreshold  = 25 << 20
)

// Store is the catalog surface the orchestrator needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*catalog.Entry, error)
	MarkGenerating(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64, transcript, source string) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

// Prober reports remote media size.
type Prober interface {
	Size(ctx context.Context, mediaURL string) int64
}

// Runner executes the chunked pipeline for one entry.
type Runner interface {
	Run(ctx context.Context, episodeID int64, mediaURL string) error
}

// delegateRequest is the handoff payload sent to a worker.
type delegateRequest struct {
	EpisodeID int64  `json:"episodeId"`
	AudioURL  string `json:"audioUrl"`
}

// Orchestrator routes transcription requests.
type Orchestrator struct {
	store      Store
	cfg        config.Transcription
	asr        pipeline.Transcriber
	prober     Prober
	downloader pipeline.Downloader
	pipe       Runner
	workDir    string
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. pipe, prober, downloader, and asr back the
// in-process path and may be nil when every entry is delegated to a worker.
func New(store Store, cfg config.Transcription, asr pipeline.Transcriber, prober Prober, downloader pipeline.Downloader, pipe Runner, workDir string, logger *slog.Logger) *Orchestrator {
	timeout := defaultDelegateTimeout
	if cfg.DelegateTimeoutSecs > 0 {
		timeout = time.Duration(cfg.DelegateTimeoutSecs) * time.Second
	}
	if cfg.ChunkThresholdBytes <= 0 {
		cfg.ChunkThresholdBytes = defaultChunkThreshold
	}
	return &Orchestrator{
		store:      store,
		cfg:        cfg,
		asr:        asr,
		prober:     prober,
		downloader: downloader,
		pipe:       pipe,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "transcribe"),
		sleep:      sleepContext,
	}
}

// WithHTTPClient overrides the delegation HTTP client, for tests.
func (o *Orchestrator) WithHTTPClient(client *http.Client) {
	if client != nil {
		o.httpClient = client
	}
}

// WithSleep overrides the recheck sleep, for tests.
func (o *Orchestrator) WithSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		o.sleep = sleep
	}
}

// Run produces a transcript for the entry. Entries that already carry one
// are left alone. Exactly one runner wins the generating transition; a
// concurrent trigger gets ErrConflict.
func (o *Orchestrator) Run(ctx context.Context, id int64) error {
	ctx = services.WithEntryID(ctx, id)
	log := logging.WithContext(ctx, o.logger)

	entry, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return services.Wrap(services.ErrNotFound, "transcribe", "run", fmt.Sprintf("entry %d not found", id), nil)
	}
	if entry.HasTranscript() {
		log.Info("transcript already present, skipping")
		return nil
	}

	mediaURL := entry.ResolveMediaURL()
	if mediaURL == "" {
		message := "no media url available; set media_url or channel_url on the entry"
		if err := o.store.MarkFailed(ctx, id, message); err != nil {
			return err
		}
		return services.Wrap(services.ErrValidation, "transcribe", "run", message, nil)
	}

	started, err := o.store.MarkGenerating(ctx, id)
	if err != nil {
		return err
	}
	if !started {
		return services.Wrap(services.ErrConflict, "transcribe", "run",
			fmt.Sprintf("entry %d is already being transcribed", id), nil)
	}

	if strings.TrimSpace(o.cfg.WorkerURL) != "" {
		return o.delegate(ctx, id, mediaURL, log)
	}
	return o.runLocal(ctx, id, mediaURL, log)
}

// delegate hands the episode to the remote worker. A connect timeout is not
// a failure: the worker may have accepted the job and gone heads-down, so the
// entry status is re-read after a short wait and a generating entry with
// progress counts as accepted.
func (o *Orchestrator) delegate(ctx context.Context, id int64, mediaURL string, log *slog.Logger) error {
	payload, err := json.Marshal(delegateRequest{EpisodeID: id, AudioURL: mediaURL})
	if err != nil {
		return fmt.Errorf("encode delegate request: %w", err)
	}
	endpoint := strings.TrimRight(o.cfg.WorkerURL, "/") + "/transcribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build delegate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return o.confirmDelegation(ctx, id, log)
		}
		return o.failDelegation(ctx, id, fmt.Sprintf("worker unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return o.failDelegation(ctx, id, fmt.Sprintf("worker rejected job: status %d", resp.StatusCode))
	}
	log.Info("episode delegated to worker", logging.String("worker", o.cfg.WorkerURL))
	return nil
}

// confirmDelegation re-reads the entry after a timeout to see whether the
// worker picked the job up anyway.
func (o *Orchestrator) confirmDelegation(ctx context.Context, id int64, log *slog.Logger) error {
	recheck := defaultStatusRecheck
	if o.cfg.StatusRecheckSeconds > 0 {
		recheck = time.Duration(o.cfg.StatusRecheckSeconds) * time.Second
	}
	log.Info("delegate request timed out, rechecking entry", logging.Duration("recheck", recheck))
	if err := o.sleep(ctx, recheck); err != nil {
		return services.Wrap(services.ErrCancelled, "transcribe", "delegate", "cancelled during recheck", err)
	}
	entry, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status == catalog.StatusGenerating && entry.Progress != nil && entry.Progress.Step != catalog.StepQueued {
		log.Info("worker accepted job despite delegate timeout")
		return nil
	}
	return o.failDelegation(ctx, id, "worker did not pick up the job after delegate timeout")
}

func (o *Orchestrator) failDelegation(ctx context.Context, id int64, message string) error {
	if err := o.store.MarkFailed(context.WithoutCancel(ctx), id, message); err != nil {
		return err
	}
	return services.Wrap(services.ErrTransient, "transcribe", "delegate", message, nil)
}

// runLocal transcribes in-process: the chunk pipeline for long or
// unknown-size audio, a single ASR call for short audio.
func (o *Orchestrator) runLocal(ctx context.Context, id int64, mediaURL string, log *slog.Logger) error {
	size := int64(-1)
	if o.prober != nil {
		size = o.prober.Size(ctx, mediaURL)
	}
	if size < 0 || size > o.cfg.ChunkThresholdBytes {
		log.Info("running chunked transcription",
			logging.Int64("size", size),
			logging.Int64("threshold", o.cfg.ChunkThresholdBytes))
		return o.pipe.Run(ctx, id, mediaURL)
	}

	log.Info("running single-shot transcription", logging.Int64("size", size))
	transcript, err := o.singleShot(ctx, id, mediaURL)
	if err != nil {
		if markErr := o.store.MarkFailed(context.WithoutCancel(ctx), id, err.Error()); markErr != nil {
			log.Error("failed to record transcription failure", logging.Error(markErr))
		}
		return err
	}
	if err := o.store.MarkCompleted(ctx, id, transcript, TranscriptSourceSingle); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	log.Info("transcription completed", logging.Int("chars", len(transcript)))
	return nil
}

func (o *Orchestrator) singleShot(ctx context.Context, id int64, mediaURL string) (string, error) {
	staged, err := o.downloader.Fetch(ctx, mediaURL, o.stagingDir(id))
	if err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	audio, err := os.ReadFile(staged)
	if err != nil {
		return "", fmt.Errorf("read staged audio: %w", err)
	}
	transcript, err := o.asr.Transcribe(ctx, audio, "audio/mpeg")
	if err != nil {
		return "", err
	}
	if err := pipeline.ValidateTranscript(transcript, o.cfg.MinTranscriptChars); err != nil {
		return "", err
	}
	return transcript, nil
}

func (o *Orchestrator) stagingDir(id int64) string {
	base := o.workDir
	if base == "" {
		base = os.TempDir()
	}
	return fmt.Sprintf("%s/episode-%d", strings.TrimRight(base, "/"), id)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
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
