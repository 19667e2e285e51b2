package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/services"
	"sermonsync/internal/testsupport"
)

type fakeProber struct{ size int64 }

func (p fakeProber) Size(context.Context, string) int64 { return p.size }

type fakeRunner struct {
	calls []int64
	err   error
}

func (r *fakeRunner) Run(_ context.Context, episodeID int64, _ string) error {
	r.calls = append(r.calls, episodeID)
	return r.err
}

type fakeDownloader struct{ content string }

func (d fakeDownloader) Fetch(_ context.Context, _ string, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(destDir, "source.mp3")
	return path, os.WriteFile(path, []byte(d.content), 0o644)
}

type fakeASR struct {
	text string
	err  error
}

func (f fakeASR) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func newOrchestrator(t *testing.T, store Store, cfg config.Transcription, prober Prober, runner Runner, asr fakeASR) *Orchestrator {
	t.Helper()
	o := New(store, cfg, asr, prober, fakeDownloader{content: "audio"}, runner, t.TempDir(), nil)
	o.WithSleep(func(context.Context, time.Duration) error { return nil })
	return o
}

func TestRunSkipsEntriesWithTranscript(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})
	if err := store.MarkCompleted(context.Background(), entry.ID, "already done words", TranscriptSourceSingle); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	runner := &fakeRunner{}
	o := newOrchestrator(t, store, config.Transcription{}, fakeProber{size: -1}, runner, fakeASR{})
	if err := o.Run(context.Background(), entry.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatal("entry with transcript should be a no-op")
	}
}

func TestRunMissingEntry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	o := newOrchestrator(t, store, config.Transcription{}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	if err := o.Run(context.Background(), 9999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunNoMediaIsTerminal(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace")

	o := newOrchestrator(t, store, config.Transcription{}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	if err := o.Run(context.Background(), entry.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("entry without media should be failed with a diagnostic: %+v", got)
	}
}

func TestRunConflictWhenAlreadyGenerating(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})
	if ok, err := store.MarkGenerating(context.Background(), entry.ID); err != nil || !ok {
		t.Fatalf("seed generating: %v ok=%v", err, ok)
	}

	o := newOrchestrator(t, store, config.Transcription{}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	if err := o.Run(context.Background(), entry.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunDelegatesToWorker(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})

	var gotPath string
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req delegateRequest
		if err := decodeJSON(r, &req); err != nil {
			t.Errorf("decode delegate request: %v", err)
		}
		if req.EpisodeID != entry.ID || req.AudioURL != "https://cdn.example/grace.mp3" {
			t.Errorf("unexpected delegate payload: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer worker.Close()

	runner := &fakeRunner{}
	o := newOrchestrator(t, store, config.Transcription{WorkerURL: worker.URL}, fakeProber{size: -1}, runner, fakeASR{})
	if err := o.Run(context.Background(), entry.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotPath != "/transcribe" {
		t.Fatalf("unexpected delegate path %q", gotPath)
	}
	if len(runner.calls) != 0 {
		t.Fatal("delegated entry should not run the local pipeline")
	}

	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusGenerating {
		t.Fatalf("delegated entry should stay generating, got %s", got.Status)
	}
}

func TestRunDelegateRejectedFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer worker.Close()

	o := newOrchestrator(t, store, config.Transcription{WorkerURL: worker.URL}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	if err := o.Run(context.Background(), entry.ID); err == nil {
		t.Fatal("expected delegation failure")
	}
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusFailed {
		t.Fatalf("rejected delegation should fail the entry, got %s", got.Status)
	}
}

func TestRunDelegateTimeoutThenGeneratingAccepted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})

	// Worker accepts but responds slower than the delegate timeout.
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer worker.Close()

	o := newOrchestrator(t, store, config.Transcription{WorkerURL: worker.URL}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	o.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond})
	o.WithSleep(func(context.Context, time.Duration) error {
		// By recheck time the worker has started and advanced progress.
		_, err := store.UpdateProgress(context.Background(), entry.ID, func(p *catalog.Progress) {
			p.SetStep(catalog.StepDownloading, "staging audio", 0, 0)
		})
		return err
	})

	if err := o.Run(context.Background(), entry.ID); err != nil {
		t.Fatalf("timeout followed by generating-with-progress should be accepted: %v", err)
	}
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusGenerating {
		t.Fatalf("accepted entry should stay generating, got %s", got.Status)
	}
}

func TestRunDelegateTimeoutWithoutPickupFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer worker.Close()

	o := newOrchestrator(t, store, config.Transcription{WorkerURL: worker.URL}, fakeProber{size: -1}, &fakeRunner{}, fakeASR{})
	o.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond})
	o.WithSleep(func(context.Context, time.Duration) error { return nil })

	if err := o.Run(context.Background(), entry.ID); err == nil {
		t.Fatal("expected failure when the worker never picks the job up")
	}
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusFailed {
		t.Fatalf("unclaimed delegation should fail the entry, got %s", got.Status)
	}
}

func TestRunSingleShotForSmallAudio(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "grace", func(e *catalog.Entry) {
		e.MediaURL = "https://cdn.example/grace.mp3"
	})

	runner := &fakeRunner{}
	cfg := config.Transcription{ChunkThresholdBytes: 1 << 20, MinTranscriptChars: 10}
	asr := fakeASR{text: "for god so loved the world"}
	o := newOrchestrator(t, store, cfg, fakeProber{size: 1024}, runner, asr)

	if err := o.Run(context.Background(), entry.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatal("small audio should not use the chunk pipeline")
	}
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != catalog.StatusCompleted || got.TranscriptSource != TranscriptSourceSingle {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRunChunkedForLargeOrUnknownAudio(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	cfg := config.Transcription{ChunkThresholdBytes: 1 << 20}

	for name, size := range map[string]int64{"unknown": -1, "large": 10 << 20} {
		entry := testsupport.NewEntry(t, store, "grace-"+name, func(e *catalog.Entry) {
			e.MediaURL = "https://cdn.example/" + name + ".mp3"
		})
		runner := &fakeRunner{}
		o := newOrchestrator(t, store, cfg, fakeProber{size: size}, runner, fakeASR{})
		if err := o.Run(context.Background(), entry.ID); err != nil {
			t.Fatalf("%s: run: %v", name, err)
		}
		if len(runner.calls) != 1 || runner.calls[0] != entry.ID {
			t.Fatalf("%s: chunk pipeline should run once, got %v", name, runner.calls)
		}
	}
}
