package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/services"
)

type stubStore struct {
	health  catalog.HealthSummary
	entries []*catalog.Entry
}

func (s *stubStore) Health(context.Context) (catalog.HealthSummary, error) {
	return s.health, nil
}

func (s *stubStore) List(_ context.Context, statuses ...catalog.Status) ([]*catalog.Entry, error) {
	var out []*catalog.Entry
	for _, entry := range s.entries {
		for _, status := range statuses {
			if entry.Status == status {
				out = append(out, entry)
			}
		}
	}
	return out, nil
}

// blockingRunner holds accepted jobs until released, so tests can observe
// in-flight state.
type blockingRunner struct {
	mu      sync.Mutex
	started []int64
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(_ context.Context, episodeID int64, _ string) error {
	r.mu.Lock()
	r.started = append(r.started, episodeID)
	r.mu.Unlock()
	<-r.release
	return nil
}

func (r *blockingRunner) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func newTestServer(t *testing.T, store Store, pipe Runner) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", store, pipe, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func postTranscribe(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandleTranscribeAcceptsJob(t *testing.T) {
	runner := newBlockingRunner()
	srv := newTestServer(t, &stubStore{}, runner)
	defer close(runner.release)

	rec := postTranscribe(t, srv, `{"episodeId": 7, "audioUrl": "https://cdn.example/a.mp3"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "job start", func() bool { return runner.startedCount() == 1 })
}

func TestHandleTranscribeRefusesDuplicate(t *testing.T) {
	runner := newBlockingRunner()
	srv := newTestServer(t, &stubStore{}, runner)
	defer close(runner.release)

	first := postTranscribe(t, srv, `{"episodeId": 7, "audioUrl": "https://cdn.example/a.mp3"}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first handoff should be accepted, got %d", first.Code)
	}
	waitFor(t, "job start", func() bool { return runner.startedCount() == 1 })

	second := postTranscribe(t, srv, `{"episodeId": 7, "audioUrl": "https://cdn.example/a.mp3"}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate handoff should get 409, got %d", second.Code)
	}
	if runner.startedCount() != 1 {
		t.Fatal("duplicate handoff must not start a second job")
	}
}

// contextRunner records the context each job runs under.
type contextRunner struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (r *contextRunner) Run(ctx context.Context, _ int64, _ string) error {
	r.mu.Lock()
	r.ctxs = append(r.ctxs, ctx)
	r.mu.Unlock()
	return nil
}

func TestLaunchAnnotatesJobContext(t *testing.T) {
	runner := &contextRunner{}
	srv := newTestServer(t, &stubStore{}, runner)

	rec := postTranscribe(t, srv, `{"episodeId": 9, "audioUrl": "https://cdn.example/a.mp3"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "job run", func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.ctxs) == 1
	})

	runner.mu.Lock()
	ctx := runner.ctxs[0]
	runner.mu.Unlock()
	if id, ok := services.EntryIDFromContext(ctx); !ok || id != 9 {
		t.Fatalf("expected entry id 9 on job context, got %d ok=%v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid == "" {
		t.Fatalf("expected request id on job context, got %q ok=%v", rid, ok)
	}
}

func TestHandleTranscribeValidatesPayload(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, newBlockingRunner())
	cases := []string{
		`not json`,
		`{"episodeId": 0, "audioUrl": "https://cdn.example/a.mp3"}`,
		`{"episodeId": 7, "audioUrl": ""}`,
	}
	for _, body := range cases {
		if rec := postTranscribe(t, srv, body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q should get 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleTranscribeMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, newBlockingRunner())
	req := httptest.NewRequest(http.MethodGet, "/transcribe", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	store := &stubStore{health: catalog.HealthSummary{Total: 4, Pending: 1, Completed: 2, Failed: 1}}
	srv := newTestServer(t, store, newBlockingRunner())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !payload.Running || payload.Catalog.Total != 4 {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
}

func TestResumeGenerating(t *testing.T) {
	store := &stubStore{entries: []*catalog.Entry{
		{ID: 1, Status: catalog.StatusGenerating, MediaURL: "https://cdn.example/1.mp3"},
		{ID: 2, Status: catalog.StatusGenerating}, // no media url, skipped
		{ID: 3, Status: catalog.StatusPending, MediaURL: "https://cdn.example/3.mp3"},
	}}
	runner := newBlockingRunner()
	srv := newTestServer(t, store, runner)
	defer close(runner.release)

	if err := srv.ResumeGenerating(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, "resumed job", func() bool { return runner.startedCount() == 1 })
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.started[0] != 1 {
		t.Fatalf("expected entry 1 resumed, got %v", runner.started)
	}
}
