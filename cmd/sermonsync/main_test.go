package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *catalog.Store
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Sources.FeedURL = "https://podcast.example/feed.xml"
	cfgVal.Storage.LocalDir = filepath.Join(base, "blobs")
	cfg := &cfgVal

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &cliTestEnv{cfg: cfg, store: store, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
staging_dir = %q
log_dir = %q

[sources]
feed_url = %q

[storage]
local_dir = %q
`,
		cfg.Paths.DataDir,
		cfg.Paths.StagingDir,
		cfg.Paths.LogDir,
		cfg.Sources.FeedURL,
		cfg.Storage.LocalDir,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedEntry(t *testing.T, env *cliTestEnv, title string, status catalog.Status, mutate func(*catalog.Entry)) *catalog.Entry {
	t.Helper()
	ctx := context.Background()
	date := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	entry := &catalog.Entry{
		Title:   title,
		Date:    &date,
		FeedURL: "https://podcast.example/" + strings.ReplaceAll(title, " ", "-"),
		Status:  status,
	}
	if mutate != nil {
		mutate(entry)
	}
	inserted, err := env.store.Insert(ctx, entry)
	if err != nil {
		t.Fatalf("insert %q: %v", title, err)
	}
	return inserted
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}

func TestCLIStatusAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEntry(t, env, "Walking in Grace", catalog.StatusPending, nil)
	failed := seedEntry(t, env, "Hope Renewed", catalog.StatusFailed, func(e *catalog.Entry) {
		e.ErrorMessage = "asr service unavailable"
	})

	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Walking in Grace")
	requireContains(t, out, "Hope Renewed")
	requireContains(t, out, "Pending: 1")
	requireContains(t, out, "Failed: 1")

	out, _, err = runCLI(t, env.configPath, "retry")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Reset 1 failed entries")

	updated, err := env.store.GetByID(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if updated.Status != catalog.StatusPending {
		t.Fatalf("expected retried entry pending, got %s", updated.Status)
	}
}

func TestCLIStatusFilter(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEntry(t, env, "Walking in Grace", catalog.StatusPending, nil)
	seedEntry(t, env, "Hope Renewed", catalog.StatusFailed, nil)

	out, _, err := runCLI(t, env.configPath, "status", "--status", "failed")
	if err != nil {
		t.Fatalf("status --status failed: %v", err)
	}
	requireContains(t, out, "Hope Renewed")
	if strings.Contains(out, "Walking in Grace") {
		t.Fatalf("filter should exclude pending entries, got:\n%s", out)
	}

	if _, _, err := runCLI(t, env.configPath, "status", "--status", "bogus"); err == nil {
		t.Fatal("unknown status filter should error")
	}
}

func TestCLICancel(t *testing.T) {
	env := setupCLITestEnv(t)
	generating := seedEntry(t, env, "Live Stream Sermon", catalog.StatusGenerating, nil)
	pending := seedEntry(t, env, "Walking in Grace", catalog.StatusPending, nil)

	out, _, err := runCLI(t, env.configPath, "cancel", fmt.Sprintf("%d", generating.ID))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Cancellation requested")

	out, _, err = runCLI(t, env.configPath, "cancel", fmt.Sprintf("%d", pending.ID))
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	requireContains(t, out, "nothing to cancel")
}

func TestCLIShow(t *testing.T) {
	env := setupCLITestEnv(t)
	entry := seedEntry(t, env, "Hope Renewed", catalog.StatusCompleted, func(e *catalog.Entry) {
		e.Transcript = "grace and peace to all who gathered this morning"
		e.TranscriptSource = "chunked-asr"
	})

	out, _, err := runCLI(t, env.configPath, "show", fmt.Sprintf("%d", entry.ID))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Hope Renewed")
	requireContains(t, out, "chunked-asr")
	requireContains(t, out, "grace and peace")

	if _, _, err := runCLI(t, env.configPath, "show", "9999"); err == nil {
		t.Fatal("show on missing entry should error")
	}
}
