// Package daemon runs the transcription worker as a long-lived process. It
// combines the worker HTTP server and interrupted-job resume into a single
// lifecycle with flock-based locking so only one instance serves a catalog.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/logging"
	"sermonsync/internal/worker"
)

// Daemon coordinates the worker server and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *catalog.Store
	server *worker.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *catalog.Store, server *worker.Server, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || server == nil {
		return nil, errors.New("daemon requires config, store, and worker server")
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "sermonsyncd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the worker server, and resumes
// interrupted transcriptions when configured to.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sermonsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start worker server: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("daemon started", logging.Args(
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
		logging.Bool("resume_on_start", d.cfg.Transcription.ResumeOnStart),
	)...)

	if d.cfg.Transcription.ResumeOnStart {
		if err := d.server.ResumeGenerating(runCtx); err != nil {
			d.logger.Warn("resume interrupted transcriptions", logging.Error(err))
		}
	}
	return nil
}

// Addr returns the worker server's bound address, once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Stop shuts the worker server down, waits for in-flight jobs, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the catalog store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
