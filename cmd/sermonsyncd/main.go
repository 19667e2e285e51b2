package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/daemon"
	"sermonsync/internal/logging"
	"sermonsync/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "sermonsyncd.log")},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := catalog.Open(cfg)
	if err != nil {
		logger.Error("open catalog store", logging.Error(err))
		os.Exit(1)
	}

	pipe, err := buildPipeline(cfg, store, logger)
	if err != nil {
		logger.Error("build pipeline", logging.Error(err))
		os.Exit(1)
	}

	server, err := worker.NewServer(cfg.Paths.WorkerBind, store, pipe, logger)
	if err != nil {
		logger.Error("create worker server", logging.Error(err))
		os.Exit(1)
	}

	d, err := daemon.New(cfg, store, server, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("sermonsyncd shutting down")
	d.Stop()
}
