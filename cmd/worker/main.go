package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"renderbox/internal/config"
	"renderbox/internal/jobstore"
	"renderbox/internal/launcher"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/pkg/shutdown"
	"renderbox/internal/policy"
	"renderbox/internal/storage"
	"renderbox/internal/worker"
)

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "renderbox-worker",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting renderbox worker", "version", "0.1.0")

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}

	store, err := jobstore.Open(cfg.Store.Root)
	if err != nil {
		log.LogFatal("failed to open job store", err)
	}

	archive, err := storage.NewProvider(cfg.Archive)
	if err != nil {
		log.LogFatal("failed to initialize archive provider", err)
	}
	if archive != nil {
		log.Info("archive provider initialized", "provider", archive.Provider())
	}

	l := launcher.New(launcher.Config{
		EngineBin:      cfg.Engine.Bin,
		RenderScript:   cfg.Engine.RenderScript,
		OptimizeScript: cfg.Engine.OptimizeScript,
		GPUName:        cfg.Engine.GPUName,
		HSAXNACK:       cfg.Engine.HSAXNACK,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	shutdownMgr.Register("worker-loop", func(context.Context) error {
		cancel()
		return nil
	})
	go shutdownMgr.Wait()

	err = worker.Run(ctx, worker.Deps{
		Store:             store,
		Launcher:          l,
		Policy:            policy.New(cfg.Turbo),
		Archive:           archive,
		Log:               log,
		PollInterval:      cfg.Worker.PollInterval,
		MaxRenderDuration: cfg.Worker.MaxRenderDuration,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogFatal("worker stopped", err)
	}
	log.Info("worker stopped")
}

func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}
