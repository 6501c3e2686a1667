package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"renderbox/internal/config"
	"renderbox/internal/httpapi"
	"renderbox/internal/jobstore"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/pkg/shutdown"
	"renderbox/internal/storage"
)

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "renderbox-api",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting renderbox API", "version", "0.1.0")

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	log.Info("opening job store", "root", cfg.Store.Root)
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

	router := httpapi.NewRouter(httpapi.Deps{
		Store:          store,
		Archive:        archive,
		Log:            log,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}
