package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"renderbox/internal/httpapi/handlers"
	"renderbox/internal/httpkit"
	"renderbox/internal/jobstore"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/pkg/middleware"
	"renderbox/internal/ports"
)

type Deps struct {
	Store   *jobstore.Store
	Archive ports.ArchiveProvider
	Log     *logger.Logger
	// MaxUploadBytes bounds the scene payload of a submission.
	MaxUploadBytes int64
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))

	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:8081",
		"http://localhost:5173",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(handlers.Deps{
		Store:          d.Store,
		Archive:        d.Archive,
		Log:            d.Log,
		MaxUploadBytes: d.MaxUploadBytes,
	})

	r.Get("/health", h.Health)

	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Delete("/jobs/{jobId}", h.DeleteJob)
	r.Get("/jobs/{jobId}/log", h.GetJobLog)
	r.Get("/jobs/{jobId}/artifacts", h.GetManifest)
	r.Get("/jobs/{jobId}/artifacts/*", h.GetArtifact)

	r.Get("/worker/status", h.WorkerStatus)

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
