package handlers

import (
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"renderbox/internal/httpkit"
	"renderbox/internal/jobstore"
	"renderbox/internal/pkg/errors"
	"renderbox/internal/policy"
)

// PostJob accepts a multipart submission: a "scene" file part plus "mode"
// and optional "frame" form fields. The job is durably queued before the
// response is written.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	// Form fields stay in memory; the scene part spills to disk beyond 32MB.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid multipart body", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	mode, err := policy.ParseMode(r.FormValue("mode"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	frame := 1
	if raw := strings.TrimSpace(r.FormValue("frame")); raw != "" {
		frame, err = strconv.Atoi(raw)
		if err != nil || frame < 0 {
			httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "frame must be a non-negative integer",
				map[string]any{"field": "frame"})
			return
		}
	}

	scene, header, err := r.FormFile("scene")
	if err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "scene file is required",
			map[string]any{"field": "scene"})
		return
	}
	defer scene.Close()

	job, err := h.store.Enqueue(scene, jobstore.Submission{
		SceneName: header.Filename,
		Mode:      mode,
		Frame:     frame,
		Note:      strings.TrimSpace(r.FormValue("note")),
	})
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	h.log.FromContext(r.Context()).WithJobID(job.ID).Info("job submitted",
		"mode", string(job.Mode), "frame", job.Frame, "scene", job.SceneName)
	httpkit.WriteJSON(w, 201, map[string]any{"job": job})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []*jobstore.Job
		err  error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st := jobstore.Status(strings.ToUpper(raw))
		if st.Partition() == "" {
			httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "unknown status filter",
				map[string]any{"status": raw})
			return
		}
		jobs, err = h.store.ListStatus(st)
	} else {
		jobs, err = h.store.List()
	}
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*jobstore.Job{}
	}
	httpkit.WriteJSON(w, 200, map[string]any{"jobs": jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	resp := map[string]any{"job": job}
	switch job.Status {
	case jobstore.StatusSucceeded:
		if m, err := h.store.Manifest(job); err == nil {
			resp["artifacts"] = m.Artifacts
			if primary := m.PrimaryArtifact(); primary != "" {
				resp["primary_artifact"] = primary
			}
		}
	case jobstore.StatusFailed:
		if highlights, err := h.store.LogHighlights(job); err == nil && len(highlights) > 0 {
			resp["log_highlights"] = highlights
		}
	}
	httpkit.WriteJSON(w, 200, resp)
}

// DeleteJob cancels a pending or running job, or removes a terminal one
// together with its artifacts.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	log := h.log.FromContext(r.Context()).WithJobID(jobID)

	job, err := h.store.Get(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	switch {
	case job.Status.Terminal():
		if err := h.store.Delete(jobID); err != nil {
			httpkit.WriteError(w, err)
			return
		}
		log.Info("job deleted")
		w.WriteHeader(http.StatusNoContent)

	case job.Status == jobstore.StatusQueued:
		if _, err := h.store.Cancel(jobID); err != nil {
			httpkit.WriteError(w, err)
			return
		}
		log.Info("queued job canceled")
		w.WriteHeader(http.StatusNoContent)

	default:
		job, err = h.store.Cancel(jobID)
		if err != nil {
			httpkit.WriteError(w, err)
			return
		}
		log.Info("job cancellation requested", "status", string(job.Status))
		httpkit.WriteJSON(w, 202, map[string]any{"job": job})
	}
}

// GetJobLog streams the engine output captured for the job.
func (h *Handler) GetJobLog(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, h.store.LogPath(job))
}

// GetManifest returns the artifact listing of a succeeded job.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if job.Status != jobstore.StatusSucceeded {
		httpkit.WriteError(w, errors.Conflict("job has no artifacts yet"))
		return
	}
	m, err := h.store.Manifest(job)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, m)
}

// GetArtifact serves one artifact file by its manifest name.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	name := chi.URLParam(r, "*")
	clean := path.Clean("/" + name)
	if clean == "/" || strings.Contains(name, "..") {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid artifact path", nil)
		return
	}

	full := filepath.Join(h.store.JobDir(job), filepath.FromSlash(clean[1:]))
	http.ServeFile(w, r, full)
}
