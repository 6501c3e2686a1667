package handlers

import (
	"net/http"

	"renderbox/internal/httpkit"
	"renderbox/internal/jobstore"
)

// Health reports service liveness. With ?deep=true it also inspects the job
// store and the worker snapshot.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"service": "renderbox-api",
		"version": "0.1.0",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck()
		health["checks"] = checks
		for _, check := range checks {
			if checkMap, ok := check.(map[string]any); ok {
				if checkMap["status"] != "ok" {
					health["status"] = "degraded"
					h.log.FromContext(r.Context()).Warn("health check degraded", "checks", checks)
					break
				}
			}
		}
	}

	httpkit.WriteJSON(w, 200, health)
}

func (h *Handler) deepHealthCheck() map[string]any {
	checks := map[string]any{
		"store":  h.checkStore(),
		"worker": h.checkWorker(),
	}
	if h.archive != nil {
		checks["archive"] = map[string]any{
			"status":   "ok",
			"provider": h.archive.Provider(),
		}
	}
	return checks
}

func (h *Handler) checkStore() map[string]any {
	result := map[string]any{"status": "ok"}
	jobs, err := h.store.ListStatus(jobstore.StatusQueued)
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
		return result
	}
	result["queued"] = len(jobs)
	return result
}

func (h *Handler) checkWorker() map[string]any {
	result := map[string]any{"status": "ok"}
	st, err := h.store.LoadWorkerStatus()
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
		return result
	}
	result["state"] = st.State
	if st.State == jobstore.WorkerStateStopped {
		result["status"] = "stopped"
	}
	return result
}
