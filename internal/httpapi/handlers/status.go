package handlers

import (
	"net/http"

	"renderbox/internal/httpkit"
)

// WorkerStatus returns the worker's last published snapshot.
func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.LoadWorkerStatus()
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"worker": st})
}
