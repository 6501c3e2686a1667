package jobstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"renderbox/internal/pkg/errors"
)

const workerStatusFileName = "worker_status.json"

// Worker states published in the status snapshot.
const (
	WorkerStateIdle      = "IDLE"
	WorkerStateRendering = "RENDERING"
	WorkerStateStopped   = "STOPPED"
)

// WorkerStatus is the worker's self-reported state, written to the store
// root so the API process can serve it without talking to the worker.
type WorkerStatus struct {
	State     string          `json:"state"`
	JobID     string          `json:"job_id,omitempty"`
	PID       int             `json:"pid"`
	UpdatedAt time.Time       `json:"updated_at"`
	Progress  *WorkerProgress `json:"progress,omitempty"`
}

// WorkerProgress is the render position of the active job, parsed from
// engine output.
type WorkerProgress struct {
	Frame        int    `json:"frame"`
	Sample       int    `json:"sample"`
	TotalSamples int    `json:"total_samples"`
	Tile         int    `json:"tile,omitempty"`
	TotalTiles   int    `json:"total_tiles,omitempty"`
	Remaining    string `json:"remaining,omitempty"`
}

// SaveWorkerStatus publishes the worker status snapshot.
func (s *Store) SaveWorkerStatus(st WorkerStatus) error {
	st.PID = os.Getpid()
	st.UpdatedAt = time.Now().UTC()
	return writeJSONAtomic(filepath.Join(s.root, workerStatusFileName), st)
}

// LoadWorkerStatus reads the last published worker status. When no worker
// has ever run against this store it returns a STOPPED status.
func (s *Store) LoadWorkerStatus() (WorkerStatus, error) {
	data, err := os.ReadFile(filepath.Join(s.root, workerStatusFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return WorkerStatus{State: WorkerStateStopped}, nil
		}
		return WorkerStatus{}, errors.Wrap(err, "jobstore.LoadWorkerStatus", "read status snapshot")
	}
	var st WorkerStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return WorkerStatus{}, errors.Corruptedf("worker status snapshot: %v", err)
	}
	return st, nil
}
