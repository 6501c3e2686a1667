package jobstore

import (
	"time"

	"renderbox/internal/policy"
)

// Status is the lifecycle state of a job. Each status corresponds to exactly
// one partition directory under the store root.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Partition returns the directory name backing the status.
func (s Status) Partition() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return ""
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Failure reasons recorded in the descriptor when a job lands in failed/.
const (
	ReasonInterrupted = "interrupted"
	ReasonCanceled    = "canceled"
)

// Job is the on-disk job descriptor, persisted as job.json inside the job
// directory. The directory location, not the Status field, is authoritative;
// the field is kept in sync on every transition so clients can read a single
// file.
type Job struct {
	ID        string      `json:"id"`
	Mode      policy.Mode `json:"mode"`
	Frame     int         `json:"frame"`
	SceneName string      `json:"scene_name"`
	// Note is free-form submitter text, never interpreted.
	Note        string     `json:"note,omitempty"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	// FailureReason is set only for jobs in failed/.
	FailureReason string `json:"failure_reason,omitempty"`
	// ExitCode is the engine process exit code, recorded on completion.
	ExitCode *int `json:"exit_code,omitempty"`
	// Params are the resolved render parameters, recorded when the worker
	// claims the job.
	Params *policy.RenderParameters `json:"params,omitempty"`
}

// Manifest lists the artifacts a finished render produced, persisted as
// manifest.json next to job.json.
type Manifest struct {
	JobID       string         `json:"job_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Artifacts   []ArtifactInfo `json:"artifacts"`
}

type ArtifactInfo struct {
	// Name is the path relative to the job directory, e.g. "renders/frame_0001.png".
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Well-known file names inside a job directory.
const (
	SceneFileName      = "scene.blend"
	DescriptorFileName = "job.json"
	LogFileName        = "render.log"
	ManifestFileName   = "manifest.json"
	RendersDirName     = "renders"
	cancelMarkerName   = "cancel.requested"
)
