package worker

import (
	"time"

	"renderbox/internal/jobstore"
	"renderbox/internal/launcher"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/policy"
	"renderbox/internal/ports"
)

type Deps struct {
	Store    *jobstore.Store
	Launcher *launcher.Launcher
	Policy   *policy.Policy
	// Archive, when non-nil, receives a copy of every succeeded job's
	// artifacts.
	Archive ports.ArchiveProvider
	Log     *logger.Logger

	// PollInterval is the idle sleep between queue checks.
	PollInterval time.Duration
	// MaxRenderDuration, when positive, bounds a single render. Overruns
	// are torn down and recorded as canceled.
	MaxRenderDuration time.Duration
}
