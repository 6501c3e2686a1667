// Package worker is the single-worker scheduler: it recovers the store on
// startup, then claims queued jobs one at a time, runs the render engine for
// each, and commits the outcome back to the store.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"renderbox/internal/jobstore"
	"renderbox/internal/launcher"
	"renderbox/internal/pkg/errors"
	"renderbox/internal/pkg/logger"
)

// cancelPollInterval is how often a running job's cancellation marker is
// checked.
const cancelPollInterval = time.Second

// statusPublishInterval bounds how often render progress is written to the
// worker status file.
const statusPublishInterval = 2 * time.Second

// Run executes the scheduler until ctx is canceled. It holds the exclusive
// worker lock for the whole run; a second worker on the same store fails
// fast with a CONFLICT error.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	lock, err := d.Store.AcquireWorkerLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	recovered, err := d.Store.Recover()
	if err != nil {
		return err
	}
	for _, job := range recovered {
		log.WithJobID(job.ID).Warn("recovered orphaned job", "reason", jobstore.ReasonInterrupted)
	}

	if err := d.Store.SaveWorkerStatus(jobstore.WorkerStatus{State: jobstore.WorkerStateIdle}); err != nil {
		return err
	}
	defer func() {
		if err := d.Store.SaveWorkerStatus(jobstore.WorkerStatus{State: jobstore.WorkerStateStopped}); err != nil {
			log.WithError(err).Warn("could not publish stopped status")
		}
	}()

	poll := d.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return ctx.Err()
		default:
		}

		processed, err := runOnce(ctx, d, log)
		if err != nil {
			// A failed job is committed and logged inside runOnce; an
			// error here means the store itself misbehaved.
			log.WithError(err).Error("scheduler pass failed")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// runOnce claims and fully processes at most one job. It reports whether a
// job was processed; per-job failures are committed to the store and do not
// propagate as errors.
func runOnce(ctx context.Context, d Deps, log *logger.Logger) (bool, error) {
	job, err := d.Store.ClaimNext()
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	jobLog := log.WithJobID(job.ID)
	jobLog.Info("job claimed", "mode", string(job.Mode), "frame", job.Frame)

	if err := d.Store.SaveWorkerStatus(jobstore.WorkerStatus{
		State: jobstore.WorkerStateRendering,
		JobID: job.ID,
	}); err != nil {
		jobLog.WithError(err).Warn("could not publish rendering status")
	}
	defer func() {
		if err := d.Store.SaveWorkerStatus(jobstore.WorkerStatus{State: jobstore.WorkerStateIdle}); err != nil {
			jobLog.WithError(err).Warn("could not publish idle status")
		}
	}()

	start := time.Now()
	if err := processJob(ctx, d, job, jobLog); err != nil {
		jobLog.WithError(err).Error("job failed", "duration_ms", time.Since(start).Milliseconds())
	} else {
		jobLog.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
	}
	return true, nil
}

// processJob runs one claimed job to a terminal state. Whatever happens, the
// job leaves processing/ before this returns.
func processJob(ctx context.Context, d Deps, job *jobstore.Job, log *logger.Logger) error {
	params, err := d.Policy.Resolve(job.Mode)
	if err != nil {
		if cerr := d.Store.CommitFailure(job, err.Error(), nil); cerr != nil {
			return cerr
		}
		return err
	}
	job.Params = &params
	if err := d.Store.Save(job); err != nil {
		if cerr := d.Store.CommitFailure(job, "could not persist render parameters", nil); cerr != nil {
			return cerr
		}
		return err
	}

	logFile, err := os.OpenFile(d.Store.LogPath(job), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if cerr := d.Store.CommitFailure(job, "could not open render log", nil); cerr != nil {
			return cerr
		}
		return errors.Wrap(err, "worker.processJob", "open render log")
	}
	defer logFile.Close()

	renderCtx := ctx
	cancelCause := ""
	if d.MaxRenderDuration > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(renderCtx, d.MaxRenderDuration)
		defer cancel()
	}
	renderCtx, cancelRender := context.WithCancel(renderCtx)
	defer cancelRender()

	// Watch the cancellation marker the API writes for processing jobs.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-renderCtx.Done():
				return
			case <-ticker.C:
				if d.Store.CancelRequested(job.ID) {
					cancelCause = jobstore.ReasonCanceled
					cancelRender()
					return
				}
			}
		}
	}()

	tracker := &progressTracker{}
	var lastPublish time.Time
	res, launchErr := d.Launcher.Launch(renderCtx, launcher.Request{
		JobID:     job.ID,
		SceneFile: d.Store.ScenePath(job),
		JobDir:    d.Store.JobDir(job),
		OutputDir: d.Store.RendersDir(job),
		Frame:     job.Frame,
		Params:    params,
		Log:       logFile,
		OnLine: func(line string) {
			if !tracker.Observe(line) {
				return
			}
			p := tracker.Current()
			log.Debug("render progress",
				"frame", p.Frame, "sample", p.Sample, "total_samples", p.TotalSamples,
				"remaining", p.Remaining)
			if time.Since(lastPublish) < statusPublishInterval {
				return
			}
			lastPublish = time.Now()
			if err := d.Store.SaveWorkerStatus(jobstore.WorkerStatus{
				State: jobstore.WorkerStateRendering,
				JobID: job.ID,
				Progress: &jobstore.WorkerProgress{
					Frame:        p.Frame,
					Sample:       p.Sample,
					TotalSamples: p.TotalSamples,
					Tile:         p.Tile,
					TotalTiles:   p.TotalTiles,
					Remaining:    p.Remaining,
				},
			}); err != nil {
				log.WithError(err).Warn("could not publish render progress")
			}
		},
	})
	cancelRender()
	<-watchDone

	var exitCode *int
	if res != nil {
		exitCode = &res.ExitCode
	}

	if launchErr != nil {
		reason := launchErr.Error()
		if errors.IsCode(launchErr, errors.CodeCanceled) {
			reason = jobstore.ReasonCanceled
			if cancelCause == "" && d.MaxRenderDuration > 0 {
				reason = fmt.Sprintf("%s: exceeded %s", jobstore.ReasonCanceled, d.MaxRenderDuration)
			}
			exitCode = nil
		}
		if cerr := d.Store.CommitFailure(job, reason, exitCode); cerr != nil {
			return cerr
		}
		return launchErr
	}

	if d.Archive != nil {
		if err := mirrorArtifacts(ctx, d, job, log); err != nil {
			// The render itself succeeded; archiving is best effort.
			log.WithError(err).Warn("artifact archiving failed")
		}
	}
	return d.Store.CommitSuccess(job, res.ExitCode)
}
