// Package launcher runs the render engine as an opaque subprocess. It owns
// the environment contract with the render script, preflight validation of
// every path involved, and process teardown on cancellation.
package launcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"renderbox/internal/pkg/errors"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/policy"
)

// Exit codes the render script itself reports before the engine runs.
// Anything else is the engine's own exit code.
const (
	ExitOK           = 0
	ExitBadArguments = 2
	ExitMissingInput = 3
)

// DefaultScriptName is the render script looked up next to the running
// executable when no explicit path is configured.
const DefaultScriptName = "render_job.sh"

// terminationGrace is how long a process gets to exit after SIGTERM before
// it is killed.
const terminationGrace = 5 * time.Second

// maxScanLineBytes caps a single parsed output line; longer output is still
// drained, just not fed to the progress callback line by line.
const maxScanLineBytes = 1024 * 1024

// Config carries the engine-facing settings shared by all launches.
type Config struct {
	// EngineBin is exported to the script as BLENDER_BIN.
	EngineBin string
	// RenderScript is the wrapper script to execute. Empty means
	// DefaultScriptName next to the running executable.
	RenderScript string
	// OptimizeScript, when set, is exported as OPTIMIZE_SCRIPT.
	OptimizeScript string
	// GPUName is exported as RENDER_GPU_NAME.
	GPUName string
	// HSAXNACK is exported as HSA_XNACK; empty means "1".
	HSAXNACK string
}

// Request describes one render to execute.
type Request struct {
	JobID     string
	SceneFile string
	JobDir    string
	OutputDir string
	Frame     int
	Params    policy.RenderParameters
	// Log receives the combined stdout and stderr of the process.
	Log io.Writer
	// OnLine, when set, observes each output line as it is produced.
	OnLine func(line string)
}

// Result reports how a launch ended.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Launcher executes render processes one at a time per instance.
type Launcher struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Launcher {
	return &Launcher{cfg: cfg, log: log.WithComponent("launcher")}
}

var disableCoreDumps sync.Once

// Launch runs the render script for one job and blocks until it exits or
// ctx is canceled. Cancellation sends SIGTERM, waits the grace period, then
// kills the process group; the returned error is then CANCELED. A nonzero
// exit maps to an ENGINE_FAILURE or PREFLIGHT_ERROR depending on the code.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Result, error) {
	const op = "launcher.Launch"

	script, err := l.resolveScript()
	if err != nil {
		return nil, err
	}
	if err := l.preflight(script, req); err != nil {
		return nil, err
	}

	// Renders can produce multi-gigabyte cores; the engine must never dump
	// one into the job directory. The limit is inherited by children.
	disableCoreDumps.Do(func() {
		lim := syscall.Rlimit{Cur: 0, Max: 0}
		if err := syscall.Setrlimit(syscall.RLIMIT_CORE, &lim); err != nil {
			l.log.WithError(err).Warn("could not disable core dumps")
		}
	})

	env, err := l.buildEnv(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(script,
		"--blend", req.SceneFile,
		"--job-dir", req.JobDir,
		"--mode", string(req.Params.Mode),
		"--frame", strconv.Itoa(req.Frame),
	)
	cmd.Dir = req.JobDir
	cmd.Env = env
	// Own process group so teardown reaches the engine, not just the script.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, errors.Wrap(err, op, "start render process")
	}
	l.log.WithJobID(req.JobID).Info("render process started",
		"pid", cmd.Process.Pid, "mode", string(req.Params.Mode), "frame", req.Frame)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxScanLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			if req.Log != nil {
				fmt.Fprintln(req.Log, line)
			}
			if req.OnLine != nil {
				req.OnLine(line)
			}
		}
		// An oversized line stops the scanner. The pipe must be drained
		// regardless, or the process blocks on writes and Wait never
		// returns. Raw output still lands in the log, just unparsed.
		if err := scanner.Err(); err != nil {
			l.log.WithJobID(req.JobID).Warn("render output not line-parseable, draining raw",
				"error", err.Error())
			sink := io.Discard
			if req.Log != nil {
				sink = req.Log
			}
			io.Copy(sink, pr)
		}
	}()

	waitErr := l.wait(ctx, cmd)
	pw.Close()
	<-streamDone
	pr.Close()

	res := &Result{Duration: time.Since(start)}
	if ctx.Err() != nil {
		return res, errors.Canceled("render canceled")
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, classifyExit(res.ExitCode)
		}
		return res, errors.Wrap(waitErr, op, "wait for render process")
	}
	return res, nil
}

// wait blocks on the process and tears it down if ctx is canceled first.
func (l *Launcher) wait(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	pgid := -cmd.Process.Pid
	l.log.Info("terminating render process", "pid", cmd.Process.Pid)
	syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(terminationGrace):
		l.log.Warn("render process ignored SIGTERM, killing", "pid", cmd.Process.Pid)
		syscall.Kill(pgid, syscall.SIGKILL)
		return <-done
	}
}

func classifyExit(code int) error {
	switch code {
	case ExitBadArguments:
		return errors.Preflight("render script rejected its arguments")
	case ExitMissingInput:
		return errors.Preflight("render script could not find its input")
	default:
		return errors.Engine(code)
	}
}

func (l *Launcher) resolveScript() (string, error) {
	if l.cfg.RenderScript != "" {
		return l.cfg.RenderScript, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "launcher.resolveScript", "locate executable")
	}
	return filepath.Join(filepath.Dir(exe), DefaultScriptName), nil
}

// preflight validates everything the script will need before the process
// starts, so misconfiguration surfaces as a clear PREFLIGHT_ERROR instead
// of an opaque engine exit.
func (l *Launcher) preflight(script string, req Request) error {
	if _, err := os.Stat(req.SceneFile); err != nil {
		return errors.Preflightf("scene file %s: %v", req.SceneFile, err)
	}
	info, err := os.Stat(script)
	if err != nil {
		return errors.Preflightf("render script %s: %v", script, err)
	}
	if info.Mode()&0o111 == 0 {
		return errors.Preflightf("render script %s is not executable", script)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return errors.Preflightf("output directory %s: %v", req.OutputDir, err)
	}
	if l.cfg.EngineBin != "" {
		if strings.ContainsRune(l.cfg.EngineBin, os.PathSeparator) {
			if _, err := os.Stat(l.cfg.EngineBin); err != nil {
				return errors.Preflightf("engine binary %s: %v", l.cfg.EngineBin, err)
			}
		} else if _, err := exec.LookPath(l.cfg.EngineBin); err != nil {
			return errors.Preflightf("engine binary %s not in PATH", l.cfg.EngineBin)
		}
	}
	if l.cfg.OptimizeScript != "" {
		if _, err := os.Stat(l.cfg.OptimizeScript); err != nil {
			return errors.Preflightf("optimize script %s: %v", l.cfg.OptimizeScript, err)
		}
	}
	if !req.Params.Mode.Valid() {
		return errors.Preflightf("unresolved render mode %q", req.Params.Mode)
	}
	return nil
}

// buildEnv assembles the environment contract for the render script on top
// of the parent environment.
func (l *Launcher) buildEnv(req Request) ([]string, error) {
	env := os.Environ()

	useHIPRT := "0"
	if req.Params.UseHIPRT {
		useHIPRT = "1"
	}
	gpu := l.cfg.GPUName
	if gpu == "" {
		gpu = "Radeon"
	}
	xnack := l.cfg.HSAXNACK
	if xnack == "" {
		xnack = "1"
	}

	env = append(env,
		"HSA_XNACK="+xnack,
		"USE_HIPRT="+useHIPRT,
		"RENDER_GPU_NAME="+gpu,
		"RENDER_MODE="+string(req.Params.Mode),
		"RENDER_FRAME="+strconv.Itoa(req.Frame),
		"RENDER_OUTPUT_DIR="+req.OutputDir,
	)
	if l.cfg.EngineBin != "" {
		env = append(env, "BLENDER_BIN="+l.cfg.EngineBin)
	}
	if l.cfg.OptimizeScript != "" {
		env = append(env, "OPTIMIZE_SCRIPT="+l.cfg.OptimizeScript)
	}
	if req.Params.Mode == policy.ModeTurbo {
		settings, err := json.Marshal(req.Params.Turbo)
		if err != nil {
			return nil, errors.Wrap(err, "launcher.buildEnv", "marshal turbo settings")
		}
		env = append(env, "TURBO_SETTINGS_JSON="+string(settings))
	}
	return env, nil
}
