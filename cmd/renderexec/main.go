// Command renderexec is the process boundary between the worker and the
// render engine. It validates its arguments and inputs, then runs the engine
// in background-render mode and exits with the engine's own exit code.
//
// Exit codes reserved for the boundary itself:
//
//	2 - invalid arguments
//	3 - missing input (scene file or job directory)
//
// Everything else is the engine's exit code passed through.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"renderbox/internal/policy"
)

const (
	exitBadArguments = 2
	exitMissingInput = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("renderexec", flag.ContinueOnError)
	blend := fs.String("blend", "", "scene file to render")
	jobDir := fs.String("job-dir", "", "job working directory")
	rawMode := fs.String("mode", "", "render mode (TURBO or ARTIST)")
	frame := fs.Int("frame", 1, "frame number to render")

	if err := fs.Parse(args); err != nil {
		return exitBadArguments
	}
	if *blend == "" || *jobDir == "" || *rawMode == "" || *frame < 0 {
		fmt.Fprintln(os.Stderr, "renderexec: --blend, --job-dir and --mode are required")
		return exitBadArguments
	}
	mode, err := policy.ParseMode(*rawMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "renderexec: %v\n", err)
		return exitBadArguments
	}

	if _, err := os.Stat(*blend); err != nil {
		fmt.Fprintf(os.Stderr, "renderexec: scene file: %v\n", err)
		return exitMissingInput
	}
	if info, err := os.Stat(*jobDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "renderexec: job directory: %v\n", err)
		return exitMissingInput
	}

	engine := os.Getenv("BLENDER_BIN")
	if engine == "" {
		engine = "blender"
	}

	outDir := os.Getenv("RENDER_OUTPUT_DIR")
	if outDir == "" {
		outDir = *jobDir + "/renders"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "renderexec: output directory: %v\n", err)
		return exitMissingInput
	}

	engineArgs := []string{
		"--background", *blend,
		"--render-output", outDir + "/frame_####",
		"--render-frame", strconv.Itoa(*frame),
	}
	if script := os.Getenv("OPTIMIZE_SCRIPT"); script != "" {
		// The optimization hook runs inside the engine before the render
		// and reads RENDER_MODE and TURBO_SETTINGS_JSON itself.
		engineArgs = append(engineArgs[:2:2], append([]string{"--python", script}, engineArgs[2:]...)...)
	}

	cmd := exec.Command(engine, engineArgs...)
	cmd.Dir = *jobDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if os.Getenv("RENDER_MODE") == "" {
		cmd.Env = append(cmd.Env, "RENDER_MODE="+string(mode))
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "renderexec: engine: %v\n", err)
		return 1
	}
	return 0
}
