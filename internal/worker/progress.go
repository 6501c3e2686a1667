package worker

import (
	"regexp"
	"strconv"
	"sync"
)

// Progress is the latest render position parsed from engine output.
type Progress struct {
	Frame        int
	Sample       int
	TotalSamples int
	Tile         int
	TotalTiles   int
	Remaining    string
}

// Engine output markers. The engine prints one status line per update, e.g.
//
//	Fra:1 Mem:2248.06M | Time:00:12.77 | Remaining:03:43.26 | ... | Sample 64/4096
//	Fra:1 Mem:1024.00M | ... | Rendered 12/135 Tiles
var (
	frameRe     = regexp.MustCompile(`^Fra:(\d+)`)
	sampleRe    = regexp.MustCompile(`Sample (\d+)/(\d+)`)
	tilesRe     = regexp.MustCompile(`Rendered (\d+)/(\d+) Tiles`)
	remainingRe = regexp.MustCompile(`Remaining:(\S+)`)
)

// progressTracker accumulates progress across output lines. Observe is
// called from the launcher's streaming goroutine while Current may be read
// from the worker loop.
type progressTracker struct {
	mu  sync.Mutex
	cur Progress
}

// Observe folds one output line into the tracked progress and reports
// whether the line carried any progress information.
func (t *progressTracker) Observe(line string) bool {
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Frame, _ = strconv.Atoi(m[1])
	updated := false
	if m := sampleRe.FindStringSubmatch(line); m != nil {
		t.cur.Sample, _ = strconv.Atoi(m[1])
		t.cur.TotalSamples, _ = strconv.Atoi(m[2])
		updated = true
	}
	if m := tilesRe.FindStringSubmatch(line); m != nil {
		t.cur.Tile, _ = strconv.Atoi(m[1])
		t.cur.TotalTiles, _ = strconv.Atoi(m[2])
		updated = true
	}
	if m := remainingRe.FindStringSubmatch(line); m != nil {
		t.cur.Remaining = m[1]
		updated = true
	}
	return updated
}

// Current returns a snapshot of the tracked progress.
func (t *progressTracker) Current() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}
