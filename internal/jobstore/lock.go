package jobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"renderbox/internal/pkg/errors"
)

const lockDirName = ".worker.lock"

// WorkerLock is an exclusive cross-process lock on the store, held by the
// single worker allowed to claim jobs. It relies on mkdir being atomic on
// POSIX filesystems.
type WorkerLock struct {
	dir string
}

// AcquireWorkerLock takes the worker lock for this process. A lock left
// behind by a dead process is broken and re-acquired; a lock held by a live
// process yields a CONFLICT error.
func (s *Store) AcquireWorkerLock() (*WorkerLock, error) {
	const op = "jobstore.AcquireWorkerLock"

	dir := filepath.Join(s.root, lockDirName)
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
			if werr := os.WriteFile(filepath.Join(dir, "pid"), pid, 0o644); werr != nil {
				os.RemoveAll(dir)
				return nil, errors.Wrap(werr, op, "write pid file")
			}
			return &WorkerLock{dir: dir}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, op, "create lock directory")
		}

		holder, rerr := readLockHolder(dir)
		if rerr == nil && processAlive(holder) {
			return nil, errors.Conflict(fmt.Sprintf("worker lock held by pid %d", holder))
		}
		// Holder is gone (or the pid file is unreadable after a crash
		// mid-acquire): break the lock and retry once.
		if rerr := os.RemoveAll(dir); rerr != nil {
			return nil, errors.Wrap(rerr, op, "break stale lock")
		}
	}
	return nil, errors.Conflict("worker lock contention")
}

// Release gives up the lock. Safe to call more than once.
func (l *WorkerLock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	dir := l.dir
	l.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "jobstore.WorkerLock.Release", "remove lock directory")
	}
	return nil
}

func readLockHolder(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, "pid"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
