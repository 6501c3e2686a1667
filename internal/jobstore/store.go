// Package jobstore persists render jobs as directories on the local
// filesystem. The four partition directories under the store root are the
// single source of truth for job state; moving a job between partitions is a
// single os.Rename, so observers never see a job in two states at once.
package jobstore

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"renderbox/internal/pkg/errors"
	"renderbox/internal/policy"
)

const stagingDirName = ".staging"

// ErrQueueEmpty is returned by ClaimNext when no job is waiting.
var ErrQueueEmpty = errors.New(errors.CodeNotFound, "no queued jobs")

// Store is a filesystem-backed job store rooted at a single directory.
// All methods are safe for concurrent use within one process; cross-process
// exclusivity for claiming is provided by AcquireWorkerLock.
type Store struct {
	root string

	// claimMu serializes queue-order-sensitive transitions (claim, cancel
	// of a queued job) so two goroutines cannot race on the same rename.
	claimMu sync.Mutex
}

// Open prepares the partition layout under root and verifies the integrity
// of every stored job. A job directory with a missing or unparseable
// descriptor makes the whole store unusable and Open fails with a
// STORE_CORRUPTED error.
func Open(root string) (*Store, error) {
	const op = "jobstore.Open"

	for _, dir := range []string{
		filepath.Join(root, StatusQueued.Partition()),
		filepath.Join(root, StatusProcessing.Partition()),
		filepath.Join(root, StatusSucceeded.Partition()),
		filepath.Join(root, StatusFailed.Partition()),
		filepath.Join(root, stagingDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, op, "create partition directory")
		}
	}

	s := &Store{root: root}
	for _, st := range []Status{StatusQueued, StatusProcessing, StatusSucceeded, StatusFailed} {
		ids, err := s.listIDs(st)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, err := s.readDescriptor(st, id); err != nil {
				return nil, errors.Corruptedf("job %s in %s: %v", id, st.Partition(), err)
			}
		}
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Submission is the caller-supplied metadata for a new job.
type Submission struct {
	SceneName string
	Mode      policy.Mode
	Frame     int
	Note      string
}

// Enqueue persists a new job in the queued partition. The scene payload is
// staged in a hidden directory and the job becomes visible only after a
// final rename, so a crash mid-upload never leaves a half-written job in
// queued/.
func (s *Store) Enqueue(scene io.Reader, sub Submission) (*Job, error) {
	const op = "jobstore.Enqueue"

	if !sub.Mode.Valid() {
		return nil, errors.Validationf("invalid mode %q", sub.Mode)
	}
	if sub.Frame < 0 {
		return nil, errors.Validationf("frame %d must not be negative", sub.Frame)
	}

	job := &Job{
		ID:          newJobID(),
		Mode:        sub.Mode,
		Frame:       sub.Frame,
		SceneName:   filepath.Base(sub.SceneName),
		Note:        sub.Note,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}

	stage := filepath.Join(s.root, stagingDirName, job.ID)
	if err := os.MkdirAll(filepath.Join(stage, RendersDirName), 0o755); err != nil {
		return nil, errors.Wrap(err, op, "create staging directory")
	}
	defer os.RemoveAll(stage)

	f, err := os.Create(filepath.Join(stage, SceneFileName))
	if err != nil {
		return nil, errors.Wrap(err, op, "create scene file")
	}
	if _, err := io.Copy(f, scene); err != nil {
		f.Close()
		return nil, errors.Wrap(err, op, "write scene file")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, op, "close scene file")
	}

	if err := writeJSONAtomic(filepath.Join(stage, DescriptorFileName), job); err != nil {
		return nil, err
	}
	if err := os.Rename(stage, s.jobDir(StatusQueued, job.ID)); err != nil {
		return nil, errors.Wrap(err, op, "publish job")
	}
	return job, nil
}

// Get returns the job descriptor, searching all partitions.
func (s *Store) Get(id string) (*Job, error) {
	for _, st := range []Status{StatusProcessing, StatusQueued, StatusSucceeded, StatusFailed} {
		job, err := s.readDescriptor(st, id)
		if err == nil {
			return job, nil
		}
		if !os.IsNotExist(underlying(err)) {
			return nil, err
		}
	}
	return nil, errors.NotFound("job", id)
}

// List returns every job in the store, oldest submission first.
func (s *Store) List() ([]*Job, error) {
	var jobs []*Job
	for _, st := range []Status{StatusQueued, StatusProcessing, StatusSucceeded, StatusFailed} {
		part, err := s.listStatus(st)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, part...)
	}
	sortFIFO(jobs)
	return jobs, nil
}

// ListStatus returns the jobs in one partition, oldest submission first.
func (s *Store) ListStatus(st Status) ([]*Job, error) {
	jobs, err := s.listStatus(st)
	if err != nil {
		return nil, err
	}
	sortFIFO(jobs)
	return jobs, nil
}

// ClaimNext atomically moves the oldest queued job to processing and marks
// it started. It returns a NOT_FOUND error when the queue is empty.
func (s *Store) ClaimNext() (*Job, error) {
	const op = "jobstore.ClaimNext"

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	queued, err := s.listStatus(StatusQueued)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, ErrQueueEmpty
	}
	sortFIFO(queued)
	job := queued[0]

	if err := os.Rename(s.jobDir(StatusQueued, job.ID), s.jobDir(StatusProcessing, job.ID)); err != nil {
		return nil, errors.Wrap(err, op, "move job to processing")
	}
	now := time.Now().UTC()
	job.Status = StatusProcessing
	job.StartedAt = &now
	if err := s.Save(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Save rewrites the descriptor of a job in its current partition.
func (s *Store) Save(job *Job) error {
	return writeJSONAtomic(filepath.Join(s.jobDir(job.Status, job.ID), DescriptorFileName), job)
}

// CommitSuccess moves a processing job to succeeded and writes the artifact
// manifest from the contents of its renders directory.
func (s *Store) CommitSuccess(job *Job, exitCode int) error {
	if err := s.commit(job, StatusSucceeded, "", &exitCode); err != nil {
		return err
	}
	return s.writeManifest(job)
}

// CommitFailure moves a processing job to failed with the given reason.
// exitCode may be nil when the engine never ran.
func (s *Store) CommitFailure(job *Job, reason string, exitCode *int) error {
	return s.commit(job, StatusFailed, reason, exitCode)
}

func (s *Store) commit(job *Job, target Status, reason string, exitCode *int) error {
	const op = "jobstore.commit"

	if job.Status != StatusProcessing {
		return errors.Conflict(fmt.Sprintf("job %s is %s, not processing", job.ID, job.Status))
	}
	now := time.Now().UTC()
	job.Status = target
	job.FinishedAt = &now
	job.FailureReason = reason
	job.ExitCode = exitCode

	src := s.jobDir(StatusProcessing, job.ID)
	os.Remove(filepath.Join(src, cancelMarkerName))
	if err := writeJSONAtomic(filepath.Join(src, DescriptorFileName), job); err != nil {
		return err
	}
	if err := os.Rename(src, s.jobDir(target, job.ID)); err != nil {
		return errors.Wrap(err, op, "move job to "+target.Partition())
	}
	return nil
}

// Cancel requests cancellation of a job. A queued job is removed outright,
// no process ever touched it; a processing job gets a cancellation marker
// for the worker to act on. Terminal jobs yield a CONFLICT error.
func (s *Store) Cancel(id string) (*Job, error) {
	const op = "jobstore.Cancel"

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusQueued:
		if err := os.RemoveAll(s.jobDir(StatusQueued, id)); err != nil {
			return nil, errors.Wrap(err, op, "remove queued job")
		}
		return job, nil
	case StatusProcessing:
		marker := filepath.Join(s.jobDir(StatusProcessing, id), cancelMarkerName)
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return nil, errors.Wrap(err, op, "write cancellation marker")
		}
		return job, nil
	default:
		return nil, errors.Conflict(fmt.Sprintf("job %s already %s", id, job.Status))
	}
}

// CancelRequested reports whether cancellation has been requested for a
// processing job.
func (s *Store) CancelRequested(id string) bool {
	_, err := os.Stat(filepath.Join(s.jobDir(StatusProcessing, id), cancelMarkerName))
	return err == nil
}

// Delete removes a terminal job and all its artifacts. Non-terminal jobs
// yield a CONFLICT error; cancel them first.
func (s *Store) Delete(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return errors.Conflict(fmt.Sprintf("job %s is %s; cancel it before deleting", id, job.Status))
	}
	if err := os.RemoveAll(s.jobDir(job.Status, id)); err != nil {
		return errors.Wrap(err, "jobstore.Delete", "remove job directory")
	}
	return nil
}

// Recover sweeps jobs stranded in processing by a previous worker crash into
// failed with reason "interrupted". It returns the recovered jobs.
func (s *Store) Recover() ([]*Job, error) {
	stranded, err := s.listStatus(StatusProcessing)
	if err != nil {
		return nil, err
	}
	sortFIFO(stranded)
	for _, job := range stranded {
		if err := s.CommitFailure(job, ReasonInterrupted, nil); err != nil {
			return nil, err
		}
	}
	return stranded, nil
}

// JobDir returns the directory of a job given its current status.
func (s *Store) JobDir(job *Job) string { return s.jobDir(job.Status, job.ID) }

// ScenePath returns the path of the job's scene file.
func (s *Store) ScenePath(job *Job) string {
	return filepath.Join(s.jobDir(job.Status, job.ID), SceneFileName)
}

// RendersDir returns the job's artifact output directory.
func (s *Store) RendersDir(job *Job) string {
	return filepath.Join(s.jobDir(job.Status, job.ID), RendersDirName)
}

// LogPath returns the path of the job's render log.
func (s *Store) LogPath(job *Job) string {
	return filepath.Join(s.jobDir(job.Status, job.ID), LogFileName)
}

// Manifest reads the artifact manifest of a succeeded job.
func (s *Store) Manifest(job *Job) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.jobDir(job.Status, job.ID), ManifestFileName))
	if err != nil {
		return nil, errors.Wrap(err, "jobstore.Manifest", "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Corruptedf("job %s: manifest: %v", job.ID, err)
	}
	return &m, nil
}

func (s *Store) writeManifest(job *Job) error {
	dir := s.jobDir(job.Status, job.ID)
	m := &Manifest{JobID: job.ID, GeneratedAt: time.Now().UTC()}

	root := filepath.Join(dir, RendersDirName)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		m.Artifacts = append(m.Artifacts, ArtifactInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "jobstore.writeManifest", "walk renders directory")
	}
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Name < m.Artifacts[j].Name })
	return writeJSONAtomic(filepath.Join(dir, ManifestFileName), m)
}

func (s *Store) jobDir(st Status, id string) string {
	return filepath.Join(s.root, st.Partition(), id)
}

func (s *Store) listIDs(st Status) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, st.Partition()))
	if err != nil {
		return nil, errors.Wrap(err, "jobstore.listIDs", "read partition")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *Store) listStatus(st Status) ([]*Job, error) {
	ids, err := s.listIDs(st)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.readDescriptor(st, id)
		if err != nil {
			// A rename can move the job between ReadDir and the
			// descriptor read; skip it, it will show up in its new
			// partition.
			if os.IsNotExist(underlying(err)) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) readDescriptor(st Status, id string) (*Job, error) {
	data, err := os.ReadFile(filepath.Join(s.jobDir(st, id), DescriptorFileName))
	if err != nil {
		return nil, errors.Wrap(err, "jobstore.readDescriptor", "read descriptor")
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Corruptedf("job %s: descriptor: %v", id, err)
	}
	// The partition the descriptor was read from wins over the stored field.
	job.Status = st
	return &job, nil
}

func sortFIFO(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func newJobID() string {
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("job-%s-%s", ts, uuid.NewString()[:8])
}

func writeJSONAtomic(path string, v any) error {
	const op = "jobstore.writeJSONAtomic"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, op, "marshal")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, op, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrap(err, op, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, op, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, op, "replace file")
	}
	return nil
}

func underlying(err error) error {
	var coded *errors.Error
	if errors.As(err, &coded) && coded.Err != nil {
		return coded.Err
	}
	return err
}
