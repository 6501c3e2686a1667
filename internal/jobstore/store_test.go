package jobstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renderbox/internal/pkg/errors"
	"renderbox/internal/policy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func enqueue(t *testing.T, s *Store, mode policy.Mode) *Job {
	t.Helper()
	job, err := s.Enqueue(strings.NewReader("scene-bytes"), Submission{SceneName: "cube.blend", Mode: mode, Frame: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Submission timestamps order the queue; keep them distinct.
	time.Sleep(2 * time.Millisecond)
	return job
}

func TestOpenCreatesPartitions(t *testing.T) {
	root := t.TempDir()
	if _, err := Open(root); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, p := range []string{"queued", "processing", "succeeded", "failed"} {
		if fi, err := os.Stat(filepath.Join(root, p)); err != nil || !fi.IsDir() {
			t.Errorf("partition %s missing", p)
		}
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestStore(t)
	job := enqueue(t, s, policy.ModeTurbo)

	if job.Status != StatusQueued {
		t.Fatalf("status = %s, want QUEUED", job.Status)
	}
	if job.SceneName != "cube.blend" {
		t.Errorf("scene name = %q", job.SceneName)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != job.ID || got.Mode != policy.ModeTurbo {
		t.Errorf("Get returned %+v", got)
	}

	data, err := os.ReadFile(s.ScenePath(got))
	if err != nil {
		t.Fatalf("read scene: %v", err)
	}
	if string(data) != "scene-bytes" {
		t.Errorf("scene payload = %q", data)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(strings.NewReader("x"), Submission{SceneName: "a.blend", Mode: policy.Mode("FAST"), Frame: 1}); !errors.IsValidation(err) {
		t.Errorf("invalid mode: got %v", err)
	}
	if _, err := s.Enqueue(strings.NewReader("x"), Submission{SceneName: "a.blend", Mode: policy.ModeArtist, Frame: -1}); !errors.IsValidation(err) {
		t.Errorf("negative frame: got %v", err)
	}
	jobs, _ := s.List()
	if len(jobs) != 0 {
		t.Errorf("rejected submissions must not leave jobs behind, found %d", len(jobs))
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("job-nope"); !errors.IsNotFound(err) {
		t.Fatalf("got %v, want not-found", err)
	}
}

func TestClaimNextTieBreaksOnID(t *testing.T) {
	s := newTestStore(t)
	a := enqueue(t, s, policy.ModeTurbo)
	b := enqueue(t, s, policy.ModeArtist)

	// Force identical submission timestamps so ordering falls back to ID.
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a.SubmittedAt = ts
	b.SubmittedAt = ts
	if err := s.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}

	lo, hi := a.ID, b.ID
	if hi < lo {
		lo, hi = hi, lo
	}

	claimed, err := s.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != lo {
		t.Fatalf("claimed %s, want lower ID %s", claimed.ID, lo)
	}
	claimed2, err := s.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}
	if claimed2.ID != hi {
		t.Errorf("claimed %s, want %s", claimed2.ID, hi)
	}
}

func TestClaimNextFIFO(t *testing.T) {
	s := newTestStore(t)
	first := enqueue(t, s, policy.ModeTurbo)
	second := enqueue(t, s, policy.ModeArtist)

	claimed, err := s.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("claimed %s, want oldest %s", claimed.ID, first.ID)
	}
	if claimed.Status != StatusProcessing || claimed.StartedAt == nil {
		t.Errorf("claimed job not marked processing: %+v", claimed)
	}

	claimed2, err := s.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}
	if claimed2.ID != second.ID {
		t.Errorf("claimed %s, want %s", claimed2.ID, second.ID)
	}

	if _, err := s.ClaimNext(); !errors.IsNotFound(err) {
		t.Errorf("empty queue: got %v", err)
	}
}

func TestCommitSuccessWritesManifest(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, policy.ModeTurbo)
	job, err := s.ClaimNext()
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(s.RendersDir(job), "frame_0001.png")
	if err := os.WriteFile(out, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.CommitSuccess(job, 0); err != nil {
		t.Fatalf("CommitSuccess: %v", err)
	}
	if job.Status != StatusSucceeded || job.FinishedAt == nil {
		t.Fatalf("job not terminal: %+v", job)
	}

	m, err := s.Manifest(job)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Name != "renders/frame_0001.png" || m.Artifacts[0].Size != 3 {
		t.Errorf("manifest = %+v", m.Artifacts)
	}
}

func TestCommitFailure(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, policy.ModeArtist)
	job, err := s.ClaimNext()
	if err != nil {
		t.Fatal(err)
	}

	code := 11
	if err := s.CommitFailure(job, "engine exited with code 11", &code); err != nil {
		t.Fatalf("CommitFailure: %v", err)
	}
	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.FailureReason == "" || got.ExitCode == nil || *got.ExitCode != 11 {
		t.Errorf("failed job = %+v", got)
	}
}

func TestCommitRequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	job := enqueue(t, s, policy.ModeTurbo)
	if err := s.CommitSuccess(job, 0); errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestCancelQueuedRemovesJob(t *testing.T) {
	s := newTestStore(t)
	job := enqueue(t, s, policy.ModeTurbo)

	canceled, err := s.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.ID != job.ID {
		t.Errorf("canceled job = %+v", canceled)
	}
	if _, err := s.Get(job.ID); !errors.IsNotFound(err) {
		t.Error("queued job survived cancel")
	}
	if _, err := s.ClaimNext(); !errors.IsNotFound(err) {
		t.Error("canceled job still claimable")
	}
}

func TestCancelProcessingSetsMarker(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, policy.ModeTurbo)
	job, err := s.ClaimNext()
	if err != nil {
		t.Fatal(err)
	}

	if s.CancelRequested(job.ID) {
		t.Fatal("marker set before cancel")
	}
	if _, err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !s.CancelRequested(job.ID) {
		t.Fatal("marker not set after cancel")
	}

	// Committing clears the marker before the directory moves.
	if err := s.CommitFailure(job, ReasonCanceled, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.JobDir(job), cancelMarkerName)); !os.IsNotExist(err) {
		t.Error("marker survived commit")
	}
}

func TestCancelTerminalConflicts(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, policy.ModeTurbo)
	job, _ := s.ClaimNext()
	if err := s.CommitSuccess(job, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Cancel(job.ID); errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	queued := enqueue(t, s, policy.ModeTurbo)
	if err := s.Delete(queued.ID); errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("deleting queued job: got %v, want conflict", err)
	}

	job, _ := s.ClaimNext()
	if err := s.CommitSuccess(job, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(job.ID); !errors.IsNotFound(err) {
		t.Error("job still present after delete")
	}
}

func TestRecoverMarksInterrupted(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	enqueue(t, s, policy.ModeTurbo)
	stranded, err := s.ClaimNext()
	if err != nil {
		t.Fatal(err)
	}
	survivor := enqueue(t, s, policy.ModeArtist)

	// New store handle over the same root, as after a worker restart.
	s2, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := s2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(recovered) != 1 || recovered[0].ID != stranded.ID {
		t.Fatalf("recovered = %+v", recovered)
	}

	got, err := s2.Get(stranded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.FailureReason != ReasonInterrupted {
		t.Errorf("recovered job = %+v", got)
	}
	if q, _ := s2.ListStatus(StatusQueued); len(q) != 1 || q[0].ID != survivor.ID {
		t.Errorf("queued jobs disturbed by recovery: %+v", q)
	}
}

func TestOpenFailsOnCorruptDescriptor(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	job := enqueue(t, s, policy.ModeTurbo)
	if err := os.WriteFile(filepath.Join(s.JobDir(job), DescriptorFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(root); !errors.IsCorrupted(err) {
		t.Fatalf("got %v, want store-corrupted", err)
	}
}

func TestListSkipsHiddenEntries(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, policy.ModeTurbo)
	if err := os.Mkdir(filepath.Join(s.Root(), "queued", ".partial"), 0o755); err != nil {
		t.Fatal(err)
	}
	jobs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("len = %d, want 1", len(jobs))
	}
}

func TestWorkerLock(t *testing.T) {
	s := newTestStore(t)
	lock, err := s.AcquireWorkerLock()
	if err != nil {
		t.Fatalf("AcquireWorkerLock: %v", err)
	}
	// The holder (this process) is alive, so a second acquire conflicts.
	if _, err := s.AcquireWorkerLock(); errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("second acquire: got %v, want conflict", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	lock2, err := s.AcquireWorkerLock()
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	lock2.Release()
}

func TestWorkerLockBreaksStale(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Root(), lockDirName)
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// PID that cannot exist.
	if err := os.WriteFile(filepath.Join(dir, "pid"), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lock, err := s.AcquireWorkerLock()
	if err != nil {
		t.Fatalf("stale lock not broken: %v", err)
	}
	lock.Release()
}

func TestWorkerStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)

	st, err := s.LoadWorkerStatus()
	if err != nil {
		t.Fatalf("LoadWorkerStatus: %v", err)
	}
	if st.State != WorkerStateStopped {
		t.Errorf("initial state = %q, want STOPPED", st.State)
	}

	if err := s.SaveWorkerStatus(WorkerStatus{State: WorkerStateRendering, JobID: "job-x"}); err != nil {
		t.Fatalf("SaveWorkerStatus: %v", err)
	}
	st, err = s.LoadWorkerStatus()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != WorkerStateRendering || st.JobID != "job-x" || st.PID != os.Getpid() {
		t.Errorf("status = %+v", st)
	}
}
