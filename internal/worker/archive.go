package worker

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"renderbox/internal/jobstore"
	"renderbox/internal/pkg/errors"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/ports"
)

// mirrorArtifacts copies every file under the job's renders directory, plus
// the render log, to the configured archive provider. Keys are prefixed with
// the job ID so one archive serves many jobs.
func mirrorArtifacts(ctx context.Context, d Deps, job *jobstore.Job, log *logger.Logger) error {
	const op = "worker.mirrorArtifacts"

	jobDir := d.Store.JobDir(job)
	var paths []string
	err := filepath.WalkDir(d.Store.RendersDir(job), func(path string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, op, "walk renders directory")
	}
	if _, err := os.Stat(d.Store.LogPath(job)); err == nil {
		paths = append(paths, d.Store.LogPath(job))
	}

	for _, path := range paths {
		rel, err := filepath.Rel(jobDir, path)
		if err != nil {
			return errors.Wrap(err, op, "relativize artifact path")
		}
		if err := putFile(ctx, d.Archive, path, job.ID+"/"+filepath.ToSlash(rel)); err != nil {
			return err
		}
		log.Debug("artifact archived", "key", rel, "provider", d.Archive.Provider())
	}
	return nil
}

func putFile(ctx context.Context, archive ports.ArchiveProvider, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "worker.putFile", "open artifact")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "worker.putFile", "stat artifact")
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	_, err = archive.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: ct,
		Reader:      f,
		Size:        info.Size(),
	})
	return err
}
