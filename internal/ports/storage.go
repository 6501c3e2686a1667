// Package ports declares the interfaces between the job pipeline and its
// pluggable adapters.
package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	// ObjectKey is the archive-relative path, e.g.
	// "job-20260831-120000-ab12cd34/renders/frame_0001.png".
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the provider's handle for the stored object: the key
	// itself for localfs, the real file ID for gdrive.
	ObjectKey string
	Size      int64
}

// ArchiveProvider mirrors finished render artifacts to longer-term storage
// (localfs, gdrive). The job store stays authoritative; the archive is a
// copy that survives job deletion.
type ArchiveProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
