package storage

import "renderbox/internal/ports"

// Provider is the archive contract shared by the API and the worker. It is
// an alias to ports.ArchiveProvider to keep call-sites simple.
type Provider = ports.ArchiveProvider
