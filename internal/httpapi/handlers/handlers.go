package handlers

import (
	"renderbox/internal/jobstore"
	"renderbox/internal/pkg/logger"
	"renderbox/internal/ports"
)

type Deps struct {
	Store          *jobstore.Store
	Archive        ports.ArchiveProvider
	Log            *logger.Logger
	MaxUploadBytes int64
}

type Handler struct {
	store     *jobstore.Store
	archive   ports.ArchiveProvider
	log       *logger.Logger
	maxUpload int64
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 2 << 30
	}
	return &Handler{
		store:     d.Store,
		archive:   d.Archive,
		log:       log.WithComponent("httpapi"),
		maxUpload: maxUpload,
	}
}
