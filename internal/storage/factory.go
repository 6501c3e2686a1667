// Package storage builds the configured archive provider.
package storage

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"renderbox/internal/adapters/storage/gdrive"
	"renderbox/internal/adapters/storage/localfs"
	"renderbox/internal/config"
	"renderbox/internal/pkg/errors"
)

// NewProvider returns the archive provider selected by the config, or
// (nil, nil) when archiving is disabled.
func NewProvider(cfg config.ArchiveConfig) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil

	case "localfs":
		if cfg.LocalRoot == "" {
			return nil, errors.Validation("archive.local_root is required for the localfs provider")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(cfg.GDrive)

	default:
		return nil, errors.Validationf("unknown archive provider %q", cfg.Provider)
	}
}

func newGDriveProvider(cfg config.GDriveConfig) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.Validation("gdrive archive needs client_id, client_secret and refresh_token")
	}

	ctx := context.Background()
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "storage.newGDriveProvider", "create drive service")
	}
	return gdrive.NewClient(srv, cfg.FolderID), nil
}
