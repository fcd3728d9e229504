package blob

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"

	"vidpipe/internal/config"
)

// Open builds the store selected by cfg. app is required only for the gcs backend.
func Open(ctx context.Context, cfg config.Storage, app *firebase.App) (Store, error) {
	switch cfg.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.Root, cfg.PublicBaseURL)
	case config.StorageS3:
		return NewS3(ctx, S3Options{
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case config.StorageGCS:
		if app == nil {
			return nil, fmt.Errorf("blob: gcs backend needs a firebase app")
		}
		return NewGCS(ctx, app, GCSOptions{
			Bucket:          cfg.Bucket,
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.Backend)
	}
}
