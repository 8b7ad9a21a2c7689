package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/eventhorizon/server/internal/config"
)

// New returns the backend for kind selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, kind Kind) (Backend, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown storage type: %s", kind)
	}

	switch strings.ToLower(cfg.Backend) {
	case "", config.StorageBackendLocal:
		return NewLocalBackend(cfg.LocalRoot, cfg.LocalBaseURL, kind)
	case config.StorageBackendS3, config.StorageBackendMinIO:
		return NewS3Backend(ctx, S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicURL:    publicDomain(cfg, kind),
			UsePathStyle: cfg.UsePathStyle(),
			PresignTTL:   cfg.PresignTTL,
		}, kind)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (valid options: local, s3, minio)", cfg.Backend)
	}
}

// Private files never go through the CDN domain.
func publicDomain(cfg config.StorageConfig, kind Kind) string {
	if kind == KindPrivate {
		return ""
	}
	return cfg.S3PublicURL
}
