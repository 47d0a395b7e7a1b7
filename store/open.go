package store

import (
	"context"
	"fmt"
	"io"

	"askpdf/config"
	"askpdf/index"

	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the index store selected by cfg.Index.Backend together with a
// closer for its connections.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (index.Store, io.Closer, error) {
	switch cfg.Index.Backend {
	case "file":
		blobs, err := NewFileBlobs(cfg.Index.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file index store", zap.String("dir", cfg.Index.Dir))
		return NewBlobIndexStore(blobs), nopCloser{}, nil

	case "redis":
		blobs, err := NewRedisBlobs(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis index store", zap.String("addr", cfg.Redis.Addr))
		return NewBlobIndexStore(blobs), blobs, nil

	case "minio":
		blobs, err := NewMinIOBlobs(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using minio index store", zap.String("endpoint", cfg.MinIO.Endpoint), zap.String("bucket", cfg.MinIO.Bucket))
		return NewBlobIndexStore(blobs), nopCloser{}, nil

	case "postgres":
		pg, err := NewPostgresStore(ctx, cfg.Postgres.DSN(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("create tables: %w", err)
		}
		logger.Info("using postgres index store", zap.String("host", cfg.Postgres.Host))
		return pg, pg, nil
	}
	return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}
