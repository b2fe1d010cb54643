package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/config"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/storage"
)

// OpenSnapshotStorage opens the object storage named by cfg.
func OpenSnapshotStorage(ctx context.Context, cfg config.SnapshotConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		objects, err := storage.NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
		}
		return objects, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		s3Cfg.Bucket = cfg.S3.Bucket
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		objects, err := storage.NewS3Storage(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
		}
		logutil.Logger(ctx).Info("snapshot storage opened",
			zap.String("bucket", cfg.S3.Bucket), zap.String("region", s3Cfg.Region), zap.String("endpoint", cfg.S3.Endpoint))
		return objects, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot storage type: %s", cfg.Type)
	}
}

func prepare(cfg *config.Config) error {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.EnsureDirectories()
}

// Backup snapshots the metadata store of an offline coordinator and
// prunes snapshots beyond the configured retention.
func Backup(ctx context.Context, cfg *config.Config) (name string, err error) {
	if err := prepare(cfg); err != nil {
		return "", err
	}
	objects, err := OpenSnapshotStorage(ctx, cfg.Snapshot)
	if err != nil {
		return "", err
	}
	store, err := metastore.Open(cfg.MetaData.Path, metastore.Options{TxnWaitTimeout: cfg.MetaData.TxnWaitTimeout})
	if err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	if name, err = store.Backup(ctx, objects, cfg.Snapshot.Prefix); err != nil {
		return "", err
	}
	_, err = metastore.PruneSnapshots(ctx, objects, cfg.Snapshot.Prefix, cfg.Snapshot.Retain)
	return name, err
}

// ListSnapshots lists the stored snapshots, oldest first.
func ListSnapshots(ctx context.Context, cfg *config.Config) ([]storage.ObjectInfo, error) {
	if err := prepare(cfg); err != nil {
		return nil, err
	}
	objects, err := OpenSnapshotStorage(ctx, cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	return metastore.ListSnapshots(ctx, objects, cfg.Snapshot.Prefix)
}

// Restore replaces the metadata store with snapshot name. An empty name
// picks the newest snapshot. The coordinator must not be running.
func Restore(ctx context.Context, cfg *config.Config, name string, overwrite bool) (string, error) {
	if err := prepare(cfg); err != nil {
		return "", err
	}
	objects, err := OpenSnapshotStorage(ctx, cfg.Snapshot)
	if err != nil {
		return "", err
	}
	if name == "" {
		snaps, err := metastore.ListSnapshots(ctx, objects, cfg.Snapshot.Prefix)
		if err != nil {
			return "", err
		}
		if len(snaps) == 0 {
			return "", fmt.Errorf("no snapshots under %q", cfg.Snapshot.Prefix)
		}
		name = snaps[len(snaps)-1].Key
	}
	if err := metastore.Restore(ctx, objects, name, cfg.MetaData.Path, overwrite); err != nil {
		return "", err
	}
	logutil.Logger(ctx).Info("metadata store restored", zap.String("snapshot", name), zap.String("path", cfg.MetaData.Path))
	return name, nil
}
