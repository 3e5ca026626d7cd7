package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nodestore/internal/config"
	"nodestore/internal/index"
	"nodestore/internal/legacy"
	"nodestore/internal/nodestore"
	"nodestore/internal/objectstore"
	"nodestore/internal/sqldb"
)

// app is a backend together with the resources it does not own.
type app struct {
	backend *nodestore.Backend
	legacy  *legacy.Store
}

func (a *app) Close() error {
	var errs []error
	if err := a.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.legacy != nil {
		if err := a.legacy.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openIndex opens the index database described by cfg.
func openIndex(ctx context.Context, cfg config.IndexConfig) (*index.SQLIndex, error) {
	dsn := cfg.DataSource()
	if err := ensureSQLiteDir(cfg.Driver, dsn); err != nil {
		return nil, err
	}

	idx, err := index.Open(ctx, cfg.Driver, dsn, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return idx, nil
}

// openObjectStore connects to the bucket described by cfg.
func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Driver {
	case config.DriverMinio:
		return objectstore.NewMinioStore(ctx, objectstore.MinioOptions{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			RetryAttempts:   cfg.RetryAttempts,
			CreateBucket:    cfg.CreateBucket,
		})

	case config.DriverS3:
		store, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			RetryAttempts:   cfg.RetryAttempts,
		})
		if err != nil {
			return nil, err
		}
		if cfg.CreateBucket {
			if err := store.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil

	case config.DriverFile:
		absDataDir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		return objectstore.NewFileStore(absDataDir)
	}

	return nil, fmt.Errorf("unknown object store driver %q", cfg.Driver)
}

// openApp builds a backend from cfg.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	idx, err := openIndex(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	store, err := openObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	opts := []nodestore.Option{
		nodestore.WithReadThrough(cfg.ReadThrough),
		nodestore.WithWriteThrough(cfg.WriteThrough),
		nodestore.WithDeleteThrough(cfg.DeleteThrough),
		nodestore.WithKeyPrefix(cfg.ObjectStore.Path),
		nodestore.WithLogger(slog.Default().With("component", "nodestore")),
	}
	if scheme := cfg.CompressionName(); scheme != "" {
		opts = append(opts, nodestore.WithCompression(scheme))
	} else {
		opts = append(opts, nodestore.WithoutCompression())
	}

	a := &app{}
	if cfg.Legacy.Enabled {
		if err := ensureSQLiteDir(cfg.Legacy.Driver, cfg.Legacy.DSN); err != nil {
			_ = idx.Close()
			return nil, err
		}
		a.legacy, err = legacy.Open(ctx, cfg.Legacy.Driver, cfg.Legacy.DSN, cfg.Legacy.Table)
		if err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to open legacy store: %w", err)
		}
		opts = append(opts, nodestore.WithSecondary(a.legacy))
	}

	a.backend, err = nodestore.New(idx, store, opts...)
	if err != nil {
		_ = idx.Close()
		if a.legacy != nil {
			_ = a.legacy.Close()
		}
		return nil, err
	}

	slog.Debug("Opened node store",
		"store", cfg.ObjectStore.Driver,
		"bucket", cfg.ObjectStore.Bucket,
		"index", cfg.Index.Driver,
		"legacy", cfg.Legacy.Enabled)
	return a, nil
}

func ensureSQLiteDir(driver, dsn string) error {
	if driver != sqldb.DriverSQLite {
		return nil
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
