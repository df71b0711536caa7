// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunkmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/chunkmap/config"
	"github.com/poiesic/chunkmap/ingestion"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/storage/badger"
	"github.com/poiesic/chunkmap/storage/fs"
	"github.com/poiesic/chunkmap/storage/gcs"
	"github.com/poiesic/chunkmap/storage/postgres"
	"github.com/poiesic/chunkmap/storage/sqlite"
)

// Database bundles the stores a pipeline runs against.
type Database struct {
	cfg       *config.Config
	backend   *badger.Backend
	store     storage.RelationalStore
	texts     storage.TextRepository
	artifacts *storage.MirroredArtifactStore
	closers   []func() error
	logger    *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	store         storage.RelationalStore
	texts         storage.TextRepository
	remote        storage.ArtifactStore
	inMemoryCache bool
	logger        *slog.Logger
}

// WithRelationalStore uses store instead of opening the configured driver.
// The Database does not close it.
func WithRelationalStore(store storage.RelationalStore) DatabaseOption {
	return func(o *databaseOptions) {
		o.store = store
	}
}

// WithTextRepository uses texts instead of the configured text directory and bucket.
func WithTextRepository(texts storage.TextRepository) DatabaseOption {
	return func(o *databaseOptions) {
		o.texts = texts
	}
}

// WithRemoteArtifactStore mirrors artifacts to remote instead of the configured bucket or directory.
func WithRemoteArtifactStore(remote storage.ArtifactStore) DatabaseOption {
	return func(o *databaseOptions) {
		o.remote = remote
	}
}

// WithInMemoryCache keeps the local artifact cache in memory.
func WithInMemoryCache() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemoryCache = true
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase validates cfg and opens every store it names.
func NewDatabase(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		return nil, ingestion.ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	db := &Database{
		cfg:    cfg,
		logger: options.logger,
	}
	if err := db.open(ctx, options); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			db.logger.Error("error closing partially opened database", "err", closeErr)
		}
		return nil, err
	}
	return db, nil
}

func (db *Database) open(ctx context.Context, options *databaseOptions) error {
	storageCfg := db.cfg.Storage

	// Open backend
	backend, err := badger.OpenBackend(storageCfg.CachePath, options.inMemoryCache || storageCfg.CachePath == "", db.logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact cache: %w", err)
	}
	db.backend = backend
	db.closers = append(db.closers, backend.Close)

	db.store = options.store
	if db.store == nil {
		if db.store, err = db.openRelational(ctx); err != nil {
			return err
		}
	}

	db.texts = options.texts
	if db.texts == nil {
		if db.texts, err = db.openTexts(ctx); err != nil {
			return err
		}
	}

	remote := options.remote
	if remote == nil {
		if remote, err = db.openRemoteArtifacts(ctx); err != nil {
			return err
		}
	}
	db.artifacts = storage.NewMirroredArtifactStore(
		badger.NewArtifactRepository(backend),
		remote,
		storage.WithMirrorRetry(db.cfg.Retry.MaxAttempts, db.cfg.Retry.BaseDelay.Duration),
		storage.WithMirrorLogger(db.logger.With("component", "artifacts")),
	)
	return nil
}

func (db *Database) openRelational(ctx context.Context) (storage.RelationalStore, error) {
	dsn := db.cfg.Storage.DSN
	switch db.cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.closers = append(db.closers, func() error {
			pool.Close()
			return nil
		})
		return postgres.New(pool, postgres.WithLogger(db.logger)), nil
	default:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		store, err := sqlite.New(dsn, sqlite.WithLogger(db.logger))
		if err != nil {
			return nil, err
		}
		db.closers = append(db.closers, store.Close)
		return store, nil
	}
}

func (db *Database) openTexts(ctx context.Context) (storage.TextRepository, error) {
	storageCfg := db.cfg.Storage

	var bucket *gcs.Bucket
	if storageCfg.TextBucket != "" {
		var err error
		bucket, err = gcs.Open(ctx, storageCfg.TextBucket,
			gcs.WithTextPrefix(storageCfg.TextPrefix),
			gcs.WithLogger(db.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open text bucket: %w", err)
		}
		db.closers = append(db.closers, bucket.Close)
	}

	switch {
	case storageCfg.TextDir == "":
		return bucket, nil
	case bucket == nil:
		return fs.NewTextRepository(storageCfg.TextDir, fs.WithTextLogger(db.logger)), nil
	default:
		return fs.NewTextRepository(storageCfg.TextDir,
			fs.WithFallback(bucket),
			fs.WithTextLogger(db.logger)), nil
	}
}

// openRemoteArtifacts returns nil when neither a bucket nor a directory is configured.
func (db *Database) openRemoteArtifacts(ctx context.Context) (storage.ArtifactStore, error) {
	storageCfg := db.cfg.Storage
	switch {
	case storageCfg.ArtifactBucket != "":
		bucket, err := gcs.Open(ctx, storageCfg.ArtifactBucket, gcs.WithLogger(db.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact bucket: %w", err)
		}
		db.closers = append(db.closers, bucket.Close)
		return bucket, nil
	case storageCfg.ArtifactDir != "":
		return fs.NewArtifactStore(storageCfg.ArtifactDir), nil
	default:
		return nil, nil
	}
}

// Close closes everything NewDatabase opened, in reverse order.
func (db *Database) Close() error {
	var errs []error
	for i := len(db.closers) - 1; i >= 0; i-- {
		if err := db.closers[i](); err != nil {
			db.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	db.closers = nil
	return errors.Join(errs...)
}

// Config returns the validated configuration.
func (db *Database) Config() *config.Config {
	return db.cfg
}

// RelationalStore returns the chunk and mapping store.
func (db *Database) RelationalStore() storage.RelationalStore {
	return db.store
}

// TextRepository returns the raw text source.
func (db *Database) TextRepository() storage.TextRepository {
	return db.texts
}

// ArtifactStore returns the cached, mirrored artifact store.
func (db *Database) ArtifactStore() storage.ArtifactStore {
	return db.artifacts
}

// CollectGarbage reclaims space in the local artifact cache.
func (db *Database) CollectGarbage() {
	db.backend.CollectGarbage()
}

// NewPipeline builds an ingestion pipeline over the database's stores and
// configuration. The database logger is applied first, so opts may override it.
// The pipeline is only valid until the database is closed.
func (db *Database) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	opts = append([]ingestion.Option{ingestion.WithLogger(db.logger)}, opts...)
	return ingestion.NewPipeline(db.texts, db.store, db.artifacts, db.cfg, opts...)
}
