package chunkmap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/chunkmap/config"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/ingestion"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/storage/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.NewConfig(
		config.WithStorage(config.DriverSQLite, filepath.Join(dir, "db", "chunkmap.db")),
		config.WithCachePath(filepath.Join(dir, "cache")),
		config.WithTextDir(filepath.Join(dir, "text")),
		config.WithArtifactDir(filepath.Join(dir, "artifacts")),
	)
}

func TestNewDatabase(t *testing.T) {
	ctx := context.Background()

	t.Run("opens configured stores", func(t *testing.T) {
		db, err := NewDatabase(ctx, testConfig(t))
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		assert.NotNil(t, db.RelationalStore())
		assert.NotNil(t, db.TextRepository())
		assert.NotNil(t, db.ArtifactStore())
		assert.NotNil(t, db.backend)
		assert.NotNil(t, db.logger)
	})

	t.Run("rejects unknown parent version before opening anything", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ParentVersion = "123_4"

		db, err := NewDatabase(ctx, cfg)
		require.ErrorIs(t, err, core.ErrUnknownVersion)
		assert.Nil(t, db)
		_, statErr := os.Stat(cfg.Storage.CachePath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("requires config", func(t *testing.T) {
		_, err := NewDatabase(ctx, nil)
		assert.ErrorIs(t, err, ingestion.ErrConfigRequired)
	})

	t.Run("error with cache path that is a file", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.WriteFile(cfg.Storage.CachePath, []byte("test"), 0o644))

		db, err := NewDatabase(ctx, cfg)
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestDatabase_Close(t *testing.T) {
	db, err := NewDatabase(context.Background(), testConfig(t))
	require.NoError(t, err)

	assert.NoError(t, db.Close())
	assert.NoError(t, db.Close(), "second close is a no-op")
}

func TestDatabase_Pipeline(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Storage.TextDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.TextDir, "2401.00001.txt"),
		[]byte("Attention is all you need.\n\nWe propose a new architecture."), 0o644))

	db, err := NewDatabase(ctx, cfg, WithInMemoryCache())
	require.NoError(t, err)
	defer db.Close()

	pipeline, err := db.NewPipeline()
	require.NoError(t, err)
	defer pipeline.Release()

	report, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Stages, 3)
	for _, sr := range report.Stages {
		assert.Equal(t, 1, sr.Completed, sr.Stage)
	}

	// Artifacts are mirrored to the configured directory.
	remote := fs.NewArtifactStore(cfg.Storage.ArtifactDir)
	chunks, err := remote.GetChunks(ctx, storage.ArtifactKey(cfg.Child.Prefix, "2401.00001"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Attention is all you need.  We propose a new architecture.", chunks[0].Text)

	ids, err := db.RelationalStore().ProcessedIDs(ctx, storage.Scope{Table: cfg.Mapping.Table, Version: cfg.ParentVersion})
	require.NoError(t, err)
	assert.Equal(t, []core.DocumentID{"2401.00001"}, ids)
}
