package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/chunkmap/core"
)

// MirroredArtifactStore writes artifacts to a local cache and a remote store,
// and serves reads from the cache when it can.
type MirroredArtifactStore struct {
	local       ArtifactStore
	remote      ArtifactStore
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// MirrorOption configures a MirroredArtifactStore.
type MirrorOption func(*MirroredArtifactStore)

// WithMirrorRetry sets how remote calls are retried.
func WithMirrorRetry(maxAttempts int, baseDelay time.Duration) MirrorOption {
	return func(m *MirroredArtifactStore) {
		m.maxAttempts = maxAttempts
		m.baseDelay = baseDelay
	}
}

// WithMirrorLogger sets the logger.
func WithMirrorLogger(logger *slog.Logger) MirrorOption {
	return func(m *MirroredArtifactStore) {
		m.logger = logger
	}
}

// NewMirroredArtifactStore combines local and remote. remote may be nil, in
// which case the store behaves like local alone.
func NewMirroredArtifactStore(local, remote ArtifactStore, opts ...MirrorOption) *MirroredArtifactStore {
	m := &MirroredArtifactStore{
		local:       local,
		remote:      remote,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutChunks writes to the cache first and then to the remote store.
// The artifact is only durable once the remote write succeeds.
func (m *MirroredArtifactStore) PutChunks(ctx context.Context, key string, chunks []core.Chunk) error {
	if err := m.local.PutChunks(ctx, key, chunks); err != nil {
		return fmt.Errorf("cache artifact %s: %w", key, err)
	}
	if m.remote == nil {
		return nil
	}
	err := RetryWithBackoff(ctx, func() error {
		return m.remote.PutChunks(ctx, key, chunks)
	}, m.maxAttempts, m.baseDelay)
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", key, err)
	}
	return nil
}

// GetChunks reads from the cache, falling back to the remote store and
// backfilling the cache on a miss.
func (m *MirroredArtifactStore) GetChunks(ctx context.Context, key string) ([]core.Chunk, error) {
	chunks, err := m.local.GetChunks(ctx, key)
	if err == nil {
		return chunks, nil
	}
	if m.remote == nil {
		return nil, err
	}
	if !errors.Is(err, ErrNotFound) {
		m.logger.Warn("artifact cache read failed, using remote", "key", key, "error", err)
	}

	err = RetryWithBackoff(ctx, func() error {
		var getErr error
		chunks, getErr = m.remote.GetChunks(ctx, key)
		return getErr
	}, m.maxAttempts, m.baseDelay)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s: %w", key, err)
	}

	if err := m.local.PutChunks(ctx, key, chunks); err != nil {
		m.logger.Warn("failed to backfill artifact cache", "key", key, "error", err)
	}
	return chunks, nil
}
