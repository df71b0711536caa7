package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

// ArtifactStore writes chunk artifacts as JSON files under a root directory.
// The artifact key is the path relative to the root.
type ArtifactStore struct {
	root string
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore creates a store rooted at root.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

// PutChunks writes chunks to <root>/<key>, replacing any previous file atomically.
func (s *ArtifactStore) PutChunks(ctx context.Context, key string, chunks []core.Chunk) error {
	data, err := storage.EncodeArtifact(chunks)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path(key), data); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	return nil
}

// GetChunks reads the artifact at <root>/<key>.
func (s *ArtifactStore) GetChunks(ctx context.Context, key string) ([]core.Chunk, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: artifact %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return storage.DecodeArtifact(data)
}

func (s *ArtifactStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
