package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactRepository_PutGet(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	chunks := core.NewChunks("2401.00001", []string{"first", "second", "third"})
	key := storage.ArtifactKey("arxiv_chunks", "2401.00001")

	require.NoError(t, repo.PutChunks(ctx, key, chunks))

	got, err := repo.GetChunks(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)
}

func TestArtifactRepository_Overwrite(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, repo.PutChunks(ctx, "k", core.NewChunks("d", []string{"old"})))
	replacement := core.NewChunks("d", []string{"new", "newer"})
	require.NoError(t, repo.PutChunks(ctx, "k", replacement))

	got, err := repo.GetChunks(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, replacement, got)
}

func TestArtifactRepository_NotFound(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	defer backend.Close()

	_, err = repo.GetChunks(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArtifactRepository_Corruption(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, repo.PutChunks(ctx, "k", core.NewChunks("d", []string{"payload"})))

	// Flip a payload byte behind the repository's back.
	err = backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeArtifactKey("k"))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val[len(val)-1] ^= 0xff
		if err := tx.Set(makeArtifactKey("k"), val); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)

	_, err = repo.GetChunks(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrChecksumMismatch)
}

func TestArtifactRepository_DeleteAndKeys(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	for _, id := range []core.DocumentID{"b", "a", "c"} {
		key := storage.ArtifactKey("arxiv_chunks", id)
		require.NoError(t, repo.PutChunks(ctx, key, core.NewChunks(id, []string{"x"})))
	}
	require.NoError(t, repo.PutChunks(ctx, storage.ArtifactKey("arxiv_large_chunks", "a"), core.NewChunks("a", []string{"y"})))

	keys, err := repo.Keys(ctx, "arxiv_chunks/")
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv_chunks/a.json", "arxiv_chunks/b.json", "arxiv_chunks/c.json"}, keys)

	require.NoError(t, repo.DeleteChunks(ctx, "arxiv_chunks/b.json"))
	require.NoError(t, repo.DeleteChunks(ctx, "arxiv_chunks/missing.json"))

	keys, err = repo.Keys(ctx, "arxiv_chunks/")
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv_chunks/a.json", "arxiv_chunks/c.json"}, keys)
}

func TestArtifactRepository_Closed(t *testing.T) {
	repo, backend, err := NewMemoryArtifactRepository()
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	err = repo.PutChunks(context.Background(), "k", nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = repo.GetChunks(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
