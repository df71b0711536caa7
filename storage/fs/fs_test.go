package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubText struct {
	ids   []core.DocumentID
	texts map[core.DocumentID]string
	gets  int
}

func (s *stubText) ListDocumentIDs(context.Context) ([]core.DocumentID, error) {
	return s.ids, nil
}

func (s *stubText) GetText(_ context.Context, id core.DocumentID) (string, error) {
	s.gets++
	text, ok := s.texts[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return text, nil
}

func writeText(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func TestTextRepository_ListLocal(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "b.txt", "bee")
	writeText(t, dir, "a.txt", "ay")
	writeText(t, dir, "notes.md", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	repo := NewTextRepository(dir)
	ids, err := repo.ListDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.DocumentID{"a", "b"}, ids)

	text, err := repo.GetText(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "ay", text)
}

func TestTextRepository_MissingDirectory(t *testing.T) {
	repo := NewTextRepository(filepath.Join(t.TempDir(), "missing"))
	ids, err := repo.ListDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = repo.GetText(context.Background(), "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTextRepository_Fallback(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "local.txt", "on disk")
	remote := &stubText{
		ids:   []core.DocumentID{"local", "remote"},
		texts: map[core.DocumentID]string{"remote": "from bucket"},
	}
	repo := NewTextRepository(dir, WithFallback(remote))
	ctx := context.Background()

	ids, err := repo.ListDocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, remote.ids, ids)

	text, err := repo.GetText(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "on disk", text)
	assert.Equal(t, 0, remote.gets)

	text, err = repo.GetText(ctx, "remote")
	require.NoError(t, err)
	assert.Equal(t, "from bucket", text)
	assert.Equal(t, 1, remote.gets)

	cached, err := os.ReadFile(filepath.Join(dir, "remote.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from bucket", string(cached))

	_, err = repo.GetText(ctx, "remote")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.gets, "second read is served from the cache")

	_, err = repo.GetText(ctx, "absent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArtifactStore_PutGet(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)
	ctx := context.Background()
	chunks := core.NewChunks("2401.00001", []string{"one", "two"})
	key := storage.ArtifactKey("arxiv_chunks", "2401.00001")

	require.NoError(t, store.PutChunks(ctx, key, chunks))

	data, err := os.ReadFile(filepath.Join(root, "arxiv_chunks", "2401.00001.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunk_id":1`)

	got, err := store.GetChunks(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)

	replacement := core.NewChunks("2401.00001", []string{"only"})
	require.NoError(t, store.PutChunks(ctx, key, replacement))
	got, err = store.GetChunks(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, replacement, got)
}

func TestArtifactStore_NotFound(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	_, err := store.GetChunks(context.Background(), "arxiv_chunks/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArtifactStore_Corrupt(t *testing.T) {
	root := t.TempDir()
	writeText(t, root, "bad.json", "{not json")
	store := NewArtifactStore(root)

	_, err := store.GetChunks(context.Background(), "bad.json")
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}
