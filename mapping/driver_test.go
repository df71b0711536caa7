package mapping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/storage/badger"
	"github.com/poiesic/chunkmap/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJob = Job{
	ChildPrefix:  "arxiv_chunks",
	ParentPrefix: "arxiv_large_chunks",
	Version:      "8_2",
	Table:        "arxiv_chunk_map",
}

// recordingMappings is a MappingRepository that records inserts and can fail
// for chosen documents.
type recordingMappings struct {
	mu          sync.Mutex
	batches     [][]core.ChunkMapping
	failFor     core.DocumentID
	afterInsert func()
}

func (r *recordingMappings) Init(context.Context, storage.Schema) error { return nil }
func (r *recordingMappings) Close() error                              { return nil }

func (r *recordingMappings) ProcessedIDs(context.Context, storage.Scope) ([]core.DocumentID, error) {
	return nil, nil
}

func (r *recordingMappings) InsertMappings(_ context.Context, _ string, rows ...core.ChunkMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if row.DocumentID == r.failFor {
			return errors.New("insert failed")
		}
	}
	r.batches = append(r.batches, rows)
	if r.afterInsert != nil {
		r.afterInsert()
	}
	return nil
}

func (r *recordingMappings) rows() []core.ChunkMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []core.ChunkMapping
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

// panickingArtifacts panics when asked for one key.
type panickingArtifacts struct {
	storage.ArtifactStore
	key string
}

func (p panickingArtifacts) GetChunks(ctx context.Context, key string) ([]core.Chunk, error) {
	if key == p.key {
		panic("boom")
	}
	return p.ArtifactStore.GetChunks(ctx, key)
}

func newArtifacts(t *testing.T) storage.ArtifactStore {
	t.Helper()
	repo, backend, err := badger.NewMemoryArtifactRepository()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return repo
}

func putDocument(t *testing.T, artifacts storage.ArtifactStore, id core.DocumentID, children, parents []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, artifacts.PutChunks(ctx, storage.ArtifactKey(testJob.ChildPrefix, id), core.NewChunks(id, children)))
	require.NoError(t, artifacts.PutChunks(ctx, storage.ArtifactKey(testJob.ParentPrefix, id), core.NewChunks(id, parents)))
}

func newDriver(t *testing.T, artifacts storage.ArtifactStore, mappings storage.MappingRepository, cfg Config, opts ...Option) *Driver {
	t.Helper()
	d, err := NewDriver(artifacts, mappings, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func TestNewDriver_Validation(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{}

	_, err := NewDriver(nil, mappings, DefaultConfig())
	assert.ErrorIs(t, err, ErrArtifactStoreRequired)

	_, err = NewDriver(artifacts, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrMappingRepositoryRequired)

	cfg := DefaultConfig()
	cfg.Concurrency = 0
	_, err = NewDriver(artifacts, mappings, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRun_Scenario(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{}
	putDocument(t, artifacts, "doc", []string{"ABCD", "DEFG", "GHIJ"}, []string{"ABCDEFGH", "GHIJ"})

	d := newDriver(t, artifacts, mappings, DefaultConfig())
	result, err := d.Run(context.Background(), testJob, []core.DocumentID{"doc"})
	require.NoError(t, err)

	assert.Equal(t, []core.ChunkMapping{
		{DocumentID: "doc", ChildID: 0, ParentID: 0, Version: "8_2"},
		{DocumentID: "doc", ChildID: 1, ParentID: 0, Version: "8_2"},
		{DocumentID: "doc", ChildID: 2, ParentID: 1, Version: "8_2"},
	}, mappings.rows())
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, 1, result.Aligned)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, 3, result.Written)
	assert.Empty(t, result.Failed)
}

func TestRun_ManyDocumentsAcrossBatches(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{}

	var ids []core.DocumentID
	for i := 0; i < 23; i++ {
		id := core.DocumentID(fmt.Sprintf("doc%02d", i))
		ids = append(ids, id)
		putDocument(t, artifacts, id, []string{"alpha", "beta"}, []string{"alpha beta"})
	}

	var progress bytes.Buffer
	d := newDriver(t, artifacts, mappings, Config{BatchSize: 5, Concurrency: 3, InsertBatchSize: 7, ReportInterval: 5},
		WithProgress(&progress))
	result, err := d.Run(context.Background(), testJob, ids)
	require.NoError(t, err)

	assert.Equal(t, 23, result.Documents)
	assert.Equal(t, 23, result.Aligned)
	assert.Equal(t, 46, result.Written)
	assert.Contains(t, progress.String(), "mapping: 23/23")

	rows := mappings.rows()
	require.Len(t, rows, 46)
	// Rows come back grouped by document in input order.
	for i, id := range ids {
		assert.Equal(t, id, rows[2*i].DocumentID)
		assert.Equal(t, 0, rows[2*i].ChildID)
		assert.Equal(t, 1, rows[2*i+1].ChildID)
	}
	for _, batch := range mappings.batches {
		assert.LessOrEqual(t, len(batch), 7)
		assert.Zero(t, len(batch)%2, "documents are never split across inserts")
	}
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	base := newArtifacts(t)
	mappings := &recordingMappings{}
	putDocument(t, base, "good", []string{"abc"}, []string{"abcdef"})
	putDocument(t, base, "panics", []string{"abc"}, []string{"abcdef"})
	// "missing" has no artifacts at all.
	ctx := context.Background()
	require.NoError(t, base.PutChunks(ctx, storage.ArtifactKey(testJob.ChildPrefix, "corrupt"),
		[]core.Chunk{{DocumentID: "corrupt", ChunkID: 5, Text: "x"}}))
	require.NoError(t, base.PutChunks(ctx, storage.ArtifactKey(testJob.ParentPrefix, "corrupt"),
		core.NewChunks("corrupt", []string{"x"})))

	artifacts := panickingArtifacts{ArtifactStore: base, key: storage.ArtifactKey(testJob.ChildPrefix, "panics")}
	d := newDriver(t, artifacts, mappings, Config{BatchSize: 10, Concurrency: 4, InsertBatchSize: 100, ReportInterval: 1})

	result, err := d.Run(ctx, testJob, []core.DocumentID{"good", "missing", "panics", "corrupt"})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Documents)
	assert.Equal(t, 1, result.Aligned)
	assert.ElementsMatch(t, []core.DocumentID{"missing", "panics", "corrupt"}, result.Failed)
	assert.Equal(t, []core.ChunkMapping{{DocumentID: "good", ChildID: 0, ParentID: 0, Version: "8_2"}}, mappings.rows())
}

func TestRun_UnmappedChildren(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{}
	putDocument(t, artifacts, "partial", []string{"abc", "zzz"}, []string{"abcdef"})
	putDocument(t, artifacts, "none", []string{"zzz"}, []string{"abcdef"})

	d := newDriver(t, artifacts, mappings, DefaultConfig())
	result, err := d.Run(context.Background(), testJob, []core.DocumentID{"partial", "none"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Aligned)
	assert.Equal(t, 2, result.Unmapped)
	assert.Equal(t, 1, result.Written)
	assert.Empty(t, result.Failed)
}

func TestRun_PersistFailureIsolated(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{failFor: "b"}
	for _, id := range []core.DocumentID{"a", "b", "c"} {
		putDocument(t, artifacts, id, []string{"abc"}, []string{"abc"})
	}

	d := newDriver(t, artifacts, mappings, Config{BatchSize: 10, Concurrency: 2, InsertBatchSize: 1, ReportInterval: 1})
	result, err := d.Run(context.Background(), testJob, []core.DocumentID{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Aligned)
	assert.Equal(t, []core.DocumentID{"b"}, result.Failed)
}

func TestRun_Cancelled(t *testing.T) {
	artifacts := newArtifacts(t)
	mappings := &recordingMappings{}
	putDocument(t, artifacts, "a", []string{"abc"}, []string{"abc"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDriver(t, artifacts, mappings, DefaultConfig())
	_, err := d.Run(ctx, testJob, []core.DocumentID{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mappings.rows())
}

func TestRun_CancelledDuringPersist(t *testing.T) {
	artifacts := newArtifacts(t)
	ids := []core.DocumentID{"a", "b", "c"}
	for _, id := range ids {
		putDocument(t, artifacts, id, []string{"abc"}, []string{"abc"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mappings := &recordingMappings{afterInsert: cancel}

	d := newDriver(t, artifacts, mappings, Config{BatchSize: 10, Concurrency: 1, InsertBatchSize: 1, ReportInterval: 1})
	result, err := d.Run(ctx, testJob, ids)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Aligned)
	assert.Equal(t, []core.DocumentID{"b", "c"}, result.Failed)
	assert.Len(t, mappings.rows(), 1)
}

func TestRun_InvalidJob(t *testing.T) {
	d := newDriver(t, newArtifacts(t), &recordingMappings{}, DefaultConfig())
	_, err := d.Run(context.Background(), Job{ChildPrefix: "c"}, nil)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestRun_WithSQLite(t *testing.T) {
	artifacts := newArtifacts(t)
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.Init(ctx, storage.Schema{MappingTable: testJob.Table}))

	putDocument(t, artifacts, "a", []string{"ABCD", "GHIJ"}, []string{"ABCDEFGH", "GHIJ"})
	putDocument(t, artifacts, "b", []string{"xyz"}, []string{"wxyz"})

	d := newDriver(t, artifacts, store, DefaultConfig())
	result, err := d.Run(ctx, testJob, []core.DocumentID{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Written)

	ids, err := store.ProcessedIDs(ctx, storage.Scope{Table: testJob.Table, Version: testJob.Version})
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.DocumentID{"a", "b"}, ids)
}

func TestInsertBatches(t *testing.T) {
	rows := func(counts ...any) []core.ChunkMapping {
		var out []core.ChunkMapping
		for i := 0; i < len(counts); i += 2 {
			for j := 0; j < counts[i+1].(int); j++ {
				out = append(out, core.ChunkMapping{DocumentID: core.DocumentID(counts[i].(string)), ChildID: j})
			}
		}
		return out
	}
	sizes := func(batches [][]core.ChunkMapping) []int {
		var out []int
		for _, b := range batches {
			out = append(out, len(b))
		}
		return out
	}

	assert.Empty(t, insertBatches(nil, 10))
	assert.Equal(t, []int{5}, sizes(insertBatches(rows("a", 2, "b", 3), 10)))
	assert.Equal(t, []int{2, 3}, sizes(insertBatches(rows("a", 2, "b", 3), 4)))
	assert.Equal(t, []int{12, 3}, sizes(insertBatches(rows("a", 12, "b", 3), 4)), "oversized document stands alone")
	assert.Equal(t, []int{2, 12, 1}, sizes(insertBatches(rows("a", 2, "b", 12, "c", 1), 4)))
	assert.Equal(t, []int{4, 4}, sizes(insertBatches(rows("a", 2, "b", 2, "c", 2, "d", 2), 4)))
}

func TestDocumentsOf(t *testing.T) {
	rows := []core.ChunkMapping{{DocumentID: "a"}, {DocumentID: "a"}, {DocumentID: "b"}}
	assert.Equal(t, []core.DocumentID{"a", "b"}, documentsOf(rows))
}
