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

package mapping

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chunkmap/align"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/telemetry"
)

// Config tunes batching and concurrency.
type Config struct {
	// BatchSize is the number of documents aligned per batch.
	BatchSize int
	// Concurrency is the maximum number of documents aligned at once.
	Concurrency int
	// InsertBatchSize bounds the rows written by one bulk insert.
	InsertBatchSize int
	// ReportInterval is how many documents pass between progress lines.
	ReportInterval int
}

// DefaultConfig returns batches of 100 documents, 20 workers and inserts of 10000 rows.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		Concurrency:     20,
		InsertBatchSize: 10000,
		ReportInterval:  10,
	}
}

// Validate checks that every size is positive.
func (c Config) Validate() error {
	if c.BatchSize <= 0 || c.Concurrency <= 0 || c.InsertBatchSize <= 0 || c.ReportInterval <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidConfig, c)
	}
	return nil
}

// Job names the artifacts to align and where the rows go.
type Job struct {
	// ChildPrefix and ParentPrefix are the artifact key prefixes of the two tiers.
	ChildPrefix  string
	ParentPrefix string
	// Version tags every row; it names the parent chunk parameters.
	Version string
	// Table is the mapping table.
	Table string
}

// Validate checks that every field of the job is set.
func (j Job) Validate() error {
	if j.ChildPrefix == "" || j.ParentPrefix == "" || j.Version == "" || j.Table == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidJob, j)
	}
	return nil
}

// Result summarizes a mapping run.
type Result struct {
	// Documents is the number of documents attempted.
	Documents int
	// Aligned is the number of documents that produced at least one row.
	Aligned int
	// Failed lists documents whose alignment or persistence failed.
	Failed []core.DocumentID
	// Unmapped counts child chunks that matched no parent.
	Unmapped int
	// Rows is the number of mapping rows produced.
	Rows int
	// Written is the number of mapping rows persisted.
	Written int
	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// Driver aligns documents concurrently and persists the mappings.
type Driver struct {
	artifacts storage.ArtifactStore
	mappings  storage.MappingRepository
	cfg       Config
	pool      *ants.Pool
	progress  io.Writer
	logger    *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// WithProgress writes a progress line to w as documents complete.
func WithProgress(w io.Writer) Option {
	return func(d *Driver) error {
		d.progress = w
		return nil
	}
}

// antsLoggerAdapter adapts slog.Logger to the ants.Logger interface.
type antsLoggerAdapter struct {
	logger *slog.Logger
}

func (a antsLoggerAdapter) Printf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

// NewDriver creates a driver that reads artifacts from artifacts and writes
// rows to mappings.
func NewDriver(artifacts storage.ArtifactStore, mappings storage.MappingRepository, cfg Config, opts ...Option) (*Driver, error) {
	if artifacts == nil {
		return nil, ErrArtifactStoreRequired
	}
	if mappings == nil {
		return nil, ErrMappingRepositoryRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		artifacts: artifacts,
		mappings:  mappings,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(cfg.Concurrency, ants.WithLogger(antsLoggerAdapter{logger: d.logger}))
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Release releases the worker pool.
// The driver should not be used after calling Release.
func (d *Driver) Release() {
	if d.pool != nil {
		d.pool.Release()
	}
}

// Run aligns ids and persists the resulting rows.
// Per-document failures are recorded in the Result and never abort the run.
// The returned error is non-nil only for an invalid job or a cancelled context.
// Cancellation during alignment persists nothing. Cancellation during
// persistence keeps the batches already written and lists the rest in Failed.
func (d *Driver) Run(ctx context.Context, job Job, ids []core.DocumentID) (Result, error) {
	start := time.Now()
	rows, result, err := d.Align(ctx, job, ids)
	if err != nil {
		result.Elapsed = time.Since(start)
		return result, err
	}

	written, failed := d.Persist(ctx, job, rows)
	result.Written = written
	result.Failed = append(result.Failed, failed...)
	result.Aligned -= len(failed)
	result.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil && len(failed) > 0 {
		d.logger.Warn("mapping run interrupted",
			"version", job.Version,
			"rows_written", result.Written,
			"documents_pending", len(failed))
		return result, err
	}

	d.logger.Info("mapping run complete",
		"version", job.Version,
		"documents", result.Documents,
		"aligned", result.Aligned,
		"failed", len(result.Failed),
		"unmapped_children", result.Unmapped,
		"rows_written", result.Written,
		"elapsed", result.Elapsed)
	return result, nil
}

// documentResult is the outcome of one alignment task.
type documentResult struct {
	rows     []core.ChunkMapping
	unmapped int
	err      error
}

// Align aligns ids in batches and returns the rows grouped by document in input order.
func (d *Driver) Align(ctx context.Context, job Job, ids []core.DocumentID) ([]core.ChunkMapping, Result, error) {
	var result Result
	if err := job.Validate(); err != nil {
		return nil, result, err
	}

	var tracker *telemetry.ProgressTracker
	if d.progress != nil {
		tracker = telemetry.NewProgressTracker(d.progress, "mapping", len(ids), d.cfg.ReportInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	var rows []core.ChunkMapping
	for start := 0; start < len(ids); start += d.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return rows, result, err
		}

		end := min(start+d.cfg.BatchSize, len(ids))
		batch := ids[start:end]
		results := d.alignBatch(ctx, job, batch)

		for i, res := range results {
			result.Documents++
			if res.err != nil {
				d.logger.Error("failed to align document", "document_id", batch[i], "error", res.err)
				result.Failed = append(result.Failed, batch[i])
				continue
			}
			if len(res.rows) == 0 {
				d.logger.Warn("document has no mapped children", "document_id", batch[i])
				result.Unmapped += res.unmapped
				continue
			}
			result.Aligned++
			result.Unmapped += res.unmapped
			rows = append(rows, res.rows...)
		}
		if tracker != nil {
			tracker.Increment(len(batch))
		}

		telemetry.Reclaim()
		telemetry.LogMemory(d.logger, "mapping batch complete",
			"batch", start/d.cfg.BatchSize+1,
			"processed", end,
			"total", len(ids),
			"rows", len(rows))
	}

	result.Rows = len(rows)
	return rows, result, nil
}

// alignBatch runs one task per document on the pool and waits for all of them.
// Each task writes only its own slot, so no locking is needed.
func (d *Driver) alignBatch(ctx context.Context, job Job, batch []core.DocumentID) []documentResult {
	results := make([]documentResult, len(batch))
	var wg sync.WaitGroup

	for i, id := range batch {
		wg.Add(1)
		err := d.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = documentResult{err: fmt.Errorf("%w: %s: panic: %v", ErrAlignmentFailed, id, r)}
				}
			}()
			rows, unmapped, err := AlignDocument(ctx, d.artifacts, job, id)
			results[i] = documentResult{rows: rows, unmapped: unmapped, err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = documentResult{err: fmt.Errorf("%w: %s: submit: %w", ErrAlignmentFailed, id, err)}
		}
	}

	wg.Wait()
	return results
}

// AlignDocument loads the child and parent artifacts of id and maps every child
// that overlaps a parent. unmapped is the number of children left out.
func AlignDocument(ctx context.Context, artifacts storage.ArtifactStore, job Job, id core.DocumentID) (rows []core.ChunkMapping, unmapped int, err error) {
	children, err := loadChunks(ctx, artifacts, job.ChildPrefix, id)
	if err != nil {
		return nil, 0, err
	}
	parents, err := loadChunks(ctx, artifacts, job.ParentPrefix, id)
	if err != nil {
		return nil, 0, err
	}

	matches := align.Align(children, parents)
	rows = make([]core.ChunkMapping, len(matches))
	for i, m := range matches {
		rows[i] = core.ChunkMapping{
			DocumentID: id,
			ChildID:    m.ChildID,
			ParentID:   m.ParentID,
			Version:    job.Version,
		}
	}
	return rows, len(children) - len(matches), nil
}

func loadChunks(ctx context.Context, artifacts storage.ArtifactStore, prefix string, id core.DocumentID) ([]core.Chunk, error) {
	key := storage.ArtifactKey(prefix, id)
	chunks, err := artifacts.GetChunks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: load %s: %w", ErrAlignmentFailed, id, key, err)
	}
	if err := core.ValidateChunks(id, chunks); err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %w", ErrAlignmentFailed, id, key, err)
	}
	return chunks, nil
}

// Persist writes rows in sub-batches of at most InsertBatchSize rows without
// splitting a document across sub-batches. A failed sub-batch is logged and its
// documents are returned in failed; the remaining sub-batches are still written.
func (d *Driver) Persist(ctx context.Context, job Job, rows []core.ChunkMapping) (written int, failed []core.DocumentID) {
	for _, batch := range insertBatches(rows, d.cfg.InsertBatchSize) {
		if err := ctx.Err(); err != nil {
			failed = append(failed, documentsOf(batch)...)
			continue
		}
		if err := d.mappings.InsertMappings(ctx, job.Table, batch...); err != nil {
			docs := documentsOf(batch)
			d.logger.Error("failed to write mapping batch",
				"table", job.Table, "rows", len(batch), "documents", len(docs), "error", err)
			failed = append(failed, docs...)
			continue
		}
		written += len(batch)
		d.logger.Debug("mapping batch written", "table", job.Table, "rows", len(batch), "written", written)
	}
	return written, failed
}

// insertBatches cuts rows, which are grouped by document, into slices of at
// most size rows. A document with more than size rows gets a slice of its own.
func insertBatches(rows []core.ChunkMapping, size int) [][]core.ChunkMapping {
	var batches [][]core.ChunkMapping
	start := 0
	for start < len(rows) {
		end := start
		for end < len(rows) {
			docEnd := end + 1
			for docEnd < len(rows) && rows[docEnd].DocumentID == rows[end].DocumentID {
				docEnd++
			}
			if docEnd-start > size && end > start {
				break
			}
			end = docEnd
		}
		batches = append(batches, rows[start:end])
		start = end
	}
	return batches
}

func documentsOf(rows []core.ChunkMapping) []core.DocumentID {
	var docs []core.DocumentID
	for i, row := range rows {
		if i == 0 || row.DocumentID != rows[i-1].DocumentID {
			docs = append(docs, row.DocumentID)
		}
	}
	return docs
}
