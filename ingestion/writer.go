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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/telemetry"
)

// Target is where one tier's chunks are written.
type Target struct {
	Tier   core.Tier
	Table  string
	Prefix string
}

// Writer persists a document's chunks to the relational store and the artifact store.
type Writer struct {
	chunks       storage.ChunkRepository
	artifacts    storage.ArtifactStore
	reclaimEvery int
	written      int
	logger       *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer) error

// WithWriterLogger sets the logger.
// Default is slog.Default().
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// WithReclaimEvery forces memory reclamation after every n written documents.
// Zero disables it. Default is 1.
func WithReclaimEvery(n int) WriterOption {
	return func(w *Writer) error {
		if n < 0 {
			return fmt.Errorf("reclaim interval must not be negative, got %d", n)
		}
		w.reclaimEvery = n
		return nil
	}
}

// NewWriter creates a writer.
func NewWriter(chunks storage.ChunkRepository, artifacts storage.ArtifactStore, opts ...WriterOption) (*Writer, error) {
	if chunks == nil {
		return nil, ErrRelationalStoreRequired
	}
	if artifacts == nil {
		return nil, ErrArtifactStoreRequired
	}
	w := &Writer{
		chunks:       chunks,
		artifacts:    artifacts,
		reclaimEvery: 1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Write numbers texts as the chunks of id, inserts them into target.Table and
// stores the chunk list under the artifact key of id in target.Prefix.
//
// The document only counts as processed once both writes succeed. If the
// artifact write fails the inserted rows are deleted, so the document stays
// pending. Writer is not safe for concurrent use.
func (w *Writer) Write(ctx context.Context, target Target, id core.DocumentID, texts []string) error {
	chunks := core.NewChunks(id, texts)
	if err := core.ValidateChunks(id, chunks); err != nil {
		return err
	}

	if err := w.chunks.InsertChunks(ctx, target.Table, chunks...); err != nil {
		return fmt.Errorf("insert %s chunks of %s: %w", target.Tier, id, err)
	}

	key := storage.ArtifactKey(target.Prefix, id)
	if err := w.artifacts.PutChunks(ctx, key, chunks); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrArtifactWrite, key, err)
		if delErr := w.chunks.DeleteDocument(context.WithoutCancel(ctx), target.Table, id); delErr != nil {
			// The rows stay behind, so the document now looks processed without an artifact.
			w.logger.Error("failed to remove rows after artifact failure",
				"document_id", id, "table", target.Table, "error", delErr)
			err = errors.Join(err, delErr)
		}
		return err
	}

	w.logger.Debug("document written", "document_id", id, "tier", target.Tier, "chunks", len(chunks))

	w.written++
	if w.reclaimEvery > 0 && w.written%w.reclaimEvery == 0 {
		telemetry.Reclaim()
	}
	return nil
}
