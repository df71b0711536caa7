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

package storage

import (
	"context"

	"github.com/poiesic/chunkmap/core"
)

// Scope selects the rows that count as processed in a relational table.
// Version is only meaningful for mapping tables; chunk tables ignore it.
type Scope struct {
	Table   string
	Version string
}

// Schema names the tables Init must create.
type Schema struct {
	ChunkTables  []string
	MappingTable string
}

// Repository provides the operations shared by every relational store.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Init creates the tables named by schema if they do not exist.
	Init(ctx context.Context, schema Schema) error

	// ProcessedIDs returns the distinct document ids present in scope.
	// The result is never cached; every call re-reads the store.
	ProcessedIDs(ctx context.Context, scope Scope) ([]core.DocumentID, error)

	// Close closes the store and releases resources.
	Close() error
}

// ChunkRepository stores chunk rows.
type ChunkRepository interface {
	Repository

	// InsertChunks writes chunks to table in a single transaction.
	InsertChunks(ctx context.Context, table string, chunks ...core.Chunk) error

	// DeleteDocument removes every row of document id from table.
	DeleteDocument(ctx context.Context, table string, id core.DocumentID) error
}

// MappingRepository stores child-to-parent mapping rows.
type MappingRepository interface {
	Repository

	// InsertMappings writes rows to table in a single transaction.
	InsertMappings(ctx context.Context, table string, rows ...core.ChunkMapping) error
}

// RelationalStore is implemented by backends that hold both chunk and mapping tables.
type RelationalStore interface {
	ChunkRepository
	MappingRepository
}

// TextRepository provides read access to raw document text.
type TextRepository interface {
	// ListDocumentIDs returns every document with text available.
	ListDocumentIDs(ctx context.Context) ([]core.DocumentID, error)

	// GetText returns the full text of a document.
	// Returns ErrNotFound if no text exists for id.
	GetText(ctx context.Context, id core.DocumentID) (string, error)
}

// ArtifactStore persists the ordered chunk list of a document under a key.
type ArtifactStore interface {
	// PutChunks stores chunks under key, replacing any previous value.
	PutChunks(ctx context.Context, key string, chunks []core.Chunk) error

	// GetChunks loads the chunk list stored under key.
	// Returns ErrNotFound if the key does not exist.
	GetChunks(ctx context.Context, key string) ([]core.Chunk, error)
}
