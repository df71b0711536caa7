// Package storage provides the storage abstraction layer for chunkmap.
//
// The pipeline touches three kinds of storage:
//
//   - TextRepository: read-only raw document text (local directory or GCS bucket)
//   - ChunkRepository and MappingRepository: relational tables that record
//     which documents are done (SQLite or PostgreSQL)
//   - ArtifactStore: per-document chunk lists keyed by "<prefix>/<document_id>.json"
//     (BadgerDB cache, local directory, or GCS bucket)
//
// Backends live in subpackages:
//
//	storage/badger    local artifact cache
//	storage/sqlite    relational store for single-machine runs
//	storage/postgres  relational store for shared runs
//	storage/gcs       remote artifacts and remote text
//	storage/fs        local artifacts and local text
//
// MirroredArtifactStore combines a local cache with a remote store so the
// mapping stage can read artifacts without a network round trip when the
// chunking stage ran on the same machine.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use; the mapping stage
// reads artifacts from many goroutines at once.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
