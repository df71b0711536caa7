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

package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidMapping indicates a ChunkMapping failed validation.
	ErrInvalidMapping = errors.New("invalid chunk mapping")

	// ErrEmptyDocumentID indicates the DocumentID field is empty.
	ErrEmptyDocumentID = errors.New("document id cannot be empty")

	// ErrEmptyText indicates the chunk Text field is empty.
	ErrEmptyText = errors.New("chunk text cannot be empty")

	// ErrChunkOrder indicates chunk ids are not a zero-based contiguous sequence.
	ErrChunkOrder = errors.New("chunk ids out of sequence")

	// ErrNoChunks indicates a document produced no chunks.
	ErrNoChunks = errors.New("document produced no chunks")

	// ErrInvalidTier indicates an unknown Tier value.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidParams indicates chunk size and overlap do not satisfy size > overlap >= 0.
	ErrInvalidParams = errors.New("invalid chunk parameters")

	// ErrUnknownVersion indicates a version key with no configured chunk parameters.
	ErrUnknownVersion = errors.New("unknown chunk version")
)
