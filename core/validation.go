package core

import (
	"fmt"
)

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - DocumentID must not be empty
//   - ChunkID must not be negative
//   - Text must not be empty
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyDocumentID)
	}

	if chunk.ChunkID < 0 {
		return fmt.Errorf("%w: negative chunk id %d", ErrInvalidChunk, chunk.ChunkID)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}

	return nil
}

// ValidateChunks validates the full chunk list of one document.
// Every chunk must be valid, belong to id, and carry ChunkID equal to its position.
func ValidateChunks(id DocumentID, chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document %s", ErrNoChunks, id)
	}
	for i := range chunks {
		if err := ValidateChunk(&chunks[i]); err != nil {
			return err
		}
		if chunks[i].DocumentID != id {
			return fmt.Errorf("%w: chunk %d belongs to %s, not %s",
				ErrInvalidChunk, i, chunks[i].DocumentID, id)
		}
		if chunks[i].ChunkID != i {
			return fmt.Errorf("%w: position %d has chunk id %d", ErrChunkOrder, i, chunks[i].ChunkID)
		}
	}
	return nil
}

// ValidateMapping validates a ChunkMapping according to domain rules.
func ValidateMapping(mapping *ChunkMapping) error {
	if mapping == nil {
		return fmt.Errorf("%w: mapping is nil", ErrInvalidMapping)
	}
	if mapping.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMapping, ErrEmptyDocumentID)
	}
	if mapping.ChildID < 0 || mapping.ParentID < 0 {
		return fmt.Errorf("%w: negative chunk id", ErrInvalidMapping)
	}
	if mapping.Version == "" {
		return fmt.Errorf("%w: version is empty", ErrInvalidMapping)
	}
	return nil
}

// ValidateTier validates that a Tier has a known value.
func ValidateTier(tier Tier) error {
	if tier != TierChild && tier != TierParent {
		return fmt.Errorf("%w: value %q", ErrInvalidTier, tier)
	}
	return nil
}

// ValidateParams checks that size > overlap >= 0.
func ValidateParams(params ChunkParams) error {
	if params.Size <= 0 || params.Overlap < 0 || params.Overlap >= params.Size {
		return fmt.Errorf("%w: size %d, overlap %d", ErrInvalidParams, params.Size, params.Overlap)
	}
	return nil
}
