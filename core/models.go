package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// DocumentID is the stable external identifier of a document (e.g. an arXiv code).
type DocumentID string

// Checksum is a 64-bit content fingerprint.
type Checksum uint64

// ChecksumOf computes a deterministic fingerprint of data using BLAKE2b hashing.
// Identical content always produces identical checksums.
func ChecksumOf(data []byte) Checksum {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write(data)
	sum := h.Sum(nil)
	return Checksum(binary.LittleEndian.Uint64(sum))
}

// Tier identifies one of the two chunk granularities.
type Tier string

const (
	// TierChild is the fine-grained tier used for retrieval matching.
	TierChild Tier = "child"
	// TierParent is the coarse tier handed to the generator as context.
	TierParent Tier = "parent"
)

// ChunkParams are the splitter parameters of a tier.
type ChunkParams struct {
	Size    int
	Overlap int
}

// Version returns the canonical version key of the parameters, "<size>_<overlap>".
func (p ChunkParams) Version() string {
	return fmt.Sprintf("%d_%d", p.Size, p.Overlap)
}

// Chunk is a contiguous slice of a document's text.
// Chunks are never mutated once created; re-running the splitter supersedes them.
type Chunk struct {
	DocumentID DocumentID `json:"document_id"`
	ChunkID    int        `json:"chunk_id"`
	Text       string     `json:"text"`
}

// NewChunks numbers texts in order, producing the chunk records of one document.
func NewChunks(id DocumentID, texts []string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			DocumentID: id,
			ChunkID:    i,
			Text:       text,
		}
	}
	return chunks
}

// ChunkMapping links a child chunk to the parent chunk containing it.
// Version names the parent chunk parameters the mapping was computed against.
type ChunkMapping struct {
	DocumentID DocumentID `json:"document_id"`
	ChildID    int        `json:"child_id"`
	ParentID   int        `json:"parent_id"`
	Version    string     `json:"version"`
}

// NormalizeText flattens text onto a single line by replacing newlines with spaces.
func NormalizeText(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}
