package storage

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/chunkmap/core"
)

// ArtifactKey returns the artifact key of a document's chunk list under prefix.
func ArtifactKey(prefix string, id core.DocumentID) string {
	return path.Join(prefix, string(id)+".json")
}

// MarshalChunks serializes a chunk list to the compact binary form used by the local cache.
// The encoding is a varint count followed by each chunk.
func MarshalChunks(chunks []core.Chunk) []byte {
	size := varint.Int.Size(len(chunks))
	for _, chunk := range chunks {
		size += core.ChunkMUS.Size(chunk)
	}

	buf := make([]byte, size)
	n := varint.Int.Marshal(len(chunks), buf)
	for _, chunk := range chunks {
		n += core.ChunkMUS.Marshal(chunk, buf[n:])
	}
	return buf
}

// UnmarshalChunks deserializes a chunk list produced by MarshalChunks.
func UnmarshalChunks(data []byte) ([]core.Chunk, error) {
	count, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk count: %w", ErrSerializationFailed, err)
	}
	if count < 0 || count > len(data) {
		return nil, fmt.Errorf("%w: implausible chunk count %d", ErrTruncatedData, count)
	}

	chunks := make([]core.Chunk, 0, count)
	for i := 0; i < count; i++ {
		chunk, read, err := core.ChunkMUS.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrSerializationFailed, i, err)
		}
		n += read
		chunks = append(chunks, chunk)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	return chunks, nil
}

// EncodeArtifact renders a chunk list as the JSON document shared with external consumers.
// An empty list encodes as "[]".
func EncodeArtifact(chunks []core.Chunk) ([]byte, error) {
	if chunks == nil {
		chunks = []core.Chunk{}
	}
	data, err := json.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// DecodeArtifact parses a JSON chunk list.
func DecodeArtifact(data []byte) ([]core.Chunk, error) {
	var chunks []core.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return chunks, nil
}
