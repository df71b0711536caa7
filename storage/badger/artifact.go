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

package badger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

const checksumSize = 8

// ArtifactRepository is a storage.ArtifactStore backed by BadgerDB.
// Values are a big-endian checksum of the payload followed by the mus-encoded chunk list.
type ArtifactRepository struct {
	backend *Backend
}

var _ storage.ArtifactStore = (*ArtifactRepository)(nil)

// NewArtifactRepository creates an artifact repository on backend.
func NewArtifactRepository(backend *Backend) *ArtifactRepository {
	return &ArtifactRepository{
		backend: backend,
	}
}

// PutChunks stores chunks under key.
func (r *ArtifactRepository) PutChunks(ctx context.Context, key string, chunks []core.Chunk) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	value := encodeValue(storage.MarshalChunks(chunks))
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeArtifactKey(key), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetChunks loads the chunks stored under key.
// Returns storage.ErrNotFound if the key is absent and storage.ErrChecksumMismatch if
// the stored bytes are corrupt.
func (r *ArtifactRepository) GetChunks(ctx context.Context, key string) ([]core.Chunk, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var chunks []core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeArtifactKey(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: artifact %s", storage.ErrNotFound, key)
			}
			return err
		}

		return item.Value(func(val []byte) error {
			payload, err := decodeValue(val)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", key, err)
			}
			chunks, err = storage.UnmarshalChunks(payload)
			return err
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteChunks removes the artifact stored under key. Deleting a missing key is not an error.
func (r *ArtifactRepository) DeleteChunks(ctx context.Context, key string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeArtifactKey(key)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Keys lists the cached artifact keys under prefix in lexical order.
func (r *ArtifactRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeArtifactKey(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, artifactKeyFrom(iter.Item().KeyCopy(nil)))
		}
		return nil
	}, false)
	return keys, err
}

func encodeValue(payload []byte) []byte {
	buf := make([]byte, checksumSize+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(core.ChecksumOf(payload)))
	copy(buf[checksumSize:], payload)
	return buf
}

func decodeValue(val []byte) ([]byte, error) {
	if len(val) < checksumSize {
		return nil, storage.ErrTruncatedData
	}
	payload := val[checksumSize:]
	if core.Checksum(binary.BigEndian.Uint64(val)) != core.ChecksumOf(payload) {
		return nil, storage.ErrChecksumMismatch
	}
	return payload, nil
}
