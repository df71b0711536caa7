// Package gcs implements chunk artifact and raw text storage on Google Cloud Storage.
//
// Set STORAGE_EMULATOR_HOST to point the client at a local emulator.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

const (
	textSuffix   = ".txt"
	writeTimeout = 2 * time.Minute
	readTimeout  = time.Minute
)

// Bucket is a GCS bucket holding chunk artifacts, raw text, or both.
type Bucket struct {
	client     *gcstorage.Client
	name       string
	textPrefix string
	ownsClient bool
	logger     *slog.Logger
}

var (
	_ storage.ArtifactStore  = (*Bucket)(nil)
	_ storage.TextRepository = (*Bucket)(nil)
)

// Option configures a Bucket.
type Option func(*Bucket)

// WithTextPrefix sets the object prefix under which <document_id>.txt files live.
func WithTextPrefix(prefix string) Option {
	return func(b *Bucket) {
		b.textPrefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bucket) {
		b.logger = logger
	}
}

// Open creates a client with read-write scope and binds it to bucket.
// Close releases the client.
func Open(ctx context.Context, bucket string, opts ...Option) (*Bucket, error) {
	client, err := gcstorage.NewClient(ctx, option.WithScopes(gcstorage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	b := New(client, bucket, opts...)
	b.ownsClient = true
	return b, nil
}

// New binds an existing client to bucket. The caller owns the client.
func New(client *gcstorage.Client, bucket string, opts ...Option) *Bucket {
	b := &Bucket{
		client: client,
		name:   bucket,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Close releases the client if Open created it.
func (b *Bucket) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

// PutChunks uploads chunks as a JSON document to key.
func (b *Bucket) PutChunks(ctx context.Context, key string, chunks []core.Chunk) error {
	data, err := storage.EncodeArtifact(chunks)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close writer %s: %w", key, err)
	}
	b.logger.Debug("gcs: artifact uploaded", "bucket", b.name, "key", key, "bytes", len(data))
	return nil
}

// GetChunks downloads and decodes the JSON chunk list at key.
func (b *Bucket) GetChunks(ctx context.Context, key string) ([]core.Chunk, error) {
	data, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return storage.DecodeArtifact(data)
}

// ListDocumentIDs lists every <document_id>.txt object under the text prefix.
func (b *Bucket) ListDocumentIDs(ctx context.Context) ([]core.DocumentID, error) {
	prefix := ""
	if b.textPrefix != "" {
		prefix = b.textPrefix + "/"
	}

	it := b.client.Bucket(b.name).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	var ids []core.DocumentID
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %s: %w", b.name, err)
		}
		if id, ok := documentIDFromObject(attrs.Name, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetText downloads the raw text of id.
func (b *Bucket) GetText(ctx context.Context, id core.DocumentID) (string, error) {
	data, err := b.read(ctx, textObjectName(b.textPrefix, id))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Bucket) read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	r, err := b.client.Bucket(b.name).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", storage.ErrNotFound, b.name, key)
		}
		return nil, fmt.Errorf("gcs: open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: read %s: %w", key, err)
	}
	return data, nil
}

// documentIDFromObject extracts the document id from an object name of the
// form <prefix><document_id>.txt. Nested paths are not documents.
func documentIDFromObject(name, prefix string) (core.DocumentID, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, textSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), textSuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return core.DocumentID(id), true
}

func textObjectName(prefix string, id core.DocumentID) string {
	if prefix == "" {
		return string(id) + textSuffix
	}
	return prefix + "/" + string(id) + textSuffix
}
