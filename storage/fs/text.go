// Package fs implements chunk artifact and raw text storage on the local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

const textSuffix = ".txt"

// TextRepository reads <document_id>.txt files from a directory.
// With a fallback, the directory acts as a cache: missing files are fetched
// from the fallback and written locally, and the document universe is the
// fallback's listing.
type TextRepository struct {
	dir      string
	fallback storage.TextRepository
	logger   *slog.Logger
}

var _ storage.TextRepository = (*TextRepository)(nil)

// TextOption configures a TextRepository.
type TextOption func(*TextRepository)

// WithFallback sets the remote text source consulted when a file is missing locally.
func WithFallback(remote storage.TextRepository) TextOption {
	return func(r *TextRepository) {
		r.fallback = remote
	}
}

// WithTextLogger sets the logger.
func WithTextLogger(logger *slog.Logger) TextOption {
	return func(r *TextRepository) {
		r.logger = logger
	}
}

// NewTextRepository creates a repository over dir.
func NewTextRepository(dir string, opts ...TextOption) *TextRepository {
	r := &TextRepository{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListDocumentIDs returns the sorted document ids. With a fallback the
// fallback's listing is authoritative; otherwise the directory is scanned.
func (r *TextRepository) ListDocumentIDs(ctx context.Context) ([]core.DocumentID, error) {
	if r.fallback != nil {
		return r.fallback.ListDocumentIDs(ctx)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", r.dir, err)
	}

	var ids []core.DocumentID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, textSuffix) || name == textSuffix {
			continue
		}
		ids = append(ids, core.DocumentID(strings.TrimSuffix(name, textSuffix)))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetText returns the text of id, fetching and caching it from the fallback
// when the local file is missing.
func (r *TextRepository) GetText(ctx context.Context, id core.DocumentID) (string, error) {
	path := filepath.Join(r.dir, string(id)+textSuffix)
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if r.fallback == nil {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}

	text, err := r.fallback.GetText(ctx, id)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(text)); err != nil {
		r.logger.Warn("failed to cache document text", "document_id", id, "error", err)
	}
	return text, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
