package ingestion

import (
	"context"
	"fmt"
	"sort"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

// Reconciler computes which documents still need processing for a table.
// It holds no state; every call re-reads the text repository and the store.
type Reconciler struct {
	texts storage.TextRepository
	store storage.Repository
}

// NewReconciler creates a reconciler over texts and store.
func NewReconciler(texts storage.TextRepository, store storage.Repository) *Reconciler {
	return &Reconciler{
		texts: texts,
		store: store,
	}
}

// Pending returns the sorted ids that have raw text but no rows in scope.
func (r *Reconciler) Pending(ctx context.Context, scope storage.Scope) ([]core.DocumentID, error) {
	universe, err := r.texts.ListDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	processed, err := r.store.ProcessedIDs(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("processed ids of %s: %w", scope.Table, err)
	}
	return Difference(universe, processed), nil
}

// Difference returns the sorted, de-duplicated ids of universe not in processed.
func Difference(universe, processed []core.DocumentID) []core.DocumentID {
	done := toSet(processed)
	seen := make(map[core.DocumentID]struct{}, len(universe))
	out := make([]core.DocumentID, 0, len(universe))
	for _, id := range universe {
		if _, ok := done[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toSet(ids []core.DocumentID) map[core.DocumentID]struct{} {
	set := make(map[core.DocumentID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
