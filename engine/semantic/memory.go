package semantic

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
)

// MemoryIndex is an in-process vector index implementing the same contract
// as Store. It backs the pipeline and retriever tests and small offline
// corpora; it is safe for concurrent use.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]Entry
	manifest  *Manifest
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

// EnsureCollection fixes the index dimension on first call and fails with
// domain.ErrSchemaMismatch on a differing later call.
func (m *MemoryIndex) EnsureCollection(_ context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = dimension
		return nil
	}
	if m.dimension != dimension {
		return fmt.Errorf("memory index has dimension %d, embedder has %d: %w",
			m.dimension, dimension, domain.ErrSchemaMismatch)
	}
	return nil
}

// WriteManifest records the collection manifest.
func (m *MemoryIndex) WriteManifest(_ context.Context, manifest Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifest = &manifest
	return nil
}

// ReadManifest returns the recorded manifest, or nil if none was written.
func (m *MemoryIndex) ReadManifest(_ context.Context) (*Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifest == nil {
		return nil, nil
	}
	cp := *m.manifest
	return &cp, nil
}

// Upsert inserts or overwrites entries by id.
func (m *MemoryIndex) Upsert(_ context.Context, entries []Entry) (*UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return &UpsertResult{Applied: len(entries)}, nil
}

// Delete removes entries by id; missing ids are ignored.
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Search scores every entry by cosine similarity and returns the topK best
// above threshold, descending, ties by ascending id.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int, threshold *float32) ([]Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Scored
	for _, e := range m.entries {
		score := cosine(vector, e.Vector)
		if threshold != nil && score < *threshold {
			continue
		}
		results = append(results, Scored{Entry: e, Score: score})
	}
	sortScored(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ListIDs returns the ids stored for one source, or all ids when sourceID
// is empty.
func (m *MemoryIndex) ListIDs(_ context.Context, sourceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, e := range m.entries {
		if sourceID != "" && e.Payload.SourceID != sourceID {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Len returns the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
