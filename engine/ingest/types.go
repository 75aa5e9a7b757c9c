package ingest

import (
	"context"
	"sort"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
)

// Embedder supplies corpus-side embeddings for chunk texts, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Index is the slice of the vector store the pipeline writes. Both
// semantic.Store and semantic.MemoryIndex satisfy it.
type Index interface {
	EnsureCollection(ctx context.Context, dimension int) error
	WriteManifest(ctx context.Context, m semantic.Manifest) error
	Upsert(ctx context.Context, entries []semantic.Entry) (*semantic.UpsertResult, error)
	Delete(ctx context.Context, ids []string) error
	ListIDs(ctx context.Context, sourceID string) ([]string, error)
}

// chunkedDoc is a document split into chunks.
type chunkedDoc struct {
	doc    domain.Document
	chunks []domain.Chunk
}

// embeddedDoc is a chunked document with one vector per chunk.
type embeddedDoc struct {
	chunkedDoc
	vectors [][]float32
}

// SourceReport is the per-document outcome of a run.
type SourceReport struct {
	SourceID string
	Chunks   int
	Deleted  int
	// Unchanged reports that the document's chunk-id set already matched
	// the index, so the run re-upserted identical content and deleted
	// nothing for this source.
	Unchanged bool
	// FailedIDs lists entries the index reported back as not applied.
	FailedIDs []string
	Err       error

	// freshIDs is the chunk-id set this run derived for the source;
	// reconciliation deletes whatever the index holds beyond it.
	freshIDs []string
}

// Report summarizes one ingestion run.
type Report struct {
	Chunks  int
	Deleted int
	// Unchanged counts sources whose stored id set did not change.
	Unchanged int
	Sources   map[string]*SourceReport
}

// Ok reports whether every document was ingested cleanly.
func (r *Report) Ok() bool {
	for _, s := range r.Sources {
		if s.Err != nil || len(s.FailedIDs) > 0 {
			return false
		}
	}
	return true
}

// Failed returns the source ids that did not ingest cleanly, sorted.
func (r *Report) Failed() []string {
	var out []string
	for id, s := range r.Sources {
		if s.Err != nil || len(s.FailedIDs) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
