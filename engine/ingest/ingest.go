// Package ingest makes the vector index an exact, current reflection of
// the document corpus: chunk, embed, upsert, then reconcile away whatever
// the corpus no longer contains. Re-running over identical input is a
// no-op by construction, since chunk ids derive from content alone.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
	"github.com/AdmissionsAI/kai-engine/pkg/fn"
)

// Options configures a pipeline.
type Options struct {
	ChunkSize int
	Overlap   int
	// Workers bounds document-level parallelism. Documents are independent;
	// chunks within one document are embedded in batches, not in parallel.
	Workers int
	// IndexTimeout bounds each index round-trip.
	IndexTimeout time.Duration
}

// DefaultOptions returns the parameters the corpus is normally indexed
// with.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    domain.DefaultChunkSize,
		Overlap:      domain.DefaultOverlap,
		Workers:      4,
		IndexTimeout: 30 * time.Second,
	}
}

// Pipeline drives one corpus through chunking, embedding, and index
// reconciliation. A Pipeline is stateless between runs and safe to reuse.
type Pipeline struct {
	corpus Corpus
	embed  Embedder
	index  Index
	opts   Options
	log    *slog.Logger
}

// New validates the configuration and creates a Pipeline. Chunking
// parameters are checked here, before any I/O.
func New(corpus Corpus, embedder Embedder, index Index, opts Options, log *slog.Logger) (*Pipeline, error) {
	if err := domain.ValidateChunking(opts.ChunkSize, opts.Overlap); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IndexTimeout <= 0 {
		opts.IndexTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{corpus: corpus, embed: embedder, index: index, opts: opts, log: log}, nil
}

// Run ingests the whole corpus once. A returned error is fatal setup
// (collection schema, corpus enumeration); per-document failures do not
// abort the run and are collected in the Report instead.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	if err := p.index.EnsureCollection(ctx, p.embed.Dimension()); err != nil {
		return nil, err
	}

	if prev, err := p.readManifest(ctx); err != nil {
		return nil, err
	} else if prev != nil && prev.Model != p.embed.Model() {
		p.log.Warn("embedding model changed, run will overwrite all vectors",
			"previous", prev.Model, "current", p.embed.Model())
	}
	if err := p.index.WriteManifest(ctx, semantic.Manifest{
		Model:     p.embed.Model(),
		Dimension: p.embed.Dimension(),
	}); err != nil {
		return nil, err
	}

	docs, err := p.corpus.Documents(ctx)
	if err != nil {
		return nil, err
	}
	p.log.Info("ingestion run start", "documents", len(docs))

	perDoc := fn.Then(
		fn.TracedStage("ingest.chunk", p.chunkStage()),
		fn.Then(
			fn.TracedStage("ingest.embed", p.embedStage()),
			fn.TracedStage("ingest.store", p.storeStage()),
		),
	)

	results := fn.ParMapResult(docs, p.opts.Workers, func(doc domain.Document) fn.Result[*SourceReport] {
		return perDoc(ctx, doc)
	})

	report := &Report{Sources: make(map[string]*SourceReport, len(docs))}
	freshIDs := make(map[string]bool)
	var failedSources []string

	for i, r := range results {
		sourceID := docs[i].SourceID
		sr, err := r.Unwrap()
		if err != nil {
			p.log.Warn("document ingestion failed", "source", sourceID, "error", err)
			report.Sources[sourceID] = &SourceReport{SourceID: sourceID, Err: err}
			failedSources = append(failedSources, sourceID)
			continue
		}
		report.Sources[sourceID] = sr
		report.Chunks += sr.Chunks
		report.Deleted += sr.Deleted
		if sr.Unchanged {
			report.Unchanged++
		}
		for _, id := range sr.freshIDs {
			freshIDs[id] = true
		}
		if len(sr.FailedIDs) > 0 {
			failedSources = append(failedSources, sourceID)
		}
	}

	removed, err := p.reconcileRemoved(ctx, freshIDs, failedSources)
	if err != nil {
		return report, err
	}
	report.Deleted += removed

	p.log.Info("ingestion run done",
		"chunks", report.Chunks,
		"deleted", report.Deleted,
		"unchanged_sources", report.Unchanged,
		"failed_sources", len(report.Failed()),
		"duration", time.Since(start),
	)
	return report, nil
}

func (p *Pipeline) chunkStage() fn.Stage[domain.Document, chunkedDoc] {
	return func(_ context.Context, doc domain.Document) fn.Result[chunkedDoc] {
		chunks, err := Chunks(doc.Text, doc.SourceID, p.opts.ChunkSize, p.opts.Overlap)
		if err != nil {
			return fn.Err[chunkedDoc](err)
		}
		return fn.Ok(chunkedDoc{doc: doc, chunks: chunks})
	}
}

func (p *Pipeline) embedStage() fn.Stage[chunkedDoc, embeddedDoc] {
	return func(ctx context.Context, doc chunkedDoc) fn.Result[embeddedDoc] {
		if len(doc.chunks) == 0 {
			return fn.Ok(embeddedDoc{chunkedDoc: doc})
		}
		texts := fn.Map(doc.chunks, func(c domain.Chunk) string { return c.Text })
		vectors, err := p.embed.EmbedDocuments(ctx, texts)
		if err != nil {
			return fn.Err[embeddedDoc](fmt.Errorf("embed %s: %w", doc.doc.SourceID, err))
		}
		return fn.Ok(embeddedDoc{chunkedDoc: doc, vectors: vectors})
	}
}

func (p *Pipeline) storeStage() fn.Stage[embeddedDoc, *SourceReport] {
	return func(ctx context.Context, doc embeddedDoc) fn.Result[*SourceReport] {
		sourceID := doc.doc.SourceID
		sr := &SourceReport{SourceID: sourceID}

		entries := make([]semantic.Entry, len(doc.chunks))
		for i, c := range doc.chunks {
			entries[i] = semantic.Entry{
				ID:     c.ID(),
				Vector: doc.vectors[i],
				Payload: semantic.Payload{
					SourceID:   c.SourceID,
					ChunkIndex: c.Index,
					Text:       c.Text,
				},
			}
			sr.freshIDs = append(sr.freshIDs, entries[i].ID)
		}

		if len(entries) > 0 {
			upCtx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
			res, err := p.index.Upsert(upCtx, entries)
			cancel()
			if err != nil {
				return fn.Err[*SourceReport](fmt.Errorf("upsert %s: %w", sourceID, err))
			}
			sr.Chunks = res.Applied
			for _, f := range res.Failed {
				sr.FailedIDs = append(sr.FailedIDs, f.ID)
			}
			// With an incomplete fresh set, deleting by difference would
			// drop entries that only look stale. Leave reconciliation to
			// the next clean run.
			if len(sr.FailedIDs) > 0 {
				return fn.Ok(sr)
			}
		}

		listCtx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
		existing, err := p.index.ListIDs(listCtx, sourceID)
		cancel()
		if err != nil {
			return fn.Err[*SourceReport](fmt.Errorf("list ids %s: %w", sourceID, err))
		}

		fresh := make(map[string]bool, len(sr.freshIDs))
		for _, id := range sr.freshIDs {
			fresh[id] = true
		}
		var stale []string
		for _, id := range existing {
			if !fresh[id] {
				stale = append(stale, id)
			}
		}
		// No stale ids and equal counts means the stored set equals the
		// fresh set: content-derived ids make that "document unchanged".
		sr.Unchanged = len(stale) == 0 && len(existing) == len(sr.freshIDs)
		if len(stale) > 0 {
			delCtx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
			err := p.index.Delete(delCtx, stale)
			cancel()
			if err != nil {
				return fn.Err[*SourceReport](fmt.Errorf("delete stale ids %s: %w", sourceID, err))
			}
			sr.Deleted = len(stale)
		}
		return fn.Ok(sr)
	}
}

// reconcileRemoved deletes entries whose source disappeared from the corpus
// entirely. Ids belonging to failed sources are kept: their fresh set is
// unknown, so nothing of theirs can be proven stale.
func (p *Pipeline) reconcileRemoved(ctx context.Context, freshIDs map[string]bool, failedSources []string) (int, error) {
	keep := make(map[string]bool, len(freshIDs))
	for id := range freshIDs {
		keep[id] = true
	}
	for _, source := range failedSources {
		ids, err := p.index.ListIDs(ctx, source)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			keep[id] = true
		}
	}

	all, err := p.index.ListIDs(ctx, "")
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, id := range all {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := p.index.Delete(ctx, stale); err != nil {
		return 0, err
	}
	p.log.Info("removed stale sources", "deleted", len(stale))
	return len(stale), nil
}

func (p *Pipeline) readManifest(ctx context.Context) (*semantic.Manifest, error) {
	reader, ok := p.index.(interface {
		ReadManifest(ctx context.Context) (*semantic.Manifest, error)
	})
	if !ok {
		return nil, nil
	}
	return reader.ReadManifest(ctx)
}
