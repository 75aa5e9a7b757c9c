// Package rag answers natural-language questions with ranked passages
// retrieved from the vector index, each answer carrying a citation line
// naming the source documents the passages came from.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
	"github.com/AdmissionsAI/kai-engine/pkg/fn"
)

// QueryEmbedder turns a query string into a vector comparable with the
// corpus vectors.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, threshold *float32) ([]semantic.Scored, error)
	ReadManifest(ctx context.Context) (*semantic.Manifest, error)
}

// Options configures a retrieval service.
type Options struct {
	// TopK is the default number of passages when the caller passes 0.
	TopK int
	// ScoreThreshold, when set, drops passages scoring below it.
	ScoreThreshold *float32
	// SearchTimeout bounds one index search round-trip.
	SearchTimeout time.Duration
}

// DefaultOptions returns the retrieval defaults.
func DefaultOptions() Options {
	return Options{TopK: 4, SearchTimeout: 5 * time.Second}
}

// Passage is one retrieved chunk, ranked by similarity to the query.
type Passage struct {
	SourceID string  `json:"source"`
	Index    int     `json:"chunk_index"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// Result is a complete retrieval answer. Citations lists the distinct
// source documents in rank order of their best passage.
type Result struct {
	Query     string    `json:"query"`
	Passages  []Passage `json:"passages"`
	Citations []string  `json:"citations"`
}

// Citation renders the attribution line for the result, or "" when
// nothing was retrieved.
func (r *Result) Citation() string {
	if len(r.Citations) == 0 {
		return ""
	}
	return "Source(s): " + strings.Join(r.Citations, ", ")
}

// Service retrieves passages for queries. It refuses to search an index
// built with a different embedding model than its own.
type Service struct {
	embed QueryEmbedder
	index Searcher
	opts  Options
	log   *slog.Logger
}

// New creates a retrieval service.
func New(embed QueryEmbedder, index Searcher, opts Options, log *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{embed: embed, index: index, opts: opts, log: log}
}

// Search embeds the query and returns the topK most similar passages with
// their citations. topK <= 0 falls back to the service default; threshold
// nil falls back to the service threshold. Zero matching passages is a
// valid, empty Result, not an error.
func (s *Service) Search(ctx context.Context, query string, topK int, threshold *float32) (*Result, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	if threshold == nil {
		threshold = s.opts.ScoreThreshold
	}

	if err := s.checkManifest(ctx); err != nil {
		return nil, err
	}

	vector, err := s.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	scored, err := s.index.Search(searchCtx, vector, topK, threshold)
	if err != nil {
		return nil, err
	}

	result := &Result{Query: query}
	for _, sc := range scored {
		result.Passages = append(result.Passages, Passage{
			SourceID: sc.Entry.Payload.SourceID,
			Index:    sc.Entry.Payload.ChunkIndex,
			Text:     sc.Entry.Payload.Text,
			Score:    sc.Score,
		})
	}
	result.Citations = fn.Unique(fn.Map(result.Passages, func(p Passage) string {
		return p.SourceID
	}))

	s.log.Debug("retrieval done",
		"query_len", len(query),
		"top_k", topK,
		"passages", len(result.Passages),
		"citations", len(result.Citations),
	)
	return result, nil
}

// checkManifest compares the collection's recorded model against the
// service's embedder. An index with no manifest (never ingested) is
// treated as empty rather than mismatched.
func (s *Service) checkManifest(ctx context.Context) error {
	manifest, err := s.index.ReadManifest(ctx)
	if err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}
	if manifest.Model != s.embed.Model() {
		return fmt.Errorf("collection built with model %q, retriever uses %q: %w",
			manifest.Model, s.embed.Model(), domain.ErrModelMismatch)
	}
	return nil
}
