// Package embed provides the Gemini-backed embedder used at both ingest
// and query time. Vectors are L2-normalized client side, which the
// truncated 768-dimension output requires for cosine scores to be
// meaningful.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/pkg/fn"
	"github.com/AdmissionsAI/kai-engine/pkg/resilience"
)

const (
	// DefaultModel is the embedding model the corpus is indexed with.
	DefaultModel = "gemini-embedding-001"
	// DefaultDimension is the stored vector size.
	DefaultDimension = 768

	// batchSize caps texts per EmbedContent call.
	batchSize = 16
	// callTimeout bounds a single embedding RPC.
	callTimeout = 30 * time.Second
)

// Task types distinguish corpus-side from query-side embeddings.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// embedFunc performs one raw embedding call for a batch of texts.
type embedFunc func(ctx context.Context, texts []string, task string) ([][]float32, error)

// Client embeds text through the Gemini API. For a fixed model identifier
// the same text always produces the same vector, so chunk embeddings stay
// comparable across ingestion runs.
type Client struct {
	model   string
	dim     int32
	limiter *resilience.Limiter
	call    embedFunc
}

// New creates a Client talking to the Gemini API. Empty model or
// non-positive dimension fall back to the defaults.
func New(ctx context.Context, apiKey, model string, dimension int) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create client: %w", err)
	}

	c := newClient(model, dimension)
	c.call = func(ctx context.Context, texts []string, task string) ([][]float32, error) {
		contents := fn.Map(texts, func(t string) *genai.Content {
			return genai.NewContentFromText(t, genai.RoleUser)
		})
		resp, err := gc.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
			TaskType:             task,
			OutputDimensionality: &c.dim,
		})
		if err != nil {
			return nil, err
		}
		return fn.Map(resp.Embeddings, func(e *genai.ContentEmbedding) []float32 {
			return e.Values
		}), nil
	}
	return c, nil
}

// newClient builds a Client without a backend; tests install their own call.
func newClient(model string, dimension int) *Client {
	return &Client{
		model: model,
		dim:   int32(dimension),
		// Pace embedding traffic instead of letting bursts hit quota errors.
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 10, Burst: 5}),
	}
}

// Model returns the model identifier embeddings are produced with.
func (c *Client) Model() string { return c.model }

// Dimension returns the vector size every embedding shares.
func (c *Client) Dimension() int { return int(c.dim) }

// EmbedQuery embeds a single retrieval query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds chunk texts in input order, batching requests. Any
// batch failure fails the whole call; a silently missing chunk embedding
// would be an invisible hole in recall.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, taskDocument)
}

func (c *Client) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, batchSize) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		vecs, err := c.call(callCtx, batch, task)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embed: %s batch of %d: %w",
				task, len(batch), errors.Join(domain.ErrEmbeddingUnavailable, err))
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed: got %d vectors for %d texts: %w",
				len(vecs), len(batch), domain.ErrEmbeddingUnavailable)
		}
		for _, v := range vecs {
			if len(v) != int(c.dim) {
				return nil, fmt.Errorf("embed: got dimension %d, want %d: %w",
					len(v), c.dim, domain.ErrEmbeddingUnavailable)
			}
			out = append(out, normalize(v))
		}
	}
	return out, nil
}
