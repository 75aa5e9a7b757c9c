// Package domain defines the core types, identities, and error taxonomy of
// the KAI retrieval engine. It is the validation gate at the entry points of
// the ingestion and retrieval pipelines.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Default chunking parameters, in runes. The corpus was indexed with these
// values; changing them invalidates every stored chunk id and requires a
// full re-ingest.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 120
)

// Document is a named unit of source text. SourceID is the stable corpus
// name (in practice a file name such as "refund_policy.md"); documents are
// immutable once ingested except through re-ingestion.
type Document struct {
	SourceID string `json:"source_id"`
	Text     string `json:"text"`
}

// Chunk is a contiguous slice of a document's text, the unit of embedding
// and retrieval.
type Chunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"chunk_index"`
	Text     string `json:"text"`
}

// chunkIDScheme versions the id derivation. Bump when the hash input
// changes shape so old and new ids can never collide silently.
const chunkIDScheme = "kai:chunk:v1"

// ID returns the chunk's stable identity: a v5 UUID over
// (scheme, source_id, chunk_index, text). The vector index requires UUID
// point ids, so the content hash is expressed as one. The id depends only
// on the chunk's own content and position, never on ingestion order or
// time, which makes upserts idempotent across runs.
func (c Chunk) ID() string {
	name := fmt.Sprintf("%s|%s|%d|%s", chunkIDScheme, c.SourceID, c.Index, c.Text)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
