package semantic

// Payload is the typed record stored alongside each vector.
type Payload struct {
	SourceID   string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Entry is one (id, vector, payload) triple in the index. IDs are chunk
// content hashes (see domain.Chunk.ID) and unique within a collection.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Scored pairs an entry with its cosine similarity to a query vector.
type Scored struct {
	Entry Entry
	Score float32
}

// FailedEntry reports one entry of a partially applied upsert batch.
type FailedEntry struct {
	ID  string
	Err error
}

// UpsertResult reports a batch upsert. Entries not listed in Failed were
// committed; there is no all-or-nothing guarantee across a batch.
type UpsertResult struct {
	Applied int
	Failed  []FailedEntry
}

// Manifest records how a collection was built. The retriever refuses to
// search a collection whose model differs from its own embedder's.
type Manifest struct {
	Model     string
	Dimension int
}
