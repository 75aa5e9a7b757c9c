package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
)

// fixedEmbedder returns the same query vector for every query.
type fixedEmbedder struct {
	model  string
	vector []float32
}

func (f *fixedEmbedder) Model() string { return f.model }

func (f *fixedEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.vector == nil {
		return nil, errors.New("embedder down")
	}
	return f.vector, nil
}

// admissionsIndex builds a memory index over two documents: two refund
// chunks near (1,0) and one scholarship chunk near (0,1).
func admissionsIndex(t *testing.T, model string) *semantic.MemoryIndex {
	t.Helper()
	ctx := context.Background()
	index := semantic.NewMemoryIndex()
	if err := index.EnsureCollection(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := index.WriteManifest(ctx, semantic.Manifest{Model: model, Dimension: 2}); err != nil {
		t.Fatal(err)
	}
	entries := []semantic.Entry{
		{ID: "r0", Vector: []float32{1, 0}, Payload: semantic.Payload{
			SourceID: "refund_policy.md", ChunkIndex: 0, Text: "Refunds are issued within 14 days of withdrawal."}},
		{ID: "r1", Vector: []float32{0.95, 0.05}, Payload: semantic.Payload{
			SourceID: "refund_policy.md", ChunkIndex: 1, Text: "Deposits are non-refundable after orientation."}},
		{ID: "s0", Vector: []float32{0.05, 0.95}, Payload: semantic.Payload{
			SourceID: "scholarships.md", ChunkIndex: 0, Text: "Merit scholarships cover up to half of tuition."}},
	}
	if _, err := index.Upsert(ctx, entries); err != nil {
		t.Fatal(err)
	}
	return index
}

func TestSearchRanksAndCites(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	result, err := svc.Search(context.Background(), "when do I get my refund", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) != 2 {
		t.Fatalf("got %d passages, want 2", len(result.Passages))
	}
	// Both top passages come from the refund document, so the citation
	// names it exactly once.
	if len(result.Citations) != 1 || result.Citations[0] != "refund_policy.md" {
		t.Errorf("citations = %v", result.Citations)
	}
	if got := result.Citation(); got != "Source(s): refund_policy.md" {
		t.Errorf("citation line = %q", got)
	}
	if result.Passages[0].Index != 0 || result.Passages[0].SourceID != "refund_policy.md" {
		t.Errorf("top passage = %+v", result.Passages[0])
	}
}

func TestSearchCitesSourcesInRankOrder(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	result, err := svc.Search(context.Background(), "refunds and scholarships", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"refund_policy.md", "scholarships.md"}
	if len(result.Citations) != len(want) {
		t.Fatalf("citations = %v, want %v", result.Citations, want)
	}
	for i := range want {
		if result.Citations[i] != want[i] {
			t.Errorf("citations[%d] = %q, want %q", i, result.Citations[i], want[i])
		}
	}
	if got := result.Citation(); got != "Source(s): refund_policy.md, scholarships.md" {
		t.Errorf("citation line = %q", got)
	}
}

func TestSearchThresholdYieldsEmptyResult(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	threshold := float32(0.999)
	result, err := svc.Search(context.Background(), "something unrelated", 4, &threshold)
	if err != nil {
		t.Fatalf("no matches must not be an error: %v", err)
	}
	// Only the exact-direction chunk clears 0.999.
	if len(result.Passages) != 1 {
		t.Fatalf("passages = %d", len(result.Passages))
	}

	impossible := float32(1.1)
	result, err = svc.Search(context.Background(), "something unrelated", 4, &impossible)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) != 0 || len(result.Citations) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.Citation() != "" {
		t.Errorf("empty result has citation %q", result.Citation())
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	for _, q := range []string{"", "   "} {
		_, err := svc.Search(context.Background(), q, 4, nil)
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("Search(%q) err = %v, want ErrInvalidConfig", q, err)
		}
	}
}

func TestSearchModelMismatch(t *testing.T) {
	embedder := &fixedEmbedder{model: "m2", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	_, err := svc.Search(context.Background(), "refunds", 4, nil)
	if !errors.Is(err, domain.ErrModelMismatch) {
		t.Fatalf("err = %v, want ErrModelMismatch", err)
	}
}

func TestSearchNoManifestMeansEmptyIndex(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, semantic.NewMemoryIndex(), DefaultOptions(), nil)

	result, err := svc.Search(context.Background(), "anything", 4, nil)
	if err != nil {
		t.Fatalf("never-ingested index must search empty, got %v", err)
	}
	if len(result.Passages) != 0 {
		t.Errorf("passages = %d", len(result.Passages))
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), Options{TopK: 1}, nil)

	result, err := svc.Search(context.Background(), "refunds", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) != 1 {
		t.Errorf("topK=0 used %d, want service default 1", len(result.Passages))
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1", vector: []float32{1, 0}}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	first, err := svc.Search(context.Background(), "refunds", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.Search(context.Background(), "refunds", 3, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Passages) != len(first.Passages) {
			t.Fatalf("run %d returned %d passages", i, len(again.Passages))
		}
		for j := range first.Passages {
			if again.Passages[j] != first.Passages[j] {
				t.Fatalf("run %d passage %d differs: %+v vs %+v", i, j, again.Passages[j], first.Passages[j])
			}
		}
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	embedder := &fixedEmbedder{model: "m1"}
	svc := New(embedder, admissionsIndex(t, "m1"), DefaultOptions(), nil)

	_, err := svc.Search(context.Background(), "refunds", 4, nil)
	if err == nil {
		t.Fatal("expected embedder failure to surface")
	}
}
