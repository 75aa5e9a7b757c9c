package semantic

import (
	"testing"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

func TestPointRoundTrip(t *testing.T) {
	entry := Entry{
		ID:     "c6a8f1f2-0000-5000-8000-000000000001",
		Vector: []float32{0.1, 0.2, 0.3},
		Payload: Payload{
			SourceID:   "refund_policy.md",
			ChunkIndex: 2,
			Text:       "Refunds are issued within 14 days.",
		},
	}

	p := toPoint(entry)
	if p.GetId().GetUuid() != entry.ID {
		t.Errorf("point id = %q", p.GetId().GetUuid())
	}
	data := p.GetVectors().GetVector().GetData()
	if len(data) != 3 || data[1] != 0.2 {
		t.Errorf("point vector = %v", data)
	}

	scored := fromScoredPoint(&pb.ScoredPoint{
		Id:      p.Id,
		Payload: p.Payload,
		Score:   0.87,
	})
	if scored.Score != 0.87 {
		t.Errorf("score = %f", scored.Score)
	}
	if scored.Entry.ID != entry.ID {
		t.Errorf("id = %q", scored.Entry.ID)
	}
	if scored.Entry.Payload != entry.Payload {
		t.Errorf("payload = %+v, want %+v", scored.Entry.Payload, entry.Payload)
	}
}

func TestSortScoredDeterministic(t *testing.T) {
	results := []Scored{
		{Entry: Entry{ID: "c"}, Score: 0.5},
		{Entry: Entry{ID: "a"}, Score: 0.9},
		{Entry: Entry{ID: "b"}, Score: 0.5},
		{Entry: Entry{ID: "d"}, Score: 0.7},
	}
	sortScored(results)

	want := []string{"a", "d", "b", "c"}
	for i, id := range want {
		if results[i].Entry.ID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Entry.ID, id)
		}
	}
}

func TestFieldMatchCondition(t *testing.T) {
	cond := fieldMatch(fieldSource, "a.md")
	field := cond.GetField()
	if field.GetKey() != fieldSource {
		t.Errorf("key = %q", field.GetKey())
	}
	if field.GetMatch().GetKeyword() != "a.md" {
		t.Errorf("keyword = %q", field.GetMatch().GetKeyword())
	}
}

func TestManifestIDIsStable(t *testing.T) {
	if len(manifestID) != 36 {
		t.Fatalf("manifest id %q is not a canonical uuid", manifestID)
	}
	if uuid.NewSHA1(uuid.NameSpaceURL, []byte("kai:manifest:v1")).String() != manifestID {
		t.Fatal("manifest id no longer derives from the fixed name")
	}
}
