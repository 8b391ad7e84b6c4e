package hnsw

import (
	"fmt"
	"math"
	"testing"
)

func unit(vals ...float32) []float32 {
	var norm float64
	for _, v := range vals {
		norm += float64(v) * float64(v)
	}
	n := float32(math.Sqrt(norm))
	if n == 0 {
		return vals
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = v / n
	}
	return out
}

func TestInsertThenSearchFindsID(t *testing.T) {
	ix := New(4)
	v := unit(1, 2, 3, 4)
	if err := ix.Insert("a", v); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := ix.Search(v, 1, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected [a], got %v", results)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("expected score near 1.0, got %f", results[0].Score)
	}
}

func TestSearchLargeKReturnsEveryInsert(t *testing.T) {
	ix := New(3)
	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("n%d", i)
		ids[id] = true
		v := unit(float32(i), float32(i*2), float32(-i))
		if err := ix.Insert(id, v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	results, err := ix.Search(unit(1, 2, -1), ix.Size(), ix.Size())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != ix.Size() {
		t.Fatalf("expected %d results, got %d", ix.Size(), len(results))
	}
	for _, r := range results {
		if !ids[r.ID] {
			t.Fatalf("unexpected id in results: %s", r.ID)
		}
		delete(ids, r.ID)
	}
	if len(ids) != 0 {
		t.Fatalf("missing ids from search results: %v", ids)
	}
}

func TestBidirectionalNeighborInvariant(t *testing.T) {
	ix := New(2)
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("n%d", i)
		v := unit(float32(i%7), float32((i*3)%11))
		if err := ix.Insert(id, v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	for idA, nodeA := range ix.nodes {
		for level, set := range nodeA.neighbors {
			for idB := range set {
				nodeB, ok := ix.nodes[idB]
				if !ok {
					t.Fatalf("node %s has neighbor %s which does not exist", idA, idB)
				}
				if level >= len(nodeB.neighbors) {
					t.Fatalf("node %s has no level %d adjacency for reverse edge to %s", idB, level, idA)
				}
				if _, back := nodeB.neighbors[level][idA]; !back {
					t.Fatalf("asymmetric edge: %s -> %s at level %d has no reverse", idA, idB, level)
				}
			}
		}
	}
}

func TestEmptyIndexSearchReturnsEmptySlice(t *testing.T) {
	ix := New(4)
	results, err := ix.Search(unit(1, 0, 0, 0), 5, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestInsertWrongDimensionRejected(t *testing.T) {
	ix := New(4)
	if err := ix.Insert("a", unit(1, 2)); err == nil {
		t.Fatal("expected error for wrong dimension")
	}
}

func TestDuplicateInsertReplaces(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("a", unit(1, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Insert("a", unit(0, 1)); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if ix.Size() != 1 {
		t.Fatalf("expected size 1 after duplicate insert, got %d", ix.Size())
	}
	results, err := ix.Search(unit(0, 1), 1, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Score < 0.99 {
		t.Fatalf("expected replaced vector to match query, got %v", results)
	}
}

func TestDeleteEntryPointLeavesIndexSearchable(t *testing.T) {
	ix := New(2)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := ix.Insert(id, unit(float32(i+1), float32(10-i))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	entry := ix.entryPoint
	if err := ix.Delete(entry); err != nil {
		t.Fatalf("delete entry point: %v", err)
	}
	if ix.Size() != 9 {
		t.Fatalf("expected 9 nodes remaining, got %d", ix.Size())
	}
	if ix.entryPoint == entry {
		t.Fatal("entry point was not replaced")
	}

	results, err := ix.Search(unit(5, 5), 3, 10)
	if err != nil {
		t.Fatalf("search after delete: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected non-empty search results after deleting entry point")
	}
	for _, r := range results {
		if r.ID == entry {
			t.Fatalf("deleted node %s still returned by search", entry)
		}
	}
}

func TestDeleteRemovesAllEdges(t *testing.T) {
	ix := New(2)
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := ix.Insert(id, unit(float32(i), float32(15-i))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := ix.Delete("n5"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for id, n := range ix.nodes {
		for level, set := range n.neighbors {
			if _, ok := set["n5"]; ok {
				t.Fatalf("node %s level %d still references deleted node n5", id, level)
			}
		}
	}
}

func TestDeleteUnknownIDErrors(t *testing.T) {
	ix := New(2)
	if err := ix.Delete("missing"); err == nil {
		t.Fatal("expected error deleting unknown id")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ix := New(3)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := ix.Insert(id, unit(float32(i), float32(i*2), float32(-i))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.Size() != ix.Size() {
		t.Fatalf("expected size %d, got %d", ix.Size(), restored.Size())
	}

	q := unit(5, 10, -5)
	want, err := ix.Search(q, 5, 10)
	if err != nil {
		t.Fatalf("search original: %v", err)
	}
	got, err := restored.Search(q, 5, 10)
	if err != nil {
		t.Fatalf("search restored: %v", err)
	}
	if len(want) != len(got) {
		t.Fatalf("result count mismatch: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ID != got[i].ID {
			t.Fatalf("result %d mismatch: %s vs %s", i, want[i].ID, got[i].ID)
		}
	}
}
