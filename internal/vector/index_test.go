package vector

import (
	"context"
	"testing"
)

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex("", "test")
	if err != nil {
		t.Fatalf("NewChromemIndex() error = %v", err)
	}
	return idx
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, nil, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits != nil {
		t.Errorf("Search() on empty index = %v, want nil", hits)
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	vectors := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0, 0, 1},
	}
	for id, vec := range vectors {
		payload := map[string]string{"workflow_id": "wf-1", "content": id}
		if err := idx.Upsert(ctx, id, vec, payload); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	hits, err := idx.Search(ctx, []float32{0.95, 0.05, 0}, nil, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Search() returned %d hits, want 1", len(hits))
	}
	if hits[0].ID != "a" {
		t.Errorf("nearest = %q, want %q", hits[0].ID, "a")
	}
	if hits[0].Payload["workflow_id"] != "wf-1" {
		t.Errorf("payload workflow_id = %q, want %q", hits[0].Payload["workflow_id"], "wf-1")
	}
}

func TestSearchPayloadFilter(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if err := idx.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"workflow_id": "wf-1"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "b", []float32{1, 0, 0}, map[string]string{"workflow_id": "wf-2"}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, map[string]string{"workflow_id": "wf-2"}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Errorf("filtered search = %v, want single hit %q", hits, "b")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if err := idx.Upsert(ctx, "a", []float32{1, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, nil, 5)
	if err != nil {
		t.Fatalf("Search() after delete error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Search() after delete = %v, want empty", hits)
	}

	// Deleting nothing is a no-op.
	if err := idx.Delete(ctx); err != nil {
		t.Errorf("Delete() with no ids = %v, want nil", err)
	}
}
