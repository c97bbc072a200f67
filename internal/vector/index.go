// Package vector provides the opaque similarity index used for tickets and
// memories. The index is advisory: callers degrade to keyword search when it
// is unavailable.
package vector

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is one k-NN search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Index is the similarity-index capability interface.
type Index interface {
	// Upsert stores or replaces a vector with its payload.
	Upsert(ctx context.Context, id string, vec []float32, payload map[string]string) error
	// Search returns up to k nearest neighbors of vec, optionally filtered
	// by exact payload matches.
	Search(ctx context.Context, vec []float32, filter map[string]string, k int) ([]Hit, error)
	// Delete removes entries by id.
	Delete(ctx context.Context, ids ...string) error
}

// ChromemIndex implements Index on an embedded chromem-go collection.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) an index. With an empty persistDir the
// index is memory-only.
func NewChromemIndex(persistDir, collection string) (*ChromemIndex, error) {
	if collection == "" {
		collection = "tickets"
	}

	var db *chromem.DB
	var err error
	if persistDir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistDir, "index.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors are always supplied by the caller; the embedding func is a
	// guard against accidental text-only adds.
	embeddingFunc := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("index requires precomputed embeddings")
	}

	col, err := db.GetOrCreateCollection(collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", collection, err)
	}

	return &ChromemIndex{db: db, collection: col}, nil
}

// Upsert stores or replaces a vector with its payload.
func (i *ChromemIndex) Upsert(ctx context.Context, id string, vec []float32, payload map[string]string) error {
	err := i.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: vec,
		Metadata:  payload,
		Content:   payload["content"],
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// Search returns up to k nearest neighbors by cosine similarity.
func (i *ChromemIndex) Search(ctx context.Context, vec []float32, filter map[string]string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	count := i.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := i.collection.QueryEmbedding(ctx, vec, k, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Score: r.Similarity, Payload: r.Metadata})
	}
	return hits, nil
}

// Delete removes entries by id.
func (i *ChromemIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := i.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from index: %w", err)
	}
	return nil
}

// Verify ChromemIndex implements Index at compile time.
var _ Index = (*ChromemIndex)(nil)
