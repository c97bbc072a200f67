// Package embedding provides embedding generation and cosine-similarity
// based duplicate detection for tasks and tickets.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Cosine returns the cosine similarity of two vectors, clipped to [-1, 1].
// Zero-norm or mismatched inputs yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// BatchCosine returns the cosine similarity of query against each candidate.
func BatchCosine(query []float32, candidates [][]float32) []float64 {
	sims := make([]float64, len(candidates))
	for i, c := range candidates {
		sims[i] = Cosine(query, c)
	}
	return sims
}

// Service generates embeddings through the LLM client.
type Service struct {
	client llm.Client
}

// NewService creates an embedding service.
func NewService(client llm.Client) *Service {
	return &Service{client: client}
}

// EmbedText embeds arbitrary text.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return s.client.Embed(ctx, text)
}

// EmbedTicket embeds a ticket with weighted fields: the title counts twice,
// tags roughly one and a half times, the description once.
func (s *Service) EmbedTicket(ctx context.Context, t *models.Ticket) ([]float32, error) {
	parts := []string{t.Title, t.Title}
	if len(t.Tags) > 0 {
		parts = append(parts, strings.Join(t.Tags, " "))
		// The extra half weight repeats the first half of the tag list.
		half := t.Tags[:(len(t.Tags)+1)/2]
		parts = append(parts, strings.Join(half, " "))
	}
	parts = append(parts, t.Description)
	return s.client.Embed(ctx, strings.Join(parts, "\n"))
}

// RelatedTask pairs a task with its similarity to the query task.
type RelatedTask struct {
	TaskID     string
	Similarity float64
}

// DuplicateResult is the outcome of a duplicate check.
type DuplicateResult struct {
	// IsDuplicate is true when the best match reached the duplicate threshold.
	IsDuplicate bool
	// DuplicateOf is the best-matching task when IsDuplicate.
	DuplicateOf string
	// Similarity is the best match's similarity.
	Similarity float64
	// Related lists tasks between the related and duplicate thresholds,
	// capped at the top ten by similarity.
	Related []RelatedTask
}

// SimilarityService detects duplicate and related tasks within a phase.
type SimilarityService struct {
	db        *state.DB
	service   *Service
	dupThresh float64
	relThresh float64
}

// NewSimilarityService creates a task similarity service. Thresholds come
// from configuration: ~0.85 for duplicates, ~0.70 for related.
func NewSimilarityService(db *state.DB, service *Service, dupThresh, relThresh float64) *SimilarityService {
	return &SimilarityService{db: db, service: service, dupThresh: dupThresh, relThresh: relThresh}
}

// maxRelated caps how many related tasks are recorded.
const maxRelated = 10

// CheckDuplicate embeds the enriched text and compares it against prior
// tasks in the same phase that carry embeddings and are not failed or
// duplicated. Tasks in other phases are never duplicates. Embedding errors
// degrade to "not a duplicate" so task creation is never blocked.
func (s *SimilarityService) CheckDuplicate(ctx context.Context, enrichedText, phaseID string) ([]float32, *DuplicateResult, error) {
	vec, err := s.service.EmbedText(ctx, enrichedText)
	if err != nil {
		return nil, &DuplicateResult{}, fmt.Errorf("embed task: %w", err)
	}
	if phaseID == "" {
		return vec, &DuplicateResult{}, nil
	}

	candidates, err := s.db.ListEmbeddedTasksInPhase(phaseID)
	if err != nil {
		return vec, &DuplicateResult{}, fmt.Errorf("load phase tasks: %w", err)
	}
	if len(candidates) == 0 {
		return vec, &DuplicateResult{}, nil
	}

	type scored struct {
		id  string
		sim float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, scored{id: c.ID, sim: Cosine(vec, c.Embedding)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })

	result := &DuplicateResult{}
	if scores[0].sim >= s.dupThresh {
		result.IsDuplicate = true
		result.DuplicateOf = scores[0].id
		result.Similarity = scores[0].sim
	}

	for _, sc := range scores {
		if result.IsDuplicate && sc.id == result.DuplicateOf {
			continue
		}
		if sc.sim >= s.relThresh && sc.sim < s.dupThresh {
			result.Related = append(result.Related, RelatedTask{TaskID: sc.id, Similarity: sc.sim})
			if len(result.Related) == maxRelated {
				break
			}
		}
	}
	return vec, result, nil
}
