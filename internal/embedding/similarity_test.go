package embedding

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0},
		{"mismatched length", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineClipped(t *testing.T) {
	// Accumulated float error can push the raw ratio past 1.
	a := []float32{0.1, 0.1, 0.1}
	got := Cosine(a, a)
	if got > 1 {
		t.Errorf("Cosine = %f, want <= 1", got)
	}
}

func TestBatchCosine(t *testing.T) {
	query := []float32{1, 0}
	sims := BatchCosine(query, [][]float32{{1, 0}, {0, 1}, {-1, 0}})
	want := []float64{1, 0, -1}
	for i := range sims {
		if math.Abs(sims[i]-want[i]) > 1e-9 {
			t.Errorf("sims[%d] = %f, want %f", i, sims[i], want[i])
		}
	}
}

func setupDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTask(t *testing.T, db *state.DB, id, phaseID string, vec []float32, status models.TaskStatus) {
	t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		ID:             id,
		RawDescription: id,
		Status:         status,
		Priority:       models.TaskPriorityMedium,
		PhaseID:        phaseID,
		Embedding:      vec,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
}

// fixedEmbedClient returns a fixed vector for every Embed call.
func fixedEmbedClient(vec []float32) *llm.FakeClient {
	return &llm.FakeClient{EmbedFunc: func(string) ([]float32, error) {
		return vec, nil
	}}
}

func TestCheckDuplicateWithinPhase(t *testing.T) {
	db := setupDB(t)
	client := fixedEmbedClient([]float32{1, 0, 0})
	svc := NewSimilarityService(db, NewService(client), 0.85, 0.70)

	seedTask(t, db, "task-a", "p1", []float32{0.99, 0.1, 0}, models.TaskStatusInProgress)

	_, result, err := svc.CheckDuplicate(context.Background(), "implement JWT login", "p1")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if !result.IsDuplicate || result.DuplicateOf != "task-a" {
		t.Errorf("expected duplicate of task-a, got %+v", result)
	}
	if result.Similarity < 0.85 {
		t.Errorf("similarity = %f, want >= 0.85", result.Similarity)
	}
}

func TestPhaseIsolation(t *testing.T) {
	db := setupDB(t)
	client := fixedEmbedClient([]float32{1, 0, 0})
	svc := NewSimilarityService(db, NewService(client), 0.85, 0.70)

	// Identical vector but in a different phase: never a duplicate.
	seedTask(t, db, "task-a", "p1", []float32{1, 0, 0}, models.TaskStatusInProgress)

	_, result, err := svc.CheckDuplicate(context.Background(), "same text", "p2")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if result.IsDuplicate {
		t.Errorf("cross-phase task marked duplicate: %+v", result)
	}
}

func TestFailedAndDuplicatedExcluded(t *testing.T) {
	db := setupDB(t)
	client := fixedEmbedClient([]float32{1, 0, 0})
	svc := NewSimilarityService(db, NewService(client), 0.85, 0.70)

	seedTask(t, db, "task-failed", "p1", []float32{1, 0, 0}, models.TaskStatusFailed)
	seedTask(t, db, "task-dup", "p1", []float32{1, 0, 0}, models.TaskStatusDuplicated)

	_, result, err := svc.CheckDuplicate(context.Background(), "text", "p1")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if result.IsDuplicate {
		t.Errorf("failed/duplicated tasks should not be candidates: %+v", result)
	}
}

func TestRelatedTasksRecorded(t *testing.T) {
	db := setupDB(t)
	client := fixedEmbedClient([]float32{1, 0, 0})
	svc := NewSimilarityService(db, NewService(client), 0.85, 0.70)

	// ~0.78 similarity: related but not duplicate.
	seedTask(t, db, "task-rel", "p1", []float32{0.78, 0.62, 0}, models.TaskStatusInProgress)
	// ~0.3 similarity: below related threshold.
	seedTask(t, db, "task-far", "p1", []float32{0.3, 0.95, 0}, models.TaskStatusInProgress)

	_, result, err := svc.CheckDuplicate(context.Background(), "text", "p1")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if result.IsDuplicate {
		t.Fatalf("unexpected duplicate: %+v", result)
	}
	if len(result.Related) != 1 || result.Related[0].TaskID != "task-rel" {
		t.Errorf("related = %+v", result.Related)
	}
}

func TestEmbedErrorDegrades(t *testing.T) {
	db := setupDB(t)
	client := &llm.FakeClient{EmbedFunc: func(string) ([]float32, error) {
		return nil, context.DeadlineExceeded
	}}
	svc := NewSimilarityService(db, NewService(client), 0.85, 0.70)

	_, result, err := svc.CheckDuplicate(context.Background(), "text", "p1")
	if err == nil {
		t.Fatal("expected error surfaced for logging")
	}
	if result == nil || result.IsDuplicate {
		t.Errorf("embedding failure must degrade to non-duplicate, got %+v", result)
	}
}

func TestEmbedTicketWeighting(t *testing.T) {
	var captured string
	client := &llm.FakeClient{EmbedFunc: func(text string) ([]float32, error) {
		captured = text
		return []float32{1}, nil
	}}
	svc := NewService(client)

	ticket := &models.Ticket{
		Title:       "Fix auth bug",
		Description: "JWT expiry is wrong",
		Tags:        []string{"auth", "bug"},
	}
	if _, err := svc.EmbedTicket(context.Background(), ticket); err != nil {
		t.Fatalf("EmbedTicket failed: %v", err)
	}

	// Title twice, tags plus half the tags, description once.
	wantSubstrings := []string{"Fix auth bug\nFix auth bug", "auth bug", "JWT expiry is wrong"}
	for _, sub := range wantSubstrings {
		if !strings.Contains(captured, sub) {
			t.Errorf("embedded text missing %q:\n%s", sub, captured)
		}
	}
}
