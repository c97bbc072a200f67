package state

import (
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func newTestTask(id string) *models.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Task{
		ID:             id,
		RawDescription: "add login endpoint",
		DoneCriterion:  "endpoint returns 200 on valid creds",
		Status:         models.TaskStatusPending,
		Priority:       models.TaskPriorityMedium,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	db := setupTestDB(t)

	task := newTestTask("task-001")
	task.Embedding = []float32{0.1, 0.2, 0.3}
	task.RelatedTaskIDs = []string{"task-900"}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := db.GetTask("task-001")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil")
	}
	if got.RawDescription != task.RawDescription || got.Status != task.Status {
		t.Errorf("task mismatch: got %+v", got)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(got.Embedding))
	}
	if len(got.RelatedTaskIDs) != 1 || got.RelatedTaskIDs[0] != "task-900" {
		t.Errorf("related tasks = %v", got.RelatedTaskIDs)
	}

	missing, err := db.GetTask("nonexistent")
	if err != nil {
		t.Fatalf("GetTask for missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing task, got %+v", missing)
	}
}

func TestUpdateTask(t *testing.T) {
	db := setupTestDB(t)

	task := newTestTask("task-upd")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	task.Status = models.TaskStatusAssigned
	task.AssignedAgentID = "agent-1"
	task.EnrichedDescription = "enriched"
	task.UpdatedAt = time.Now().UTC()
	if err := db.UpdateTask(task); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, _ := db.GetTask("task-upd")
	if got.Status != models.TaskStatusAssigned || got.AssignedAgentID != "agent-1" {
		t.Errorf("update not persisted: %+v", got)
	}

	ghost := newTestTask("ghost")
	if err := db.UpdateTask(ghost); err == nil {
		t.Error("expected error updating missing task")
	}
}

func TestListQueuedTasksOrdering(t *testing.T) {
	db := setupTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	mk := func(id string, prio models.TaskPriority, boosted bool, offset time.Duration) {
		task := newTestTask(id)
		task.Status = models.TaskStatusQueued
		task.Priority = prio
		task.PriorityBoosted = boosted
		qa := base.Add(offset)
		task.QueuedAt = &qa
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	mk("t-low", models.TaskPriorityLow, false, 0)
	mk("t-high", models.TaskPriorityHigh, false, time.Minute)
	mk("t-med-old", models.TaskPriorityMedium, false, 2*time.Minute)
	mk("t-med-new", models.TaskPriorityMedium, false, 3*time.Minute)
	mk("t-boosted-low", models.TaskPriorityLow, true, 4*time.Minute)

	tasks, err := db.ListQueuedTasks()
	if err != nil {
		t.Fatalf("ListQueuedTasks failed: %v", err)
	}

	want := []string{"t-boosted-low", "t-high", "t-med-old", "t-med-new", "t-low"}
	if len(tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(tasks), len(want))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestListEmbeddedTasksInPhase(t *testing.T) {
	db := setupTestDB(t)

	embedded := newTestTask("t-embedded")
	embedded.PhaseID = "phase-1"
	embedded.Embedding = []float32{1, 0}
	db.CreateTask(embedded)

	noVec := newTestTask("t-novec")
	noVec.PhaseID = "phase-1"
	db.CreateTask(noVec)

	dup := newTestTask("t-dup")
	dup.PhaseID = "phase-1"
	dup.Embedding = []float32{0, 1}
	dup.Status = models.TaskStatusDuplicated
	db.CreateTask(dup)

	other := newTestTask("t-other-phase")
	other.PhaseID = "phase-2"
	other.Embedding = []float32{1, 1}
	db.CreateTask(other)

	tasks, err := db.ListEmbeddedTasksInPhase("phase-1")
	if err != nil {
		t.Fatalf("ListEmbeddedTasksInPhase failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-embedded" {
		t.Errorf("unexpected candidates: %v", taskIDs(tasks))
	}
}

func TestSetQueuePositions(t *testing.T) {
	db := setupTestDB(t)

	for _, id := range []string{"q1", "q2"} {
		task := newTestTask(id)
		task.Status = models.TaskStatusQueued
		now := time.Now().UTC()
		task.QueuedAt = &now
		db.CreateTask(task)
	}

	if err := db.SetQueuePositions(map[string]int{"q1": 2, "q2": 1}); err != nil {
		t.Fatalf("SetQueuePositions failed: %v", err)
	}

	q1, _ := db.GetTask("q1")
	q2, _ := db.GetTask("q2")
	if q1.QueuePosition == nil || *q1.QueuePosition != 2 {
		t.Errorf("q1 position = %v, want 2", q1.QueuePosition)
	}
	if q2.QueuePosition == nil || *q2.QueuePosition != 1 {
		t.Errorf("q2 position = %v, want 1", q2.QueuePosition)
	}
}

func TestCountActiveTasks(t *testing.T) {
	db := setupTestDB(t)

	active := newTestTask("t-active")
	active.WorkflowID = "wf-1"
	active.Status = models.TaskStatusInProgress
	active.AssignedAgentID = "agent-1"
	db.CreateTask(active)

	queued := newTestTask("t-queued")
	queued.WorkflowID = "wf-1"
	queued.Status = models.TaskStatusQueued
	db.CreateTask(queued)

	n, err := db.CountActiveTasks("wf-1")
	if err != nil {
		t.Fatalf("CountActiveTasks failed: %v", err)
	}
	if n != 1 {
		t.Errorf("active count = %d, want 1", n)
	}
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}
