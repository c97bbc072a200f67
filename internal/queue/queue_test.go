package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

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

func newService(db *state.DB, max int) *Service {
	return NewService(db, nil, func() int { return max })
}

func seedTask(t *testing.T, db *state.DB, id string, prio models.TaskPriority) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		ID:             id,
		RawDescription: id,
		Status:         models.TaskStatusPending,
		Priority:       prio,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
	return task
}

func seedAgent(t *testing.T, db *state.DB, id string, status models.AgentStatus) {
	t.Helper()
	now := time.Now().UTC()
	a := &models.Agent{
		ID: id, Status: status, SessionName: "hph-" + id,
		AgentType: models.AgentTypePhase, LastActivity: now, CreatedAt: now,
	}
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("seed agent %s: %v", id, err)
	}
}

func TestAdmit(t *testing.T) {
	db := setupDB(t)
	svc := newService(db, 2)
	ctx := context.Background()

	adm, err := svc.Admit(ctx)
	if err != nil || adm != RunNow {
		t.Fatalf("empty fleet: admission = %v, err %v", adm, err)
	}

	seedAgent(t, db, "a1", models.AgentStatusWorking)
	seedAgent(t, db, "a2", models.AgentStatusIdle)
	adm, _ = svc.Admit(ctx)
	if adm != Enqueue {
		t.Errorf("at capacity: admission = %v, want Enqueue", adm)
	}

	// Terminated agents free their slot.
	a, _ := db.GetAgent("a2")
	a.Status = models.AgentStatusTerminated
	db.UpdateAgent(a)
	adm, _ = svc.Admit(ctx)
	if adm != RunNow {
		t.Errorf("after termination: admission = %v, want RunNow", adm)
	}
}

func TestQueueOrderingAndPositions(t *testing.T) {
	db := setupDB(t)
	svc := newService(db, 1)
	ctx := context.Background()

	t1 := seedTask(t, db, "t1", models.TaskPriorityMedium)
	t2 := seedTask(t, db, "t2", models.TaskPriorityHigh)
	t3 := seedTask(t, db, "t3", models.TaskPriorityLow)

	for _, task := range []*models.Task{t1, t2, t3} {
		if err := svc.Add(ctx, task); err != nil {
			t.Fatalf("Add %s: %v", task.ID, err)
		}
		time.Sleep(1100 * time.Millisecond)
	}

	next, err := svc.Next(ctx)
	if err != nil || next == nil {
		t.Fatalf("Next: %v, err %v", next, err)
	}
	if next.ID != "t2" {
		t.Errorf("Next = %s, want t2", next.ID)
	}

	// Positions are a 1-based bijection.
	wantPos := map[string]int{"t2": 1, "t1": 2, "t3": 3}
	for id, want := range wantPos {
		task, _ := db.GetTask(id)
		if task.QueuePosition == nil || *task.QueuePosition != want {
			t.Errorf("%s position = %v, want %d", id, task.QueuePosition, want)
		}
	}
}

func TestBoostJumpsQueue(t *testing.T) {
	db := setupDB(t)
	svc := newService(db, 1)
	ctx := context.Background()

	t2 := seedTask(t, db, "t2", models.TaskPriorityHigh)
	t3 := seedTask(t, db, "t3", models.TaskPriorityLow)
	svc.Add(ctx, t2)
	time.Sleep(1100 * time.Millisecond)
	svc.Add(ctx, t3)

	if err := svc.Boost(ctx, "t3"); err != nil {
		t.Fatalf("Boost failed: %v", err)
	}

	next, _ := svc.Next(ctx)
	if next == nil || next.ID != "t3" {
		t.Errorf("after boost, Next = %v, want t3", next)
	}

	// Boosting a missing task is logged, not fatal.
	if err := svc.Boost(ctx, "nope"); err != nil {
		t.Errorf("Boost on missing task returned error: %v", err)
	}
}

func TestDequeue(t *testing.T) {
	db := setupDB(t)
	svc := newService(db, 1)
	ctx := context.Background()

	t1 := seedTask(t, db, "t1", models.TaskPriorityMedium)
	t2 := seedTask(t, db, "t2", models.TaskPriorityMedium)
	svc.Add(ctx, t1)
	time.Sleep(1100 * time.Millisecond)
	svc.Add(ctx, t2)

	first, _ := svc.Next(ctx)
	if err := svc.Dequeue(ctx, first); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	got, _ := db.GetTask(first.ID)
	if got.Status != models.TaskStatusAssigned {
		t.Errorf("dequeued status = %s, want assigned", got.Status)
	}
	if got.QueuePosition != nil {
		t.Errorf("dequeued task still has position %d", *got.QueuePosition)
	}

	// Remaining task is re-ranked to 1.
	rest, _ := db.GetTask("t2")
	if rest.QueuePosition == nil || *rest.QueuePosition != 1 {
		t.Errorf("t2 position = %v, want 1", rest.QueuePosition)
	}

	// Dequeuing a non-queued task is refused.
	if err := svc.Dequeue(ctx, got); err == nil {
		t.Error("expected error dequeuing an assigned task")
	}
}

// staticBlocker reports every ticket-linked task as blocked.
type staticBlocker struct{ ids []string }

func (b *staticBlocker) Check(context.Context, *models.Task) (bool, []string, error) {
	return true, b.ids, nil
}

func TestAddBlockedTask(t *testing.T) {
	db := setupDB(t)
	svc := NewService(db, &staticBlocker{ids: []string{"tick-y"}}, func() int { return 1 })
	ctx := context.Background()

	task := seedTask(t, db, "t1", models.TaskPriorityMedium)
	task.TicketID = "tick-x"
	if err := svc.Add(ctx, task); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, _ := db.GetTask("t1")
	if got.Status != models.TaskStatusBlocked {
		t.Errorf("status = %s, want blocked", got.Status)
	}
	if got.QueuePosition != nil {
		t.Error("blocked task must not have a queue position")
	}
	if got.CompletionNotes == "" {
		t.Error("blocked task should carry a reason mentioning its blockers")
	}

	// Blocked tasks are invisible to Next.
	next, _ := svc.Next(ctx)
	if next != nil {
		t.Errorf("Next returned blocked task %s", next.ID)
	}
}
