package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func TestTickRestartsLostSessions(t *testing.T) {
	f := setup(t)
	agent := f.spawnAgent(t, models.AgentTypePhase)

	f.host.Kill(agent.SessionName)
	if err := f.loop().Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if ok, _ := f.host.Has(agent.SessionName); !ok {
		t.Error("lost session not restarted")
	}
	got, _ := f.db.GetAgent(agent.ID)
	if got.Status == models.AgentStatusTerminated {
		t.Error("restarted agent must keep its state")
	}
}

func TestTickMarksInactiveAgentsStuck(t *testing.T) {
	f := setup(t)
	f.cfg.Monitoring.StuckDetectionMinutes = 10
	// Keep the Guardian out of this tick so an aligned analysis cannot
	// recover the agent before the assertion.
	f.cfg.Monitoring.GuardianMinAgentAgeSeconds = 3600
	agent := f.spawnAgent(t, models.AgentTypePhase)

	agent.LastActivity = time.Now().UTC().Add(-time.Hour)
	if err := f.db.UpdateAgent(agent); err != nil {
		t.Fatalf("backdate activity: %v", err)
	}

	if err := f.loop().Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	got, _ := f.db.GetAgent(agent.ID)
	if got.Status != models.AgentStatusStuck {
		t.Errorf("status = %s, want stuck", got.Status)
	}
}

func TestOrphanCollectionRespectsGrace(t *testing.T) {
	f := setup(t)
	loop := f.loop()
	ctx := context.Background()

	// A session with the agent prefix but no agent row behind it.
	if err := f.host.Create("hph-orphan", "/tmp", "claude"); err != nil {
		t.Fatalf("create orphan session: %v", err)
	}
	// An unrelated session must never be touched.
	if err := f.host.Create("user-shell", "/tmp", "bash"); err != nil {
		t.Fatalf("create user session: %v", err)
	}

	now := time.Now().UTC()
	if err := loop.Tick(ctx, now); err != nil {
		t.Fatalf("first Tick failed: %v", err)
	}
	if ok, _ := f.host.Has("hph-orphan"); !ok {
		t.Fatal("orphan killed before the grace period")
	}

	if err := loop.Tick(ctx, now.Add(f.cfg.OrphanGracePeriod()+time.Second)); err != nil {
		t.Fatalf("second Tick failed: %v", err)
	}
	if ok, _ := f.host.Has("hph-orphan"); ok {
		t.Error("orphan session survived the grace period")
	}
	if ok, _ := f.host.Has("user-shell"); !ok {
		t.Error("unrelated session was killed")
	}
}

func TestOrphanCollectionSparesLiveAgents(t *testing.T) {
	f := setup(t)
	loop := f.loop()
	agent := f.spawnAgent(t, models.AgentTypePhase)

	now := time.Now().UTC()
	for _, tick := range []time.Time{now, now.Add(f.cfg.OrphanGracePeriod() + time.Second)} {
		if err := loop.Tick(context.Background(), tick); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}
	if ok, _ := f.host.Has(agent.SessionName); !ok {
		t.Error("live agent session was collected as an orphan")
	}
}

func TestPhaseProgression(t *testing.T) {
	f := setup(t)
	wf := seedWorkflow(t, f.db, "wf-1")
	seedPhase(t, f.db, wf.ID, "phase-1", 1, models.PhaseStatusInProgress)
	seedPhase(t, f.db, wf.ID, "phase-2", 2, models.PhaseStatusPending)
	seedTask(t, f.db, "t1", wf.ID, "phase-1", models.TaskStatusDone)
	seedTask(t, f.db, "t2", wf.ID, "phase-1", models.TaskStatusFailed)

	if err := f.loop().Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	first, _ := f.db.GetPhase("phase-1")
	if first.Status != models.PhaseStatusCompleted || first.CompletedAt == nil {
		t.Errorf("phase-1 = %s, want completed", first.Status)
	}
	second, _ := f.db.GetPhase("phase-2")
	if second.Status != models.PhaseStatusInProgress {
		t.Errorf("phase-2 = %s, want in_progress", second.Status)
	}

	// The next phase got its seed task from the monitor.
	tasks, _ := f.db.ListTasksByPhase("phase-2")
	if len(tasks) != 1 {
		t.Fatalf("phase-2 tasks = %d, want 1", len(tasks))
	}
	if tasks[0].CreatedByAgentID != "monitor" {
		t.Errorf("created by = %s, want monitor", tasks[0].CreatedByAgentID)
	}
	if tasks[0].Status != models.TaskStatusInProgress {
		t.Errorf("seed task status = %s, want in_progress", tasks[0].Status)
	}
}

func TestPhaseProgressionWaitsForRunningTasks(t *testing.T) {
	f := setup(t)
	wf := seedWorkflow(t, f.db, "wf-1")
	seedPhase(t, f.db, wf.ID, "phase-1", 1, models.PhaseStatusInProgress)
	seedTask(t, f.db, "t1", wf.ID, "phase-1", models.TaskStatusDone)
	seedTask(t, f.db, "t2", wf.ID, "phase-1", models.TaskStatusInProgress)

	if err := f.loop().Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	phase, _ := f.db.GetPhase("phase-1")
	if phase.Status != models.PhaseStatusInProgress {
		t.Errorf("phase = %s, want still in_progress", phase.Status)
	}
}

func TestLastPhaseCompletesWorkflow(t *testing.T) {
	f := setup(t)
	wf := seedWorkflow(t, f.db, "wf-1")
	seedPhase(t, f.db, wf.ID, "phase-1", 1, models.PhaseStatusInProgress)
	seedTask(t, f.db, "t1", wf.ID, "phase-1", models.TaskStatusDone)

	if err := f.loop().Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	got, _ := f.db.GetWorkflow(wf.ID)
	if got.Status != models.WorkflowStatusCompleted || got.CompletedAt == nil {
		t.Errorf("workflow = %s, want completed", got.Status)
	}
}

func TestTickRecreatesTimedOutTasks(t *testing.T) {
	f := setup(t)
	seedWorkflow(t, f.db, "wf-1")
	ctx := context.Background()

	created, err := f.tasks.Create(ctx, task.CreateRequest{RawDescription: "slow migration"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent, _ := f.db.GetAgent(created.AssignedAgentID)
	agent.CreatedAt = time.Now().UTC().Add(-24 * time.Hour)
	if err := f.db.UpdateAgent(agent); err != nil {
		t.Fatalf("backdate agent: %v", err)
	}

	if err := f.loop().Tick(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	old, _ := f.db.GetTask(created.ID)
	if old.Status != models.TaskStatusFailed {
		t.Errorf("old task = %s, want failed", old.Status)
	}
	replacements, _ := f.db.ListTasksByStatus(models.TaskStatusInProgress, models.TaskStatusQueued)
	found := false
	for _, r := range replacements {
		if r.ParentTaskID == created.ID {
			found = true
		}
	}
	if !found {
		t.Error("no replacement task created for the timed-out one")
	}
}
