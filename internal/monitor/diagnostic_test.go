package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// stall backdates the workflow's newest task so the quiet-period trigger holds.
func stall(t *testing.T, f *fixture, taskID string) {
	t.Helper()
	tk, err := f.db.GetTask(taskID)
	if err != nil || tk == nil {
		t.Fatalf("load task %s: %v", taskID, err)
	}
	tk.UpdatedAt = time.Now().UTC().Add(-5 * time.Minute)
	if err := f.db.UpdateTask(tk); err != nil {
		t.Fatalf("backdate task: %v", err)
	}
}

func TestDiagnosticFiresOnStuckWorkflow(t *testing.T) {
	f := setup(t)
	wf := seedWorkflow(t, f.db, "wf-1")
	seedPhase(t, f.db, wf.ID, "phase-1", 1, models.PhaseStatusInProgress)
	seedTask(t, f.db, "t1", wf.ID, "phase-1", models.TaskStatusFailed)
	stall(t, f, "t1")

	diag := NewDiagnostic(f.db, f.mgr, "/repo", f.cfgFn, nil)
	now := time.Now().UTC()
	if err := diag.Sweep(context.Background(), now); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	run, _ := f.db.LastDiagnosticRun(wf.ID)
	if run == nil {
		t.Fatal("no diagnostic run recorded")
	}
	if !strings.Contains(run.Context, wf.Goal) {
		t.Errorf("context missing goal: %q", run.Context)
	}

	agent, _ := f.db.GetAgent(run.AgentID)
	if agent == nil || agent.AgentType != models.AgentTypeDiagnostic {
		t.Fatalf("diagnostic agent = %+v", agent)
	}
	if agent.WorkingDir != "/repo" {
		t.Errorf("working dir = %s, want the main repo", agent.WorkingDir)
	}
	if tree, _ := f.db.GetWorktreeByAgent(agent.ID); tree != nil {
		t.Error("diagnostic agent must not get a worktree")
	}

	diagTask, _ := f.db.GetTask(run.TaskID)
	if diagTask.Priority != models.TaskPriorityHigh {
		t.Errorf("priority = %s, want high", diagTask.Priority)
	}
	if diagTask.Status != models.TaskStatusInProgress {
		t.Errorf("status = %s, want in_progress", diagTask.Status)
	}

	// The new diagnostic task counts as activity, so an immediate second
	// sweep does not fire again.
	if err := diag.Sweep(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	second, _ := f.db.LastDiagnosticRun(wf.ID)
	if second.ID != run.ID {
		t.Error("diagnostic fired twice in a row")
	}
}

func TestDiagnosticSuppressed(t *testing.T) {
	tests := []struct {
		name string
		prep func(t *testing.T, f *fixture, wf *models.Workflow)
	}{
		{
			name: "feature disabled",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {
				seedTask(t, f.db, "t1", wf.ID, "", models.TaskStatusFailed)
				stall(t, f, "t1")
				f.cfg.Diagnostic.Enabled = false
			},
		},
		{
			name: "no tasks yet",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {},
		},
		{
			name: "active task running",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {
				seedTask(t, f.db, "t1", wf.ID, "", models.TaskStatusInProgress)
				stall(t, f, "t1")
			},
		},
		{
			name: "validated result exists",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {
				seedTask(t, f.db, "t1", wf.ID, "", models.TaskStatusFailed)
				stall(t, f, "t1")
				result := &models.WorkflowResult{
					ID: "r1", WorkflowID: wf.ID, AgentID: "a1",
					Path: "/results/r1.md", Validated: true,
					SubmittedAt: time.Now().UTC(),
				}
				if err := f.db.CreateWorkflowResult(result); err != nil {
					t.Fatalf("seed result: %v", err)
				}
			},
		},
		{
			name: "recent activity",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {
				seedTask(t, f.db, "t1", wf.ID, "", models.TaskStatusFailed)
			},
		},
		{
			name: "cooldown in effect",
			prep: func(t *testing.T, f *fixture, wf *models.Workflow) {
				seedTask(t, f.db, "t1", wf.ID, "", models.TaskStatusFailed)
				stall(t, f, "t1")
				run := &models.DiagnosticRun{
					WorkflowID: wf.ID, AgentID: "a1", TaskID: "t1",
					CreatedAt: time.Now().UTC().Add(-10 * time.Second),
				}
				if err := f.db.CreateDiagnosticRun(run); err != nil {
					t.Fatalf("seed run: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			wf := seedWorkflow(t, f.db, "wf-1")
			tt.prep(t, f, wf)

			diag := NewDiagnostic(f.db, f.mgr, "/repo", f.cfgFn, nil)
			if err := diag.Sweep(context.Background(), time.Now().UTC()); err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}

			agents, _ := f.db.ListActiveAgents()
			for _, a := range agents {
				if a.AgentType == models.AgentTypeDiagnostic {
					t.Error("diagnostic agent spawned despite unmet trigger")
				}
			}
		})
	}
}
