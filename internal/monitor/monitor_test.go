package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/embedding"
	"github.com/hephaestus-dev/hephaestus/internal/git"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/queue"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/internal/tmux"
	"github.com/hephaestus-dev/hephaestus/internal/worktree"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// fixture wires the monitor stack onto fakes: a scripted LLM, an in-memory
// session host, a fake git runner, and a real SQLite store in a temp dir.
type fixture struct {
	db     *state.DB
	client *llm.FakeClient
	host   *tmux.FakeHost
	mgr    *agents.Manager
	tasks  *task.Service
	cfg    *config.Config
	cfgFn  func() *config.Config
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	// Make agents eligible for analysis immediately.
	cfg.Monitoring.GuardianMinAgentAgeSeconds = 0

	client := &llm.FakeClient{}
	host := tmux.NewFakeHost()
	trees := worktree.NewManager(db, git.NewFakeRunner(), "/repo", "/trees")
	mgr := agents.NewManager(db, host, trees, "claude", cfg.Agents.SessionPrefix)
	cfgFn := func() *config.Config { return cfg }

	q := queue.NewService(db, nil, func() int { return cfg.Agents.MaxConcurrent })
	embedder := embedding.NewService(client)
	similarity := embedding.NewSimilarityService(db, embedder,
		cfg.Dedup.SimilarityThreshold, cfg.Dedup.RelatedThreshold)
	tasks := task.NewService(db, client, similarity, q, nil, mgr, cfgFn)

	return &fixture{db: db, client: client, host: host, mgr: mgr, tasks: tasks, cfg: cfg, cfgFn: cfgFn}
}

func (f *fixture) guardian() *Guardian {
	return NewGuardian(f.db, f.client, f.mgr, f.cfgFn, nil)
}

func (f *fixture) conductor() *Conductor {
	return NewConductor(f.db, f.client, f.mgr, nil)
}

func (f *fixture) loop() *Loop {
	diag := NewDiagnostic(f.db, f.mgr, "/repo", f.cfgFn, nil)
	return NewLoop(f.db, f.host, f.guardian(), f.conductor(), f.mgr, f.tasks, diag, f.cfgFn, nil)
}

func (f *fixture) spawnAgent(t *testing.T, agentType models.AgentType) *models.Agent {
	t.Helper()
	agent, err := f.mgr.Spawn(context.Background(), agents.SpawnRequest{
		Enriched:  "work on the thing",
		AgentType: agentType,
	})
	if err != nil {
		t.Fatalf("spawn agent: %v", err)
	}
	return agent
}

func seedWorkflow(t *testing.T, db *state.DB, id string) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		ID: id, Name: id, Goal: "ship " + id,
		Status: models.WorkflowStatusActive, CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateWorkflow(wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	return wf
}

func seedPhase(t *testing.T, db *state.DB, workflowID, id string, order int, status models.PhaseStatus) *models.Phase {
	t.Helper()
	phase := &models.Phase{
		ID: id, WorkflowID: workflowID, Order: order, Name: id,
		Description: "phase " + id, Status: status,
	}
	if err := db.CreatePhase(phase); err != nil {
		t.Fatalf("seed phase: %v", err)
	}
	return phase
}

func seedTask(t *testing.T, db *state.DB, id, workflowID, phaseID string, status models.TaskStatus) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	tk := &models.Task{
		ID: id, RawDescription: "raw " + id,
		Status: status, Priority: models.TaskPriorityMedium,
		WorkflowID: workflowID, PhaseID: phaseID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateTask(tk); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return tk
}
