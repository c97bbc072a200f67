package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Diagnostic detects workflows that have gone quiet short of their goal and
// spawns a one-off diagnostic agent to unstick them. The agent runs in the
// main repository, not a fresh worktree, and its job is to create new tasks.
type Diagnostic struct {
	db       *state.DB
	agents   *agents.Manager
	mainRepo string
	cfg      func() *config.Config
	logger   *DebugLogger
}

// NewDiagnostic creates the stuck-workflow detector.
func NewDiagnostic(db *state.DB, mgr *agents.Manager, mainRepo string, cfg func() *config.Config, logger *DebugLogger) *Diagnostic {
	if logger == nil {
		logger = NopLogger()
	}
	return &Diagnostic{db: db, agents: mgr, mainRepo: mainRepo, cfg: cfg, logger: logger}
}

// Sweep checks every active workflow and fires the diagnostic where all
// trigger conditions hold.
func (d *Diagnostic) Sweep(ctx context.Context, now time.Time) error {
	if !d.cfg().Diagnostic.Enabled {
		return nil
	}
	workflows, err := d.db.ListActiveWorkflows()
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	for _, wf := range workflows {
		stuck, err := d.shouldFire(wf, now)
		if err != nil {
			d.logger.Log("diagnostic check %s: %v", wf.ID, err)
			continue
		}
		if !stuck {
			continue
		}
		if err := d.fire(ctx, wf, now); err != nil {
			d.logger.Log("diagnostic fire %s: %v", wf.ID, err)
		}
	}
	return nil
}

// shouldFire applies the trigger conditions: the workflow has tasks but none
// active, no validated result exists, the cooldown since the last run has
// passed, and the workflow has been quiet for the minimum stuck time.
func (d *Diagnostic) shouldFire(wf *models.Workflow, now time.Time) (bool, error) {
	cfg := d.cfg()

	total, err := d.db.CountTasks(wf.ID)
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}

	active, err := d.db.CountActiveTasks(wf.ID)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}

	validated, err := d.db.HasValidatedResult(wf.ID)
	if err != nil {
		return false, err
	}
	if validated {
		return false, nil
	}

	last, err := d.db.LastDiagnosticRun(wf.ID)
	if err != nil {
		return false, err
	}
	cooldown := time.Duration(cfg.Diagnostic.CooldownSeconds) * time.Second
	if last != nil && now.Sub(last.CreatedAt) < cooldown {
		return false, nil
	}

	newest, err := d.db.LastTaskActivity(wf.ID)
	if err != nil {
		return false, err
	}
	minStuck := time.Duration(cfg.Diagnostic.MinStuckTimeSeconds) * time.Second
	if newest != nil && now.Sub(newest.UpdatedAt) < minStuck {
		return false, nil
	}
	return true, nil
}

// fire gathers context, creates the diagnostic task and agent, and records
// the run.
func (d *Diagnostic) fire(ctx context.Context, wf *models.Workflow, now time.Time) error {
	promptContext, err := d.gatherContext(wf)
	if err != nil {
		return err
	}

	diagTask := &models.Task{
		ID: uuid.New().String(),
		RawDescription: fmt.Sprintf(
			"Workflow %q has stalled: it has tasks but none are running, and no validated result exists. "+
				"Diagnose why and create 1-5 new tasks that push the workflow toward its goal.", wf.Name),
		EnrichedDescription: promptContext,
		DoneCriterion:       "new tasks exist that move the workflow forward",
		Status:              models.TaskStatusPending,
		Priority:            models.TaskPriorityHigh,
		WorkflowID:          wf.ID,
		CreatedByAgentID:    "monitor",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := d.db.CreateTask(diagTask); err != nil {
		return fmt.Errorf("create diagnostic task: %w", err)
	}

	agent, err := d.agents.Spawn(ctx, agents.SpawnRequest{
		Task:           diagTask,
		Enriched:       diagTask.EnrichedDescription,
		ProjectContext: fmt.Sprintf("Workflow %q: %s", wf.Name, wf.Goal),
		AgentType:      models.AgentTypeDiagnostic,
		WorkingDir:     d.mainRepo,
	})
	if err != nil {
		diagTask.Status = models.TaskStatusFailed
		diagTask.CompletionNotes = fmt.Sprintf("diagnostic spawn failed: %v", err)
		diagTask.UpdatedAt = time.Now().UTC()
		if dbErr := d.db.UpdateTask(diagTask); dbErr != nil {
			d.logger.Log("mark diagnostic task %s failed: %v", diagTask.ID, dbErr)
		}
		return fmt.Errorf("spawn diagnostic agent: %w", err)
	}

	run := &models.DiagnosticRun{
		WorkflowID: wf.ID,
		AgentID:    agent.ID,
		TaskID:     diagTask.ID,
		Context:    promptContext,
		CreatedAt:  now,
	}
	if err := d.db.CreateDiagnosticRun(run); err != nil {
		return fmt.Errorf("record diagnostic run: %w", err)
	}
	d.logger.Log("diagnostic agent %s spawned for stuck workflow %s", agent.ID, wf.ID)
	return nil
}

// gatherContext assembles the diagnostic prompt: the goal, the phase plan,
// what recently terminated agents were doing, the Conductor's recent view,
// and any submitted results.
func (d *Diagnostic) gatherContext(wf *models.Workflow) (string, error) {
	cfg := d.cfg()
	var b strings.Builder

	fmt.Fprintf(&b, "Workflow goal: %s\n\n", wf.Goal)

	phases, err := d.db.ListPhases(wf.ID)
	if err != nil {
		return "", err
	}
	if len(phases) > 0 {
		b.WriteString("Phases:\n")
		for _, p := range phases {
			fmt.Fprintf(&b, "- %d. %s (%s): %s\n", p.Order, p.Name, p.Status, p.Description)
		}
		b.WriteString("\n")
	}

	terminated, err := d.db.ListRecentTerminatedAgents(cfg.Diagnostic.MaxAgentsToAnalyze)
	if err != nil {
		return "", err
	}
	if len(terminated) > 0 {
		b.WriteString("Recently terminated agents:\n")
		for _, a := range terminated {
			line := fmt.Sprintf("- %s agent %s", a.AgentType, a.ID)
			if summary := d.lastSummary(a.ID); summary != "" {
				line += ": " + summary
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	analyses, err := d.db.ListRecentConductorAnalyses(cfg.Diagnostic.MaxConductorAnalyses)
	if err != nil {
		return "", err
	}
	if len(analyses) > 0 {
		b.WriteString("Recent system analyses:\n")
		for _, a := range analyses {
			fmt.Fprintf(&b, "- coherence %.2f: %s\n", a.CoherenceScore, a.SystemSummary)
		}
		b.WriteString("\n")
	}

	results, err := d.db.ListWorkflowResults(wf.ID)
	if err != nil {
		return "", err
	}
	if len(results) > 0 {
		b.WriteString("Submitted results:\n")
		for _, r := range results {
			status := "unvalidated"
			if r.Validated {
				status = "validated"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Path, status, r.Summary)
		}
		b.WriteString("\n")
	}

	b.WriteString("Diagnose why the workflow stalled and create 1-5 new tasks that push it toward the goal.")
	return b.String(), nil
}

// lastSummary returns the agent's most recent trajectory summary, if any.
func (d *Diagnostic) lastSummary(agentID string) string {
	analyses, err := d.db.ListGuardianAnalyses(agentID, 1)
	if err != nil || len(analyses) == 0 {
		return ""
	}
	return analyses[0].TrajectorySummary
}
