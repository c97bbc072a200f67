package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/internal/tmux"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Loop is the single-threaded driver of the observation cycle. Each tick it
// restarts lost sessions, fans Guardian analyses out over the fleet, runs
// the Conductor once, recreates timed-out tasks, collects orphaned sessions,
// advances workflow phases, and finally checks for stuck workflows.
type Loop struct {
	db         *state.DB
	host       tmux.SessionHost
	guardian   *Guardian
	conductor  *Conductor
	agents     *agents.Manager
	tasks      *task.Service
	diagnostic *Diagnostic
	cfg        func() *config.Config
	logger     *DebugLogger

	// orphanSeen tracks when an unmatched session was first observed, so
	// newly spawned sessions get a grace period before collection.
	orphanSeen map[string]time.Time
}

// NewLoop wires the monitor loop.
func NewLoop(db *state.DB, host tmux.SessionHost, guardian *Guardian, conductor *Conductor,
	mgr *agents.Manager, tasks *task.Service, diagnostic *Diagnostic,
	cfg func() *config.Config, logger *DebugLogger) *Loop {
	if logger == nil {
		logger = NopLogger()
	}
	return &Loop{
		db:         db,
		host:       host,
		guardian:   guardian,
		conductor:  conductor,
		agents:     mgr,
		tasks:      tasks,
		diagnostic: diagnostic,
		cfg:        cfg,
		logger:     logger,
		orphanSeen: make(map[string]time.Time),
	}
}

// Run ticks until the context is canceled. An in-flight tick always drains;
// cancellation only prevents the next one from starting.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg().MonitorInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Tick(ctx, time.Now().UTC()); err != nil {
				l.logger.Log("tick: %v", err)
			}
			ticker.Reset(l.cfg().MonitorInterval())
		}
	}
}

// Tick runs one full observation cycle.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	active, err := l.db.ListActiveAgents()
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}

	l.restartLostSessions(ctx, active)
	l.markInactiveStuck(active, now)

	summaries := l.analyzeAgents(ctx, active, now)
	if len(summaries) > 0 {
		if _, err := l.conductor.Run(ctx, summaries, l.systemGoals(), now); err != nil {
			l.logger.Log("conductor: %v", err)
		}
	}

	l.recreateTimedOut(ctx, active, now)
	l.collectOrphans(now)
	l.progressPhases(ctx, now)

	if err := l.diagnostic.Sweep(ctx, now); err != nil {
		l.logger.Log("diagnostic: %v", err)
	}
	return nil
}

// restartLostSessions re-creates sessions that disappeared out from under
// non-terminated agents.
func (l *Loop) restartLostSessions(ctx context.Context, active []*models.Agent) {
	for _, agent := range active {
		exists, err := l.host.Has(agent.SessionName)
		if err != nil {
			l.logger.Log("session check %s: %v", agent.SessionName, err)
			continue
		}
		if exists {
			continue
		}
		l.logger.Log("session %s missing for agent %s, restarting", agent.SessionName, agent.ID)
		if err := l.agents.Restart(ctx, agent.ID); err != nil {
			l.logger.Log("restart agent %s: %v", agent.ID, err)
		}
	}
}

// markInactiveStuck flags working agents with no observed activity for the
// configured window. The Guardian recovers them if a later analysis aligns.
func (l *Loop) markInactiveStuck(active []*models.Agent, now time.Time) {
	window := time.Duration(l.cfg().Monitoring.StuckDetectionMinutes) * time.Minute
	if window <= 0 {
		return
	}
	for _, agent := range active {
		if agent.Status != models.AgentStatusWorking {
			continue
		}
		if now.Sub(agent.LastActivity) < window {
			continue
		}
		agent.Status = models.AgentStatusStuck
		if err := l.db.UpdateAgent(agent); err != nil {
			l.logger.Log("mark agent %s stuck: %v", agent.ID, err)
			continue
		}
		l.logger.Log("agent %s stuck: no activity for %s", agent.ID, now.Sub(agent.LastActivity).Round(time.Second))
	}
}

// analyzeAgents fans Guardian analyses out over the fleet, one goroutine per
// agent, and gathers the trajectory summaries for the Conductor. Per-agent
// failures are logged and isolated.
func (l *Loop) analyzeAgents(ctx context.Context, active []*models.Agent, now time.Time) []llm.AgentSummary {
	var (
		mu        sync.Mutex
		summaries []llm.AgentSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range active {
		g.Go(func() error {
			analysis, err := l.guardian.Analyze(gctx, agent, now)
			if err != nil {
				l.logger.Log("guardian %s: %v", agent.ID, err)
				return nil
			}
			if analysis == nil {
				return nil
			}
			mu.Lock()
			summaries = append(summaries, llm.AgentSummary{
				AgentID: agent.ID,
				Summary: analysis.TrajectorySummary,
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return summaries
}

// systemGoals renders the active workflows' goals for the Conductor prompt.
func (l *Loop) systemGoals() string {
	workflows, err := l.db.ListActiveWorkflows()
	if err != nil {
		l.logger.Log("list workflows: %v", err)
		return ""
	}
	var goals []string
	for _, wf := range workflows {
		goals = append(goals, fmt.Sprintf("%s: %s", wf.Name, wf.Goal))
	}
	return strings.Join(goals, "\n")
}

// recreateTimedOut replaces tasks whose agents outlived the complexity-based
// timeout with a fresh attempt asking for a different approach.
func (l *Loop) recreateTimedOut(ctx context.Context, active []*models.Agent, now time.Time) {
	for _, agent := range active {
		if agent.AgentType != models.AgentTypePhase || agent.CurrentTaskID == "" {
			continue
		}
		t, err := l.db.GetTask(agent.CurrentTaskID)
		if err != nil || t == nil || t.Status.Terminal() {
			continue
		}
		if now.Sub(agent.CreatedAt) < l.tasks.Timeout(t) {
			continue
		}
		l.logger.Log("task %s timed out after %s, recreating with new approach",
			t.ID, now.Sub(agent.CreatedAt).Round(time.Minute))
		if _, err := l.tasks.RecreateWithNewApproach(ctx, t); err != nil {
			l.logger.Log("recreate task %s: %v", t.ID, err)
		}
	}
}

// collectOrphans kills sessions that match the agent prefix but belong to no
// non-terminated agent. A session must stay orphaned for the grace period
// before it is killed, so freshly created sessions are never raced.
func (l *Loop) collectOrphans(now time.Time) {
	cfg := l.cfg()
	names, err := l.host.List()
	if err != nil {
		l.logger.Log("list sessions: %v", err)
		return
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, cfg.Agents.SessionPrefix) {
			continue
		}
		agent, err := l.db.GetAgentBySession(name)
		if err != nil {
			l.logger.Log("look up session %s: %v", name, err)
			continue
		}
		if agent != nil && agent.Active() {
			delete(l.orphanSeen, name)
			continue
		}
		seen[name] = true

		first, ok := l.orphanSeen[name]
		if !ok {
			l.orphanSeen[name] = now
			continue
		}
		if now.Sub(first) < cfg.OrphanGracePeriod() {
			continue
		}
		if err := l.host.Kill(name); err != nil {
			l.logger.Log("kill orphan session %s: %v", name, err)
			continue
		}
		l.logger.Log("killed orphan session %s", name)
		delete(l.orphanSeen, name)
	}

	// Sessions that vanished on their own stop being tracked.
	for name := range l.orphanSeen {
		if !seen[name] {
			delete(l.orphanSeen, name)
		}
	}
}

// progressPhases completes in-progress phases whose tasks are all finished
// and seeds the next phase with its initial task. A workflow with no next
// phase is marked completed.
func (l *Loop) progressPhases(ctx context.Context, now time.Time) {
	workflows, err := l.db.ListActiveWorkflows()
	if err != nil {
		l.logger.Log("list workflows: %v", err)
		return
	}

	for _, wf := range workflows {
		phases, err := l.db.ListPhases(wf.ID)
		if err != nil {
			l.logger.Log("list phases for %s: %v", wf.ID, err)
			continue
		}
		for _, phase := range phases {
			if phase.Status != models.PhaseStatusInProgress {
				continue
			}
			done, err := l.phaseDone(phase)
			if err != nil {
				l.logger.Log("phase check %s: %v", phase.ID, err)
				continue
			}
			if !done {
				continue
			}

			phase.Status = models.PhaseStatusCompleted
			phase.CompletedAt = &now
			if err := l.db.UpdatePhase(phase); err != nil {
				l.logger.Log("complete phase %s: %v", phase.ID, err)
				continue
			}
			l.logger.Log("phase %d %q completed in workflow %s", phase.Order, phase.Name, wf.ID)

			if err := l.startNextPhase(ctx, wf, phase, now); err != nil {
				l.logger.Log("start next phase after %s: %v", phase.ID, err)
			}
		}
	}
}

// phaseDone reports whether a phase's work is finished: it has at least one
// task, none still running or waiting, and at least one done.
func (l *Loop) phaseDone(phase *models.Phase) (bool, error) {
	tasks, err := l.db.ListTasksByPhase(phase.ID)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}
	anyDone := false
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false, nil
		}
		if t.Status == models.TaskStatusDone {
			anyDone = true
		}
	}
	return anyDone, nil
}

// startNextPhase marks the next phase in progress and creates its initial
// task as the monitor. The last phase completing completes the workflow.
func (l *Loop) startNextPhase(ctx context.Context, wf *models.Workflow, completed *models.Phase, now time.Time) error {
	next, err := l.db.NextPhase(wf.ID, completed.Order)
	if err != nil {
		return err
	}
	if next == nil {
		wf.Status = models.WorkflowStatusCompleted
		wf.CompletedAt = &now
		if err := l.db.UpdateWorkflow(wf); err != nil {
			return fmt.Errorf("complete workflow %s: %w", wf.ID, err)
		}
		l.logger.Log("workflow %s completed", wf.ID)
		return nil
	}

	next.Status = models.PhaseStatusInProgress
	if err := l.db.UpdatePhase(next); err != nil {
		return fmt.Errorf("start phase %s: %w", next.ID, err)
	}

	_, err = l.tasks.Create(ctx, task.CreateRequest{
		RawDescription:   fmt.Sprintf("Begin phase %d (%s): %s", next.Order, next.Name, next.Description),
		DoneCriterion:    strings.Join(next.DoneDefinitions, "; "),
		WorkflowID:       wf.ID,
		PhaseID:          next.ID,
		CreatedByAgentID: "monitor",
	})
	if err != nil {
		return fmt.Errorf("seed phase %s: %w", next.ID, err)
	}
	l.logger.Log("phase %d %q started in workflow %s", next.Order, next.Name, wf.ID)
	return nil
}
