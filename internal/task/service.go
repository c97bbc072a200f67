// Package task implements the task lifecycle: creation with LLM enrichment,
// embedding-based duplicate detection, admission against the agent cap, the
// queue processor, and restart/cancel.
package task

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/embedding"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/queue"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// processInterval is how often the queue processor runs when no external
// event drives it.
const processInterval = 60 * time.Second

// Service drives tasks from creation to agent assignment.
type Service struct {
	db         *state.DB
	client     llm.Client
	similarity *embedding.SimilarityService
	queue      *queue.Service
	blocks     queue.BlockChecker
	agents     *agents.Manager
	cfg        func() *config.Config
}

// NewService creates a task service. cfg is read per call so configuration
// reloads take effect without restart.
func NewService(db *state.DB, client llm.Client, similarity *embedding.SimilarityService,
	q *queue.Service, blocks queue.BlockChecker, mgr *agents.Manager, cfg func() *config.Config) *Service {
	return &Service{
		db:         db,
		client:     client,
		similarity: similarity,
		queue:      q,
		blocks:     blocks,
		agents:     mgr,
		cfg:        cfg,
	}
}

// CreateRequest carries the inputs for a new task.
type CreateRequest struct {
	// RawDescription is the task statement as submitted.
	RawDescription string
	// DoneCriterion defines when the task counts as complete.
	DoneCriterion string
	// Priority defaults to medium.
	Priority models.TaskPriority
	// WorkflowID selects the workflow; empty auto-selects the single active one.
	WorkflowID string
	// PhaseID places the task in a phase for dedup isolation and context.
	PhaseID string
	// TicketID links the task to a ticket for blocking derivation.
	TicketID string
	// ParentTaskID records the task this one was split from.
	ParentTaskID string
	// CreatedByAgentID records the creating agent, or "monitor" for
	// system-initiated tasks.
	CreatedByAgentID string
	// Boost bypasses admission: the agent spawns even at capacity.
	Boost bool
}

// Create builds, enriches, dedup-checks, and admits a new task. The task row
// is persisted before enrichment so a crash never loses the submission.
// Duplicated tasks are returned with no agent; everything else either spawns
// immediately or joins the queue.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	workflowID, err := s.resolveWorkflow(req.WorkflowID)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("create task: invalid priority %q", priority)
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:               uuid.New().String(),
		RawDescription:   req.RawDescription,
		DoneCriterion:    req.DoneCriterion,
		Status:           models.TaskStatusPending,
		Priority:         priority,
		PriorityBoosted:  req.Boost,
		WorkflowID:       workflowID,
		PhaseID:          req.PhaseID,
		TicketID:         req.TicketID,
		ParentTaskID:     req.ParentTaskID,
		CreatedByAgentID: req.CreatedByAgentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.PhaseID != "" {
		phase, err := s.db.GetPhase(req.PhaseID)
		if err != nil {
			return nil, err
		}
		if phase == nil {
			return nil, fmt.Errorf("create task: phase %s not found", req.PhaseID)
		}
		task.ValidationEnabled = phase.ValidationEnabled
	}
	if err := s.db.CreateTask(task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := s.Enrich(ctx, task); err != nil {
		return task, err
	}

	if s.dedupCheck(ctx, task) {
		return task, nil
	}

	if err := s.admit(ctx, task, req.Boost); err != nil {
		return task, err
	}
	return task, nil
}

// Enrich runs LLM enrichment exactly once per task: a task that already
// carries an enriched description is left alone. Enrichment failure marks
// the task failed.
func (s *Service) Enrich(ctx context.Context, task *models.Task) error {
	if task.EnrichedDescription != "" {
		return nil
	}

	req := llm.EnrichRequest{
		RawDescription: task.RawDescription,
		DoneCriterion:  task.DoneCriterion,
	}
	if task.PhaseID != "" {
		if phase, err := s.db.GetPhase(task.PhaseID); err == nil && phase != nil {
			req.PhaseName = phase.Name
			req.PhaseGoal = phase.Description
		}
	}
	if task.WorkflowID != "" {
		if wf, err := s.db.GetWorkflow(task.WorkflowID); err == nil && wf != nil {
			req.Context = append(req.Context, "Workflow goal: "+wf.Goal)
		}
	}

	enrichment, err := s.client.EnrichTask(ctx, req)
	if err != nil {
		task.Status = models.TaskStatusFailed
		task.CompletionNotes = fmt.Sprintf("enrichment failed: %v", err)
		task.UpdatedAt = time.Now().UTC()
		if dbErr := s.db.UpdateTask(task); dbErr != nil {
			log.Printf("[task] mark %s failed: %v", task.ID, dbErr)
		}
		return fmt.Errorf("enrich task %s: %w", task.ID, err)
	}

	task.EnrichedDescription = enrichment.EnrichedDescription
	task.EstimatedComplexity = enrichment.EstimatedComplexity
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("store enrichment for %s: %w", task.ID, err)
	}
	return nil
}

// dedupCheck runs duplicate detection and reports whether the task was
// marked duplicated. Embedding failures degrade to "not a duplicate" so
// creation is never blocked.
func (s *Service) dedupCheck(ctx context.Context, task *models.Task) bool {
	cfg := s.cfg()
	if !cfg.Dedup.Enabled || s.similarity == nil {
		return false
	}

	vec, result, err := s.similarity.CheckDuplicate(ctx, task.EnrichedDescription, task.PhaseID)
	if err != nil {
		log.Printf("[task] dedup check for %s degraded: %v", task.ID, err)
	}
	task.Embedding = vec
	for _, rel := range result.Related {
		task.RelatedTaskIDs = append(task.RelatedTaskIDs, rel.TaskID)
	}

	if result.IsDuplicate {
		task.Status = models.TaskStatusDuplicated
		task.DuplicateOfTaskID = result.DuplicateOf
		task.SimilarityScore = result.Similarity
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		log.Printf("[task] store dedup result for %s: %v", task.ID, err)
	}
	return result.IsDuplicate
}

// admit spawns the task's agent when a slot is free (or the bypass is set)
// and queues it otherwise. Blocked tickets always route through the queue,
// which parks the task as blocked.
func (s *Service) admit(ctx context.Context, task *models.Task, bypass bool) error {
	if s.blocks != nil && task.TicketID != "" {
		blocked, _, err := s.blocks.Check(ctx, task)
		if err != nil {
			log.Printf("[task] blocking check for %s: %v", task.ID, err)
		} else if blocked {
			return s.queue.Add(ctx, task)
		}
	}

	if !bypass {
		admission, err := s.queue.Admit(ctx)
		if err != nil {
			return err
		}
		if admission == queue.Enqueue {
			return s.queue.Add(ctx, task)
		}
	}
	return s.spawn(ctx, task)
}

// spawn starts an agent for the task. A spawn failure marks the task failed
// rather than re-queueing it, so a persistently broken task cannot wedge the
// queue head.
func (s *Service) spawn(ctx context.Context, task *models.Task) error {
	memories, err := s.relatedMemories(task)
	if err != nil {
		log.Printf("[task] related memories for %s: %v", task.ID, err)
	}

	_, err = s.agents.Spawn(ctx, agents.SpawnRequest{
		Task:           task,
		Enriched:       task.EnrichedDescription,
		Memories:       memories,
		ProjectContext: s.projectContext(task),
		AgentType:      models.AgentTypePhase,
		ParentAgentID:  s.parentAgent(task),
	})
	if err != nil {
		task.Status = models.TaskStatusFailed
		task.CompletionNotes = fmt.Sprintf("agent spawn failed: %v", err)
		task.UpdatedAt = time.Now().UTC()
		if dbErr := s.db.UpdateTask(task); dbErr != nil {
			log.Printf("[task] mark %s failed: %v", task.ID, dbErr)
		}
		return fmt.Errorf("spawn for task %s: %w", task.ID, err)
	}
	return nil
}

// relatedMemories renders the enriched descriptions of related tasks as
// prompt notes.
func (s *Service) relatedMemories(task *models.Task) ([]string, error) {
	var memories []string
	for _, id := range task.RelatedTaskIDs {
		related, err := s.db.GetTask(id)
		if err != nil {
			return memories, err
		}
		if related == nil {
			continue
		}
		desc := related.EnrichedDescription
		if desc == "" {
			desc = related.RawDescription
		}
		memories = append(memories, fmt.Sprintf("related task (%s): %s", related.Status, desc))
	}
	return memories, nil
}

// projectContext renders the workflow and phase for the initial prompt.
func (s *Service) projectContext(task *models.Task) string {
	context := ""
	if task.WorkflowID != "" {
		if wf, err := s.db.GetWorkflow(task.WorkflowID); err == nil && wf != nil {
			context = fmt.Sprintf("Workflow %q: %s", wf.Name, wf.Goal)
		}
	}
	if task.PhaseID != "" {
		if phase, err := s.db.GetPhase(task.PhaseID); err == nil && phase != nil {
			if context != "" {
				context += "\n"
			}
			context += fmt.Sprintf("Phase %d %q: %s", phase.Order, phase.Name, phase.Description)
		}
	}
	return context
}

// parentAgent returns the creating agent's id when it still has a live
// worktree to fork from; system creators like "monitor" fork from the
// default branch.
func (s *Service) parentAgent(task *models.Task) string {
	if task.CreatedByAgentID == "" {
		return ""
	}
	agent, err := s.db.GetAgent(task.CreatedByAgentID)
	if err != nil || agent == nil {
		return ""
	}
	if agent.Status == models.AgentStatusTerminated {
		return ""
	}
	return agent.ID
}

// resolveWorkflow returns the explicit workflow or auto-selects when exactly
// one workflow is active. Zero or multiple active workflows is an explicit
// error so the caller must disambiguate.
func (s *Service) resolveWorkflow(workflowID string) (string, error) {
	if workflowID != "" {
		wf, err := s.db.GetWorkflow(workflowID)
		if err != nil {
			return "", err
		}
		if wf == nil {
			return "", fmt.Errorf("workflow %s not found", workflowID)
		}
		return wf.ID, nil
	}

	active, err := s.db.ListActiveWorkflows()
	if err != nil {
		return "", err
	}
	switch len(active) {
	case 0:
		return "", fmt.Errorf("no active workflow; create one or pass a workflow id")
	case 1:
		return active[0].ID, nil
	default:
		return "", fmt.Errorf("%d active workflows; pass a workflow id", len(active))
	}
}

// ProcessQueue dequeues and spawns tasks while agent slots remain. Each
// dequeued task re-checks enrichment so tasks queued before an earlier crash
// still get enriched exactly once. Per-task failures are logged and do not
// stop the pass.
func (s *Service) ProcessQueue(ctx context.Context) error {
	for {
		admission, err := s.queue.Admit(ctx)
		if err != nil {
			return err
		}
		if admission == queue.Enqueue {
			return nil
		}

		next, err := s.queue.Next(ctx)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := s.queue.Dequeue(ctx, next); err != nil {
			return err
		}

		if err := s.Enrich(ctx, next); err != nil {
			log.Printf("[task] queue processing: %v", err)
			continue
		}
		if err := s.spawn(ctx, next); err != nil {
			log.Printf("[task] queue processing: %v", err)
		}
	}
}

// Run drives the queue processor on a timer until the context is canceled.
// The timer guarantees forward progress when no completion event fires.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(processInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessQueue(ctx); err != nil {
				log.Printf("[task] queue processor: %v", err)
			}
		}
	}
}

// Restart re-queues a failed or stuck task: any live agent is terminated,
// the assignment is cleared, and the task goes back through admission.
func (s *Service) Restart(ctx context.Context, taskID string) error {
	task, err := s.requireTask(taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusDuplicated {
		return fmt.Errorf("restart task %s: duplicated tasks never run", taskID)
	}

	if err := s.releaseAgent(ctx, task); err != nil {
		return err
	}
	task.AssignedAgentID = ""
	task.CompletionNotes = ""
	task.Status = models.TaskStatusPending
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("restart task %s: %w", taskID, err)
	}
	return s.admit(ctx, task, false)
}

// Cancel stops a task permanently: any live agent is terminated and the
// task is marked failed with a cancellation note.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	task, err := s.requireTask(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}

	if err := s.releaseAgent(ctx, task); err != nil {
		return err
	}
	task.AssignedAgentID = ""
	task.QueuePosition = nil
	task.Status = models.TaskStatusFailed
	task.CompletionNotes = "canceled"
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return s.queue.Recompute(ctx)
}

// RecreateWithNewApproach replaces a timed-out task: the original is marked
// failed and a fresh task asks the next agent to try a different approach.
func (s *Service) RecreateWithNewApproach(ctx context.Context, task *models.Task) (*models.Task, error) {
	if err := s.releaseAgent(ctx, task); err != nil {
		return nil, err
	}
	task.AssignedAgentID = ""
	task.Status = models.TaskStatusFailed
	task.CompletionNotes = "timed out; recreated with new approach"
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return nil, fmt.Errorf("fail timed-out task %s: %w", task.ID, err)
	}

	raw := task.RawDescription +
		"\n\nA previous attempt at this task ran out of time. Try a different approach than the obvious one."
	return s.Create(ctx, CreateRequest{
		RawDescription:   raw,
		DoneCriterion:    task.DoneCriterion,
		Priority:         task.Priority,
		WorkflowID:       task.WorkflowID,
		PhaseID:          task.PhaseID,
		TicketID:         task.TicketID,
		ParentTaskID:     task.ID,
		CreatedByAgentID: "monitor",
	})
}

// Timeout returns how long the task's agent may run: the configured base,
// or twice the enrichment estimate when that is longer.
func (s *Service) Timeout(task *models.Task) time.Duration {
	base := time.Duration(s.cfg().Agents.TimeoutMinutes) * time.Minute
	if task.EstimatedComplexity > 0 {
		estimated := 2 * time.Duration(task.EstimatedComplexity) * time.Minute
		if estimated > base {
			return estimated
		}
	}
	return base
}

// releaseAgent terminates the task's agent if it is still alive.
func (s *Service) releaseAgent(ctx context.Context, task *models.Task) error {
	if task.AssignedAgentID == "" {
		return nil
	}
	agent, err := s.db.GetAgent(task.AssignedAgentID)
	if err != nil {
		return err
	}
	if agent == nil || agent.Status == models.AgentStatusTerminated {
		return nil
	}
	return s.agents.Terminate(ctx, agent.ID)
}

func (s *Service) requireTask(taskID string) (*models.Task, error) {
	task, err := s.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return task, nil
}
