// Package validation runs the review round-trips that gate completion: a
// validator agent over a task's committed worktree, and a result validator
// over a workflow's submitted markdown result.
package validation

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/internal/ticket"
	"github.com/hephaestus-dev/hephaestus/internal/worktree"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Service drives task and workflow result validation.
type Service struct {
	db      *state.DB
	agents  *agents.Manager
	trees   *worktree.Manager
	tickets *ticket.Service
	tasks   *task.Service
}

// NewService creates a validation service. tickets may be nil when no ticket
// board is in use.
func NewService(db *state.DB, mgr *agents.Manager, trees *worktree.Manager,
	tickets *ticket.Service, tasks *task.Service) *Service {
	return &Service{db: db, agents: mgr, trees: trees, tickets: tickets, tasks: tasks}
}

// HandleTaskDone is called when an agent reports its task finished. Tasks
// without validation complete immediately: merge, terminate, process the
// queue. Tasks with validation go under review: the worktree is committed,
// a validator spawns against it, and the original agent stays alive for
// follow-up questions.
func (s *Service) HandleTaskDone(ctx context.Context, taskID string) error {
	t, err := s.requireTask(taskID)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusInProgress && t.Status != models.TaskStatusAssigned {
		return fmt.Errorf("task %s: cannot finish from status %s", taskID, t.Status)
	}
	if t.AssignedAgentID == "" {
		return fmt.Errorf("task %s: no assigned agent", taskID)
	}

	if !t.ValidationEnabled {
		return s.complete(ctx, t)
	}

	now := time.Now().UTC()
	t.Status = models.TaskStatusUnderReview
	t.ValidationIteration++
	t.UpdatedAt = now
	if err := s.db.UpdateTask(t); err != nil {
		return fmt.Errorf("mark task %s under review: %w", taskID, err)
	}

	sha, err := s.trees.CommitForValidation(ctx, t.AssignedAgentID, t.ValidationIteration)
	if err != nil {
		return s.failValidationSetup(ctx, t, fmt.Errorf("commit for validation: %w", err))
	}

	original, err := s.db.GetAgent(t.AssignedAgentID)
	if err != nil {
		return err
	}
	if original == nil {
		return fmt.Errorf("task %s: agent %s not found", taskID, t.AssignedAgentID)
	}

	validator, err := s.spawnValidator(ctx, t, original, sha)
	if err != nil {
		return s.failValidationSetup(ctx, t, err)
	}

	original.KeptAliveForValidation = true
	if err := s.db.UpdateAgent(original); err != nil {
		return err
	}

	t.Status = models.TaskStatusValidationInProgress
	t.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(t); err != nil {
		return err
	}
	log.Printf("[validation] validator %s reviewing task %s at commit %s", validator.ID, t.ID, sha)
	return nil
}

// spawnValidator starts a validator agent inside the original agent's
// worktree, pointed at the validation commit.
func (s *Service) spawnValidator(ctx context.Context, t *models.Task, original *models.Agent, sha string) (*models.Agent, error) {
	prompt := fmt.Sprintf(
		"Review the work committed as %s in this worktree (validation iteration %d).\n\n"+
			"The task under review:\n%s\n\nDone when: %s\n\n"+
			"Judge whether the done criterion is genuinely met. Report pass or fail with specific feedback.",
		sha, t.ValidationIteration, taskDescription(t), t.DoneCriterion)

	validator, err := s.agents.Spawn(ctx, agents.SpawnRequest{
		Enriched:   prompt,
		AgentType:  models.AgentTypeValidator,
		WorkingDir: original.WorkingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn validator for task %s: %w", t.ID, err)
	}

	// Link the validator to the task so the verdict can find it. The task's
	// assigned agent stays the original.
	validator.CurrentTaskID = t.ID
	if err := s.db.UpdateAgent(validator); err != nil {
		return nil, err
	}
	return validator, nil
}

// failValidationSetup applies the spawn-failure policy: the task fails with
// the reason, the original agent is terminated, and the queue is processed
// so the freed slot is reused.
func (s *Service) failValidationSetup(ctx context.Context, t *models.Task, cause error) error {
	agentID := t.AssignedAgentID
	t.Status = models.TaskStatusFailed
	t.AssignedAgentID = ""
	t.CompletionNotes = fmt.Sprintf("validation setup failed: %v", cause)
	t.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(t); err != nil {
		log.Printf("[validation] mark task %s failed: %v", t.ID, err)
	}
	if agentID != "" {
		if err := s.agents.Terminate(ctx, agentID); err != nil {
			log.Printf("[validation] terminate agent %s: %v", agentID, err)
		}
	}
	if err := s.tasks.ProcessQueue(ctx); err != nil {
		log.Printf("[validation] process queue: %v", err)
	}
	return fmt.Errorf("task %s validation setup: %w", t.ID, cause)
}

// CompleteTaskValidation applies a validator's verdict. Pass completes the
// task: merge to parent, link the merge commit to the ticket, terminate both
// agents. Fail sends the feedback to the original agent, terminates the
// validator, and puts the task back in the agent's hands.
func (s *Service) CompleteTaskValidation(ctx context.Context, taskID string, pass bool, feedback string) error {
	t, err := s.requireTask(taskID)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusValidationInProgress {
		return fmt.Errorf("task %s: no validation in progress (status %s)", taskID, t.Status)
	}

	validator, err := s.findValidator(taskID)
	if err != nil {
		return err
	}

	if pass {
		if validator != nil {
			if err := s.agents.Terminate(ctx, validator.ID); err != nil {
				log.Printf("[validation] terminate validator %s: %v", validator.ID, err)
			}
		}
		return s.complete(ctx, t)
	}

	t.Status = models.TaskStatusNeedsWork
	t.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(t); err != nil {
		return err
	}

	message := "Validation feedback: " + feedback
	if _, err := s.agents.Send(ctx, t.AssignedAgentID, message, models.AgentLogMessage); err != nil {
		log.Printf("[validation] deliver feedback for task %s: %v", t.ID, err)
	}
	if validator != nil {
		if err := s.agents.Terminate(ctx, validator.ID); err != nil {
			log.Printf("[validation] terminate validator %s: %v", validator.ID, err)
		}
	}

	// Back to the original agent for another round.
	t.Status = models.TaskStatusAssigned
	t.UpdatedAt = time.Now().UTC()
	return s.db.UpdateTask(t)
}

// complete finishes a task: merged to parent, then done, merge commit linked
// to the ticket, original agent terminated, queue processed. The merge runs
// first so a merge failure leaves the task with its agent, retryable, rather
// than done-but-unmerged.
func (s *Service) complete(ctx context.Context, t *models.Task) error {
	agentID := t.AssignedAgentID

	tree, err := s.db.GetWorktreeByAgent(agentID)
	if err != nil {
		return err
	}
	var mergeSHA string
	if tree != nil {
		mergeSHA, err = s.trees.MergeToParent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("merge task %s work: %w", t.ID, err)
		}
	}

	t.Status = models.TaskStatusDone
	t.AssignedAgentID = ""
	t.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(t); err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}

	if mergeSHA != "" && t.TicketID != "" && s.tickets != nil {
		if err := s.tickets.LinkCommit(ctx, t.TicketID, mergeSHA, t.ID); err != nil {
			log.Printf("[validation] link commit %s to ticket %s: %v", mergeSHA, t.TicketID, err)
		}
	}

	if agent, err := s.db.GetAgent(agentID); err == nil && agent != nil {
		if agent.KeptAliveForValidation {
			agent.KeptAliveForValidation = false
			if err := s.db.UpdateAgent(agent); err != nil {
				log.Printf("[validation] clear keep-alive for %s: %v", agentID, err)
			}
		}
	}
	if err := s.agents.Terminate(ctx, agentID); err != nil {
		log.Printf("[validation] terminate agent %s: %v", agentID, err)
	}

	if err := s.tasks.ProcessQueue(ctx); err != nil {
		log.Printf("[validation] process queue: %v", err)
	}
	return nil
}

// findValidator locates the live validator agent linked to the task.
func (s *Service) findValidator(taskID string) (*models.Agent, error) {
	active, err := s.db.ListActiveAgents()
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.AgentType == models.AgentTypeValidator && a.CurrentTaskID == taskID {
			return a, nil
		}
	}
	return nil, nil
}

// SubmitResult records a markdown result file submitted by an agent for its
// workflow and spawns a result validator over it. The markdown must have at
// least one heading and body text; empty shells are rejected.
func (s *Service) SubmitResult(ctx context.Context, workflowID, agentID, path, summary string) (*models.WorkflowResult, error) {
	wf, err := s.db.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", path, err)
	}
	if err := validateMarkdown(source); err != nil {
		return nil, fmt.Errorf("result %s: %w", path, err)
	}

	result := &models.WorkflowResult{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		AgentID:     agentID,
		Path:        path,
		Summary:     summary,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.db.CreateWorkflowResult(result); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}

	if agent, err := s.db.GetAgent(agentID); err == nil && agent != nil && agent.CurrentTaskID != "" {
		if t, err := s.db.GetTask(agent.CurrentTaskID); err == nil && t != nil {
			t.HasResults = true
			t.UpdatedAt = time.Now().UTC()
			if err := s.db.UpdateTask(t); err != nil {
				log.Printf("[validation] flag task %s results: %v", t.ID, err)
			}
		}
	}

	if err := s.spawnResultValidator(ctx, wf, result); err != nil {
		log.Printf("[validation] result validator for %s: %v", result.ID, err)
	}
	return result, nil
}

// spawnResultValidator starts a result validator reading the submitted file.
func (s *Service) spawnResultValidator(ctx context.Context, wf *models.Workflow, result *models.WorkflowResult) error {
	submitter, err := s.db.GetAgent(result.AgentID)
	if err != nil {
		return err
	}
	workingDir := wf.WorkingDir
	if submitter != nil && submitter.WorkingDir != "" {
		workingDir = submitter.WorkingDir
	}

	prompt := fmt.Sprintf(
		"A result for workflow %q was submitted at %s.\n\nWorkflow goal: %s\n\n"+
			"Read the result and judge whether it satisfies the goal. Report pass or fail with specific feedback.",
		wf.Name, result.Path, wf.Goal)

	_, err = s.agents.Spawn(ctx, agents.SpawnRequest{
		Enriched:   prompt,
		AgentType:  models.AgentTypeResultValidator,
		WorkingDir: workingDir,
	})
	return err
}

// CompleteResultValidation applies a result validator's verdict. Pass marks
// the result validated and terminates both agents; fail sends the feedback
// back to the submitter and terminates only the validator.
func (s *Service) CompleteResultValidation(ctx context.Context, resultID string, pass bool, feedback string) error {
	result, err := s.db.GetWorkflowResult(resultID)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("result %s not found", resultID)
	}

	validator, err := s.findResultValidator()
	if err != nil {
		return err
	}
	if validator != nil {
		if err := s.agents.Terminate(ctx, validator.ID); err != nil {
			log.Printf("[validation] terminate result validator %s: %v", validator.ID, err)
		}
	}

	if pass {
		result.Validated = true
		if err := s.db.UpdateWorkflowResult(result); err != nil {
			return fmt.Errorf("validate result %s: %w", resultID, err)
		}
		if err := s.agents.Terminate(ctx, result.AgentID); err != nil {
			log.Printf("[validation] terminate submitter %s: %v", result.AgentID, err)
		}
		if err := s.tasks.ProcessQueue(ctx); err != nil {
			log.Printf("[validation] process queue: %v", err)
		}
		return nil
	}

	message := "Validation feedback: " + feedback
	if _, err := s.agents.Send(ctx, result.AgentID, message, models.AgentLogMessage); err != nil {
		log.Printf("[validation] deliver result feedback: %v", err)
	}
	return nil
}

// findResultValidator locates the live result validator, if one is running.
func (s *Service) findResultValidator() (*models.Agent, error) {
	active, err := s.db.ListActiveAgents()
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.AgentType == models.AgentTypeResultValidator {
			return a, nil
		}
	}
	return nil, nil
}

// validateMarkdown rejects result documents with no heading or no body.
func validateMarkdown(source []byte) error {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	hasHeading := false
	hasBody := false
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Heading:
			hasHeading = true
		case *ast.Paragraph, *ast.List, *ast.FencedCodeBlock, *ast.CodeBlock:
			hasBody = true
		}
		return ast.WalkContinue, nil
	})

	if !hasHeading {
		return fmt.Errorf("markdown has no headings")
	}
	if !hasBody {
		return fmt.Errorf("markdown has no body content")
	}
	return nil
}

func taskDescription(t *models.Task) string {
	if t.EnrichedDescription != "" {
		return t.EnrichedDescription
	}
	return t.RawDescription
}

func (s *Service) requireTask(taskID string) (*models.Task, error) {
	t, err := s.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return t, nil
}
