// Package queue provides admission control and priority ordering for tasks
// waiting on an agent slot.
package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Admission is the outcome of an admission check.
type Admission int

const (
	// RunNow means a free agent slot exists and the task can spawn.
	RunNow Admission = iota
	// Enqueue means the fleet is at capacity and the task must wait.
	Enqueue
)

// BlockChecker reports whether a task is blocked by its ticket.
type BlockChecker interface {
	Check(ctx context.Context, task *models.Task) (blocked bool, blockerIDs []string, err error)
}

// Service implements admission control and the priority queue.
type Service struct {
	db      *state.DB
	blocks  BlockChecker
	maxFunc func() int
}

// NewService creates a queue service. maxConcurrent is read per call so
// configuration reloads take effect without restart.
func NewService(db *state.DB, blocks BlockChecker, maxConcurrent func() int) *Service {
	return &Service{db: db, blocks: blocks, maxFunc: maxConcurrent}
}

// Admit returns RunNow iff the number of non-terminated agents is below the
// configured cap.
func (s *Service) Admit(ctx context.Context) (Admission, error) {
	active, err := s.db.CountActiveAgents()
	if err != nil {
		return Enqueue, fmt.Errorf("admission check: %w", err)
	}
	if active < s.maxFunc() {
		return RunNow, nil
	}
	return Enqueue, nil
}

// Add places a task on the queue. If the task's ticket is blocked the task
// goes to blocked instead of queued. Positions are recomputed afterwards.
func (s *Service) Add(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()

	blocked := false
	var blockerIDs []string
	if s.blocks != nil && task.TicketID != "" {
		var err error
		blocked, blockerIDs, err = s.blocks.Check(ctx, task)
		if err != nil {
			// Blocking state is rederivable; default to queued.
			log.Printf("[queue] blocking check for task %s failed: %v", task.ID, err)
			blocked = false
		}
	}

	if blocked {
		task.Status = models.TaskStatusBlocked
		task.QueuePosition = nil
		task.QueuedAt = nil
		task.CompletionNotes = fmt.Sprintf("blocked by %d ticket(s): %v", len(blockerIDs), blockerIDs)
	} else {
		task.Status = models.TaskStatusQueued
		task.QueuedAt = &now
	}
	task.UpdatedAt = now
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return s.Recompute(ctx)
}

// Next returns the first queued task in scheduling order without mutating
// anything. Returns nil when the queue is empty.
func (s *Service) Next(ctx context.Context) (*models.Task, error) {
	tasks, err := s.db.ListQueuedTasks()
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// Dequeue transitions a queued task to assigned, clears its position, and
// recomputes the rest of the queue.
func (s *Service) Dequeue(ctx context.Context, task *models.Task) error {
	if task.Status != models.TaskStatusQueued {
		return fmt.Errorf("dequeue task %s: status is %s, not queued", task.ID, task.Status)
	}
	task.Status = models.TaskStatusAssigned
	task.QueuePosition = nil
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("dequeue task %s: %w", task.ID, err)
	}
	return s.Recompute(ctx)
}

// Boost marks a queued task to jump ahead regardless of priority.
func (s *Service) Boost(ctx context.Context, taskID string) error {
	task, err := s.db.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("boost task %s: %w", taskID, err)
	}
	if task == nil {
		// A missing task is logged, not fatal.
		log.Printf("[queue] boost: task %s not found", taskID)
		return nil
	}
	if task.Status != models.TaskStatusQueued {
		return fmt.Errorf("boost task %s: status is %s, not queued", taskID, task.Status)
	}
	task.PriorityBoosted = true
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("boost task %s: %w", taskID, err)
	}
	return s.Recompute(ctx)
}

// Recompute rewrites queue_position as a 1-based rank over the queued set,
// ordered by (boosted desc, priority desc, queued_at asc). Position is
// derived state, so failures are logged and not fatal.
func (s *Service) Recompute(ctx context.Context) error {
	tasks, err := s.db.ListQueuedTasks()
	if err != nil {
		log.Printf("[queue] recompute: %v", err)
		return nil
	}

	// ListQueuedTasks already orders correctly; the sort makes the rule
	// explicit and stable against storage changes.
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.PriorityBoosted != b.PriorityBoosted {
			return a.PriorityBoosted
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		at, bt := time.Time{}, time.Time{}
		if a.QueuedAt != nil {
			at = *a.QueuedAt
		}
		if b.QueuedAt != nil {
			bt = *b.QueuedAt
		}
		return at.Before(bt)
	})

	positions := make(map[string]int, len(tasks))
	for i, task := range tasks {
		positions[task.ID] = i + 1
	}
	if err := s.db.SetQueuePositions(positions); err != nil {
		log.Printf("[queue] recompute positions: %v", err)
	}
	return nil
}
