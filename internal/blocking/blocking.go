// Package blocking derives task blocked-state from the ticket blocking graph.
// A task is blocked exactly when its ticket lists at least one unresolved
// blocker; tasks without tickets are never blocked.
package blocking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Requeuer places a task back on the scheduling queue. Satisfied by the
// queue service.
type Requeuer interface {
	Add(ctx context.Context, task *models.Task) error
}

// Service checks and synchronizes task blocking against ticket state.
type Service struct {
	db    *state.DB
	queue Requeuer
}

// NewService creates a blocking service. The requeuer may be nil for
// check-only use; Unblock and Sync then leave tasks blocked.
func NewService(db *state.DB, queue Requeuer) *Service {
	return &Service{db: db, queue: queue}
}

// SetQueue wires the requeuer after construction. The queue service needs
// this service as its block checker, so one of the two is set late.
func (s *Service) SetQueue(queue Requeuer) {
	s.queue = queue
}

// Check reports whether a task is blocked and by which tickets. A task with
// no ticket, or whose ticket is missing, is not blocked.
func (s *Service) Check(ctx context.Context, task *models.Task) (bool, []string, error) {
	if task.TicketID == "" {
		return false, nil, nil
	}
	blockers, err := s.UnresolvedBlockers(ctx, task.TicketID)
	if err != nil {
		return false, nil, err
	}
	return len(blockers) > 0, blockers, nil
}

// UnresolvedBlockers returns the subset of a ticket's blockers that are not
// yet resolved. Blockers that no longer exist are ignored.
func (s *Service) UnresolvedBlockers(ctx context.Context, ticketID string) ([]string, error) {
	ticket, err := s.db.GetTicket(ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if ticket == nil {
		return nil, nil
	}

	var unresolved []string
	for _, blockerID := range ticket.BlockedByTicketIDs {
		blocker, err := s.db.GetTicket(blockerID)
		if err != nil {
			return nil, fmt.Errorf("load blocker %s: %w", blockerID, err)
		}
		if blocker != nil && !blocker.Resolved {
			unresolved = append(unresolved, blockerID)
		}
	}
	return unresolved, nil
}

// Block moves a task into blocked state with a human-readable reason.
// Blocked tasks never hold a queue position.
func (s *Service) Block(ctx context.Context, task *models.Task, reason string) error {
	task.Status = models.TaskStatusBlocked
	task.QueuePosition = nil
	task.CompletionNotes = reason
	task.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTask(task); err != nil {
		return fmt.Errorf("block task %s: %w", task.ID, err)
	}
	return nil
}

// Unblock moves a blocked task back to the queue. Unblocked tasks always go
// to queued, never back to pending, with a fresh queued-at stamp.
func (s *Service) Unblock(ctx context.Context, task *models.Task) error {
	if task.Status != models.TaskStatusBlocked {
		return fmt.Errorf("unblock task %s: status is %s, not blocked", task.ID, task.Status)
	}
	task.CompletionNotes = ""
	if s.queue == nil {
		return fmt.Errorf("unblock task %s: no queue configured", task.ID)
	}
	// Add re-checks blocking, stamps queued_at, and recomputes positions.
	if err := s.queue.Add(ctx, task); err != nil {
		return fmt.Errorf("requeue task %s: %w", task.ID, err)
	}
	return nil
}

// Sync reconciles ticket-linked tasks to the derived blocked state in both
// directions: blocked tasks whose blockers all resolved requeue, and
// pending/queued tasks whose ticket became blocked transition to blocked.
// Tasks already attached to a running agent are left alone and logged.
// Individual task failures are logged and skipped so one bad row cannot
// wedge the rest. Returns the number of tasks unblocked.
func (s *Service) Sync(ctx context.Context) (int, error) {
	reconcilable := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusBlocked,
		models.TaskStatusAssigned, models.TaskStatusInProgress,
	}

	unblocked := 0
	for _, status := range reconcilable {
		tasks, err := s.db.ListTasksByStatus(status)
		if err != nil {
			return unblocked, fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, task := range tasks {
			if task.TicketID == "" {
				continue
			}
			blocked, blockers, err := s.Check(ctx, task)
			if err != nil {
				log.Printf("[blocking] sync: check task %s: %v", task.ID, err)
				continue
			}
			switch {
			case blocked && task.Status == models.TaskStatusBlocked:
				// Already consistent.
			case blocked && task.Status.RequiresAgent():
				// An agent is mid-flight; blocking now would strand it.
				log.Printf("[blocking] sync: task %s is %s but ticket %s is blocked by %v",
					task.ID, task.Status, task.TicketID, blockers)
			case blocked:
				reason := fmt.Sprintf("blocked by %d ticket(s): %v", len(blockers), blockers)
				if err := s.Block(ctx, task, reason); err != nil {
					log.Printf("[blocking] sync: %v", err)
				}
			case task.Status == models.TaskStatusBlocked:
				if err := s.Unblock(ctx, task); err != nil {
					log.Printf("[blocking] sync: unblock task %s: %v", task.ID, err)
					continue
				}
				unblocked++
			}
		}
	}
	return unblocked, nil
}

// SyncTicket requeues blocked tasks attached to one ticket if the ticket is
// no longer blocked. Used after a blocker resolves so the cascade does not
// wait for the next full sweep.
func (s *Service) SyncTicket(ctx context.Context, ticketID string) (int, error) {
	blockers, err := s.UnresolvedBlockers(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if len(blockers) > 0 {
		return 0, nil
	}

	tasks, err := s.db.ListTasksByStatus(models.TaskStatusBlocked)
	if err != nil {
		return 0, fmt.Errorf("list blocked tasks: %w", err)
	}
	unblocked := 0
	for _, task := range tasks {
		if task.TicketID != ticketID {
			continue
		}
		if err := s.Unblock(ctx, task); err != nil {
			log.Printf("[blocking] sync ticket %s: unblock task %s: %v", ticketID, task.ID, err)
			continue
		}
		unblocked++
	}
	return unblocked, nil
}

// WouldCycle reports whether adding blockerID as a blocker of ticketID
// creates a cycle in the blocking graph. A ticket blocking itself is the
// trivial cycle.
func (s *Service) WouldCycle(ctx context.Context, ticketID, blockerID string) (bool, error) {
	if ticketID == blockerID {
		return true, nil
	}
	// Walk blockerID's blocker chain; a path back to ticketID is a cycle.
	seen := map[string]bool{}
	frontier := []string{blockerID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		ticket, err := s.db.GetTicket(id)
		if err != nil {
			return false, fmt.Errorf("load ticket %s: %w", id, err)
		}
		if ticket == nil {
			continue
		}
		for _, next := range ticket.BlockedByTicketIDs {
			if next == ticketID {
				return true, nil
			}
			frontier = append(frontier, next)
		}
	}
	return false, nil
}
