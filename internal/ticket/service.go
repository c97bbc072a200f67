// Package ticket implements ticket CRUD, board-validated status transitions,
// the blocking graph, and resolve-and-cascade unblocking.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-dev/hephaestus/internal/blocking"
	"github.com/hephaestus-dev/hephaestus/internal/embedding"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/vector"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// Sentinel errors for refused transitions.
var (
	// ErrTicketBlocked means a status change was refused because the ticket
	// has unresolved blockers.
	ErrTicketBlocked = errors.New("ticket is blocked")
	// ErrCircularBlocking means a blocker edge would create a cycle.
	ErrCircularBlocking = errors.New("circular blocking")
	// ErrNotFound means the ticket does not exist.
	ErrNotFound = errors.New("ticket not found")
)

// Service manages tickets and their boards.
type Service struct {
	db     *state.DB
	blocks *blocking.Service
	embed  *embedding.Service
	index  vector.Index
}

// NewService creates a ticket service. embed and index may be nil; similarity
// indexing then degrades to keyword search only.
func NewService(db *state.DB, blocks *blocking.Service, embed *embedding.Service, index vector.Index) *Service {
	return &Service{db: db, blocks: blocks, embed: embed, index: index}
}

// Board returns the workflow's board configuration, falling back to the
// default board when none is saved.
func (s *Service) Board(workflowID string) (*models.BoardConfig, error) {
	board, err := s.db.GetBoardConfig(workflowID)
	if err != nil {
		return nil, fmt.Errorf("load board for %s: %w", workflowID, err)
	}
	if board == nil {
		return models.DefaultBoardConfig(workflowID), nil
	}
	return board, nil
}

// ConfigureBoard validates and saves a workflow board. The initial status
// must be one of the columns.
func (s *Service) ConfigureBoard(board *models.BoardConfig) error {
	if len(board.Columns) == 0 {
		return fmt.Errorf("configure board %s: no columns", board.WorkflowID)
	}
	if !board.HasColumn(board.InitialStatus) {
		return fmt.Errorf("configure board %s: initial status %q is not a column",
			board.WorkflowID, board.InitialStatus)
	}
	if err := s.db.SaveBoardConfig(board); err != nil {
		return err
	}
	return nil
}

// CreateRequest carries the fields for a new ticket.
type CreateRequest struct {
	WorkflowID         string
	Title              string
	Description        string
	Type               string
	Priority           models.TicketPriority
	ParentTicketID     string
	BlockedByTicketIDs []string
	Tags               []string
}

// Create validates the request against the workflow's board, persists the
// ticket, and indexes it for similarity search. Indexing failures degrade to
// keyword-only search and are logged, never fatal.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ticket, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("create ticket: title is required")
	}
	board, err := s.Board(req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if req.Type != "" && !board.HasType(req.Type) {
		return nil, fmt.Errorf("create ticket: type %q not allowed on this board", req.Type)
	}
	if req.Priority == "" {
		req.Priority = models.TicketPriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("create ticket: invalid priority %q", req.Priority)
	}

	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:             uuid.New().String(),
		WorkflowID:     req.WorkflowID,
		Title:          req.Title,
		Description:    req.Description,
		Type:           req.Type,
		Priority:       req.Priority,
		Status:         board.InitialStatus,
		ParentTicketID: req.ParentTicketID,
		Tags:           req.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, blockerID := range req.BlockedByTicketIDs {
		cyclic, err := s.blocks.WouldCycle(ctx, ticket.ID, blockerID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, fmt.Errorf("create ticket: blocker %s: %w", blockerID, ErrCircularBlocking)
		}
		ticket.BlockedByTicketIDs = append(ticket.BlockedByTicketIDs, blockerID)
	}

	s.embedTicket(ctx, ticket)
	if err := s.db.CreateTicket(ticket); err != nil {
		return nil, err
	}
	s.indexTicket(ctx, ticket)
	return ticket, nil
}

// Get retrieves a ticket, returning ErrNotFound when it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.db.GetTicket(id)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	return ticket, nil
}

// SetStatus moves a ticket to another board column. Blocked tickets cannot
// change status; the error names the blocker count.
func (s *Service) SetStatus(ctx context.Context, id, status string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Blocked() {
		return nil, fmt.Errorf("ticket %s is blocked by %d tickets: %w",
			id, len(ticket.BlockedByTicketIDs), ErrTicketBlocked)
	}
	board, err := s.Board(ticket.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !board.HasColumn(status) {
		return nil, fmt.Errorf("ticket %s: %q is not a board column", id, status)
	}
	if status == ticket.Status {
		return ticket, nil
	}

	from := ticket.Status
	ticket.Status = status
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTicket(ticket); err != nil {
		return nil, err
	}
	s.history(ticket.ID, "status_change", from, status, "")
	return ticket, nil
}

// UpdateRequest carries the editable fields of a ticket. Nil pointers leave
// the field unchanged.
type UpdateRequest struct {
	Title       *string
	Description *string
	Type        *string
	Priority    *models.TicketPriority
	Tags        []string
}

// Update edits a ticket's descriptive fields and refreshes its embedding.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	board, err := s.Board(ticket.WorkflowID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, fmt.Errorf("update ticket %s: title cannot be empty", id)
		}
		ticket.Title = *req.Title
	}
	if req.Description != nil {
		ticket.Description = *req.Description
	}
	if req.Type != nil {
		if *req.Type != "" && !board.HasType(*req.Type) {
			return nil, fmt.Errorf("update ticket %s: type %q not allowed on this board", id, *req.Type)
		}
		ticket.Type = *req.Type
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return nil, fmt.Errorf("update ticket %s: invalid priority %q", id, *req.Priority)
		}
		ticket.Priority = *req.Priority
	}
	if req.Tags != nil {
		ticket.Tags = req.Tags
	}

	ticket.UpdatedAt = time.Now().UTC()
	s.embedTicket(ctx, ticket)
	if err := s.db.UpdateTicket(ticket); err != nil {
		return nil, err
	}
	s.indexTicket(ctx, ticket)
	return ticket, nil
}

// AddBlocker adds a blocker edge after checking the graph stays acyclic.
func (s *Service) AddBlocker(ctx context.Context, id, blockerID string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, blockerID); err != nil {
		return nil, fmt.Errorf("add blocker: %w", err)
	}
	for _, existing := range ticket.BlockedByTicketIDs {
		if existing == blockerID {
			return ticket, nil
		}
	}
	cyclic, err := s.blocks.WouldCycle(ctx, id, blockerID)
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, fmt.Errorf("ticket %s blocked by %s: %w", id, blockerID, ErrCircularBlocking)
	}

	ticket.BlockedByTicketIDs = append(ticket.BlockedByTicketIDs, blockerID)
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTicket(ticket); err != nil {
		return nil, err
	}
	s.history(id, "blocked_update", "", "", "added blocker "+blockerID)

	// Tasks linked to this ticket may need to move to blocked.
	if _, err := s.blocks.Sync(ctx); err != nil {
		log.Printf("[ticket] sync after blocking %s: %v", id, err)
	}
	return ticket, nil
}

// RemoveBlocker drops a blocker edge and requeues tasks if the ticket is now
// clear.
func (s *Service) RemoveBlocker(ctx context.Context, id, blockerID string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var kept []string
	removed := false
	for _, existing := range ticket.BlockedByTicketIDs {
		if existing == blockerID {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return ticket, nil
	}

	ticket.BlockedByTicketIDs = kept
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTicket(ticket); err != nil {
		return nil, err
	}
	s.history(id, "blocked_update", "", "", "removed blocker "+blockerID)

	if _, err := s.blocks.SyncTicket(ctx, id); err != nil {
		log.Printf("[ticket] sync after unblocking %s: %v", id, err)
	}
	return ticket, nil
}

// Resolve marks a ticket resolved and cascades: every ticket blocked by it
// drops the edge and records an "unblocked" audit entry, and tasks attached
// to newly clear tickets requeue.
func (s *Service) Resolve(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Resolved {
		return ticket, nil
	}

	ticket.Resolved = true
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateTicket(ticket); err != nil {
		return nil, err
	}
	s.history(id, "resolved", "", "", "")

	dependents, err := s.db.ListTicketsBlockedBy(id)
	if err != nil {
		return nil, fmt.Errorf("resolve ticket %s: load dependents: %w", id, err)
	}
	for _, dep := range dependents {
		var kept []string
		for _, blockerID := range dep.BlockedByTicketIDs {
			if blockerID != id {
				kept = append(kept, blockerID)
			}
		}
		dep.BlockedByTicketIDs = kept
		dep.UpdatedAt = time.Now().UTC()
		if err := s.db.UpdateTicket(dep); err != nil {
			log.Printf("[ticket] resolve cascade: update %s: %v", dep.ID, err)
			continue
		}
		s.history(dep.ID, "unblocked", "", "", "blocker "+id+" resolved")

		if _, err := s.blocks.SyncTicket(ctx, dep.ID); err != nil {
			log.Printf("[ticket] resolve cascade: sync %s: %v", dep.ID, err)
		}
	}
	return ticket, nil
}

// Comment appends a comment to a ticket.
func (s *Service) Comment(ctx context.Context, id, author, body string) (*models.TicketComment, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	comment := &models.TicketComment{
		ID:        uuid.New().String(),
		TicketID:  id,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.CreateTicketComment(comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// LinkCommit records a merge commit against a ticket with an audit entry.
func (s *Service) LinkCommit(ctx context.Context, id, commitSHA, taskID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	link := &models.TicketCommit{
		ID:        uuid.New().String(),
		TicketID:  id,
		CommitSHA: commitSHA,
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.CreateTicketCommit(link); err != nil {
		return err
	}
	s.history(id, "commit_linked", "", "", commitSHA)
	return nil
}

// Search finds tickets similar to the query. Vector search runs first; any
// embedding or index failure degrades to keyword search over the FTS index.
func (s *Service) Search(ctx context.Context, workflowID, query string, limit int) ([]*models.Ticket, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.embed != nil && s.index != nil {
		tickets, err := s.vectorSearch(ctx, workflowID, query, limit)
		if err == nil {
			return tickets, nil
		}
		log.Printf("[ticket] vector search failed, using keywords: %v", err)
	}
	return s.db.SearchTickets(workflowID, query, limit)
}

func (s *Service) vectorSearch(ctx context.Context, workflowID, query string, limit int) ([]*models.Ticket, error) {
	vec, err := s.embed.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.index.Search(ctx, vec, map[string]string{"workflow_id": workflowID}, limit)
	if err != nil {
		return nil, err
	}
	var tickets []*models.Ticket
	for _, hit := range hits {
		ticket, err := s.db.GetTicket(hit.ID)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			tickets = append(tickets, ticket)
		}
	}
	return tickets, nil
}

// embedTicket computes the weighted embedding in place. Failures are logged;
// the ticket still saves without a vector.
func (s *Service) embedTicket(ctx context.Context, ticket *models.Ticket) {
	if s.embed == nil {
		return
	}
	vec, err := s.embed.EmbedTicket(ctx, ticket)
	if err != nil {
		log.Printf("[ticket] embed %s: %v", ticket.ID, err)
		return
	}
	ticket.Embedding = vec
}

// indexTicket upserts the ticket into the similarity index.
func (s *Service) indexTicket(ctx context.Context, ticket *models.Ticket) {
	if s.index == nil || len(ticket.Embedding) == 0 {
		return
	}
	payload := map[string]string{
		"workflow_id": ticket.WorkflowID,
		"content":     ticket.Title,
	}
	if err := s.index.Upsert(ctx, ticket.ID, ticket.Embedding, payload); err != nil {
		log.Printf("[ticket] index %s: %v", ticket.ID, err)
	}
}

// history writes an audit entry, logging rather than failing on error.
func (s *Service) history(ticketID, kind, from, to, detail string) {
	entry := &models.TicketHistoryEntry{
		ID:         uuid.New().String(),
		TicketID:   ticketID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.AddTicketHistory(entry); err != nil {
		log.Printf("[ticket] history %s/%s: %v", ticketID, kind, err)
	}
}
