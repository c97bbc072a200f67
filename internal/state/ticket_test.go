package state

import (
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func newTestTicket(id, workflowID string) *models.Ticket {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Ticket{
		ID:          id,
		WorkflowID:  workflowID,
		Title:       "Implement JWT login",
		Description: "Add a login endpoint issuing JWTs",
		Type:        "feature",
		Priority:    models.TicketPriorityMedium,
		Status:      "backlog",
		Tags:        []string{"auth", "backend"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func setupWorkflow(t *testing.T, db *DB, id string) {
	t.Helper()
	wf := &models.Workflow{
		ID:        id,
		Name:      "wf",
		Goal:      "ship the thing",
		Status:    models.WorkflowStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateWorkflow(wf); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
}

func TestCreateAndGetTicket(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")

	ticket := newTestTicket("tick-1", "wf-1")
	ticket.BlockedByTicketIDs = []string{"tick-0"}
	if err := db.CreateTicket(ticket); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	got, err := db.GetTicket("tick-1")
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTicket returned nil")
	}
	if got.Title != ticket.Title || got.Status != "backlog" {
		t.Errorf("ticket mismatch: %+v", got)
	}
	if len(got.BlockedByTicketIDs) != 1 || got.BlockedByTicketIDs[0] != "tick-0" {
		t.Errorf("blockers = %v", got.BlockedByTicketIDs)
	}
}

func TestListTicketsBlockedBy(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")

	blocker := newTestTicket("tick-blocker", "wf-1")
	db.CreateTicket(blocker)

	blocked := newTestTicket("tick-blocked", "wf-1")
	blocked.BlockedByTicketIDs = []string{"tick-blocker"}
	db.CreateTicket(blocked)

	free := newTestTicket("tick-free", "wf-1")
	db.CreateTicket(free)

	got, err := db.ListTicketsBlockedBy("tick-blocker")
	if err != nil {
		t.Fatalf("ListTicketsBlockedBy failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "tick-blocked" {
		t.Errorf("unexpected blocked set: %d entries", len(got))
	}
}

func TestSearchTickets(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")

	auth := newTestTicket("tick-auth", "wf-1")
	db.CreateTicket(auth)

	other := newTestTicket("tick-db", "wf-1")
	other.Title = "Tune database indexes"
	other.Description = "Slow queries on the tasks table"
	other.Tags = []string{"performance"}
	db.CreateTicket(other)

	got, err := db.SearchTickets("wf-1", "JWT login", 10)
	if err != nil {
		t.Fatalf("SearchTickets failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "tick-auth" {
		t.Errorf("search results: %d entries", len(got))
	}

	// Search reflects updates.
	other.Title = "Tune JWT token cache"
	other.UpdatedAt = time.Now().UTC()
	if err := db.UpdateTicket(other); err != nil {
		t.Fatalf("UpdateTicket failed: %v", err)
	}
	got, err = db.SearchTickets("wf-1", "JWT", 10)
	if err != nil {
		t.Fatalf("SearchTickets after update failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("search after update: %d entries, want 2", len(got))
	}
}

func TestBoardConfigRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")

	board := models.DefaultBoardConfig("wf-1")
	if err := db.SaveBoardConfig(board); err != nil {
		t.Fatalf("SaveBoardConfig failed: %v", err)
	}

	got, err := db.GetBoardConfig("wf-1")
	if err != nil {
		t.Fatalf("GetBoardConfig failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetBoardConfig returned nil")
	}
	if len(got.Columns) != len(board.Columns) || got.InitialStatus != board.InitialStatus {
		t.Errorf("board mismatch: %+v", got)
	}

	missing, err := db.GetBoardConfig("wf-none")
	if err != nil {
		t.Fatalf("GetBoardConfig for missing workflow failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing board, got %+v", missing)
	}
}

func TestTicketHistoryAndComments(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")
	ticket := newTestTicket("tick-1", "wf-1")
	db.CreateTicket(ticket)

	err := db.AddTicketHistory(&models.TicketHistoryEntry{
		ID: "h-1", TicketID: "tick-1", Kind: "status_change",
		FromStatus: "backlog", ToStatus: "ready", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddTicketHistory failed: %v", err)
	}
	err = db.CreateTicketComment(&models.TicketComment{
		ID: "c-1", TicketID: "tick-1", Author: "system",
		Body: "moved to ready", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTicketComment failed: %v", err)
	}

	history, err := db.ListTicketHistory("tick-1")
	if err != nil || len(history) != 1 {
		t.Fatalf("ListTicketHistory: %v entries, err %v", len(history), err)
	}
	if history[0].Kind != "status_change" || history[0].ToStatus != "ready" {
		t.Errorf("history mismatch: %+v", history[0])
	}

	comments, err := db.ListTicketComments("tick-1")
	if err != nil || len(comments) != 1 {
		t.Fatalf("ListTicketComments: %v entries, err %v", len(comments), err)
	}
}

func TestTicketCommits(t *testing.T) {
	db := setupTestDB(t)
	setupWorkflow(t, db, "wf-1")
	ticket := newTestTicket("tick-1", "wf-1")
	db.CreateTicket(ticket)

	err := db.CreateTicketCommit(&models.TicketCommit{
		ID: "tc-1", TicketID: "tick-1", CommitSHA: "abc123",
		TaskID: "task-1", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTicketCommit failed: %v", err)
	}

	commits, err := db.ListTicketCommits("tick-1")
	if err != nil || len(commits) != 1 {
		t.Fatalf("ListTicketCommits: %v entries, err %v", len(commits), err)
	}
	if commits[0].CommitSHA != "abc123" || commits[0].TaskID != "task-1" {
		t.Errorf("commit mismatch: %+v", commits[0])
	}
}
