package ticket

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func TestLoadBoardFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("columns: [todo, doing, done]\ninitial_status: todo\n"), 0644); err != nil {
		t.Fatalf("write board file: %v", err)
	}

	board, err := LoadBoardFile(path, "wf-1")
	if err != nil {
		t.Fatalf("LoadBoardFile failed: %v", err)
	}
	if board.WorkflowID != "wf-1" {
		t.Errorf("workflow id = %s, want wf-1", board.WorkflowID)
	}
	if len(board.Columns) != 3 || board.Columns[0] != "todo" {
		t.Errorf("columns = %v", board.Columns)
	}
	if board.InitialStatus != "todo" {
		t.Errorf("initial status = %s, want todo", board.InitialStatus)
	}
	// Fields the file omits keep the default board's values.
	if len(board.TicketTypes) == 0 {
		t.Error("ticket types not defaulted")
	}
	if !board.AutoLinkCommits {
		t.Error("auto link commits not defaulted")
	}
}

func TestBoardFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	board := &models.BoardConfig{
		WorkflowID:    "wf-1",
		Columns:       []string{"backlog", "active", "shipped"},
		TicketTypes:   []string{"feature"},
		InitialStatus: "backlog",
	}
	if err := SaveBoardFile(path, board); err != nil {
		t.Fatalf("SaveBoardFile failed: %v", err)
	}

	got, err := LoadBoardFile(path, "")
	if err != nil {
		t.Fatalf("LoadBoardFile failed: %v", err)
	}
	if got.WorkflowID != board.WorkflowID || got.InitialStatus != board.InitialStatus {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.Columns) != 3 || got.Columns[2] != "shipped" {
		t.Errorf("columns = %v", got.Columns)
	}
}

func TestLoadBoardFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("columns: [unclosed"), 0644); err != nil {
		t.Fatalf("write board file: %v", err)
	}
	if _, err := LoadBoardFile(path, "wf-1"); err == nil {
		t.Fatal("expected parse error")
	}
}
