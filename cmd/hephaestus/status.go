package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflows, the queue, and the agent fleet",
	Long: `Display the current orchestrator state.

Shows:
  - Active workflows and their phases
  - Task counts by status and the waiting queue
  - Live agents with their sessions and current tasks`,
	RunE: runStatus,
}

var (
	statusHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(cfg.Paths.Database); os.IsNotExist(err) {
		fmt.Println("No state database. Run 'hephaestus run <goal>' to start.")
		return nil
	}

	db, err := state.Open(cfg.Paths.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	workflows, err := db.ListActiveWorkflows()
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	if len(workflows) == 0 {
		fmt.Println("No active workflow. Run 'hephaestus run <goal>' to start.")
		return nil
	}

	for _, wf := range workflows {
		if err := displayWorkflow(db, wf); err != nil {
			return err
		}
	}
	return displayAgents(db)
}

func displayWorkflow(db *state.DB, wf *models.Workflow) error {
	fmt.Println(statusHeader.Render(fmt.Sprintf("Workflow %s — %s", wf.Name, wf.ID)))
	fmt.Printf("  %s %s\n", statusLabel.Render("Goal:"), wf.Goal)
	fmt.Printf("  %s %s ago\n", statusLabel.Render("Started:"), formatAge(time.Since(wf.CreatedAt)))

	phases, err := db.ListPhases(wf.ID)
	if err != nil {
		return fmt.Errorf("list phases: %w", err)
	}
	for _, p := range phases {
		marker := statusLabel.Render("·")
		switch p.Status {
		case models.PhaseStatusCompleted:
			marker = statusOK.Render("✓")
		case models.PhaseStatusInProgress:
			marker = statusWarn.Render("▶")
		}
		fmt.Printf("  %s phase %d %s (%s)\n", marker, p.Order, p.Name, p.Status)
	}

	tasks, err := db.ListTasksByWorkflow(wf.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("  %s %d total", statusLabel.Render("Tasks:"), len(tasks))
	for _, s := range []models.TaskStatus{
		models.TaskStatusInProgress, models.TaskStatusQueued, models.TaskStatusBlocked,
		models.TaskStatusValidationInProgress, models.TaskStatusDone,
		models.TaskStatusFailed, models.TaskStatusDuplicated,
	} {
		if counts[s] > 0 {
			fmt.Printf("  %s %d", statusLabel.Render(string(s)+":"), counts[s])
		}
	}
	fmt.Println()

	queued, err := db.ListQueuedTasks()
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if len(queued) > 0 {
		fmt.Println("  " + statusLabel.Render("Queue:"))
		for _, t := range queued {
			pos := 0
			if t.QueuePosition != nil {
				pos = *t.QueuePosition
			}
			boost := ""
			if t.PriorityBoosted {
				boost = " " + statusWarn.Render("(boosted)")
			}
			fmt.Printf("    %2d. [%s] %s%s\n", pos, t.Priority, truncate(t.RawDescription, 60), boost)
		}
	}
	fmt.Println()
	return nil
}

func displayAgents(db *state.DB) error {
	agents, err := db.ListActiveAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	fmt.Println(statusHeader.Render(fmt.Sprintf("Agents: %d live", len(agents))))
	for _, a := range agents {
		style := statusOK
		if a.Status == models.AgentStatusStuck {
			style = statusBad
		}
		taskNote := ""
		if a.CurrentTaskID != "" {
			if t, err := db.GetTask(a.CurrentTaskID); err == nil && t != nil {
				taskNote = fmt.Sprintf(" — %s", truncate(t.RawDescription, 50))
			}
		}
		fmt.Printf("  %s %s %s [%s] idle %s%s\n",
			style.Render(string(a.Status)), a.SessionName, statusLabel.Render(string(a.AgentType)),
			shortID(a.ID), formatAge(time.Since(a.LastActivity)), taskNote)
	}
	return nil
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
