package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hephaestus-dev/hephaestus/internal/app"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

var (
	runWorkflowID string
	runPriority   string
	runBoost      bool
	runValidate   bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Start the orchestrator on a goal",
	Long: `Start the orchestrator and work toward a goal.

The goal becomes the active workflow (or attaches to an existing one with
--workflow) and its first task is created, enriched, and admitted. The
process then keeps running: the queue processor admits waiting tasks as
agent slots free up, and the monitor loop watches the fleet, steers
drifting agents, collects orphans, advances phases, and fires the
stuck-workflow diagnostic.

Stop with Ctrl-C; agents keep running in their tmux sessions and the next
run picks the fleet back up from the state database.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrchestrator,
}

func init() {
	runCmd.Flags().StringVar(&runWorkflowID, "workflow", "", "Attach to an existing workflow id instead of creating one")
	runCmd.Flags().StringVar(&runPriority, "priority", "medium", "Initial task priority: low, medium, or high")
	runCmd.Flags().BoolVar(&runBoost, "boost", false, "Spawn the initial task's agent even at capacity")
	runCmd.Flags().BoolVar(&runValidate, "validate", false, "Gate tasks in this workflow behind validator agents")
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := CheckAgentCLI(cfg.Agents.CLICommand); err != nil {
		return err
	}

	priority := models.TaskPriority(runPriority)
	if !priority.Valid() {
		return fmt.Errorf("invalid priority %q: must be low, medium, or high", runPriority)
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	wf, err := ensureWorkflow(a, goal)
	if err != nil {
		return err
	}

	created, err := a.Tasks().Create(ctx, task.CreateRequest{
		RawDescription: goal,
		Priority:       priority,
		WorkflowID:     wf.ID,
		PhaseID:        firstPhaseID(a, wf),
		Boost:          runBoost,
	})
	if err != nil {
		return fmt.Errorf("create initial task: %w", err)
	}

	fmt.Printf("%s workflow %s\n", color.GreenString("✓"), wf.ID)
	fmt.Printf("%s task %s (%s)\n", color.GreenString("✓"), created.ID, created.Status)
	fmt.Printf("  Agent cap: %d  Monitor tick: %s\n\n", cfg.Agents.MaxConcurrent, cfg.MonitorInterval())

	// Stop on our own once the workflow completes.
	go watchCompletion(ctx, cancel, a, wf.ID)

	if err := a.Run(ctx); err != nil {
		return err
	}

	final, err := a.DB().GetWorkflow(wf.ID)
	if err == nil && final != nil && final.Status == models.WorkflowStatusCompleted {
		fmt.Printf("\n%s workflow %s completed\n", color.GreenString("✓"), wf.ID)
	}
	return nil
}

// ensureWorkflow attaches to the requested workflow, reuses the single active
// one, or creates a new workflow around the goal.
func ensureWorkflow(a *app.App, goal string) (*models.Workflow, error) {
	if runWorkflowID != "" {
		wf, err := a.DB().GetWorkflow(runWorkflowID)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			return nil, fmt.Errorf("workflow %s not found", runWorkflowID)
		}
		return wf, nil
	}

	active, err := a.DB().ListActiveWorkflows()
	if err != nil {
		return nil, err
	}
	switch len(active) {
	case 0:
		// fall through to creation
	case 1:
		return active[0], nil
	default:
		return nil, fmt.Errorf("%d active workflows; pick one with --workflow", len(active))
	}

	wf := &models.Workflow{
		ID:         uuid.New().String(),
		Name:       workflowName(goal),
		Goal:       goal,
		Status:     models.WorkflowStatusActive,
		WorkingDir: a.Config().Paths.MainRepo,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.DB().CreateWorkflow(wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	phase := &models.Phase{
		ID:                uuid.New().String(),
		WorkflowID:        wf.ID,
		Order:             1,
		Name:              "main",
		Description:       goal,
		DoneDefinitions:   []string{goal},
		ValidationEnabled: runValidate,
		Status:            models.PhaseStatusInProgress,
	}
	if err := a.DB().CreatePhase(phase); err != nil {
		return nil, fmt.Errorf("create phase: %w", err)
	}
	return wf, nil
}

// workflowName derives a short display name from the goal text.
func workflowName(goal string) string {
	words := strings.Fields(goal)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

// firstPhaseID returns the workflow's first in-progress phase, if any.
func firstPhaseID(a *app.App, wf *models.Workflow) string {
	phases, err := a.DB().ListPhases(wf.ID)
	if err != nil {
		return ""
	}
	for _, p := range phases {
		if p.Status == models.PhaseStatusInProgress {
			return p.ID
		}
	}
	return ""
}

// watchCompletion cancels the run once the workflow leaves the active state.
func watchCompletion(ctx context.Context, cancel context.CancelFunc, a *app.App, workflowID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wf, err := a.DB().GetWorkflow(workflowID)
			if err != nil || wf == nil {
				continue
			}
			if wf.Status != models.WorkflowStatusActive {
				cancel()
				return
			}
		}
	}
}
