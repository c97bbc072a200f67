package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/git"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/tmux"
	"github.com/hephaestus-dev/hephaestus/internal/worktree"
)

var (
	cleanupForce  bool
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned tmux sessions and abandoned worktrees",
	Long: `Clean up after crashes and interrupted runs.

This command:
  - Kills tmux sessions matching the agent prefix that no live agent owns
  - Removes abandoned worktrees and their branches, then prunes metadata

Unlike the monitor's orphan collection, cleanup applies no grace period:
it acts immediately on whatever it finds.

Examples:
  hephaestus cleanup            # Interactive cleanup with confirmation
  hephaestus cleanup --force    # Skip confirmation prompt
  hephaestus cleanup --dry-run  # Show what would be removed`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Paths.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	host := tmux.NewExecHost()
	orphans, err := orphanSessions(db, host, cfg.Agents.SessionPrefix)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned sessions found.")
	} else {
		fmt.Printf("Found %d orphaned session(s):\n", len(orphans))
		for _, name := range orphans {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Println()

		if cleanupDryRun {
			fmt.Println("Dry run mode - no sessions were killed.")
		} else if cleanupForce || confirm("Kill these sessions?") {
			killed := 0
			for _, name := range orphans {
				if err := host.Kill(name); err != nil {
					fmt.Printf("Warning: kill %s: %v\n", name, err)
					continue
				}
				killed++
			}
			fmt.Printf("%s killed %d orphaned session(s).\n", color.GreenString("✓"), killed)
		} else {
			fmt.Println("Session cleanup cancelled.")
		}
	}

	if cleanupDryRun {
		return nil
	}

	trees := worktree.NewManager(db, git.NewRunner(cfg.Paths.MainRepo),
		cfg.Paths.MainRepo, cfg.Paths.WorktreeBase)
	cleaned, err := trees.Cleanup(context.Background())
	if err != nil {
		return fmt.Errorf("cleanup worktrees: %w", err)
	}
	if cleaned > 0 {
		fmt.Printf("%s removed %d abandoned worktree(s).\n", color.GreenString("✓"), cleaned)
	} else {
		fmt.Println("No abandoned worktrees found.")
	}
	return nil
}

// orphanSessions lists prefix-matched sessions that no non-terminated agent
// owns.
func orphanSessions(db *state.DB, host tmux.SessionHost, prefix string) ([]string, error) {
	names, err := host.List()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var orphans []string
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		agent, err := db.GetAgentBySession(name)
		if err != nil {
			return nil, fmt.Errorf("look up session %s: %w", name, err)
		}
		if agent == nil || !agent.Active() {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
