package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the configured agent CLI is available in PATH.
func CheckAgentCLI(command string) error {
	_, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("agent CLI %q not found in PATH\n\n"+
			"Hephaestus orchestrates long-running coding agents by launching\n"+
			"this command inside tmux sessions. Install it, or point\n"+
			"agents.cli_command in your config at a different CLI.", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "hephaestus",
	Short: "Orchestrator for fleets of long-running coding agents",
	Long: `Hephaestus runs fleets of external coding agents in tmux sessions,
each isolated in its own git worktree, and keeps them on course.

Core capabilities:
- Enriches raw task descriptions and detects duplicates via embeddings
- Admits tasks against a concurrency cap with a priority queue
- Watches every agent with an LLM Guardian and steers drifting ones
- Runs a system-wide Conductor that deduplicates and coordinates agents
- Validates finished work with validator agents and merges on pass`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(versionCmd)
}
