package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hephaestus-dev/hephaestus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show effective configuration",
	Long: `Display the effective configuration after merging defaults, the user
config (~/.config/hephaestus/config.yaml), the project config
(.hephaestus.yaml found by walking up), and environment variables.

Without arguments, displays all values. With a key argument, displays that
value only.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}
		value, err := configValue(cfg, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

// displayAllConfig prints every configuration value, masking the API key.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("agents.max_concurrent: %d\n", cfg.Agents.MaxConcurrent)
	fmt.Printf("agents.cli_command: %s\n", cfg.Agents.CLICommand)
	fmt.Printf("agents.session_prefix: %s\n", cfg.Agents.SessionPrefix)
	fmt.Printf("agents.timeout_minutes: %d\n", cfg.Agents.TimeoutMinutes)
	fmt.Printf("agents.max_health_check_failures: %d\n", cfg.Agents.MaxHealthCheckFailures)
	fmt.Printf("dedup.enabled: %t\n", cfg.Dedup.Enabled)
	fmt.Printf("dedup.similarity_threshold: %.2f\n", cfg.Dedup.SimilarityThreshold)
	fmt.Printf("dedup.related_threshold: %.2f\n", cfg.Dedup.RelatedThreshold)
	fmt.Printf("dedup.embedding_model: %s\n", cfg.Dedup.EmbeddingModel)
	fmt.Printf("monitoring.interval_seconds: %d\n", cfg.Monitoring.IntervalSeconds)
	fmt.Printf("monitoring.guardian_min_agent_age_seconds: %d\n", cfg.Monitoring.GuardianMinAgentAgeSeconds)
	fmt.Printf("monitoring.tmux_output_lines: %d\n", cfg.Monitoring.TmuxOutputLines)
	fmt.Printf("monitoring.stuck_detection_minutes: %d\n", cfg.Monitoring.StuckDetectionMinutes)
	fmt.Printf("monitoring.steering_throttle_seconds: %d\n", cfg.Monitoring.SteeringThrottleSeconds)
	fmt.Printf("diagnostic.enabled: %t\n", cfg.Diagnostic.Enabled)
	fmt.Printf("diagnostic.cooldown_seconds: %d\n", cfg.Diagnostic.CooldownSeconds)
	fmt.Printf("diagnostic.min_stuck_time_seconds: %d\n", cfg.Diagnostic.MinStuckTimeSeconds)
	fmt.Printf("diagnostic.max_agents_to_analyze: %d\n", cfg.Diagnostic.MaxAgentsToAnalyze)
	fmt.Printf("diagnostic.max_conductor_analyses: %d\n", cfg.Diagnostic.MaxConductorAnalyses)
	fmt.Printf("paths.main_repo: %s\n", cfg.Paths.MainRepo)
	fmt.Printf("paths.database: %s\n", cfg.Paths.Database)
	fmt.Printf("paths.worktree_base: %s\n", cfg.Paths.WorktreeBase)
	fmt.Printf("paths.vector_index: %s\n", cfg.Paths.VectorIndex)
}

// configValue retrieves a configuration value by dot-notation key.
func configValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "agents.max_concurrent":
		return strconv.Itoa(cfg.Agents.MaxConcurrent), nil
	case "agents.cli_command":
		return cfg.Agents.CLICommand, nil
	case "agents.session_prefix":
		return cfg.Agents.SessionPrefix, nil
	case "agents.timeout_minutes":
		return strconv.Itoa(cfg.Agents.TimeoutMinutes), nil
	case "agents.max_health_check_failures":
		return strconv.Itoa(cfg.Agents.MaxHealthCheckFailures), nil
	case "dedup.enabled":
		return strconv.FormatBool(cfg.Dedup.Enabled), nil
	case "dedup.similarity_threshold":
		return fmt.Sprintf("%.2f", cfg.Dedup.SimilarityThreshold), nil
	case "dedup.related_threshold":
		return fmt.Sprintf("%.2f", cfg.Dedup.RelatedThreshold), nil
	case "dedup.embedding_model":
		return cfg.Dedup.EmbeddingModel, nil
	case "monitoring.interval_seconds":
		return strconv.Itoa(cfg.Monitoring.IntervalSeconds), nil
	case "monitoring.guardian_min_agent_age_seconds":
		return strconv.Itoa(cfg.Monitoring.GuardianMinAgentAgeSeconds), nil
	case "monitoring.tmux_output_lines":
		return strconv.Itoa(cfg.Monitoring.TmuxOutputLines), nil
	case "monitoring.stuck_detection_minutes":
		return strconv.Itoa(cfg.Monitoring.StuckDetectionMinutes), nil
	case "monitoring.steering_throttle_seconds":
		return strconv.Itoa(cfg.Monitoring.SteeringThrottleSeconds), nil
	case "diagnostic.enabled":
		return strconv.FormatBool(cfg.Diagnostic.Enabled), nil
	case "diagnostic.cooldown_seconds":
		return strconv.Itoa(cfg.Diagnostic.CooldownSeconds), nil
	case "diagnostic.min_stuck_time_seconds":
		return strconv.Itoa(cfg.Diagnostic.MinStuckTimeSeconds), nil
	case "diagnostic.max_agents_to_analyze":
		return strconv.Itoa(cfg.Diagnostic.MaxAgentsToAnalyze), nil
	case "diagnostic.max_conductor_analyses":
		return strconv.Itoa(cfg.Diagnostic.MaxConductorAnalyses), nil
	case "paths.main_repo":
		return cfg.Paths.MainRepo, nil
	case "paths.database":
		return cfg.Paths.Database, nil
	case "paths.worktree_base":
		return cfg.Paths.WorktreeBase, nil
	case "paths.vector_index":
		return cfg.Paths.VectorIndex, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}
