// Package config handles configuration loading and management for Hephaestus.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for Hephaestus.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Diagnostic DiagnosticConfig `mapstructure:"diagnostic"`
	Paths      PathsConfig      `mapstructure:"paths"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AgentsConfig holds agent fleet settings.
type AgentsConfig struct {
	// MaxConcurrent caps the number of non-terminated agents.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// CLICommand is the command launched inside each agent session.
	CLICommand string `mapstructure:"cli_command"`
	// SessionPrefix prefixes tmux session names for orphan detection.
	SessionPrefix string `mapstructure:"session_prefix"`
	// TimeoutMinutes is the base task timeout; scaled by estimated complexity.
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MaxHealthCheckFailures marks an agent stuck once exceeded.
	MaxHealthCheckFailures int `mapstructure:"max_health_check_failures"`
}

// DedupConfig holds task deduplication settings.
type DedupConfig struct {
	// Enabled toggles embedding-based duplicate detection.
	Enabled bool `mapstructure:"enabled"`
	// SimilarityThreshold marks a task duplicated at or above this cosine.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// RelatedThreshold records related tasks at or above this cosine.
	RelatedThreshold float64 `mapstructure:"related_threshold"`
	// EmbeddingModel selects the embedding model.
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// MonitoringConfig holds Guardian/Conductor loop settings.
type MonitoringConfig struct {
	// IntervalSeconds is the monitor tick period.
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// GuardianMinAgentAgeSeconds is the grace period before first analysis.
	GuardianMinAgentAgeSeconds int `mapstructure:"guardian_min_agent_age_seconds"`
	// TmuxOutputLines is how many trailing lines each capture reads.
	TmuxOutputLines int `mapstructure:"tmux_output_lines"`
	// StuckDetectionMinutes is how long without activity marks an agent stuck.
	StuckDetectionMinutes int `mapstructure:"stuck_detection_minutes"`
	// SteeringThrottleSeconds is the minimum gap between steerings per agent.
	SteeringThrottleSeconds int `mapstructure:"steering_throttle_seconds"`
}

// DiagnosticConfig holds stuck-workflow diagnostic settings.
type DiagnosticConfig struct {
	// Enabled toggles the stuck-workflow detector.
	Enabled bool `mapstructure:"enabled"`
	// CooldownSeconds is the minimum gap between diagnostic runs.
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	// MinStuckTimeSeconds is the required quiet period before firing.
	MinStuckTimeSeconds int `mapstructure:"min_stuck_time_seconds"`
	// MaxAgentsToAnalyze bounds terminated-agent context.
	MaxAgentsToAnalyze int `mapstructure:"max_agents_to_analyze"`
	// MaxConductorAnalyses bounds conductor-analysis context.
	MaxConductorAnalyses int `mapstructure:"max_conductor_analyses"`
}

// PathsConfig holds filesystem and service locations.
type PathsConfig struct {
	// MainRepo is the repository agents work against.
	MainRepo string `mapstructure:"main_repo"`
	// Database is the SQLite database location.
	Database string `mapstructure:"database"`
	// WorktreeBase is where agent worktrees are materialized.
	WorktreeBase string `mapstructure:"worktree_base"`
	// VectorIndex is the persistence directory for the similarity index.
	VectorIndex string `mapstructure:"vector_index"`
}

// MonitorInterval returns the tick period as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitoring.IntervalSeconds) * time.Second
}

// GuardianMinAgentAge returns the agent grace period as a duration.
func (c *Config) GuardianMinAgentAge() time.Duration {
	return time.Duration(c.Monitoring.GuardianMinAgentAgeSeconds) * time.Second
}

// SteeringThrottle returns the per-agent steering gap as a duration.
func (c *Config) SteeringThrottle() time.Duration {
	return time.Duration(c.Monitoring.SteeringThrottleSeconds) * time.Second
}

// OrphanGracePeriod returns the grace before an unmatched session is
// garbage-collected: max(2 x tick, guardian min age).
func (c *Config) OrphanGracePeriod() time.Duration {
	tick := 2 * c.MonitorInterval()
	age := c.GuardianMinAgentAge()
	if age > tick {
		return age
	}
	return tick
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, HEPHAESTUS_*)
// 2. Project config (.hephaestus.yaml in current directory or parent)
// 3. User config (~/.config/hephaestus/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HEPHAESTUS")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Watch re-loads the project config whenever it changes and calls onChange
// with the fresh configuration. Returns a stop function. If no project
// config exists, Watch is a no-op.
func Watch(onChange func(*Config)) (func(), error) {
	projectConfig := findProjectConfig()
	if projectConfig == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(projectConfig)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != projectConfig {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if cfg, err := Load(); err == nil {
					onChange(cfg)
				}
			case <-watcher.Errors:
				// Watch errors are non-fatal; the stale config stays in effect.
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// Validate checks that the configuration is internally consistent.
func Validate(cfg *Config) error {
	if cfg.Agents.MaxConcurrent < 1 {
		return fmt.Errorf("agents.max_concurrent must be at least 1, got %d", cfg.Agents.MaxConcurrent)
	}
	if cfg.Dedup.SimilarityThreshold < cfg.Dedup.RelatedThreshold {
		return fmt.Errorf("dedup.similarity_threshold (%.2f) must be >= dedup.related_threshold (%.2f)",
			cfg.Dedup.SimilarityThreshold, cfg.Dedup.RelatedThreshold)
	}
	if cfg.Monitoring.IntervalSeconds < 1 {
		return fmt.Errorf("monitoring.interval_seconds must be at least 1, got %d", cfg.Monitoring.IntervalSeconds)
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("agents.max_concurrent", 3)
	v.SetDefault("agents.cli_command", "claude")
	v.SetDefault("agents.session_prefix", "hph-")
	v.SetDefault("agents.timeout_minutes", 30)
	v.SetDefault("agents.max_health_check_failures", 5)

	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("dedup.related_threshold", 0.70)
	v.SetDefault("dedup.embedding_model", "voyage-3")

	v.SetDefault("monitoring.interval_seconds", 30)
	v.SetDefault("monitoring.guardian_min_agent_age_seconds", 120)
	v.SetDefault("monitoring.tmux_output_lines", 200)
	v.SetDefault("monitoring.stuck_detection_minutes", 10)
	v.SetDefault("monitoring.steering_throttle_seconds", 300)

	v.SetDefault("diagnostic.enabled", true)
	v.SetDefault("diagnostic.cooldown_seconds", 60)
	v.SetDefault("diagnostic.min_stuck_time_seconds", 60)
	v.SetDefault("diagnostic.max_agents_to_analyze", 5)
	v.SetDefault("diagnostic.max_conductor_analyses", 3)

	v.SetDefault("paths.main_repo", ".")
	v.SetDefault("paths.database", defaultDatabasePath())
	v.SetDefault("paths.worktree_base", "")
	v.SetDefault("paths.vector_index", "")
}

// getUserConfigDir returns the XDG config directory for Hephaestus.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hephaestus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hephaestus")
	}
	return filepath.Join(home, ".config", "hephaestus")
}

// defaultDatabasePath returns the XDG data location for the state database.
func defaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hephaestus", "hephaestus.db")
}

// findProjectConfig searches for .hephaestus.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hephaestus.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			MaxConcurrent:          3,
			CLICommand:             "claude",
			SessionPrefix:          "hph-",
			TimeoutMinutes:         30,
			MaxHealthCheckFailures: 5,
		},
		Dedup: DedupConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			RelatedThreshold:    0.70,
			EmbeddingModel:      "voyage-3",
		},
		Monitoring: MonitoringConfig{
			IntervalSeconds:            30,
			GuardianMinAgentAgeSeconds: 120,
			TmuxOutputLines:            200,
			StuckDetectionMinutes:      10,
			SteeringThrottleSeconds:    300,
		},
		Diagnostic: DiagnosticConfig{
			Enabled:              true,
			CooldownSeconds:      60,
			MinStuckTimeSeconds:  60,
			MaxAgentsToAnalyze:   5,
			MaxConductorAnalyses: 3,
		},
		Paths: PathsConfig{
			MainRepo: ".",
			Database: defaultDatabasePath(),
		},
	}
}
