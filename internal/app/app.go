// Package app assembles the orchestrator: it opens the state database, builds
// every service with its dependencies, and runs the queue processor and the
// monitor loop. Nothing here is global; a process can hold several Apps.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/blocking"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/embedding"
	"github.com/hephaestus-dev/hephaestus/internal/git"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/monitor"
	"github.com/hephaestus-dev/hephaestus/internal/queue"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/task"
	"github.com/hephaestus-dev/hephaestus/internal/ticket"
	"github.com/hephaestus-dev/hephaestus/internal/tmux"
	"github.com/hephaestus-dev/hephaestus/internal/validation"
	"github.com/hephaestus-dev/hephaestus/internal/vector"
	"github.com/hephaestus-dev/hephaestus/internal/worktree"
)

// Option overrides a default dependency, mainly for tests.
type Option func(*options)

type options struct {
	host   tmux.SessionHost
	client llm.Client
	runner git.Runner
	logger *monitor.DebugLogger
}

// WithSessionHost substitutes the tmux host.
func WithSessionHost(host tmux.SessionHost) Option {
	return func(o *options) { o.host = host }
}

// WithLLMClient substitutes the LLM client.
func WithLLMClient(client llm.Client) Option {
	return func(o *options) { o.client = client }
}

// WithGitRunner substitutes the git runner used for worktrees.
func WithGitRunner(runner git.Runner) Option {
	return func(o *options) { o.runner = runner }
}

// WithDebugLogger substitutes the monitor debug logger.
func WithDebugLogger(logger *monitor.DebugLogger) Option {
	return func(o *options) { o.logger = logger }
}

// App holds every wired service plus the mutable configuration.
type App struct {
	mu  sync.RWMutex
	cfg *config.Config

	db         *state.DB
	host       tmux.SessionHost
	logger     *monitor.DebugLogger
	queue      *queue.Service
	blocks     *blocking.Service
	tickets    *ticket.Service
	worktrees  *worktree.Manager
	agents     *agents.Manager
	tasks      *task.Service
	validation *validation.Service
	loop       *monitor.Loop
}

// New validates the configuration, opens and migrates the database, and wires
// every service. The returned App owns the database handle; Close releases it.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := state.Open(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	a := &App{cfg: cfg, db: db}

	a.host = o.host
	if a.host == nil {
		a.host = tmux.NewExecHost()
	}

	client := o.client
	if client == nil {
		client, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:   cfg.Anthropic.APIKey,
			Embedder: llm.NewEmbedder(llm.WithModel(cfg.Dedup.EmbeddingModel)),
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create llm client: %w", err)
		}
	}

	var index vector.Index
	if cfg.Paths.VectorIndex != "" {
		chromem, err := vector.NewChromemIndex(cfg.Paths.VectorIndex, "tickets")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		index = chromem
	}

	embedSvc := embedding.NewService(client)
	similarity := embedding.NewSimilarityService(db, embedSvc,
		cfg.Dedup.SimilarityThreshold, cfg.Dedup.RelatedThreshold)

	a.blocks = blocking.NewService(db, nil)
	a.queue = queue.NewService(db, a.blocks, func() int {
		return a.Config().Agents.MaxConcurrent
	})
	a.blocks.SetQueue(a.queue)

	a.tickets = ticket.NewService(db, a.blocks, embedSvc, index)

	runner := o.runner
	if runner == nil {
		runner = git.NewRunner(cfg.Paths.MainRepo)
	}
	a.worktrees = worktree.NewManager(db, runner, cfg.Paths.MainRepo, cfg.Paths.WorktreeBase)
	a.agents = agents.NewManager(db, a.host, a.worktrees, cfg.Agents.CLICommand, cfg.Agents.SessionPrefix)

	a.tasks = task.NewService(db, client, similarity, a.queue, a.blocks, a.agents, a.Config)
	a.validation = validation.NewService(db, a.agents, a.worktrees, a.tickets, a.tasks)

	a.logger = o.logger
	if a.logger == nil {
		a.logger = monitor.NewDebugLoggerForRepo(cfg.Paths.MainRepo)
	}
	guardian := monitor.NewGuardian(db, client, a.agents, a.Config, a.logger)
	conductor := monitor.NewConductor(db, client, a.agents, a.logger)
	diagnostic := monitor.NewDiagnostic(db, a.agents, cfg.Paths.MainRepo, a.Config, a.logger)
	a.loop = monitor.NewLoop(db, a.host, guardian, conductor, a.agents, a.tasks, diagnostic, a.Config, a.logger)

	return a, nil
}

// Config returns the current configuration. Services hold this method as a
// closure so reloads take effect without restarts.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Reload swaps in a new configuration after validating it. Invalid configs
// are rejected and the running one stays in effect.
func (a *App) Reload(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	log.Printf("[app] configuration reloaded (max_concurrent=%d, interval=%s)",
		cfg.Agents.MaxConcurrent, cfg.MonitorInterval())
	return nil
}

// Run starts the queue processor and the monitor loop and watches the project
// config for changes. It returns when the context is canceled and both loops
// have drained.
func (a *App) Run(ctx context.Context) error {
	stop, err := config.Watch(func(cfg *config.Config) {
		if err := a.Reload(cfg); err != nil {
			log.Printf("[app] %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.tasks.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.loop.Run(ctx)
	}()
	wg.Wait()
	return nil
}

// Close releases the database and the debug log.
func (a *App) Close() error {
	a.logger.Close()
	return a.db.Close()
}

// DB exposes the state store.
func (a *App) DB() *state.DB { return a.db }

// Tasks exposes the task service.
func (a *App) Tasks() *task.Service { return a.tasks }

// Queue exposes the queue service.
func (a *App) Queue() *queue.Service { return a.queue }

// Tickets exposes the ticket service.
func (a *App) Tickets() *ticket.Service { return a.tickets }

// Agents exposes the agent manager.
func (a *App) Agents() *agents.Manager { return a.agents }

// Worktrees exposes the worktree manager.
func (a *App) Worktrees() *worktree.Manager { return a.worktrees }

// Validation exposes the validation service.
func (a *App) Validation() *validation.Service { return a.validation }

// Loop exposes the monitor loop.
func (a *App) Loop() *monitor.Loop { return a.loop }
