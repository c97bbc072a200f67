package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// pastSummaryCount is how many prior analyses feed the next one.
const pastSummaryCount = 10

// Guardian analyzes one agent's trajectory per tick and steers it when the
// analysis says so.
type Guardian struct {
	db     *state.DB
	client llm.Client
	agents *agents.Manager
	cfg    func() *config.Config
	logger *DebugLogger
}

// NewGuardian creates a Guardian. cfg is read per call so configuration
// reloads take effect without restart.
func NewGuardian(db *state.DB, client llm.Client, mgr *agents.Manager, cfg func() *config.Config, logger *DebugLogger) *Guardian {
	if logger == nil {
		logger = NopLogger()
	}
	return &Guardian{db: db, client: client, agents: mgr, cfg: cfg, logger: logger}
}

// Analyze runs one trajectory analysis for the agent. Agents younger than
// the grace period are skipped, returning nil. The returned analysis feeds
// the Conductor's system pass.
func (g *Guardian) Analyze(ctx context.Context, agent *models.Agent, now time.Time) (*models.GuardianAnalysis, error) {
	cfg := g.cfg()
	if now.Sub(agent.CreatedAt) < cfg.GuardianMinAgentAge() {
		return nil, nil
	}

	output, err := g.agents.Output(ctx, agent.ID, cfg.Monitoring.TmuxOutputLines)
	if err != nil {
		return nil, fmt.Errorf("guardian capture for %s: %w", agent.ID, err)
	}

	past, err := g.db.ListGuardianAnalyses(agent.ID, pastSummaryCount)
	if err != nil {
		return nil, err
	}
	summaries := make([]string, 0, len(past))
	lastMarker := ""
	for _, p := range past {
		summaries = append(summaries, p.TrajectorySummary)
	}
	if len(past) > 0 {
		lastMarker = past[0].LastMessageMarker
	}

	logs, err := g.db.ListAgentLogs(agent.ID, 0,
		models.AgentLogInput, models.AgentLogOutput, models.AgentLogMessage,
		models.AgentLogSteering, models.AgentLogIntervention)
	if err != nil {
		return nil, err
	}
	acc := BuildContext(agent, logs, now)

	taskInfo, phaseInfo, err := g.taskAndPhaseInfo(agent)
	if err != nil {
		return nil, err
	}

	result, err := g.client.AnalyzeAgentTrajectory(ctx, llm.TrajectoryRequest{
		AccumulatedContext: acc.String(),
		PastSummaries:      summaries,
		TaskInfo:           taskInfo,
		PhaseInfo:          phaseInfo,
		LastMessageMarker:  lastMarker,
		TmuxOutput:         output,
	})
	if err != nil {
		// A failed analysis call must not read as agent failure: record a
		// default-aligned tick so the history stays continuous and the
		// health counter is untouched.
		g.logger.Log("guardian: analysis for %s failed, defaulting to aligned: %v", agent.ID, err)
		result = &llm.TrajectoryAnalysis{
			TrajectoryAligned: true,
			AlignmentScore:    1.0,
			TrajectorySummary: "analysis unavailable: " + err.Error(),
			LastMessageMarker: lastMarker,
		}
	}

	analysis := &models.GuardianAnalysis{
		AgentID:                agent.ID,
		CurrentPhase:           result.CurrentPhase,
		TrajectoryAligned:      result.TrajectoryAligned,
		AlignmentScore:         result.AlignmentScore,
		AlignmentIssues:        result.AlignmentIssues,
		NeedsSteering:          result.NeedsSteering,
		SteeringType:           models.SteeringType(result.SteeringType),
		SteeringRecommendation: result.SteeringRecommendation,
		TrajectorySummary:      result.TrajectorySummary,
		LastMessageMarker:      result.LastMessageMarker,
		CreatedAt:              now,
	}
	if err := g.db.CreateGuardianAnalysis(analysis); err != nil {
		return nil, err
	}

	if err := g.updateHealth(agent, result, cfg.Agents.MaxHealthCheckFailures); err != nil {
		return nil, err
	}

	if result.NeedsSteering {
		if err := g.steer(ctx, agent, analysis, now, cfg.SteeringThrottle()); err != nil {
			g.logger.Log("guardian: steering %s failed: %v", agent.ID, err)
		}
	}
	return analysis, nil
}

// updateHealth applies the alignment verdict to the agent's failure counter:
// aligned resets it, a score below 0.3 adds two, below 0.5 adds one. The
// counter clamps at max, and crossing max marks the agent stuck.
func (g *Guardian) updateHealth(agent *models.Agent, result *llm.TrajectoryAnalysis, max int) error {
	switch {
	case result.TrajectoryAligned:
		agent.HealthCheckFailures = 0
	case result.AlignmentScore < 0.3:
		agent.HealthCheckFailures += 2
	case result.AlignmentScore < 0.5:
		agent.HealthCheckFailures++
	}
	if agent.HealthCheckFailures > max {
		agent.HealthCheckFailures = max
	}
	if agent.HealthCheckFailures >= max && agent.Status == models.AgentStatusWorking {
		agent.Status = models.AgentStatusStuck
		g.logger.Log("guardian: agent %s marked stuck after %d failures", agent.ID, agent.HealthCheckFailures)
	}
	if agent.Status == models.AgentStatusStuck && result.TrajectoryAligned {
		agent.Status = models.AgentStatusWorking
	}
	return g.db.UpdateAgent(agent)
}

// steer delivers the recommendation unless the agent was steered within the
// throttle window. Discarded deliveries (anti-spam) are recorded but do not
// count against the throttle.
func (g *Guardian) steer(ctx context.Context, agent *models.Agent, analysis *models.GuardianAnalysis, now time.Time, throttle time.Duration) error {
	last, err := g.db.LastDeliveredSteering(agent.ID)
	if err != nil {
		return err
	}
	if last != nil && now.Sub(*last) < throttle {
		g.logger.Log("guardian: steering %s throttled (last %s ago)", agent.ID, now.Sub(*last).Round(time.Second))
		return nil
	}

	steeringType := strings.ToUpper(string(analysis.SteeringType))
	message := fmt.Sprintf("[GUARDIAN GUIDANCE - %s]: %s", steeringType, analysis.SteeringRecommendation)

	delivered, err := g.agents.Send(ctx, agent.ID, message, models.AgentLogSteering)
	if err != nil {
		return err
	}
	intervention := &models.SteeringIntervention{
		AgentID:      agent.ID,
		SteeringType: analysis.SteeringType,
		Message:      message,
		Delivered:    delivered,
		CreatedAt:    now,
	}
	return g.db.CreateSteeringIntervention(intervention)
}

// taskAndPhaseInfo renders the agent's task and phase for the prompt.
func (g *Guardian) taskAndPhaseInfo(agent *models.Agent) (string, string, error) {
	if agent.CurrentTaskID == "" {
		return "no task assigned", "", nil
	}
	task, err := g.db.GetTask(agent.CurrentTaskID)
	if err != nil {
		return "", "", err
	}
	if task == nil {
		return "no task assigned", "", nil
	}

	desc := task.EnrichedDescription
	if desc == "" {
		desc = task.RawDescription
	}
	taskInfo := fmt.Sprintf("task %s (%s): %s", task.ID, task.Status, desc)
	if task.DoneCriterion != "" {
		taskInfo += "\ndone when: " + task.DoneCriterion
	}

	phaseInfo := ""
	if task.PhaseID != "" {
		phase, err := g.db.GetPhase(task.PhaseID)
		if err != nil {
			return "", "", err
		}
		if phase != nil {
			phaseInfo = fmt.Sprintf("phase %d: %s - %s", phase.Order, phase.Name, phase.Description)
		}
	}
	return taskInfo, phaseInfo, nil
}
