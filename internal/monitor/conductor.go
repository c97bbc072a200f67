package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/agents"
	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// escalationThreshold is the coherence score below which the Conductor
// escalates.
const escalationThreshold = 0.5

// ConductorDecision is one decision taken from a coherence analysis,
// serialized into the analysis row.
type ConductorDecision struct {
	Type   models.ConductorDecisionType `json:"type"`
	Target string                       `json:"target,omitempty"`
	Reason string                       `json:"reason,omitempty"`
	Taken  bool                         `json:"taken"`
}

// Conductor runs the system-wide coherence pass over Guardian summaries and
// executes the resulting decisions.
type Conductor struct {
	db     *state.DB
	client llm.Client
	agents *agents.Manager
	logger *DebugLogger
}

// NewConductor creates a Conductor.
func NewConductor(db *state.DB, client llm.Client, mgr *agents.Manager, logger *DebugLogger) *Conductor {
	if logger == nil {
		logger = NopLogger()
	}
	return &Conductor{db: db, client: client, agents: mgr, logger: logger}
}

// Run analyzes the tick's summaries and immediately executes the decisions:
// duplicate terminations (never against validators), coordination messages,
// and escalation logging. The analysis and any detected duplicates are
// persisted.
func (c *Conductor) Run(ctx context.Context, summaries []llm.AgentSummary, systemGoals string, now time.Time) (*models.ConductorAnalysis, error) {
	if len(summaries) == 0 {
		return nil, nil
	}

	result, err := c.client.AnalyzeSystemCoherence(ctx, summaries, systemGoals)
	if err != nil {
		return nil, fmt.Errorf("conductor analysis: %w", err)
	}

	var decisions []ConductorDecision
	for _, term := range result.TerminationRecommendations {
		decisions = append(decisions, c.terminate(ctx, term))
	}
	for _, coord := range result.CoordinationNeeds {
		decisions = append(decisions, c.coordinate(ctx, coord)...)
	}
	if result.CoherenceScore < escalationThreshold {
		c.logger.Log("conductor: CRITICAL coherence %.2f: %s", result.CoherenceScore, result.SystemSummary)
		decisions = append(decisions, ConductorDecision{
			Type:   models.DecisionEscalate,
			Reason: fmt.Sprintf("coherence %.2f below %.2f", result.CoherenceScore, escalationThreshold),
			Taken:  true,
		})
	}

	encoded, _ := json.Marshal(decisions)
	analysis := &models.ConductorAnalysis{
		CoherenceScore: result.CoherenceScore,
		AgentsAnalyzed: len(summaries),
		SystemSummary:  result.SystemSummary,
		Decisions:      string(encoded),
		CreatedAt:      now,
	}
	if err := c.db.CreateConductorAnalysis(analysis); err != nil {
		return nil, err
	}

	for _, dup := range result.Duplicates {
		record := &models.DetectedDuplicate{
			AnalysisID: analysis.ID,
			Agent1ID:   dup.Agent1,
			Agent2ID:   dup.Agent2,
			Similarity: dup.Similarity,
			Work:       dup.Work,
			CreatedAt:  now,
		}
		if err := c.db.CreateDetectedDuplicate(record); err != nil {
			c.logger.Log("conductor: record duplicate %s/%s: %v", dup.Agent1, dup.Agent2, err)
		}
	}
	return analysis, nil
}

// terminate executes one termination recommendation. Validators are never
// terminated by coherence decisions.
func (c *Conductor) terminate(ctx context.Context, term llm.Termination) ConductorDecision {
	decision := ConductorDecision{
		Type:   models.DecisionTerminateDuplicate,
		Target: term.AgentID,
		Reason: term.Reason,
	}

	agent, err := c.db.GetAgent(term.AgentID)
	if err != nil || agent == nil {
		c.logger.Log("conductor: terminate %s: agent not found (%v)", term.AgentID, err)
		return decision
	}
	if agent.AgentType.Validator() {
		c.logger.Log("conductor: SAFETY: skipping termination of validator agent %s", term.AgentID)
		return decision
	}

	if err := c.agents.Terminate(ctx, term.AgentID); err != nil {
		c.logger.Log("conductor: terminate %s: %v", term.AgentID, err)
		return decision
	}
	// The victim's task must not stay pinned to a dead agent, or admission
	// keeps counting it and phase progression never fires.
	if agent.CurrentTaskID != "" {
		if err := c.releaseTask(agent.CurrentTaskID, term.Reason); err != nil {
			c.logger.Log("conductor: release task %s: %v", agent.CurrentTaskID, err)
		}
	}
	c.logger.Log("conductor: terminated duplicate agent %s: %s", term.AgentID, term.Reason)
	decision.Taken = true
	return decision
}

// releaseTask marks a terminated duplicate's task duplicated and detaches it
// from the dead agent. Tasks already terminal are left alone.
func (c *Conductor) releaseTask(taskID, reason string) error {
	task, err := c.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil || task.Status.Terminal() {
		return nil
	}
	task.Status = models.TaskStatusDuplicated
	task.AssignedAgentID = ""
	task.QueuePosition = nil
	if reason != "" {
		task.CompletionNotes = "duplicate work: " + reason
	}
	task.UpdatedAt = time.Now().UTC()
	return c.db.UpdateTask(task)
}

// coordinate sends ordered access messages: the first listed agent gets
// priority, the rest are asked to wait.
func (c *Conductor) coordinate(ctx context.Context, coord llm.Coordination) []ConductorDecision {
	var decisions []ConductorDecision
	for i, agentID := range coord.Agents {
		var message string
		if i == 0 {
			message = fmt.Sprintf("[COORDINATION]: you have priority access to %s; %s", coord.Resource, coord.Action)
		} else {
			message = fmt.Sprintf("[COORDINATION]: please wait for %s before touching %s; %s",
				strings.Join(coord.Agents[:i], ", "), coord.Resource, coord.Action)
		}

		decision := ConductorDecision{
			Type:   models.DecisionCoordinate,
			Target: agentID,
			Reason: coord.Resource,
		}
		if _, err := c.agents.Send(ctx, agentID, message, models.AgentLogMessage); err != nil {
			c.logger.Log("conductor: coordinate %s: %v", agentID, err)
		} else {
			decision.Taken = true
		}
		decisions = append(decisions, decision)
	}
	return decisions
}
