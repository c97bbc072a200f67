package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client against the Anthropic Messages API for
// the reasoning calls, delegating Embed to a separate Embedder.
type AnthropicClient struct {
	inner    anthropic.Client
	model    anthropic.Model
	embedder *Embedder
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// Model is the Claude model for analysis calls.
	Model anthropic.Model
	// Embedder handles Embed calls. Required.
	Embedder *Embedder
}

// NewAnthropicClient creates a Client backed by the Anthropic API.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	return &AnthropicClient{
		inner:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		embedder: cfg.Embedder,
	}, nil
}

// complete sends a single-turn prompt and returns the text response.
func (c *AnthropicClient) complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic call: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// EnrichTask expands a raw task description into an actionable one.
func (c *AnthropicClient) EnrichTask(ctx context.Context, req EnrichRequest) (*Enrichment, error) {
	var ctxSection string
	if len(req.Context) > 0 {
		ctxSection = "\n## Relevant context\n- " + strings.Join(req.Context, "\n- ") + "\n"
	}
	var phaseSection string
	if req.PhaseName != "" {
		phaseSection = fmt.Sprintf("\n## Current phase\n%s: %s\n", req.PhaseName, req.PhaseGoal)
	}

	prompt := fmt.Sprintf(`You are preparing a task for an autonomous coding agent.

## Raw task
%s

## Done when
%s
%s%s
Rewrite the task as a clear, self-contained work description the agent can act
on without further questions, and estimate how many minutes of focused agent
time it needs.

Respond with ONLY a JSON object:
{"enriched_description": "...", "estimated_complexity": <minutes>}`,
		req.RawDescription, req.DoneCriterion, ctxSection, phaseSection)

	text, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, err
	}

	var enrichment Enrichment
	if err := decodeJSON(text, &enrichment); err != nil {
		return nil, fmt.Errorf("parse enrichment: %w", err)
	}
	if enrichment.EnrichedDescription == "" {
		enrichment.EnrichedDescription = req.RawDescription
	}
	return &enrichment, nil
}

// AnalyzeAgentTrajectory judges one agent's alignment with its task.
func (c *AnthropicClient) AnalyzeAgentTrajectory(ctx context.Context, req TrajectoryRequest) (*TrajectoryAnalysis, error) {
	var past string
	if len(req.PastSummaries) > 0 {
		past = "- " + strings.Join(req.PastSummaries, "\n- ")
	} else {
		past = "(none)"
	}

	prompt := fmt.Sprintf(`You are a trajectory monitor watching an autonomous coding agent
work inside a terminal session. Judge whether the agent is on track.

## Task
%s

## Phase
%s

## Accumulated session context
%s

## Past trajectory summaries (oldest last)
%s

## Last analyzed message marker
%s

## Current terminal output (trailing lines)
%s

Steering types: stuck, drifting, violating_constraints, over_engineering, confused, off_track.

Respond with ONLY a JSON object:
{"current_phase": "...", "trajectory_aligned": true|false,
 "alignment_score": 0.0-1.0, "alignment_issues": ["..."],
 "needs_steering": true|false, "steering_type": "...",
 "steering_recommendation": "...", "trajectory_summary": "...",
 "last_claude_message_marker": "..."}`,
		req.TaskInfo, req.PhaseInfo, req.AccumulatedContext, past,
		req.LastMessageMarker, req.TmuxOutput)

	text, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, err
	}

	var analysis TrajectoryAnalysis
	if err := decodeJSON(text, &analysis); err != nil {
		return nil, fmt.Errorf("parse trajectory analysis: %w", err)
	}
	return &analysis, nil
}

// AnalyzeSystemCoherence judges the fleet as a whole.
func (c *AnthropicClient) AnalyzeSystemCoherence(ctx context.Context, summaries []AgentSummary, systemGoals string) (*CoherenceAnalysis, error) {
	var sb strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&sb, "- agent %s: %s\n", s.AgentID, s.Summary)
	}

	prompt := fmt.Sprintf(`You oversee a fleet of autonomous coding agents. Given each agent's
current trajectory summary and the system goals, judge overall coherence:
find duplicated work, recommend terminations, and flag coordination needs.

## System goals
%s

## Agent summaries
%s
Respond with ONLY a JSON object:
{"coherence_score": 0.0-1.0,
 "duplicates": [{"agent1": "...", "agent2": "...", "similarity": 0.0-1.0, "work": "..."}],
 "alignment_issues": ["..."],
 "termination_recommendations": [{"agent_id": "...", "reason": "..."}],
 "coordination_needs": [{"agents": ["..."], "resource": "...", "action": "..."}],
 "system_summary": "..."}`,
		systemGoals, sb.String())

	text, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, err
	}

	var analysis CoherenceAnalysis
	if err := decodeJSON(text, &analysis); err != nil {
		return nil, fmt.Errorf("parse coherence analysis: %w", err)
	}
	return &analysis, nil
}

// Embed delegates to the configured embedder.
func (c *AnthropicClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.Embed(ctx, text)
}

// decodeJSON extracts and unmarshals the first JSON object in a model
// response, tolerating prose or code fences around it.
func decodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}

// Verify AnthropicClient implements Client at compile time.
var _ Client = (*AnthropicClient)(nil)
