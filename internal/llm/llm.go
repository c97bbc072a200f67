// Package llm provides the language-model capability interface used by the
// orchestrator: task enrichment, per-agent trajectory analysis, system-wide
// coherence analysis, and text embedding.
package llm

import "context"

// Enrichment is the result of enriching a raw task description.
type Enrichment struct {
	// EnrichedDescription is the expanded, actionable task description.
	EnrichedDescription string `json:"enriched_description"`
	// EstimatedComplexity is the LLM's estimate in minutes of agent time.
	EstimatedComplexity int `json:"estimated_complexity"`
}

// EnrichRequest carries everything the enrichment prompt needs.
type EnrichRequest struct {
	RawDescription string
	DoneCriterion  string
	Context        []string
	PhaseName      string
	PhaseGoal      string
}

// TrajectoryRequest carries the Guardian's per-agent analysis input.
type TrajectoryRequest struct {
	AccumulatedContext string
	PastSummaries      []string
	TaskInfo           string
	PhaseInfo          string
	LastMessageMarker  string
	TmuxOutput         string
}

// TrajectoryAnalysis is the Guardian's per-agent verdict.
type TrajectoryAnalysis struct {
	CurrentPhase           string   `json:"current_phase"`
	TrajectoryAligned      bool     `json:"trajectory_aligned"`
	AlignmentScore         float64  `json:"alignment_score"`
	AlignmentIssues        []string `json:"alignment_issues"`
	NeedsSteering          bool     `json:"needs_steering"`
	SteeringType           string   `json:"steering_type"`
	SteeringRecommendation string   `json:"steering_recommendation"`
	TrajectorySummary      string   `json:"trajectory_summary"`
	LastMessageMarker      string   `json:"last_claude_message_marker"`
}

// AgentSummary pairs an agent with its latest trajectory summary for the
// Conductor's system-wide pass.
type AgentSummary struct {
	AgentID string `json:"agent_id"`
	Summary string `json:"summary"`
}

// DuplicatePair describes two agents found doing the same work.
type DuplicatePair struct {
	Agent1     string  `json:"agent1"`
	Agent2     string  `json:"agent2"`
	Similarity float64 `json:"similarity"`
	Work       string  `json:"work"`
}

// Termination is a Conductor recommendation to terminate an agent.
type Termination struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// Coordination is a Conductor recommendation to order access to a shared
// resource across agents.
type Coordination struct {
	Agents   []string `json:"agents"`
	Resource string   `json:"resource"`
	Action   string   `json:"action"`
}

// CoherenceAnalysis is the Conductor's system-wide verdict.
type CoherenceAnalysis struct {
	CoherenceScore             float64         `json:"coherence_score"`
	Duplicates                 []DuplicatePair `json:"duplicates"`
	AlignmentIssues            []string        `json:"alignment_issues"`
	TerminationRecommendations []Termination   `json:"termination_recommendations"`
	CoordinationNeeds          []Coordination  `json:"coordination_needs"`
	SystemSummary              string          `json:"system_summary"`
}

// Client is the capability interface over the language model provider.
type Client interface {
	// EnrichTask expands a raw task description into an actionable one and
	// estimates its complexity.
	EnrichTask(ctx context.Context, req EnrichRequest) (*Enrichment, error)
	// AnalyzeAgentTrajectory judges one agent's alignment with its task.
	AnalyzeAgentTrajectory(ctx context.Context, req TrajectoryRequest) (*TrajectoryAnalysis, error)
	// AnalyzeSystemCoherence judges the fleet as a whole.
	AnalyzeSystemCoherence(ctx context.Context, summaries []AgentSummary, systemGoals string) (*CoherenceAnalysis, error)
	// Embed returns a fixed-dimensionality vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
