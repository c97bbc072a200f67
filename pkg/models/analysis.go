package models

import "time"

// SteeringType classifies why an agent needs steering.
type SteeringType string

const (
	// SteeringStuck indicates the agent is making no progress.
	SteeringStuck SteeringType = "stuck"
	// SteeringDrifting indicates the agent is wandering from its goal.
	SteeringDrifting SteeringType = "drifting"
	// SteeringViolatingConstraints indicates the agent broke a standing constraint.
	SteeringViolatingConstraints SteeringType = "violating_constraints"
	// SteeringOverEngineering indicates the agent is building more than needed.
	SteeringOverEngineering SteeringType = "over_engineering"
	// SteeringConfused indicates the agent misunderstands its task.
	SteeringConfused SteeringType = "confused"
	// SteeringOffTrack indicates the agent is working on the wrong thing.
	SteeringOffTrack SteeringType = "off_track"
)

// Valid returns true if the steering type is a known value.
func (t SteeringType) Valid() bool {
	switch t {
	case SteeringStuck, SteeringDrifting, SteeringViolatingConstraints,
		SteeringOverEngineering, SteeringConfused, SteeringOffTrack:
		return true
	default:
		return false
	}
}

// GuardianAnalysis is the append-only record of one per-agent trajectory check.
type GuardianAnalysis struct {
	// ID is the unique identifier for this analysis.
	ID int64 `json:"id"`
	// AgentID is the analyzed agent.
	AgentID string `json:"agent_id"`
	// CurrentPhase is the LLM's read of what the agent is doing.
	CurrentPhase string `json:"current_phase,omitempty"`
	// TrajectoryAligned is the LLM's overall verdict.
	TrajectoryAligned bool `json:"trajectory_aligned"`
	// AlignmentScore is in [0,1].
	AlignmentScore float64 `json:"alignment_score"`
	// AlignmentIssues lists specific problems found.
	AlignmentIssues []string `json:"alignment_issues,omitempty"`
	// NeedsSteering indicates a steering message should be sent.
	NeedsSteering bool `json:"needs_steering"`
	// SteeringType classifies the needed steering.
	SteeringType SteeringType `json:"steering_type,omitempty"`
	// SteeringRecommendation is the message to deliver.
	SteeringRecommendation string `json:"steering_recommendation,omitempty"`
	// TrajectorySummary is a short summary fed to the Conductor.
	TrajectorySummary string `json:"trajectory_summary"`
	// LastMessageMarker identifies the newest agent message seen, so the
	// next tick can skip already-analyzed output.
	LastMessageMarker string `json:"last_message_marker,omitempty"`
	// CreatedAt is when the analysis was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// ConductorDecisionType classifies system-wide decisions.
type ConductorDecisionType string

const (
	// DecisionTerminateDuplicate terminates an agent duplicating another's work.
	DecisionTerminateDuplicate ConductorDecisionType = "terminate_duplicate"
	// DecisionCoordinate sends ordering messages to agents sharing a resource.
	DecisionCoordinate ConductorDecisionType = "coordinate"
	// DecisionEscalate flags a system-wide coherence problem.
	DecisionEscalate ConductorDecisionType = "escalate"
)

// ConductorAnalysis is the append-only record of one system-wide coherence check.
type ConductorAnalysis struct {
	// ID is the unique identifier for this analysis.
	ID int64 `json:"id"`
	// CoherenceScore is in [0,1]; below 0.5 triggers escalation.
	CoherenceScore float64 `json:"coherence_score"`
	// AgentsAnalyzed is the number of Guardian summaries fed in.
	AgentsAnalyzed int `json:"agents_analyzed"`
	// SystemSummary is the LLM's overall read of the fleet.
	SystemSummary string `json:"system_summary"`
	// Decisions serializes the decisions taken, as JSON.
	Decisions string `json:"decisions,omitempty"`
	// CreatedAt is when the analysis was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// DetectedDuplicate records two agents found doing the same work.
type DetectedDuplicate struct {
	// ID is the unique identifier for this record.
	ID int64 `json:"id"`
	// AnalysisID is the ConductorAnalysis that found the duplicate.
	AnalysisID int64 `json:"analysis_id"`
	// Agent1ID and Agent2ID are the duplicating agents.
	Agent1ID string `json:"agent1_id"`
	Agent2ID string `json:"agent2_id"`
	// Similarity is the Conductor's estimate of overlap.
	Similarity float64 `json:"similarity"`
	// Work describes the duplicated work.
	Work string `json:"work,omitempty"`
	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// SteeringIntervention records a Guardian steering delivery or discard.
type SteeringIntervention struct {
	// ID is the unique identifier for this record.
	ID int64 `json:"id"`
	// AgentID is the steered agent.
	AgentID string `json:"agent_id"`
	// SteeringType classifies the steering.
	SteeringType SteeringType `json:"steering_type"`
	// Message is the text delivered (or discarded).
	Message string `json:"message"`
	// Delivered is false when the anti-spam check discarded the send.
	Delivered bool `json:"delivered"`
	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// DiagnosticRun records one firing of the stuck-workflow detector.
type DiagnosticRun struct {
	// ID is the unique identifier for this run.
	ID int64 `json:"id"`
	// WorkflowID is the stuck workflow.
	WorkflowID string `json:"workflow_id"`
	// AgentID is the spawned diagnostic agent.
	AgentID string `json:"agent_id"`
	// TaskID is the diagnostic task.
	TaskID string `json:"task_id"`
	// Context is the prompt context fed to the diagnostic agent.
	Context string `json:"context,omitempty"`
	// CreatedTaskIDs lists tasks the diagnostic agent produced.
	CreatedTaskIDs []string `json:"created_task_ids,omitempty"`
	// CreatedAt is when the run fired.
	CreatedAt time.Time `json:"created_at"`
}
