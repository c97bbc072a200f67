package models

import "time"

// AgentLogType categorizes agent log entries.
type AgentLogType string

const (
	// AgentLogInput records text sent into the agent's session.
	AgentLogInput AgentLogType = "input"
	// AgentLogOutput records captured session output.
	AgentLogOutput AgentLogType = "output"
	// AgentLogMessage records a direct message delivered to the agent.
	AgentLogMessage AgentLogType = "message"
	// AgentLogSteering records a Guardian steering delivery.
	AgentLogSteering AgentLogType = "steering"
	// AgentLogSteeringDiscarded records a steering dropped by the anti-spam check.
	AgentLogSteeringDiscarded AgentLogType = "steering_discarded"
	// AgentLogIntervention records a system intervention (timeout recreate, restart).
	AgentLogIntervention AgentLogType = "intervention"
	// AgentLogTerminated records the final transcript captured at termination.
	AgentLogTerminated AgentLogType = "terminated"
)

// Valid returns true if the log type is a known value.
func (t AgentLogType) Valid() bool {
	switch t {
	case AgentLogInput, AgentLogOutput, AgentLogMessage, AgentLogSteering,
		AgentLogSteeringDiscarded, AgentLogIntervention, AgentLogTerminated:
		return true
	default:
		return false
	}
}

// AgentLog is an append-only record of agent session activity.
// Rows for a single agent are strictly ordered by arrival.
type AgentLog struct {
	// ID is the unique identifier for this log row.
	ID int64 `json:"id"`
	// AgentID is the agent the row belongs to.
	AgentID string `json:"agent_id"`
	// Type is the log entry kind.
	Type AgentLogType `json:"type"`
	// Content is the log payload (message text, captured output).
	Content string `json:"content"`
	// Details carries structured extras as JSON. For "terminated" rows it
	// holds final_output, output_lines, and captured_at.
	Details string `json:"details,omitempty"`
	// CreatedAt is when the row was written.
	CreatedAt time.Time `json:"created_at"`
}

// TerminationDetails is the Details payload of a "terminated" AgentLog.
type TerminationDetails struct {
	// FinalOutput is the trailing session transcript captured before the kill.
	FinalOutput string `json:"final_output"`
	// OutputLines is the number of lines captured.
	OutputLines int `json:"output_lines"`
	// CapturedAt is when the capture happened.
	CapturedAt time.Time `json:"captured_at"`
}
