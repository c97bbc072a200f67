package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent has a session but no active work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusWorking indicates the agent is actively working.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusStuck indicates the agent has failed repeated health checks.
	AgentStatusStuck AgentStatus = "stuck"
	// AgentStatusTerminated indicates the agent's session has been killed.
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusStuck, AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// AgentType distinguishes the role an agent plays in the system.
type AgentType string

const (
	// AgentTypePhase is a regular agent working a phase task.
	AgentTypePhase AgentType = "phase"
	// AgentTypeValidator reviews another agent's committed task work.
	AgentTypeValidator AgentType = "validator"
	// AgentTypeResultValidator reviews a submitted workflow result.
	AgentTypeResultValidator AgentType = "result_validator"
	// AgentTypeMonitor marks system-initiated work (phase progression).
	AgentTypeMonitor AgentType = "monitor"
	// AgentTypeDiagnostic is a one-shot agent spawned for stuck workflows.
	AgentTypeDiagnostic AgentType = "diagnostic"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypePhase, AgentTypeValidator, AgentTypeResultValidator, AgentTypeMonitor, AgentTypeDiagnostic:
		return true
	default:
		return false
	}
}

// Validator returns true for agent types that review other agents' work.
// Validators are never targets of duplicate-termination decisions.
func (t AgentType) Validator() bool {
	return t == AgentTypeValidator || t == AgentTypeResultValidator
}

// Agent represents a CLI agent running inside a terminal session.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// SessionName is the terminal session backing this agent.
	// Unique among non-terminated agents.
	SessionName string `json:"session_name"`
	// AgentType is the role this agent plays.
	AgentType AgentType `json:"agent_type"`
	// CurrentTaskID is the task the agent is working on.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// WorkingDir is the directory the session was started in.
	WorkingDir string `json:"working_dir,omitempty"`
	// LastActivity is the last time output or a message was observed.
	LastActivity time.Time `json:"last_activity"`
	// HealthCheckFailures counts consecutive alignment failures.
	HealthCheckFailures int `json:"health_check_failures"`
	// KeptAliveForValidation marks an agent held open while a validator reviews its work.
	KeptAliveForValidation bool `json:"kept_alive_for_validation,omitempty"`
	// CreatedAt is when the agent was spawned.
	CreatedAt time.Time `json:"created_at"`
	// TerminatedAt is when the agent was terminated, if it was.
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// Active returns true if the agent counts against the concurrency cap.
func (a *Agent) Active() bool {
	return a.Status != AgentStatusTerminated
}
