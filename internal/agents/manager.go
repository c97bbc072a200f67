// Package agents manages the lifecycle of CLI agents running in terminal
// sessions: spawning into worktrees, message delivery with the anti-spam
// check, output capture, and termination with transcript preservation.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/tmux"
	"github.com/hephaestus-dev/hephaestus/internal/worktree"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

const (
	// queuedMarker on screen means the CLI holds an unread message; sending
	// another would overwrite it.
	queuedMarker = "queued messages"
	// antiSpamLines is how much trailing output the pre-send check reads.
	antiSpamLines = 50
	// terminationLines is how much transcript termination preserves.
	terminationLines = 10000
)

// Manager spawns, steers, and terminates agents.
type Manager struct {
	db        *state.DB
	host      tmux.SessionHost
	worktrees *worktree.Manager
	cli       string
	prefix    string
}

// NewManager creates an agent manager. cli is the command launched in each
// session; prefix namespaces session names for orphan detection.
func NewManager(db *state.DB, host tmux.SessionHost, worktrees *worktree.Manager, cli, prefix string) *Manager {
	return &Manager{db: db, host: host, worktrees: worktrees, cli: cli, prefix: prefix}
}

// SessionName returns the session name for an agent id.
func (m *Manager) SessionName(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return m.prefix + short
}

// SpawnRequest carries everything needed to start an agent.
type SpawnRequest struct {
	// Task is the work the agent starts on. Optional for diagnostic agents.
	Task *models.Task
	// Enriched is the enriched task description used in the prompt.
	Enriched string
	// Memories are retrieved context snippets folded into the prompt.
	Memories []string
	// ProjectContext describes the workflow/phase the agent works in.
	ProjectContext string
	// AgentType is the role of the new agent.
	AgentType models.AgentType
	// ParentAgentID forks the worktree from the parent's branch.
	ParentAgentID string
	// WorkingDir, when set, skips worktree allocation and runs the session
	// there. Used by validators reviewing an existing tree and diagnostics
	// running in the main repository.
	WorkingDir string
}

// Spawn allocates a worktree (unless a working directory is given), starts
// the session, sends the composed prompt, and persists the agent. The task,
// when present, is linked and moved to in_progress.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*models.Agent, error) {
	agentID := uuid.New().String()

	workingDir := req.WorkingDir
	if workingDir == "" {
		tree, err := m.worktrees.Create(ctx, agentID, req.ParentAgentID)
		if err != nil {
			return nil, fmt.Errorf("spawn agent: %w", err)
		}
		workingDir = tree.Path
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           agentID,
		Status:       models.AgentStatusWorking,
		SessionName:  m.SessionName(agentID),
		AgentType:    req.AgentType,
		WorkingDir:   workingDir,
		LastActivity: now,
		CreatedAt:    now,
	}
	if req.Task != nil {
		agent.CurrentTaskID = req.Task.ID
	}

	if err := m.host.Create(agent.SessionName, workingDir, m.cli); err != nil {
		return nil, fmt.Errorf("spawn agent %s: %w", agentID, err)
	}

	prompt := ComposePrompt(req)
	if err := m.host.Send(agent.SessionName, prompt); err != nil {
		// The session exists but is unreachable; kill it rather than leak.
		if killErr := m.host.Kill(agent.SessionName); killErr != nil {
			log.Printf("[agents] kill unreachable session %s: %v", agent.SessionName, killErr)
		}
		return nil, fmt.Errorf("send initial prompt to %s: %w", agentID, err)
	}

	if err := m.db.CreateAgent(agent); err != nil {
		if killErr := m.host.Kill(agent.SessionName); killErr != nil {
			log.Printf("[agents] kill session %s after db failure: %v", agent.SessionName, killErr)
		}
		return nil, err
	}
	m.appendLog(agentID, models.AgentLogInput, prompt, "")

	if req.Task != nil {
		req.Task.AssignedAgentID = agentID
		req.Task.Status = models.TaskStatusInProgress
		req.Task.UpdatedAt = now
		if err := m.db.UpdateTask(req.Task); err != nil {
			return nil, fmt.Errorf("link task %s to agent %s: %w", req.Task.ID, agentID, err)
		}
	}
	return agent, nil
}

// ComposePrompt builds the initial prompt from the task, phase context, and
// retrieved memories.
func ComposePrompt(req SpawnRequest) string {
	var b strings.Builder

	if req.ProjectContext != "" {
		b.WriteString("Project context:\n")
		b.WriteString(req.ProjectContext)
		b.WriteString("\n\n")
	}
	if len(req.Memories) > 0 {
		b.WriteString("Relevant notes from earlier work:\n")
		for _, mem := range req.Memories {
			b.WriteString("- ")
			b.WriteString(mem)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	desc := req.Enriched
	if desc == "" && req.Task != nil {
		desc = req.Task.RawDescription
	}
	b.WriteString("Your task:\n")
	b.WriteString(desc)

	if req.Task != nil && req.Task.DoneCriterion != "" {
		b.WriteString("\n\nDone when: ")
		b.WriteString(req.Task.DoneCriterion)
	}
	return b.String()
}

// Send delivers text to the agent's session. Before delivery the trailing
// output is checked for the queued-message marker; when present the send is
// discarded and logged so the CLI's pending message is not overwritten.
// Returns whether the text was actually delivered.
func (m *Manager) Send(ctx context.Context, agentID, text string, logType models.AgentLogType) (bool, error) {
	agent, err := m.requireAgent(agentID)
	if err != nil {
		return false, err
	}
	if agent.Status == models.AgentStatusTerminated {
		return false, fmt.Errorf("send to agent %s: terminated", agentID)
	}

	screen, err := m.host.Capture(agent.SessionName, antiSpamLines)
	if err != nil {
		return false, fmt.Errorf("pre-send capture for %s: %w", agentID, err)
	}
	if strings.Contains(screen, queuedMarker) {
		m.appendLog(agentID, models.AgentLogSteeringDiscarded, text, "")
		return false, nil
	}

	if err := m.host.Send(agent.SessionName, text); err != nil {
		return false, fmt.Errorf("send to agent %s: %w", agentID, err)
	}
	m.appendLog(agentID, logType, text, "")

	agent.LastActivity = time.Now().UTC()
	if err := m.db.UpdateAgent(agent); err != nil {
		log.Printf("[agents] touch activity for %s: %v", agentID, err)
	}
	return true, nil
}

// Output returns the agent's trailing output: live from the session for
// running agents, from the preserved transcript for terminated ones.
func (m *Manager) Output(ctx context.Context, agentID string, lines int) (string, error) {
	agent, err := m.requireAgent(agentID)
	if err != nil {
		return "", err
	}
	if agent.Status != models.AgentStatusTerminated {
		out, err := m.host.Capture(agent.SessionName, lines)
		if err != nil {
			return "", fmt.Errorf("capture output for %s: %w", agentID, err)
		}
		return out, nil
	}

	entry, err := m.db.LatestAgentLog(agentID, models.AgentLogTerminated)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", nil
	}
	var details models.TerminationDetails
	if err := json.Unmarshal([]byte(entry.Details), &details); err != nil {
		return entry.Content, nil
	}
	return tail(details.FinalOutput, lines), nil
}

// Terminate captures the trailing transcript into a terminated log row, then
// kills the session and marks the agent terminated. A failed capture still
// kills the session; the transcript is recorded empty.
func (m *Manager) Terminate(ctx context.Context, agentID string) error {
	agent, err := m.requireAgent(agentID)
	if err != nil {
		return err
	}
	if agent.Status == models.AgentStatusTerminated {
		return nil
	}

	transcript, err := m.host.Capture(agent.SessionName, terminationLines)
	if err != nil {
		log.Printf("[agents] final capture for %s: %v", agentID, err)
		transcript = ""
	}
	details := models.TerminationDetails{
		FinalOutput: transcript,
		OutputLines: countLines(transcript),
		CapturedAt:  time.Now().UTC(),
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode termination details for %s: %w", agentID, err)
	}
	m.appendLog(agentID, models.AgentLogTerminated, "session terminated", string(encoded))

	if err := m.host.Kill(agent.SessionName); err != nil {
		return fmt.Errorf("kill session for %s: %w", agentID, err)
	}

	now := time.Now().UTC()
	agent.Status = models.AgentStatusTerminated
	agent.TerminatedAt = &now
	if err := m.db.UpdateAgent(agent); err != nil {
		return err
	}
	return nil
}

// Restart re-creates the session of a non-terminated agent whose session
// disappeared, preserving the agent id and state.
func (m *Manager) Restart(ctx context.Context, agentID string) error {
	agent, err := m.requireAgent(agentID)
	if err != nil {
		return err
	}
	if agent.Status == models.AgentStatusTerminated {
		return fmt.Errorf("restart agent %s: terminated", agentID)
	}
	exists, err := m.host.Has(agent.SessionName)
	if err != nil {
		return fmt.Errorf("check session for %s: %w", agentID, err)
	}
	if exists {
		return nil
	}

	if err := m.host.Create(agent.SessionName, agent.WorkingDir, m.cli); err != nil {
		return fmt.Errorf("restart agent %s: %w", agentID, err)
	}
	m.appendLog(agentID, models.AgentLogIntervention, "session restarted after disappearing", "")

	agent.LastActivity = time.Now().UTC()
	if err := m.db.UpdateAgent(agent); err != nil {
		return err
	}
	return nil
}

// requireAgent loads an agent that must exist.
func (m *Manager) requireAgent(agentID string) (*models.Agent, error) {
	agent, err := m.db.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	return agent, nil
}

// appendLog writes an agent log row, logging rather than failing on error.
func (m *Manager) appendLog(agentID string, logType models.AgentLogType, content, details string) {
	entry := &models.AgentLog{
		AgentID:   agentID,
		Type:      logType,
		Content:   content,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.db.AppendAgentLog(entry); err != nil {
		log.Printf("[agents] append %s log for %s: %v", logType, agentID, err)
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
