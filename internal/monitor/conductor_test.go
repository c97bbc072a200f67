package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/internal/llm"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func TestConductorSkipsEmptyTick(t *testing.T) {
	f := setup(t)
	analysis, err := f.conductor().Run(context.Background(), nil, "goals", time.Now().UTC())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if analysis != nil {
		t.Error("empty tick should not call the model")
	}
}

func TestConductorTerminatesDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	keeper := f.spawnAgent(t, models.AgentTypePhase)
	duplicate := f.spawnAgent(t, models.AgentTypePhase)

	f.client.CoherenceFunc = func(summaries []llm.AgentSummary, goals string) (*llm.CoherenceAnalysis, error) {
		return &llm.CoherenceAnalysis{
			CoherenceScore: 0.8,
			Duplicates: []llm.DuplicatePair{
				{Agent1: keeper.ID, Agent2: duplicate.ID, Similarity: 0.95, Work: "both porting the parser"},
			},
			TerminationRecommendations: []llm.Termination{
				{AgentID: duplicate.ID, Reason: "duplicate of " + keeper.ID},
			},
			SystemSummary: "two agents on one parser",
		}, nil
	}

	summaries := []llm.AgentSummary{{AgentID: keeper.ID, Summary: "parsing"}, {AgentID: duplicate.ID, Summary: "parsing"}}
	analysis, err := f.conductor().Run(ctx, summaries, "ship the parser", time.Now().UTC())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := f.db.GetAgent(duplicate.ID)
	if got.Status != models.AgentStatusTerminated {
		t.Errorf("duplicate agent status = %s, want terminated", got.Status)
	}
	kept, _ := f.db.GetAgent(keeper.ID)
	if kept.Status == models.AgentStatusTerminated {
		t.Error("keeper agent was terminated")
	}

	var decisions []ConductorDecision
	if err := json.Unmarshal([]byte(analysis.Decisions), &decisions); err != nil {
		t.Fatalf("decode decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Type != models.DecisionTerminateDuplicate || !decisions[0].Taken {
		t.Errorf("decisions = %+v", decisions)
	}
	if analysis.AgentsAnalyzed != 2 {
		t.Errorf("agents analyzed = %d, want 2", analysis.AgentsAnalyzed)
	}
}

func TestConductorReleasesTerminatedDuplicatesTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedWorkflow(t, f.db, "wf-1")
	duplicate := f.spawnAgent(t, models.AgentTypePhase)

	victim := seedTask(t, f.db, "task-dup", "wf-1", "", models.TaskStatusInProgress)
	victim.AssignedAgentID = duplicate.ID
	if err := f.db.UpdateTask(victim); err != nil {
		t.Fatalf("attach task: %v", err)
	}
	duplicate.CurrentTaskID = victim.ID
	if err := f.db.UpdateAgent(duplicate); err != nil {
		t.Fatalf("attach agent: %v", err)
	}

	f.client.CoherenceFunc = func(summaries []llm.AgentSummary, goals string) (*llm.CoherenceAnalysis, error) {
		return &llm.CoherenceAnalysis{
			CoherenceScore: 0.8,
			TerminationRecommendations: []llm.Termination{
				{AgentID: duplicate.ID, Reason: "same work as another agent"},
			},
		}, nil
	}

	summaries := []llm.AgentSummary{{AgentID: duplicate.ID, Summary: "parsing"}}
	if _, err := f.conductor().Run(ctx, summaries, "", time.Now().UTC()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The task must not stay pinned to the dead agent.
	got, _ := f.db.GetTask(victim.ID)
	if got.Status != models.TaskStatusDuplicated {
		t.Errorf("task status = %s, want duplicated", got.Status)
	}
	if got.AssignedAgentID != "" {
		t.Errorf("assigned agent = %q, want empty", got.AssignedAgentID)
	}
	if !strings.Contains(got.CompletionNotes, "same work as another agent") {
		t.Errorf("completion notes = %q", got.CompletionNotes)
	}

	active, _ := f.db.CountActiveTasks("wf-1")
	if active != 0 {
		t.Errorf("active task count = %d, want 0", active)
	}
}

func TestConductorNeverTerminatesValidators(t *testing.T) {
	f := setup(t)
	validator := f.spawnAgent(t, models.AgentTypeValidator)

	f.client.CoherenceFunc = func(summaries []llm.AgentSummary, goals string) (*llm.CoherenceAnalysis, error) {
		return &llm.CoherenceAnalysis{
			CoherenceScore: 0.9,
			TerminationRecommendations: []llm.Termination{
				{AgentID: validator.ID, Reason: "looks redundant"},
			},
		}, nil
	}

	summaries := []llm.AgentSummary{{AgentID: validator.ID, Summary: "reviewing"}}
	analysis, err := f.conductor().Run(context.Background(), summaries, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := f.db.GetAgent(validator.ID)
	if got.Status == models.AgentStatusTerminated {
		t.Fatal("validator was terminated by a coherence decision")
	}
	var decisions []ConductorDecision
	json.Unmarshal([]byte(analysis.Decisions), &decisions)
	if len(decisions) != 1 || decisions[0].Taken {
		t.Errorf("decisions = %+v, want untaken termination", decisions)
	}
}

func TestConductorCoordination(t *testing.T) {
	f := setup(t)
	first := f.spawnAgent(t, models.AgentTypePhase)
	second := f.spawnAgent(t, models.AgentTypePhase)

	f.client.CoherenceFunc = func(summaries []llm.AgentSummary, goals string) (*llm.CoherenceAnalysis, error) {
		return &llm.CoherenceAnalysis{
			CoherenceScore: 0.9,
			CoordinationNeeds: []llm.Coordination{
				{Agents: []string{first.ID, second.ID}, Resource: "schema.sql", Action: "coordinate migrations"},
			},
		}, nil
	}

	summaries := []llm.AgentSummary{{AgentID: first.ID}, {AgentID: second.ID}}
	if _, err := f.conductor().Run(context.Background(), summaries, "", time.Now().UTC()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	firstLogs, _ := f.db.ListAgentLogs(first.ID, 0, models.AgentLogMessage)
	if len(firstLogs) != 1 || !strings.Contains(firstLogs[0].Content, "priority access to schema.sql") {
		t.Errorf("first agent messages = %+v", firstLogs)
	}
	secondLogs, _ := f.db.ListAgentLogs(second.ID, 0, models.AgentLogMessage)
	if len(secondLogs) != 1 || !strings.Contains(secondLogs[0].Content, "please wait for "+first.ID) {
		t.Errorf("second agent messages = %+v", secondLogs)
	}
}

func TestConductorEscalatesLowCoherence(t *testing.T) {
	f := setup(t)
	agent := f.spawnAgent(t, models.AgentTypePhase)

	f.client.CoherenceFunc = func(summaries []llm.AgentSummary, goals string) (*llm.CoherenceAnalysis, error) {
		return &llm.CoherenceAnalysis{CoherenceScore: 0.3, SystemSummary: "fleet is thrashing"}, nil
	}

	summaries := []llm.AgentSummary{{AgentID: agent.ID}}
	analysis, err := f.conductor().Run(context.Background(), summaries, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var decisions []ConductorDecision
	if err := json.Unmarshal([]byte(analysis.Decisions), &decisions); err != nil {
		t.Fatalf("decode decisions: %v", err)
	}
	found := false
	for _, d := range decisions {
		if d.Type == models.DecisionEscalate && d.Taken {
			found = true
		}
	}
	if !found {
		t.Errorf("decisions = %+v, want escalate", decisions)
	}
}
