package state

import (
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func newTestAgent(id string) *models.Agent {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Agent{
		ID:           id,
		Status:       models.AgentStatusWorking,
		SessionName:  "hph-" + id,
		AgentType:    models.AgentTypePhase,
		WorkingDir:   "/tmp/" + id,
		LastActivity: now,
		CreatedAt:    now,
	}
}

func TestCreateAndGetAgent(t *testing.T) {
	db := setupTestDB(t)

	agent := newTestAgent("agent-1")
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	got, err := db.GetAgent("agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetAgent returned nil")
	}
	if got.SessionName != agent.SessionName || got.AgentType != models.AgentTypePhase {
		t.Errorf("agent mismatch: %+v", got)
	}
}

func TestUpdateAgentPersistsEveryField(t *testing.T) {
	db := setupTestDB(t)

	agent := newTestAgent("agent-1")
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	agent.Status = models.AgentStatusStuck
	agent.HealthCheckFailures = 4
	agent.CreatedAt = agent.CreatedAt.Add(-2 * time.Hour)
	if err := db.UpdateAgent(agent); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	got, err := db.GetAgent("agent-1")
	if err != nil || got == nil {
		t.Fatalf("GetAgent: %+v, err %v", got, err)
	}
	if got.Status != models.AgentStatusStuck || got.HealthCheckFailures != 4 {
		t.Errorf("agent mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(agent.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, agent.CreatedAt)
	}
}

func TestSessionNameUnique(t *testing.T) {
	db := setupTestDB(t)

	first := newTestAgent("agent-1")
	if err := db.CreateAgent(first); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	clash := newTestAgent("agent-2")
	clash.SessionName = first.SessionName
	if err := db.CreateAgent(clash); err == nil {
		t.Error("expected unique constraint violation on session_name")
	}
}

func TestGetAgentBySession(t *testing.T) {
	db := setupTestDB(t)

	live := newTestAgent("agent-live")
	db.CreateAgent(live)

	dead := newTestAgent("agent-dead")
	dead.Status = models.AgentStatusTerminated
	now := time.Now().UTC()
	dead.TerminatedAt = &now
	db.CreateAgent(dead)

	got, err := db.GetAgentBySession(live.SessionName)
	if err != nil || got == nil || got.ID != "agent-live" {
		t.Fatalf("GetAgentBySession live: got %+v, err %v", got, err)
	}

	// Terminated agents are not resolvable by session.
	got, err = db.GetAgentBySession(dead.SessionName)
	if err != nil {
		t.Fatalf("GetAgentBySession dead failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for terminated agent's session, got %+v", got)
	}
}

func TestCountActiveAgents(t *testing.T) {
	db := setupTestDB(t)

	db.CreateAgent(newTestAgent("a1"))
	db.CreateAgent(newTestAgent("a2"))
	dead := newTestAgent("a3")
	dead.Status = models.AgentStatusTerminated
	db.CreateAgent(dead)

	n, err := db.CountActiveAgents()
	if err != nil {
		t.Fatalf("CountActiveAgents failed: %v", err)
	}
	if n != 2 {
		t.Errorf("active count = %d, want 2", n)
	}
}

func TestListRecentTerminatedAgents(t *testing.T) {
	db := setupTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		a := newTestAgent(id)
		a.Status = models.AgentStatusTerminated
		at := base.Add(time.Duration(i) * time.Minute)
		a.TerminatedAt = &at
		db.CreateAgent(a)
	}

	got, err := db.ListRecentTerminatedAgents(2)
	if err != nil {
		t.Fatalf("ListRecentTerminatedAgents failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("unexpected order: %v", agentIDs(got))
	}
}

func agentIDs(agents []*models.Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

func TestAgentLogsOrdering(t *testing.T) {
	db := setupTestDB(t)

	for _, content := range []string{"first", "second", "third"} {
		err := db.AppendAgentLog(&models.AgentLog{
			AgentID:   "agent-1",
			Type:      models.AgentLogMessage,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendAgentLog failed: %v", err)
		}
	}

	logs, err := db.ListAgentLogs("agent-1", 0)
	if err != nil {
		t.Fatalf("ListAgentLogs failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("got %d logs, want 3", len(logs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if logs[i].Content != want {
			t.Errorf("log %d = %q, want %q", i, logs[i].Content, want)
		}
	}
}

func TestLatestAgentLogByType(t *testing.T) {
	db := setupTestDB(t)

	db.AppendAgentLog(&models.AgentLog{AgentID: "a", Type: models.AgentLogOutput, Content: "o1", CreatedAt: time.Now().UTC()})
	db.AppendAgentLog(&models.AgentLog{AgentID: "a", Type: models.AgentLogTerminated, Content: "final", CreatedAt: time.Now().UTC()})
	db.AppendAgentLog(&models.AgentLog{AgentID: "a", Type: models.AgentLogOutput, Content: "o2", CreatedAt: time.Now().UTC()})

	got, err := db.LatestAgentLog("a", models.AgentLogTerminated)
	if err != nil {
		t.Fatalf("LatestAgentLog failed: %v", err)
	}
	if got == nil || got.Content != "final" {
		t.Errorf("latest terminated log = %+v", got)
	}

	none, err := db.LatestAgentLog("missing", models.AgentLogTerminated)
	if err != nil {
		t.Fatalf("LatestAgentLog for missing agent failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil, got %+v", none)
	}
}

func TestSteeringThrottleQuery(t *testing.T) {
	db := setupTestDB(t)

	// A discarded steering does not count against the throttle.
	db.CreateSteeringIntervention(&models.SteeringIntervention{
		AgentID: "a", SteeringType: models.SteeringConfused,
		Message: "check imports", Delivered: false, CreatedAt: time.Now().UTC(),
	})

	last, err := db.LastDeliveredSteering("a")
	if err != nil {
		t.Fatalf("LastDeliveredSteering failed: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil for discarded-only history, got %v", last)
	}

	db.CreateSteeringIntervention(&models.SteeringIntervention{
		AgentID: "a", SteeringType: models.SteeringConfused,
		Message: "check imports", Delivered: true, CreatedAt: time.Now().UTC(),
	})
	last, err = db.LastDeliveredSteering("a")
	if err != nil || last == nil {
		t.Fatalf("LastDeliveredSteering after delivery: %v, err %v", last, err)
	}
}

func TestWorktreeRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	w := &models.Worktree{
		ID:              "wt-1",
		AgentID:         "agent-1",
		Branch:          "hph/agent-1",
		ParentBranch:    "main",
		Path:            "/tmp/wt-1",
		ParentCommitSHA: "aaa",
		BaseCommitSHA:   "aaa",
		MergeStatus:     models.MergeStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.CreateWorktree(w); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}

	got, err := db.GetWorktreeByAgent("agent-1")
	if err != nil || got == nil {
		t.Fatalf("GetWorktreeByAgent: %+v, err %v", got, err)
	}
	if got.Branch != "hph/agent-1" || got.MergeStatus != models.MergeStatusActive {
		t.Errorf("worktree mismatch: %+v", got)
	}

	// Branch names are unique.
	clash := *w
	clash.ID = "wt-2"
	clash.AgentID = "agent-2"
	if err := db.CreateWorktree(&clash); err == nil {
		t.Error("expected unique constraint violation on branch")
	}

	got.MergeStatus = models.MergeStatusMerged
	got.MergeCommitSHA = "bbb"
	if err := db.UpdateWorktree(got); err != nil {
		t.Fatalf("UpdateWorktree failed: %v", err)
	}
	again, _ := db.GetWorktree("wt-1")
	if again.MergeStatus != models.MergeStatusMerged || again.MergeCommitSHA != "bbb" {
		t.Errorf("update not persisted: %+v", again)
	}
}

func TestGuardianAnalysesNewestFirst(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 12; i++ {
		err := db.CreateGuardianAnalysis(&models.GuardianAnalysis{
			AgentID:           "a",
			TrajectoryAligned: true,
			AlignmentScore:    0.9,
			TrajectorySummary: "ok",
			CreatedAt:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("CreateGuardianAnalysis failed: %v", err)
		}
	}

	got, err := db.ListGuardianAnalyses("a", 10)
	if err != nil {
		t.Fatalf("ListGuardianAnalyses failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d analyses, want 10", len(got))
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("expected newest first, got ids %d then %d", got[0].ID, got[1].ID)
	}
}
