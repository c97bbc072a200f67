package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

func logEntry(logType models.AgentLogType, content string) *models.AgentLog {
	return &models.AgentLog{Type: logType, Content: content, CreatedAt: time.Now().UTC()}
}

func TestBuildContextGoal(t *testing.T) {
	agent := &models.Agent{ID: "a1", CreatedAt: time.Now().Add(-90 * time.Minute)}

	tests := []struct {
		name string
		logs []*models.AgentLog
		want string
	}{
		{
			name: "labeled goal section",
			logs: []*models.AgentLog{
				logEntry(models.AgentLogInput, "Project context:\nstuff\n\nYour task:\nimplement the parser"),
			},
			want: "implement the parser",
		},
		{
			name: "unlabeled first input falls back",
			logs: []*models.AgentLog{
				logEntry(models.AgentLogInput, "just fix the flaky test"),
			},
			want: "just fix the flaky test",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := BuildContext(agent, tt.logs, time.Now())
			if acc.OverallGoal != tt.want {
				t.Errorf("goal = %q, want %q", acc.OverallGoal, tt.want)
			}
		})
	}
}

func TestBuildContextConstraintsAndLifting(t *testing.T) {
	agent := &models.Agent{ID: "a1", CreatedAt: time.Now()}
	logs := []*models.AgentLog{
		logEntry(models.AgentLogInput, "Your task:\nrefactor the store\n\ndo not touch the migrations"),
		logEntry(models.AgentLogSteering, "always run the linter before committing"),
		// Constraint-looking text in agent output must not become a constraint.
		logEntry(models.AgentLogOutput, "I will never use global state here"),
		logEntry(models.AgentLogMessage, "you can now touch the migrations"),
	}

	acc := BuildContext(agent, logs, time.Now())

	for _, c := range acc.Constraints {
		if strings.Contains(c, "migrations") {
			t.Errorf("lifted constraint still present: %q", c)
		}
		if strings.Contains(c, "global state") {
			t.Errorf("agent output treated as constraint: %q", c)
		}
	}
	if len(acc.LiftedConstraints) != 1 {
		t.Errorf("lifted = %v, want 1 entry", acc.LiftedConstraints)
	}
	if len(acc.Instructions) != 1 || !strings.Contains(acc.Instructions[0], "linter") {
		t.Errorf("instructions = %v", acc.Instructions)
	}
}

func TestBuildContextBlockersOnlyFromOutput(t *testing.T) {
	agent := &models.Agent{ID: "a1", CreatedAt: time.Now()}
	logs := []*models.AgentLog{
		logEntry(models.AgentLogInput, "you may be blocked by the firewall, work around it"),
		logEntry(models.AgentLogOutput, "currently blocked by a failing integration test"),
	}

	acc := BuildContext(agent, logs, time.Now())
	if len(acc.Blockers) != 1 {
		t.Fatalf("blockers = %v, want 1", acc.Blockers)
	}
	if !strings.Contains(acc.Blockers[0], "integration test") {
		t.Errorf("blocker = %q", acc.Blockers[0])
	}
}

func TestBuildContextReferenceBinding(t *testing.T) {
	agent := &models.Agent{ID: "a1", CreatedAt: time.Now()}
	logs := []*models.AgentLog{
		logEntry(models.AgentLogOutput, "updated parser.go with the new grammar"),
		logEntry(models.AgentLogMessage, "please revert that"),
	}

	acc := BuildContext(agent, logs, time.Now())
	found := false
	for _, noun := range acc.References {
		if noun == "parser.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("references = %v, want binding to parser.go", acc.References)
	}
}

func TestBuildContextEvolvedGoalsAndFocus(t *testing.T) {
	agent := &models.Agent{ID: "a1", CreatedAt: time.Now().Add(-time.Hour)}
	logs := []*models.AgentLog{
		logEntry(models.AgentLogInput, "Your task:\nbuild the exporter"),
		logEntry(models.AgentLogMessage, "change of plan: ship the importer first"),
		logEntry(models.AgentLogOutput, "working on the importer scaffolding"),
	}

	now := time.Now()
	acc := BuildContext(agent, logs, now)
	if len(acc.EvolvedGoals) != 1 || !strings.Contains(acc.EvolvedGoals[0], "importer") {
		t.Errorf("evolved goals = %v", acc.EvolvedGoals)
	}
	if acc.CurrentFocus != "working on the importer scaffolding" {
		t.Errorf("focus = %q", acc.CurrentFocus)
	}
	if acc.SessionDuration < 59*time.Minute {
		t.Errorf("duration = %s", acc.SessionDuration)
	}

	rendered := acc.String()
	for _, part := range []string{"build the exporter", "importer", "Current focus"} {
		if !strings.Contains(rendered, part) {
			t.Errorf("rendered context missing %q", part)
		}
	}
}
