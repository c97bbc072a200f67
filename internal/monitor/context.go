package monitor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// AccumulatedContext is the Guardian's deterministic digest of everything
// sent to and observed from an agent. It exists so each analysis sees the
// whole conversation without re-reading every transcript.
type AccumulatedContext struct {
	// OverallGoal is the original task statement from the initial prompt.
	OverallGoal string
	// EvolvedGoals are later redirections of the goal, in order.
	EvolvedGoals []string
	// Constraints are standing prohibitions still in effect.
	Constraints []string
	// LiftedConstraints are prohibitions later rescinded.
	LiftedConstraints []string
	// Instructions are standing directives ("always run the tests").
	Instructions []string
	// References maps vague pronouns in late messages to the nouns they
	// most plausibly bind to.
	References map[string]string
	// Blockers are problems the agent reported.
	Blockers []string
	// SessionDuration is how long the agent has existed.
	SessionDuration time.Duration
	// CurrentFocus is the last substantive line observed.
	CurrentFocus string
}

// Extraction rules. These are intentionally coarse: the digest feeds an LLM
// that tolerates noise, and false negatives only cost context.
var (
	goalRe        = regexp.MustCompile(`(?i)^your task:\s*$`)
	evolvedRe     = regexp.MustCompile(`(?i)(new goal|updated goal|change of plan|instead,? (focus|work) on)[:\s]+(.+)`)
	constraintRe  = regexp.MustCompile(`(?i)\b(do not|don't|must not|never|avoid)\b.+`)
	liftRe        = regexp.MustCompile(`(?i)you can now\s+(.+)`)
	instructionRe = regexp.MustCompile(`(?i)\b(always|remember to|make sure( to)?|be sure to)\b.+`)
	blockerRe     = regexp.MustCompile(`(?i)\b(blocked by|blocked on|waiting on|waiting for|cannot proceed|can't proceed)\b.+`)
	referenceRe   = regexp.MustCompile(`(?i)\b(this|that)\b`)
	// nounRe picks up file paths, identifiers, and quoted names as candidate
	// referents for this/that.
	nounRe = regexp.MustCompile("`([^`]+)`|\\b([\\w./-]+\\.\\w{1,4})\\b|\"([^\"]+)\"")
)

// BuildContext digests an agent's log history. Logs must be in arrival
// order; only input, output, message, steering, and intervention rows
// contribute.
func BuildContext(agent *models.Agent, logs []*models.AgentLog, now time.Time) *AccumulatedContext {
	acc := &AccumulatedContext{
		References:      map[string]string{},
		SessionDuration: now.Sub(agent.CreatedAt),
	}

	var lastNoun string
	for _, entry := range logs {
		switch entry.Type {
		case models.AgentLogInput, models.AgentLogOutput, models.AgentLogMessage,
			models.AgentLogSteering, models.AgentLogIntervention:
		default:
			continue
		}

		lines := strings.Split(entry.Content, "\n")
		goalSection := false
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			// The initial prompt labels the goal explicitly.
			if acc.OverallGoal == "" && entry.Type == models.AgentLogInput {
				if goalSection {
					acc.OverallGoal = line
					goalSection = false
					continue
				}
				if goalRe.MatchString(line) {
					goalSection = true
					continue
				}
			}

			if m := evolvedRe.FindStringSubmatch(line); m != nil {
				acc.EvolvedGoals = append(acc.EvolvedGoals, strings.TrimSpace(m[3]))
			}
			if m := liftRe.FindStringSubmatch(line); m != nil {
				lifted := strings.TrimSpace(m[1])
				acc.LiftedConstraints = append(acc.LiftedConstraints, lifted)
				acc.Constraints = dropLifted(acc.Constraints, lifted)
			} else if m := constraintRe.FindString(line); m != "" && directedAtAgent(entry.Type) {
				acc.Constraints = appendUnique(acc.Constraints, m)
			}
			if m := instructionRe.FindString(line); m != "" && directedAtAgent(entry.Type) {
				acc.Instructions = appendUnique(acc.Instructions, m)
			}
			if m := blockerRe.FindString(line); m != "" && entry.Type == models.AgentLogOutput {
				acc.Blockers = appendUnique(acc.Blockers, m)
			}

			// Bind vague references to the most recent concrete noun.
			if referenceRe.MatchString(line) && lastNoun != "" {
				acc.References[truncate(line, 80)] = lastNoun
			}
			if nouns := nounRe.FindAllStringSubmatch(line, -1); len(nouns) > 0 {
				last := nouns[len(nouns)-1]
				for _, group := range last[1:] {
					if group != "" {
						lastNoun = group
					}
				}
			}

			acc.CurrentFocus = truncate(line, 120)
		}
	}

	// An unlabeled first input is still the best goal statement available.
	if acc.OverallGoal == "" {
		for _, entry := range logs {
			if entry.Type == models.AgentLogInput {
				acc.OverallGoal = truncate(strings.TrimSpace(entry.Content), 200)
				break
			}
		}
	}
	return acc
}

// directedAtAgent reports whether the log row carries an instruction TO the
// agent rather than output FROM it.
func directedAtAgent(t models.AgentLogType) bool {
	switch t {
	case models.AgentLogInput, models.AgentLogMessage, models.AgentLogSteering, models.AgentLogIntervention:
		return true
	default:
		return false
	}
}

// dropLifted removes constraints that share a substantive word with the
// lifted phrase.
func dropLifted(constraints []string, lifted string) []string {
	words := substantiveWords(lifted)
	if len(words) == 0 {
		return constraints
	}
	var kept []string
	for _, c := range constraints {
		lower := strings.ToLower(c)
		matched := false
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched = true
				break
			}
		}
		if !matched {
			kept = append(kept, c)
		}
	}
	return kept
}

// substantiveWords returns the lowercase words of s longer than 3 runes.
func substantiveWords(s string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?")
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// String renders the digest as prompt text.
func (a *AccumulatedContext) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Overall goal: %s\n", a.OverallGoal)
	fmt.Fprintf(&b, "Session duration: %s\n", a.SessionDuration.Round(time.Second))

	writeList := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(label + ":\n")
		for _, item := range items {
			b.WriteString("- " + item + "\n")
		}
	}
	writeList("Evolved goals", a.EvolvedGoals)
	writeList("Constraints in effect", a.Constraints)
	writeList("Constraints lifted", a.LiftedConstraints)
	writeList("Standing instructions", a.Instructions)
	writeList("Reported blockers", a.Blockers)

	if len(a.References) > 0 {
		b.WriteString("Resolved references:\n")
		for phrase, noun := range a.References {
			fmt.Fprintf(&b, "- %q refers to %s\n", phrase, noun)
		}
	}
	if a.CurrentFocus != "" {
		fmt.Fprintf(&b, "Current focus: %s\n", a.CurrentFocus)
	}
	return b.String()
}
