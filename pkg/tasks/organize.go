package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mlowell/clinops/pkg/vikunja"
)

// Keyword heuristics for triage. Matching is case-insensitive against the
// task title.
var (
	urgentWords = []string{"urgent", "outage", "down", "breach", "hipaa", "data loss"}
	bugWords    = []string{"bug", "broken", "error", "crash", "fix"}
	choreWords  = []string{"chore", "cleanup", "typo", "docs", "refactor"}
)

// Change is a planned update to one task. Only tasks whose computed
// fields differ from their current state produce a Change.
type Change struct {
	Task     vikunja.Task
	Priority int
	Title    string
	Reasons  []string
}

// Organize triages open tasks: keyword-derived priorities, an overdue
// bump, and a "! " title prefix for tasks past their due date. It is pure;
// ApplyChanges writes the result back.
func Organize(all []vikunja.Task, now time.Time) []Change {
	var changes []Change
	for _, t := range all {
		if t.Done {
			continue
		}

		priority := t.Priority
		title := t.Title
		var reasons []string

		lower := strings.ToLower(t.Title)
		switch {
		case containsAny(lower, urgentWords):
			if priority < vikunja.PriorityUrgent {
				priority = vikunja.PriorityUrgent
				reasons = append(reasons, "urgent keyword")
			}
		case containsAny(lower, bugWords):
			if priority < vikunja.PriorityHigh {
				priority = vikunja.PriorityHigh
				reasons = append(reasons, "bug keyword")
			}
		case containsAny(lower, choreWords):
			if priority == vikunja.PriorityUnset {
				priority = vikunja.PriorityLow
				reasons = append(reasons, "chore keyword")
			}
		}

		if t.DueDate.Set() && t.DueDate.Time.Before(now) {
			if priority < vikunja.PriorityUrgent {
				priority = vikunja.PriorityUrgent
				reasons = append(reasons, "past due date")
			}
			if !strings.HasPrefix(title, "! ") {
				title = "! " + title
				reasons = append(reasons, "overdue marker")
			}
		}

		if priority != t.Priority || title != t.Title {
			changes = append(changes, Change{Task: t, Priority: priority, Title: title, Reasons: reasons})
		}
	}
	return changes
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ApplyChanges patches each changed task back to the tracker. Only the
// computed fields are rewritten.
func ApplyChanges(ctx context.Context, api API, changes []Change, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, ch := range changes {
		task := ch.Task
		task.Priority = ch.Priority
		task.Title = ch.Title
		if _, err := api.UpdateTask(ctx, &task); err != nil {
			return fmt.Errorf("tasks: updating task %d: %w", task.ID, err)
		}
		logger.Info("organized task", "task", task.ID, "reasons", strings.Join(ch.Reasons, ", "))
	}
	return nil
}
