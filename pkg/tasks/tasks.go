// Package tasks implements the coordination operations run against the
// Vikunja tracker: listing and filtering, distributing work across agents,
// priority triage, overdue escalation, and reporting.
package tasks

import (
	"context"
	"strings"

	"github.com/mlowell/clinops/pkg/vikunja"
)

// API is the slice of the Vikunja client these operations need.
// *vikunja.Client satisfies it; tests use a fake.
type API interface {
	GetProjects(ctx context.Context) ([]vikunja.Project, error)
	GetTasks(ctx context.Context, projectID int64) ([]vikunja.Task, error)
	CreateTask(ctx context.Context, projectID int64, task *vikunja.Task) (*vikunja.Task, error)
	UpdateTask(ctx context.Context, task *vikunja.Task) (*vikunja.Task, error)
	GetLabels(ctx context.Context) ([]vikunja.Label, error)
	CreateLabel(ctx context.Context, title, hexColor string) (*vikunja.Label, error)
	AddLabel(ctx context.Context, taskID, labelID int64) error
}

// Filter selects tasks in memory after a full project fetch.
type Filter struct {
	Done     *bool
	Priority *int // minimum priority
	Query    string
}

// Match reports whether the task passes the filter. Query matches
// case-insensitively against title and description.
func (f Filter) Match(t *vikunja.Task) bool {
	if f.Done != nil && t.Done != *f.Done {
		return false
	}
	if f.Priority != nil && t.Priority < *f.Priority {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// FilterTasks returns the tasks matching f, preserving order.
func FilterTasks(ts []vikunja.Task, f Filter) []vikunja.Task {
	var out []vikunja.Task
	for i := range ts {
		if f.Match(&ts[i]) {
			out = append(out, ts[i])
		}
	}
	return out
}
