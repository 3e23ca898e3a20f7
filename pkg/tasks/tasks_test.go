package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlowell/clinops/pkg/vikunja"
)

// fakeAPI is an in-memory API implementation.
type fakeAPI struct {
	projects    []vikunja.Project
	tasks       map[int64][]vikunja.Task // by project ID
	labels      []vikunja.Label
	nextLabelID int64
	taskLabels  map[int64][]int64 // task ID -> label IDs added
	updated     []vikunja.Task
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tasks:       make(map[int64][]vikunja.Task),
		taskLabels:  make(map[int64][]int64),
		nextLabelID: 100,
	}
}

func (f *fakeAPI) GetProjects(context.Context) ([]vikunja.Project, error) {
	return f.projects, nil
}

func (f *fakeAPI) GetTasks(_ context.Context, projectID int64) ([]vikunja.Task, error) {
	out := make([]vikunja.Task, len(f.tasks[projectID]))
	copy(out, f.tasks[projectID])
	return out, nil
}

func (f *fakeAPI) CreateTask(_ context.Context, projectID int64, task *vikunja.Task) (*vikunja.Task, error) {
	created := *task
	created.ID = int64(len(f.tasks[projectID]) + 1)
	created.ProjectID = projectID
	f.tasks[projectID] = append(f.tasks[projectID], created)
	return &created, nil
}

func (f *fakeAPI) UpdateTask(_ context.Context, task *vikunja.Task) (*vikunja.Task, error) {
	f.updated = append(f.updated, *task)
	for pid, list := range f.tasks {
		for i := range list {
			if list[i].ID == task.ID {
				f.tasks[pid][i] = *task
			}
		}
	}
	return task, nil
}

func (f *fakeAPI) GetLabels(context.Context) ([]vikunja.Label, error) {
	return f.labels, nil
}

func (f *fakeAPI) CreateLabel(_ context.Context, title, hexColor string) (*vikunja.Label, error) {
	f.nextLabelID++
	label := vikunja.Label{ID: f.nextLabelID, Title: title, HexColor: hexColor}
	f.labels = append(f.labels, label)
	return &label, nil
}

func (f *fakeAPI) AddLabel(_ context.Context, taskID, labelID int64) error {
	f.taskLabels[taskID] = append(f.taskLabels[taskID], labelID)
	return nil
}

func (f *fakeAPI) labelTitle(id int64) string {
	for _, l := range f.labels {
		if l.ID == id {
			return l.Title
		}
	}
	return ""
}

func due(t time.Time) *vikunja.Timestamp {
	return &vikunja.Timestamp{Time: t}
}

func TestFilterTasks(t *testing.T) {
	done := true
	undone := false
	high := vikunja.PriorityHigh
	all := []vikunja.Task{
		{ID: 1, Title: "Fix appointment reminder emails", Done: false, Priority: 3},
		{ID: 2, Title: "Update privacy policy", Description: "legal review", Done: true, Priority: 1},
		{ID: 3, Title: "Rotate SMTP password", Done: false, Priority: 5},
	}

	assert.Len(t, FilterTasks(all, Filter{Done: &undone}), 2)
	assert.Len(t, FilterTasks(all, Filter{Done: &done}), 1)
	assert.Len(t, FilterTasks(all, Filter{Priority: &high}), 2)

	got := FilterTasks(all, Filter{Query: "LEGAL"})
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)

	assert.Empty(t, FilterTasks(all, Filter{Query: "nonexistent"}))
}

func TestAssignRoundRobin(t *testing.T) {
	api := newFakeAPI()
	api.tasks[1] = []vikunja.Task{
		{ID: 10, Title: "low", Priority: 1},
		{ID: 11, Title: "urgent", Priority: 5},
		{ID: 12, Title: "medium", Priority: 2},
		{ID: 13, Title: "done already", Priority: 5, Done: true},
	}

	assigned, err := Assign(context.Background(), api, 1, AssignOptions{Agents: []string{"verity", "quill"}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, assigned, 3)

	// Highest priority handed out first, alternating agents.
	assert.Equal(t, int64(11), assigned[0].TaskID)
	assert.Equal(t, "verity", assigned[0].Agent)
	assert.Equal(t, int64(12), assigned[1].TaskID)
	assert.Equal(t, "quill", assigned[1].Agent)
	assert.Equal(t, int64(10), assigned[2].TaskID)
	assert.Equal(t, "verity", assigned[2].Agent)

	// Labels were created and attached.
	labelID := api.taskLabels[11][0]
	assert.Equal(t, "agent:verity", api.labelTitle(labelID))
}

func TestAssignHonorsExistingLoadAndCap(t *testing.T) {
	api := newFakeAPI()
	api.labels = []vikunja.Label{{ID: 7, Title: "agent:verity"}}
	api.tasks[1] = []vikunja.Task{
		{ID: 10, Title: "already owned", Labels: []vikunja.Label{{ID: 7, Title: "agent:verity"}}},
		{ID: 11, Title: "a"},
		{ID: 12, Title: "b"},
		{ID: 13, Title: "c"},
	}

	assigned, err := Assign(context.Background(), api, 1,
		AssignOptions{Agents: []string{"verity"}, MaxPerAgent: 2}, nil, nil)
	require.NoError(t, err)

	// verity already owns one task, so only one more fits under the cap.
	require.Len(t, assigned, 1)
	assert.Equal(t, int64(11), assigned[0].TaskID)
}

func TestAssignNoAgents(t *testing.T) {
	_, err := Assign(context.Background(), newFakeAPI(), 1, AssignOptions{}, nil, nil)
	assert.Error(t, err)
}

func TestOrganize(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	all := []vikunja.Task{
		{ID: 1, Title: "Production outage in scheduler", Priority: 0},
		{ID: 2, Title: "Bug: double-booked appointments", Priority: 1},
		{ID: 3, Title: "chore: tidy deploy scripts", Priority: 0},
		{ID: 4, Title: "Call insurance provider", Priority: 2, DueDate: due(now.Add(-24 * time.Hour))},
		{ID: 5, Title: "Already triaged outage", Priority: 5},
		{ID: 6, Title: "Done outage", Priority: 0, Done: true},
	}

	changes := Organize(all, now)
	require.Len(t, changes, 4)

	byID := make(map[int64]Change)
	for _, ch := range changes {
		byID[ch.Task.ID] = ch
	}

	assert.Equal(t, vikunja.PriorityUrgent, byID[1].Priority)
	assert.Equal(t, vikunja.PriorityHigh, byID[2].Priority)
	assert.Equal(t, vikunja.PriorityLow, byID[3].Priority)
	assert.Equal(t, vikunja.PriorityUrgent, byID[4].Priority)
	assert.Equal(t, "! Call insurance provider", byID[4].Title)

	// Task 5 already at DO NOW, task 6 done: untouched.
	assert.NotContains(t, byID, int64(5))
	assert.NotContains(t, byID, int64(6))
}

func TestOrganizeIdempotent(t *testing.T) {
	now := time.Now()
	all := []vikunja.Task{
		{ID: 1, Title: "! overdue thing", Priority: vikunja.PriorityUrgent, DueDate: due(now.Add(-time.Hour))},
	}
	assert.Empty(t, Organize(all, now))
}

func TestApplyChanges(t *testing.T) {
	api := newFakeAPI()
	changes := []Change{
		{Task: vikunja.Task{ID: 1, Title: "old", Priority: 0}, Title: "new", Priority: 4},
	}
	require.NoError(t, ApplyChanges(context.Background(), api, changes, nil))
	require.Len(t, api.updated, 1)
	assert.Equal(t, "new", api.updated[0].Title)
	assert.Equal(t, 4, api.updated[0].Priority)
}

func TestReport(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	all := []vikunja.Task{
		{ID: 1, Done: true},
		{ID: 2, Priority: 5, DueDate: due(now.Add(-time.Hour)), Labels: []vikunja.Label{{Title: "agent:verity"}}},
		{ID: 3, Priority: 2},
		{ID: 4, Priority: 2, Labels: []vikunja.Label{{Title: "agent:verity"}}},
	}

	r := Report(vikunja.Project{ID: 1, Title: "ops"}, all, now)
	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.Done)
	assert.Equal(t, 3, r.Open)
	assert.Equal(t, 1, r.Overdue)
	assert.Equal(t, 2, r.ByPriority[2])
	assert.Equal(t, 1, r.ByPriority[5])
	assert.Equal(t, 2, r.ByAgent["verity"])
}

func TestCrossReport(t *testing.T) {
	api := newFakeAPI()
	api.projects = []vikunja.Project{{ID: 1, Title: "ops"}, {ID: 2, Title: "frontend"}}
	api.tasks[1] = []vikunja.Task{{ID: 1}, {ID: 2, Done: true}}
	api.tasks[2] = []vikunja.Task{{ID: 3}}

	reports, err := CrossReport(context.Background(), api, time.Now())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "ops", reports[0].Project.Title)
	assert.Equal(t, 2, reports[0].Total)
	assert.Equal(t, 1, reports[1].Total)
}

func TestSweepProject(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	api := newFakeAPI()
	api.tasks[1] = []vikunja.Task{
		{ID: 1, Title: "renew TLS cert", Priority: 1, DueDate: due(now.Add(-time.Hour))},
		{ID: 2, Title: "future work", Priority: 1, DueDate: due(now.Add(time.Hour))},
	}

	table, err := NewTable(fmt.Sprintf("%s/due.json", t.TempDir()))
	require.NoError(t, err)

	escalated, err := SweepProject(context.Background(), api, 1, table, now, nil)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, int64(1), escalated[0].TaskID)
	assert.Equal(t, "! renew TLS cert", escalated[0].Title)
	assert.Equal(t, vikunja.PriorityUrgent, escalated[0].Priority)

	// Swept entries left the table; a second run escalates nothing new.
	escalated, err = SweepProject(context.Background(), api, 1, table, now, nil)
	require.NoError(t, err)
	assert.Empty(t, escalated)

	require.NoError(t, table.Save())
	again, err := NewTable(table.Path)
	require.NoError(t, err)
	_, tracked := again.Entries["2"]
	assert.True(t, tracked, "future task stays tracked")
	_, swept := again.Entries["1"]
	assert.False(t, swept, "swept task stays out")
}
