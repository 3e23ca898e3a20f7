package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mlowell/clinops/pkg/vikunja"
)

// Entry is one tracked open task with a due date.
type Entry struct {
	TaskID int64     `json:"task_id"`
	Title  string    `json:"title"`
	Due    time.Time `json:"due"`
}

// Table tracks due tasks between runs so each one is escalated exactly
// once: swept entries leave the table. Persisted as JSON in the clinops
// state dir.
type Table struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	dirty   bool
}

// NewTable loads the table at path, starting empty when absent.
func NewTable(path string) (*Table, error) {
	t := &Table{
		Entries: make(map[string]Entry),
		Path:    path,
	}
	if _, err := os.Stat(path); err == nil {
		if err := t.load(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) load() error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(t)
}

// Save persists the table when it changed.
func (t *Table) Save() error {
	if !t.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(t); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Track refreshes the table from a fresh task listing: open tasks with a
// due date enter or update their entry, done tasks leave.
func (t *Table) Track(all []vikunja.Task) {
	for i := range all {
		task := &all[i]
		key := strconv.FormatInt(task.ID, 10)
		// The "! " prefix marks a task that was already escalated; it
		// must not re-enter the table and get bumped again.
		if task.Done || !task.DueDate.Set() || strings.HasPrefix(task.Title, "! ") {
			t.remove(key)
			continue
		}
		entry := Entry{TaskID: task.ID, Title: task.Title, Due: task.DueDate.Time}
		if old, exists := t.Entries[key]; !exists || old != entry {
			t.Entries[key] = entry
			t.dirty = true
		}
	}
}

func (t *Table) remove(key string) {
	if _, exists := t.Entries[key]; exists {
		delete(t.Entries, key)
		t.dirty = true
	}
}

// Sweep removes and returns entries whose due date has passed.
func (t *Table) Sweep(now time.Time) []Entry {
	var swept []Entry
	for key, entry := range t.Entries {
		if entry.Due.Before(now) {
			swept = append(swept, entry)
			delete(t.Entries, key)
			t.dirty = true
		}
	}
	return swept
}

// Escalation records one overdue task that was bumped.
type Escalation struct {
	TaskID   int64
	Title    string
	Priority int
}

// SweepProject refreshes the table from the project's tasks, sweeps newly
// overdue entries, and escalates each matching task: "! " title prefix and
// at least urgent priority. The caller saves the table.
func SweepProject(ctx context.Context, api API, projectID int64, table *Table, now time.Time, logger *slog.Logger) ([]Escalation, error) {
	if logger == nil {
		logger = slog.Default()
	}

	all, err := api.GetTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*vikunja.Task, len(all))
	for i := range all {
		byID[all[i].ID] = &all[i]
	}

	table.Track(all)

	var escalations []Escalation
	for _, entry := range table.Sweep(now) {
		task, ok := byID[entry.TaskID]
		if !ok || task.Done {
			continue
		}
		if !strings.HasPrefix(task.Title, "! ") {
			task.Title = "! " + task.Title
		}
		if task.Priority < vikunja.PriorityUrgent {
			task.Priority = vikunja.PriorityUrgent
		}
		if _, err := api.UpdateTask(ctx, task); err != nil {
			return escalations, fmt.Errorf("tasks: escalating task %d: %w", task.ID, err)
		}
		escalations = append(escalations, Escalation{TaskID: task.ID, Title: task.Title, Priority: task.Priority})
		logger.Info("escalated overdue task", "task", task.ID, "due", entry.Due)
	}
	return escalations, nil
}
