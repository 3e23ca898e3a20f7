package vikunja

import (
	"strings"
	"time"
)

// Priority values as Vikunja stores them: 0 unset through 5 "DO NOW".
const (
	PriorityUnset  = 0
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
	PriorityDoNow  = 5
)

// Timestamp wraps time.Time for Vikunja's habit of sending the zero time
// "0001-01-01T00:00:00Z" (or null) for unset dates.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		ts.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	if t.Year() <= 1 {
		// Vikunja's "no date" marker.
		t = time.Time{}
	}
	ts.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Time.IsZero() {
		return []byte(`"0001-01-01T00:00:00Z"`), nil
	}
	return []byte(`"` + ts.Time.Format(time.RFC3339) + `"`), nil
}

// Set reports whether the timestamp carries a real date.
func (ts *Timestamp) Set() bool {
	return ts != nil && !ts.Time.IsZero()
}

// Project is a Vikunja project.
type Project struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Label is a Vikunja label.
type Label struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	HexColor string `json:"hex_color,omitempty"`
}

// User is the subset of a Vikunja user the coordination tooling reads.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Task is a Vikunja task.
type Task struct {
	ID          int64      `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Done        bool       `json:"done"`
	DoneAt      *Timestamp `json:"done_at,omitempty"`
	DueDate     *Timestamp `json:"due_date,omitempty"`
	Priority    int        `json:"priority"`
	ProjectID   int64      `json:"project_id,omitempty"`
	Labels      []Label    `json:"labels,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Created     *Timestamp `json:"created,omitempty"`
	Updated     *Timestamp `json:"updated,omitempty"`
}

// HasLabel reports whether the task carries a label with the given title.
func (t *Task) HasLabel(title string) bool {
	for _, l := range t.Labels {
		if l.Title == title {
			return true
		}
	}
	return false
}
