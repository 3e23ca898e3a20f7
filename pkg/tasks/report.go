package tasks

import (
	"context"
	"time"

	"github.com/mlowell/clinops/pkg/vikunja"
)

// ProjectReport summarizes one project's tasks.
type ProjectReport struct {
	Project    vikunja.Project
	Total      int
	Done       int
	Open       int
	Overdue    int
	ByPriority [6]int // open tasks indexed by priority 0..5
	ByAgent    map[string]int
}

// Report builds the summary for one project's task listing.
func Report(project vikunja.Project, all []vikunja.Task, now time.Time) ProjectReport {
	r := ProjectReport{Project: project, ByAgent: make(map[string]int)}
	for i := range all {
		t := &all[i]
		r.Total++
		if t.Done {
			r.Done++
			continue
		}
		r.Open++
		if t.Priority >= 0 && t.Priority < len(r.ByPriority) {
			r.ByPriority[t.Priority]++
		}
		if t.DueDate.Set() && t.DueDate.Time.Before(now) {
			r.Overdue++
		}
		var titles []string
		for _, l := range t.Labels {
			titles = append(titles, l.Title)
		}
		if agent, ok := AgentOf(titles); ok {
			r.ByAgent[agent]++
		}
	}
	return r
}

// CrossReport summarizes every project visible to the token, in the order
// the tracker returns them.
func CrossReport(ctx context.Context, api API, now time.Time) ([]ProjectReport, error) {
	projects, err := api.GetProjects(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]ProjectReport, 0, len(projects))
	for _, p := range projects {
		all, err := api.GetTasks(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, Report(p, all, now))
	}
	return reports, nil
}
