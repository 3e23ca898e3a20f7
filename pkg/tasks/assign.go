package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// AgentLabelPrefix marks the labels that carry agent ownership. Agents
// are not Vikunja users, so assignment lives in labels like
// "agent:verity" rather than the assignee field.
const AgentLabelPrefix = "agent:"

// AssignOptions controls work distribution.
type AssignOptions struct {
	Agents      []string
	MaxPerAgent int // 0 means unlimited
}

// Assignment records one task handed to one agent.
type Assignment struct {
	TaskID int64
	Title  string
	Agent  string
}

// AgentOf returns the agent owning the task via an agent: label.
func AgentOf(labels []string) (string, bool) {
	for _, l := range labels {
		if name, ok := strings.CutPrefix(l, AgentLabelPrefix); ok {
			return name, true
		}
	}
	return "", false
}

// Assign distributes unowned open tasks of a project across the agents
// round-robin, highest priority first. Agents already at MaxPerAgent open
// tasks are skipped. Returns what was assigned.
func Assign(ctx context.Context, api API, projectID int64, opts AssignOptions, palette *Palette, logger *slog.Logger) ([]Assignment, error) {
	if len(opts.Agents) == 0 {
		return nil, fmt.Errorf("tasks: no agents to assign to")
	}
	if logger == nil {
		logger = slog.Default()
	}

	all, err := api.GetTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Current open load per agent, from existing labels.
	load := make(map[string]int, len(opts.Agents))
	var candidates []int
	for i := range all {
		t := &all[i]
		if t.Done {
			continue
		}
		var titles []string
		for _, l := range t.Labels {
			titles = append(titles, l.Title)
		}
		if agent, owned := AgentOf(titles); owned {
			load[agent]++
			continue
		}
		candidates = append(candidates, i)
	}

	// Highest priority first; ties by earliest due date, then id for
	// stable output.
	sort.SliceStable(candidates, func(a, b int) bool {
		ta, tb := &all[candidates[a]], &all[candidates[b]]
		if ta.Priority != tb.Priority {
			return ta.Priority > tb.Priority
		}
		aDue, bDue := ta.DueDate.Set(), tb.DueDate.Set()
		if aDue != bDue {
			return aDue
		}
		if aDue && !ta.DueDate.Time.Equal(tb.DueDate.Time) {
			return ta.DueDate.Time.Before(tb.DueDate.Time)
		}
		return ta.ID < tb.ID
	})

	labelIDs, err := ensureAgentLabels(ctx, api, opts.Agents, palette)
	if err != nil {
		return nil, err
	}

	var assigned []Assignment
	next := 0
	for _, idx := range candidates {
		agent, ok := pickAgent(opts, load, &next)
		if !ok {
			logger.Info("all agents at capacity", "remaining", len(candidates)-len(assigned))
			break
		}

		t := &all[idx]
		if err := api.AddLabel(ctx, t.ID, labelIDs[agent]); err != nil {
			return assigned, fmt.Errorf("tasks: labeling task %d: %w", t.ID, err)
		}
		load[agent]++
		assigned = append(assigned, Assignment{TaskID: t.ID, Title: t.Title, Agent: agent})
		logger.Info("assigned task", "task", t.ID, "agent", agent)
	}
	return assigned, nil
}

// pickAgent advances round-robin to the next agent with remaining
// capacity.
func pickAgent(opts AssignOptions, load map[string]int, next *int) (string, bool) {
	for tries := 0; tries < len(opts.Agents); tries++ {
		agent := opts.Agents[*next%len(opts.Agents)]
		*next++
		if opts.MaxPerAgent == 0 || load[agent] < opts.MaxPerAgent {
			return agent, true
		}
	}
	return "", false
}

// ensureAgentLabels resolves agent label IDs, creating missing labels
// with palette colors.
func ensureAgentLabels(ctx context.Context, api API, agents []string, palette *Palette) (map[string]int64, error) {
	existing, err := api.GetLabels(ctx)
	if err != nil {
		return nil, err
	}
	byTitle := make(map[string]int64, len(existing))
	for _, l := range existing {
		byTitle[l.Title] = l.ID
	}

	ids := make(map[string]int64, len(agents))
	for _, agent := range agents {
		title := AgentLabelPrefix + agent
		if id, ok := byTitle[title]; ok {
			ids[agent] = id
			continue
		}
		hex := fallbackHex
		if palette != nil {
			hex = palette.ColorFor(agent)
		}
		created, err := api.CreateLabel(ctx, title, hex)
		if err != nil {
			return nil, fmt.Errorf("tasks: creating label %s: %w", title, err)
		}
		ids[agent] = created.ID
	}
	return ids, nil
}
