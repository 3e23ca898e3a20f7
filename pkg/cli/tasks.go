package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/config"
	"github.com/mlowell/clinops/pkg/tasks"
	"github.com/mlowell/clinops/pkg/vikunja"
)

var (
	taskProject     string
	taskShowDone    bool
	taskMinPriority int
	taskQuery       string

	createPriority    int
	createDue         string
	createDescription string

	assignAgents []string
	assignMax    int

	organizeDryRun bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Coordinate work through the Vikunja tracker",
}

func newTasksClient() (*vikunja.Client, error) {
	if err := cfg.RequireVikunja(); err != nil {
		return nil, err
	}
	return vikunja.NewClient(cfg.Vikunja.URL, cfg.Vikunja.Token, log), nil
}

// resolveProject accepts a numeric ID or a case-insensitive title.
func resolveProject(ctx context.Context, client *vikunja.Client, ref string) (vikunja.Project, error) {
	if ref == "" {
		return vikunja.Project{}, fmt.Errorf("a project is required, pass --project")
	}
	projects, err := client.GetProjects(ctx)
	if err != nil {
		return vikunja.Project{}, err
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, p := range projects {
			if p.ID == id {
				return p, nil
			}
		}
	}
	for _, p := range projects {
		if strings.EqualFold(p.Title, ref) {
			return p, nil
		}
	}
	return vikunja.Project{}, fmt.Errorf("no project matching %q", ref)
}

func taskAgent(t *vikunja.Task) string {
	var titles []string
	for _, l := range t.Labels {
		titles = append(titles, l.Title)
	}
	if agent, ok := tasks.AgentOf(titles); ok {
		return agent
	}
	return ""
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(cmd.Context(), client, taskProject)
		if err != nil {
			return err
		}
		all, err := client.GetTasks(cmd.Context(), project.ID)
		if err != nil {
			return err
		}

		filter := tasks.Filter{Query: taskQuery}
		if !taskShowDone {
			done := false
			filter.Done = &done
		}
		if cmd.Flags().Changed("priority") {
			filter.Priority = &taskMinPriority
		}
		matched := tasks.FilterTasks(all, filter)

		now := time.Now()
		rows := make([][]string, 0, len(matched))
		for i := range matched {
			t := &matched[i]
			due := ""
			if t.DueDate.Set() {
				due = t.DueDate.Time.Format("2006-01-02")
				if t.DueDate.Time.Before(now) && !t.Done {
					due = overdueStyle.Render(due)
				}
			}
			state := " "
			if t.Done {
				state = okStyle.Render("x")
			}
			rows = append(rows, []string{
				strconv.FormatInt(t.ID, 10), state, strconv.Itoa(t.Priority), due, taskAgent(t), t.Title,
			})
		}
		renderRows([]string{"ID", " ", "PRI", "DUE", "AGENT", "TITLE"}, rows)
		return nil
	},
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(cmd.Context(), client, taskProject)
		if err != nil {
			return err
		}

		task := &vikunja.Task{
			Title:       strings.Join(args, " "),
			Description: createDescription,
			Priority:    createPriority,
		}
		if createDue != "" {
			due, err := parseDue(createDue)
			if err != nil {
				return err
			}
			ts := vikunja.Timestamp{Time: due}
			task.DueDate = &ts
		}

		created, err := client.CreateTask(cmd.Context(), project.ID, task)
		if err != nil {
			return err
		}
		fmt.Printf("created task %d in %s\n", created.ID, project.Title)
		return nil
	},
}

func parseDue(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse due date %q, use YYYY-MM-DD", s)
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done ID [ID...]",
	Short: "Mark tasks done",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", arg)
			}
			task, err := client.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			task.Done = true
			if _, err := client.UpdateTask(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Printf("done: %s\n", task.Title)
		}
		return nil
	},
}

var tasksAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Distribute unowned tasks across agents",
	Long: `Assign hands unowned open tasks to agents round-robin, highest
priority first, by attaching agent: labels. Each agent label gets a
stable color from a local palette.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(cmd.Context(), client, taskProject)
		if err != nil {
			return err
		}
		palettePath, err := config.StatePath("agent_colors.json")
		if err != nil {
			return err
		}
		palette, err := tasks.NewPalette(palettePath)
		if err != nil {
			return err
		}

		opts := tasks.AssignOptions{Agents: assignAgents, MaxPerAgent: assignMax}
		assigned, err := tasks.Assign(cmd.Context(), client, project.ID, opts, palette, log)
		if err != nil {
			return err
		}
		if saveErr := palette.Save(); saveErr != nil {
			log.Error("saving agent palette", "error", saveErr)
		}

		for _, a := range assigned {
			fmt.Printf("%s <- task %d: %s\n", keyStyle.Render(a.Agent), a.TaskID, a.Title)
		}
		fmt.Printf("assigned %d task(s)\n", len(assigned))
		return nil
	},
}

var tasksOrganizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Triage priorities from keywords and due dates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(cmd.Context(), client, taskProject)
		if err != nil {
			return err
		}
		all, err := client.GetTasks(cmd.Context(), project.ID)
		if err != nil {
			return err
		}

		changes := tasks.Organize(all, time.Now())
		for _, ch := range changes {
			fmt.Printf("%s %s -> priority %d (%s)\n",
				warnStyle.Render(fmt.Sprintf("#%d", ch.Task.ID)),
				ch.Title, ch.Priority, strings.Join(ch.Reasons, ", "))
		}
		if len(changes) == 0 {
			fmt.Println(okStyle.Render("nothing to triage"))
			return nil
		}
		if organizeDryRun {
			return nil
		}
		return tasks.ApplyChanges(cmd.Context(), client, changes, log)
	},
}

var tasksSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Escalate tasks that have gone overdue since the last sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(cmd.Context(), client, taskProject)
		if err != nil {
			return err
		}
		tablePath, err := config.StatePath("due_tasks.json")
		if err != nil {
			return err
		}
		table, err := tasks.NewTable(tablePath)
		if err != nil {
			return err
		}

		escalations, err := tasks.SweepProject(cmd.Context(), client, project.ID, table, time.Now(), log)
		if saveErr := table.Save(); saveErr != nil {
			log.Error("saving due-task table", "error", saveErr)
		}
		if err != nil {
			return err
		}

		for _, esc := range escalations {
			fmt.Printf("%s task %d: %s\n", dangerStyle.Render("escalated"), esc.TaskID, esc.Title)
		}
		if len(escalations) == 0 {
			fmt.Println(okStyle.Render("nothing newly overdue"))
		}
		return nil
	},
}

var tasksReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize task state per project and agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newTasksClient()
		if err != nil {
			return err
		}
		now := time.Now()

		var reports []tasks.ProjectReport
		if taskProject != "" {
			project, err := resolveProject(cmd.Context(), client, taskProject)
			if err != nil {
				return err
			}
			all, err := client.GetTasks(cmd.Context(), project.ID)
			if err != nil {
				return err
			}
			reports = []tasks.ProjectReport{tasks.Report(project, all, now)}
		} else {
			reports, err = tasks.CrossReport(cmd.Context(), client, now)
			if err != nil {
				return err
			}
		}

		for _, r := range reports {
			fmt.Println(headerStyle.Render(r.Project.Title))
			fmt.Printf("  open %d / done %d / total %d", r.Open, r.Done, r.Total)
			if r.Overdue > 0 {
				fmt.Printf(", %s", overdueStyle.Render(fmt.Sprintf("%d overdue", r.Overdue)))
			}
			fmt.Println()

			agents := make([]string, 0, len(r.ByAgent))
			for agent := range r.ByAgent {
				agents = append(agents, agent)
			}
			sort.Strings(agents)
			for _, agent := range agents {
				fmt.Printf("  %s: %d open\n", keyStyle.Render(agent), r.ByAgent[agent])
			}
		}
		return nil
	},
}

func init() {
	tasksCmd.PersistentFlags().StringVarP(&taskProject, "project", "p", "", "project ID or title")

	tasksListCmd.Flags().BoolVar(&taskShowDone, "all", false, "include done tasks")
	tasksListCmd.Flags().IntVar(&taskMinPriority, "priority", 0, "minimum priority")
	tasksListCmd.Flags().StringVar(&taskQuery, "query", "", "substring match on title and description")

	tasksCreateCmd.Flags().IntVar(&createPriority, "priority", vikunja.PriorityUnset, "priority 0-5")
	tasksCreateCmd.Flags().StringVar(&createDue, "due", "", "due date (YYYY-MM-DD)")
	tasksCreateCmd.Flags().StringVar(&createDescription, "description", "", "task description")

	tasksAssignCmd.Flags().StringSliceVar(&assignAgents, "agents", nil, "agent names, comma separated")
	tasksAssignCmd.Flags().IntVar(&assignMax, "max-per-agent", 0, "max open tasks per agent, 0 for unlimited")

	tasksOrganizeCmd.Flags().BoolVar(&organizeDryRun, "dry-run", false, "show changes without applying")

	tasksCmd.AddCommand(tasksListCmd, tasksCreateCmd, tasksDoneCmd, tasksAssignCmd, tasksOrganizeCmd, tasksSweepCmd, tasksReportCmd)
	rootCmd.AddCommand(tasksCmd)
}
