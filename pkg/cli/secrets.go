package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/config"
	"github.com/mlowell/clinops/pkg/envfile"
	"github.com/mlowell/clinops/pkg/gsm"
	"github.com/mlowell/clinops/pkg/secretsync"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Sync the env file with Google Secret Manager",
}

// newSyncer builds the env document, state index, and Secret Manager
// client every secrets subcommand needs.
func newSyncer(ctx context.Context) (*secretsync.Syncer, *envfile.Document, *secretsync.State, error) {
	if err := cfg.RequireGoogle(); err != nil {
		return nil, nil, nil, err
	}
	doc, err := envfile.Load(cfg.EnvFile)
	if err != nil {
		return nil, nil, nil, err
	}
	statePath, err := config.StatePath("secret_state.json")
	if err != nil {
		return nil, nil, nil, err
	}
	state, err := secretsync.LoadState(statePath)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := gsm.NewClient(ctx, cfg.Google.Project, cfg.Google.CredentialsFile, log)
	if err != nil {
		return nil, nil, nil, err
	}
	syncer := secretsync.NewSyncer(client, state, cfg.Secrets.Prefix, cfg.Secrets.Exclude, log)
	return syncer, doc, state, nil
}

func renderPlan(plan *secretsync.Plan) {
	for _, ch := range plan.Changes {
		var label string
		switch ch.Action {
		case secretsync.ActionCreate, secretsync.ActionPush:
			label = warnStyle.Render(string(ch.Action))
		case secretsync.ActionPull:
			label = warnStyle.Render(string(ch.Action))
		case secretsync.ActionConflict:
			label = dangerStyle.Render(string(ch.Action))
		case secretsync.ActionInSync:
			label = okStyle.Render(string(ch.Action))
		default:
			label = subtleStyle.Render(string(ch.Action))
		}
		line := fmt.Sprintf("%-10s %s", label, keyStyle.Render(ch.Key))
		if ch.Reason != "" {
			line += "  " + subtleStyle.Render(ch.Reason)
		}
		fmt.Println(line)
	}
}

// runSync is diff/sync/push/pull behind one flow: plan, render, confirm,
// apply, persist.
func runSync(ctx context.Context, mode secretsync.Mode, dryRun bool) error {
	syncer, doc, state, err := newSyncer(ctx)
	if err != nil {
		return err
	}

	plan, err := syncer.Diff(ctx, doc, mode)
	if err != nil {
		return err
	}
	renderPlan(plan)

	if conflicts := plan.Conflicts(); len(conflicts) > 0 {
		return fmt.Errorf("%w: %v", secretsync.ErrConflict, conflicts)
	}
	if dryRun || !plan.HasWork() {
		if !plan.HasWork() {
			fmt.Println(okStyle.Render("everything in sync"))
		}
		return nil
	}
	if !confirm("apply these changes") {
		return fmt.Errorf("aborted")
	}

	// Pulls land in the index only after the env file is on disk, so a
	// failed write can never make a stale local value look locally edited.
	applyErr := syncer.Apply(ctx, plan, doc)
	if err := doc.Save(cfg.EnvFile); err != nil {
		if applyErr != nil {
			log.Error("apply failed", "error", applyErr)
		}
		return err
	}
	syncer.CommitPulls(plan)
	if err := state.Save(); err != nil {
		if applyErr != nil {
			log.Error("apply failed", "error", applyErr)
		}
		return err
	}
	return applyErr
}

var secretsDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the plan without touching either side",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, doc, _, err := newSyncer(cmd.Context())
		if err != nil {
			return err
		}
		plan, err := syncer.Diff(cmd.Context(), doc, secretsync.ModeSync)
		if err != nil {
			return err
		}
		renderPlan(plan)
		return nil
	},
}

var secretsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile both sides, following whichever changed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), secretsync.ModeSync, false)
	},
}

var secretsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Make the local env file authoritative",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), secretsync.ModePush, false)
	},
}

var secretsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Make Secret Manager authoritative",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), secretsync.ModePull, false)
	},
}

var (
	rotateValue      string
	rotateDestroyOld bool
)

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate KEY [KEY...]",
	Short: "Write a fresh value to both sides",
	Long: `Rotate generates a random urlsafe token for each key (or uses --value)
and writes it as a new Secret Manager version and into the env file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if rotateValue != "" && len(args) > 1 {
			return fmt.Errorf("--value only makes sense with a single key")
		}
		syncer, doc, state, err := newSyncer(cmd.Context())
		if err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("rotate %v in project %s", args, cfg.Google.Project)) {
			return fmt.Errorf("aborted")
		}
		if err := syncer.Rotate(cmd.Context(), doc, args, rotateValue, rotateDestroyOld); err != nil {
			return err
		}
		if err := doc.Save(cfg.EnvFile); err != nil {
			return err
		}
		return state.Save()
	},
}

var removeLocal bool

var secretsRemoveCmd = &cobra.Command{
	Use:   "remove KEY [KEY...]",
	Short: "Delete secrets from Secret Manager",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, doc, state, err := newSyncer(cmd.Context())
		if err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("delete %v from project %s", args, cfg.Google.Project)) {
			return fmt.Errorf("aborted")
		}
		if err := syncer.Remove(cmd.Context(), args); err != nil {
			return err
		}
		if removeLocal {
			for _, key := range args {
				doc.Unset(key)
			}
			if err := doc.Save(cfg.EnvFile); err != nil {
				return err
			}
		}
		return state.Save()
	},
}

var watchDebounce time.Duration

var secretsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Push env file edits to Secret Manager as they happen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireGoogle(); err != nil {
			return err
		}
		// No terminal to prompt on once we are blocked in the watch loop.
		assumeYes = true
		return secretsync.Watch(cmd.Context(), cfg.EnvFile, watchDebounce, log, func(ctx context.Context) error {
			// Push only. A pull here would fight the editor.
			if err := runSync(ctx, secretsync.ModePush, false); err != nil {
				log.Error("sync after change failed", "error", err)
			}
			return nil
		})
	},
}

func init() {
	secretsRotateCmd.Flags().StringVar(&rotateValue, "value", "", "explicit value instead of a generated token")
	secretsRotateCmd.Flags().BoolVar(&rotateDestroyOld, "destroy-old", false, "destroy the previous version's payload after rotating")
	secretsRemoveCmd.Flags().BoolVar(&removeLocal, "local", false, "also remove the key from the env file")
	secretsWatchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "settle time after the last write")
	secretsCmd.AddCommand(secretsDiffCmd, secretsSyncCmd, secretsPushCmd, secretsPullCmd, secretsRotateCmd, secretsRemoveCmd, secretsWatchCmd)
	rootCmd.AddCommand(secretsCmd)
}
