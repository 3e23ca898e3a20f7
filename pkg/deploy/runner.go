package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external commands. The indirection exists so tests can
// assert the exact argv without docker or gcloud installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands for real, streaming their output through.
type ExecRunner struct {
	Log *slog.Logger
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if r.Log != nil {
		r.Log.Info("running", "cmd", name+" "+strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("deploy: %s exited with code %d", name, exitErr.ExitCode())
		}
		return fmt.Errorf("deploy: running %s: %w", name, err)
	}
	return nil
}
