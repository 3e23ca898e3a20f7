package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/deploy"
	"github.com/mlowell/clinops/pkg/scan"
)

var (
	deployTag      string
	deploySkipScan bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build and deploy services from deploy.yml",
}

func newDeployer() (*deploy.Deployer, *deploy.Manifest, error) {
	m, err := deploy.LoadManifest(cfg.Deploy.Manifest)
	if err != nil {
		return nil, nil, err
	}
	d := deploy.NewDeployer(&deploy.ExecRunner{Log: log}, m, log)
	return d, m, nil
}

func releaseTag() string {
	if deployTag != "" {
		return deployTag
	}
	return deploy.ReleaseTag(time.Now())
}

// preDeployScan blocks a release that would ship staged credentials.
func preDeployScan(ctx context.Context) error {
	if deploySkipScan {
		return nil
	}
	scanner, err := scan.NewScanner(cfg.Scan.Allow, log)
	if err != nil {
		return err
	}
	findings, err := scanner.ScanStaged(ctx)
	if err != nil {
		// Not a git checkout is fine; deploys can run from a tarball.
		log.Warn("pre-deploy scan skipped", "error", err)
		return nil
	}
	if len(findings) > 0 {
		for _, f := range findings {
			fmt.Printf("%s %s\n", dangerStyle.Render(fmt.Sprintf("%s:%d", f.File, f.Line)), f.Excerpt)
		}
		return fmt.Errorf("%d potential credential(s) staged, commit or drop them first (or --skip-scan)", len(findings))
	}
	return nil
}

var deployBuildCmd = &cobra.Command{
	Use:   "build SERVICE",
	Short: "Build and push a service image without deploying",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, m, err := newDeployer()
		if err != nil {
			return err
		}
		svc, err := m.Find(args[0])
		if err != nil {
			return err
		}
		ref, err := d.Build(cmd.Context(), svc, releaseTag())
		if err != nil {
			return err
		}
		fmt.Println(ref)
		return nil
	},
}

var deployRunCmd = &cobra.Command{
	Use:   "run SERVICE",
	Short: "Build, push, and deploy a Cloud Run service",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return deployOne(cmd.Context(), args[0]) },
}

var deployFunctionCmd = &cobra.Command{
	Use:   "function SERVICE",
	Short: "Deploy a Cloud Function from source",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return deployOne(cmd.Context(), args[0]) },
}

var deployHostingCmd = &cobra.Command{
	Use:   "hosting SERVICE",
	Short: "Release static assets through Firebase Hosting",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return deployOne(cmd.Context(), args[0]) },
}

func deployOne(ctx context.Context, name string) error {
	d, m, err := newDeployer()
	if err != nil {
		return err
	}
	svc, err := m.Find(name)
	if err != nil {
		return err
	}
	if err := preDeployScan(ctx); err != nil {
		return err
	}
	if !confirm(fmt.Sprintf("deploy %s to project %s", svc.Name, m.Project)) {
		return fmt.Errorf("aborted")
	}
	return d.DeployService(ctx, svc, releaseTag())
}

var deployAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Deploy every service in the manifest under one release tag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, m, err := newDeployer()
		if err != nil {
			return err
		}
		if err := preDeployScan(cmd.Context()); err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("deploy %d service(s) to project %s", len(m.Services), m.Project)) {
			return fmt.Errorf("aborted")
		}
		return d.All(cmd.Context())
	},
}

func init() {
	deployCmd.PersistentFlags().StringVar(&deployTag, "tag", "", "image tag (default: generated release tag)")
	deployCmd.PersistentFlags().BoolVar(&deploySkipScan, "skip-scan", false, "skip the pre-deploy credential scan")
	deployCmd.AddCommand(deployBuildCmd, deployRunCmd, deployFunctionCmd, deployHostingCmd, deployAllCmd)
	rootCmd.AddCommand(deployCmd)
}
