// Package deploy drives the vendor CLIs (docker, gcloud, firebase) from
// a deploy.yml manifest: image build and push, Cloud Run and Cloud
// Functions deploys, and Firebase Hosting releases.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Deployer applies manifest services through a Runner. Operations run
// sequentially and stop at the first failure; there is no rollback.
type Deployer struct {
	runner Runner
	m      *Manifest
	log    *slog.Logger
}

// NewDeployer wires a Deployer.
func NewDeployer(runner Runner, m *Manifest, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{runner: runner, m: m, log: logger}
}

// ReleaseTag returns a fresh image tag: 8 hex chars of a uuid plus the
// date, unique per release but still greppable by day.
func ReleaseTag(now time.Time) string {
	return uuid.NewString()[:8] + "-" + now.Format("20060102")
}

// Build builds and pushes the service image, returning the pushed
// reference including the tag.
func (d *Deployer) Build(ctx context.Context, svc *Service, tag string) (string, error) {
	if svc.Image == "" {
		return "", fmt.Errorf("deploy: service %q has no image to build", svc.Name)
	}
	source := svc.Source
	if source == "" {
		source = "."
	}
	ref := svc.Image + ":" + tag

	if err := d.runner.Run(ctx, "docker", "build", "-t", ref, source); err != nil {
		return "", err
	}
	if err := d.runner.Run(ctx, "docker", "push", ref); err != nil {
		return "", err
	}
	d.log.Info("pushed image", "service", svc.Name, "image", ref)
	return ref, nil
}

// DeployRun deploys a Cloud Run service at the given image reference.
// Secret bindings become --set-secrets so values never pass through the
// command line.
func (d *Deployer) DeployRun(ctx context.Context, svc *Service, imageRef string) error {
	args := []string{
		"run", "deploy", svc.Name,
		"--image", imageRef,
		"--project", d.m.Project,
		"--region", svc.regionOr(d.m.Region),
		"--quiet",
	}
	if len(svc.Env) > 0 {
		args = append(args, "--set-env-vars", strings.Join(sortedKV(svc.Env), ","))
	}
	if len(svc.Secrets) > 0 {
		args = append(args, "--set-secrets", strings.Join(sortedKV(svc.Secrets), ","))
	}
	if svc.AllowUnauthenticated {
		args = append(args, "--allow-unauthenticated")
	}

	if err := d.runner.Run(ctx, "gcloud", args...); err != nil {
		return err
	}
	d.log.Info("deployed", "service", svc.Name, "kind", KindRun)
	return nil
}

// DeployFunction deploys a Cloud Function from source.
func (d *Deployer) DeployFunction(ctx context.Context, svc *Service) error {
	args := []string{
		"functions", "deploy", svc.Name,
		"--project", d.m.Project,
		"--region", svc.regionOr(d.m.Region),
		"--runtime", svc.Runtime,
		"--source", svc.Source,
		"--quiet",
	}
	if svc.Entrypoint != "" {
		args = append(args, "--entry-point", svc.Entrypoint)
	}
	if svc.Trigger == "" || svc.Trigger == "http" {
		args = append(args, "--trigger-http")
	} else {
		args = append(args, "--trigger-topic", svc.Trigger)
	}
	if len(svc.Env) > 0 {
		args = append(args, "--set-env-vars", strings.Join(sortedKV(svc.Env), ","))
	}
	if len(svc.Secrets) > 0 {
		args = append(args, "--set-secrets", strings.Join(sortedKV(svc.Secrets), ","))
	}

	if err := d.runner.Run(ctx, "gcloud", args...); err != nil {
		return err
	}
	d.log.Info("deployed", "service", svc.Name, "kind", KindFunction)
	return nil
}

// DeployHosting releases static assets through Firebase Hosting.
func (d *Deployer) DeployHosting(ctx context.Context, svc *Service) error {
	only := "hosting"
	if svc.Site != "" {
		only = "hosting:" + svc.Site
	}
	args := []string{"deploy", "--only", only, "--project", d.m.Project, "--non-interactive"}

	if err := d.runner.Run(ctx, "firebase", args...); err != nil {
		return err
	}
	d.log.Info("deployed", "service", svc.Name, "kind", KindHosting)
	return nil
}

// DeployService dispatches one service by kind, building first for Cloud
// Run services.
func (d *Deployer) DeployService(ctx context.Context, svc *Service, tag string) error {
	switch svc.Kind {
	case KindRun:
		ref, err := d.Build(ctx, svc, tag)
		if err != nil {
			return err
		}
		return d.DeployRun(ctx, svc, ref)
	case KindFunction:
		return d.DeployFunction(ctx, svc)
	case KindHosting:
		return d.DeployHosting(ctx, svc)
	default:
		return fmt.Errorf("deploy: unknown kind %q", svc.Kind)
	}
}

// All deploys every manifest service in order under one release tag,
// stopping at the first failure.
func (d *Deployer) All(ctx context.Context) error {
	tag := ReleaseTag(time.Now())
	d.log.Info("starting release", "tag", tag, "services", len(d.m.Services))
	for i := range d.m.Services {
		if err := d.DeployService(ctx, &d.m.Services[i], tag); err != nil {
			return fmt.Errorf("deploy: service %s: %w", d.m.Services[i].Name, err)
		}
	}
	return nil
}
