// Package gsm wraps the Google Secret Manager API with the handful of
// operations secret synchronization needs: create, add version, access,
// list, and destroy.
package gsm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"

	"github.com/mlowell/clinops/pkg/gauth"
)

var (
	ErrSecretNotFound  = errors.New("gsm: secret not found")
	ErrVersionNotFound = errors.New("gsm: secret version not found")
)

// Client is a thin wrapper over the Secret Manager service, scoped to a
// single GCP project.
type Client struct {
	svc     *secretmanager.Service
	project string
	log     *slog.Logger
}

// NewClient builds a Client for the given project. credentialsFile may be
// empty to use Application Default Credentials.
func NewClient(ctx context.Context, project, credentialsFile string, logger *slog.Logger) (*Client, error) {
	httpClient, err := gauth.HTTPClient(ctx, credentialsFile, secretmanager.CloudPlatformScope)
	if err != nil {
		return nil, err
	}

	svc, err := secretmanager.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gsm: creating service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, project: project, log: logger}, nil
}

func (c *Client) parent() string {
	return "projects/" + c.project
}

func (c *Client) secretName(id string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", c.project, id)
}

// EnsureSecret creates the secret container if it does not exist yet.
// Returns true when the secret was created.
func (c *Client) EnsureSecret(ctx context.Context, id string) (bool, error) {
	secret := &secretmanager.Secret{
		Replication: &secretmanager.Replication{Automatic: &secretmanager.Automatic{}},
		Labels:      map[string]string{"managed-by": "clinops"},
	}

	created := false
	err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.svc.Projects.Secrets.Create(c.parent(), secret).SecretId(id).Context(ctx).Do()
		if isStatus(err, 409) {
			// Already exists.
			return nil
		}
		if err == nil {
			created = true
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("gsm: creating secret %s: %w", id, err)
	}
	if created {
		c.log.Info("created secret", "secret", id)
	}
	return created, nil
}

// AddVersion stores data as the new latest version of the secret and
// returns the version number (the trailing component of the version name).
func (c *Client) AddVersion(ctx context.Context, id string, data []byte) (string, error) {
	req := &secretmanager.AddSecretVersionRequest{
		Payload: &secretmanager.SecretPayload{
			Data: base64.StdEncoding.EncodeToString(data),
		},
	}

	var version *secretmanager.SecretVersion
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		version, err = c.svc.Projects.Secrets.AddVersion(c.secretName(id), req).Context(ctx).Do()
		return err
	})
	if isStatus(err, 404) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("gsm: adding version to %s: %w", id, err)
	}

	n := version.Name[strings.LastIndex(version.Name, "/")+1:]
	c.log.Info("added secret version", "secret", id, "version", n)
	return n, nil
}

// AccessLatest returns the payload of the latest enabled version.
func (c *Client) AccessLatest(ctx context.Context, id string) ([]byte, error) {
	return c.AccessVersion(ctx, id, "latest")
}

// AccessVersion returns the payload of a specific version ("latest" or a
// numeric version string).
func (c *Client) AccessVersion(ctx context.Context, id, version string) ([]byte, error) {
	name := fmt.Sprintf("%s/versions/%s", c.secretName(id), version)

	var resp *secretmanager.AccessSecretVersionResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Projects.Secrets.Versions.Access(name).Context(ctx).Do()
		return err
	})
	if isStatus(err, 404) {
		return nil, fmt.Errorf("%w: %s/%s", ErrVersionNotFound, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("gsm: accessing %s/%s: %w", id, version, err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("gsm: decoding payload of %s: %w", id, err)
	}
	return data, nil
}

// List returns the IDs of all secrets in the project, optionally limited
// to those with the given prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := c.withRetry(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		return c.svc.Projects.Secrets.List(c.parent()).Pages(ctx, func(resp *secretmanager.ListSecretsResponse) error {
			for _, s := range resp.Secrets {
				id := s.Name[strings.LastIndex(s.Name, "/")+1:]
				if prefix == "" || strings.HasPrefix(id, prefix) {
					ids = append(ids, id)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("gsm: listing secrets: %w", err)
	}
	return ids, nil
}

// DeleteSecret removes the secret and all of its versions.
func (c *Client) DeleteSecret(ctx context.Context, id string) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.svc.Projects.Secrets.Delete(c.secretName(id)).Context(ctx).Do()
		return err
	})
	if isStatus(err, 404) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("gsm: deleting secret %s: %w", id, err)
	}
	c.log.Info("deleted secret", "secret", id)
	return nil
}

// DestroyVersion irreversibly destroys one version's payload. Older
// versions are destroyed after a rotation settles.
func (c *Client) DestroyVersion(ctx context.Context, id, version string) error {
	name := fmt.Sprintf("%s/versions/%s", c.secretName(id), version)
	err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.svc.Projects.Secrets.Versions.Destroy(name, &secretmanager.DestroySecretVersionRequest{}).Context(ctx).Do()
		return err
	})
	if isStatus(err, 404) {
		return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, id, version)
	}
	if err != nil {
		return fmt.Errorf("gsm: destroying %s/%s: %w", id, version, err)
	}
	return nil
}

// withRetry retries transient API failures (429 and 5xx) with fibonacci
// backoff. Other failures surface immediately.
func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isStatus(err, 429) || isStatus(err, 500) || isStatus(err, 502) || isStatus(err, 503) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
