// Package gauth builds authenticated Google API clients. Application
// Default Credentials are used unless a service account key file is
// configured, matching how the deploy hosts authenticate.
package gauth

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// HTTPClient returns an *http.Client carrying Google credentials for the
// given scopes. credentialsFile may be empty, in which case Application
// Default Credentials (gcloud auth application-default login, or the
// metadata server on GCP) are used.
func HTTPClient(ctx context.Context, credentialsFile string, scopes ...string) (*http.Client, error) {
	if credentialsFile == "" {
		client, err := google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("gauth: application default credentials: %w", err)
		}
		return client, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gauth: reading credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("gauth: parsing credentials file %s: %w", credentialsFile, err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}
