package gsm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := secretmanager.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return &Client{svc: svc, project: "clinic", log: slog.Default()}
}

func TestListRetriesTransientFailure(t *testing.T) {
	attempts := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"secrets":[{"name":"projects/clinic/secrets/clinic_API_TOKEN"},{"name":"projects/clinic/secrets/other"}]}`)
	}))

	ids, err := client.List(context.Background(), "clinic_")
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic_API_TOKEN"}, ids)
	assert.Equal(t, 2, attempts)
}

func TestDeleteSecretRetriesThenMapsNotFound(t *testing.T) {
	attempts := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "backend error", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{}`)
	}))

	require.NoError(t, client.DeleteSecret(context.Background(), "clinic_OLD"))
	assert.Equal(t, 2, attempts)

	gone := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}))
	err := gone.DeleteSecret(context.Background(), "clinic_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestDestroyVersionRetriesTransientFailure(t *testing.T) {
	attempts := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "try again", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"name":"projects/clinic/secrets/clinic_API_TOKEN/versions/1","state":"DESTROYED"}`)
	}))

	require.NoError(t, client.DestroyVersion(context.Background(), "clinic_API_TOKEN", "1"))
	assert.Equal(t, 2, attempts)
}
