// Package vikunja is a client for the slice of the Vikunja REST API the
// coordination tooling uses: projects, tasks, and labels.
package vikunja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrUnauthorized signals a rejected or expired API token.
var ErrUnauthorized = errors.New("vikunja: unauthorized")

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vikunja: HTTP %d: %s", e.Status, e.Message)
}

// Client talks to one Vikunja instance with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a Client for the instance at baseURL (without the
// /api/v1 suffix).
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v1",
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger,
	}
}

// do issues one authenticated request and decodes the response into out
// (which may be nil). 5xx and transport errors are retried with backoff.
// The response headers are returned for pagination.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("vikunja: encoding request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var header http.Header
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(&APIError{Status: resp.StatusCode, Message: readMessage(resp.Body)})
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, readMessage(resp.Body))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
		}

		header = resp.Header
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("vikunja: decoding response: %w", err)
			}
		}
		return nil
	})
	return header, err
}

// readMessage pulls the "message" field Vikunja puts in error bodies,
// falling back to the raw body.
func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}

// paginate fetches every page of path, appending each page's items via
// collect. Vikunja reports the page count in x-pagination-total-pages.
func (c *Client) paginate(ctx context.Context, path string, collect func(page json.RawMessage) error) error {
	for page := 1; ; page++ {
		query := url.Values{"page": {strconv.Itoa(page)}}
		var raw json.RawMessage
		header, err := c.do(ctx, http.MethodGet, path, query, nil, &raw)
		if err != nil {
			return err
		}
		if err := collect(raw); err != nil {
			return err
		}

		total, err := strconv.Atoi(header.Get("x-pagination-total-pages"))
		if err != nil || page >= total {
			return nil
		}
	}
}

// GetProjects lists every project visible to the token.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := c.paginate(ctx, "/projects", func(page json.RawMessage) error {
		var batch []Project
		if err := json.Unmarshal(page, &batch); err != nil {
			return fmt.Errorf("vikunja: decoding projects: %w", err)
		}
		projects = append(projects, batch...)
		return nil
	})
	return projects, err
}

// GetTasks lists all tasks of a project across every page.
func (c *Client) GetTasks(ctx context.Context, projectID int64) ([]Task, error) {
	var tasks []Task
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	err := c.paginate(ctx, path, func(page json.RawMessage) error {
		var batch []Task
		if err := json.Unmarshal(page, &batch); err != nil {
			return fmt.Errorf("vikunja: decoding tasks: %w", err)
		}
		tasks = append(tasks, batch...)
		return nil
	})
	return tasks, err
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id int64) (*Task, error) {
	var task Task
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%d", id), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask creates a task in the project. Vikunja uses PUT for create.
func (c *Client) CreateTask(ctx context.Context, projectID int64, task *Task) (*Task, error) {
	var created Task
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	if _, err := c.do(ctx, http.MethodPut, path, nil, task, &created); err != nil {
		return nil, err
	}
	c.log.Debug("created task", "project", projectID, "task", created.ID)
	return &created, nil
}

// UpdateTask overwrites the task's mutable fields.
func (c *Client) UpdateTask(ctx context.Context, task *Task) (*Task, error) {
	var updated Task
	path := fmt.Sprintf("/tasks/%d", task.ID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, task, &updated); err != nil {
		return nil, err
	}
	c.log.Debug("updated task", "task", task.ID)
	return &updated, nil
}

// GetLabels lists every label visible to the token.
func (c *Client) GetLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	err := c.paginate(ctx, "/labels", func(page json.RawMessage) error {
		var batch []Label
		if err := json.Unmarshal(page, &batch); err != nil {
			return fmt.Errorf("vikunja: decoding labels: %w", err)
		}
		labels = append(labels, batch...)
		return nil
	})
	return labels, err
}

// CreateLabel creates a label.
func (c *Client) CreateLabel(ctx context.Context, title, hexColor string) (*Label, error) {
	var created Label
	body := &Label{Title: title, HexColor: hexColor}
	if _, err := c.do(ctx, http.MethodPut, "/labels", nil, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// AddLabel attaches an existing label to a task.
func (c *Client) AddLabel(ctx context.Context, taskID, labelID int64) error {
	body := map[string]int64{"label_id": labelID}
	path := fmt.Sprintf("/tasks/%d/labels", taskID)
	_, err := c.do(ctx, http.MethodPut, path, nil, body, nil)
	return err
}
