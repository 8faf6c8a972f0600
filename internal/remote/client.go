package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default timeout for platform API requests
	DefaultTimeout = 10 * time.Second

	// DefaultMaxTries caps retry attempts for retryable failures
	DefaultMaxTries = 4

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// UserAgent identifies this service to the platform
	UserAgent = "tenant-sync-server/1.0"
)

// ClientOption configures the default client
type ClientOption func(*defaultClient)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *defaultClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithMaxTries sets the retry cap for retryable failures
func WithMaxTries(tries int) ClientOption {
	return func(c *defaultClient) {
		if tries > 0 {
			c.maxTries = tries
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, used by tests
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *defaultClient) {
		c.httpClient = hc
	}
}

// defaultClient is the default Client implementation over net/http
type defaultClient struct {
	baseURL    string
	token      string
	teamID     string
	maxTries   int
	httpClient *http.Client
}

var _ Client = (*defaultClient)(nil)

// NewClient creates a platform client bound to a credential pair
func NewClient(baseURL, token, teamID string, opts ...ClientOption) Client {
	c := &defaultClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		teamID:     teamID,
		maxTries:   DefaultMaxTries,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFactory returns a Factory producing clients against the given endpoint
func NewFactory(baseURL string, opts ...ClientOption) Factory {
	return func(token, teamID string) Client {
		return NewClient(baseURL, token, teamID, opts...)
	}
}

// do executes one API call with retries on rate-limit and upstream errors.
// The response body is decoded into out when out is non-nil.
func (c *defaultClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if query == nil {
		query = url.Values{}
	}
	if c.teamID != "" {
		query.Set("teamId", c.teamID)
	}
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if int64(len(data)) > MaxResponseSize {
			return nil, backoff.Permanent(fmt.Errorf("response exceeds maximum allowed size of %d bytes", MaxResponseSize))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := NewAPIError(resp.StatusCode, reqURL, errorMessage(data, resp.Status))
			if retryable(resp.StatusCode) {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}

		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxTries)),
	)
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", reqURL, err)
		}
	}
	return nil
}

// errorMessage extracts the platform's error message from a failure body,
// falling back to the HTTP status line.
func errorMessage(data []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fallback
}

// CreateProject creates a remote project. The response is partial; callers
// needing the full representation must follow up with GetProject.
func (c *defaultClient) CreateProject(ctx context.Context, req ProjectRequest) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, "/v10/projects", nil, req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject fetches the full representation of a project
func (c *defaultClient) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(projectID), nil, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateProject patches a project's writable fields
func (c *defaultClient) UpdateProject(ctx context.Context, projectID string, req ProjectRequest) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPatch, "/v9/projects/"+url.PathEscape(projectID), nil, req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes a project and everything under it
func (c *defaultClient) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodDelete, "/v9/projects/"+url.PathEscape(projectID), nil, nil, nil)
}

// ListProjectDomains lists the domains attached to a project
func (c *defaultClient) ListProjectDomains(ctx context.Context, projectID string) ([]Domain, error) {
	var out struct {
		Domains []Domain `json:"domains"`
	}
	if err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(projectID)+"/domains", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Domains, nil
}

// ListDeployments lists a project's most recent deployments, newest first
func (c *defaultClient) ListDeployments(ctx context.Context, projectID string, limit int) ([]Deployment, error) {
	if limit <= 0 || limit > MaxDeploymentsPerSync {
		limit = MaxDeploymentsPerSync
	}
	query := url.Values{}
	query.Set("projectId", projectID)
	query.Set("limit", strconv.Itoa(limit))
	var out struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v6/deployments", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Deployments, nil
}

// CreateDeployment triggers a new remote deployment
func (c *defaultClient) CreateDeployment(ctx context.Context, req DeploymentRequest) (*Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, "/v13/deployments", nil, req, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// CancelDeployment cancels an in-flight deployment
func (c *defaultClient) CancelDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodPatch, "/v12/deployments/"+url.PathEscape(deploymentID)+"/cancel", nil, nil, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// DeleteDeployment removes a remote deployment
func (c *defaultClient) DeleteDeployment(ctx context.Context, deploymentID string) error {
	return c.do(ctx, http.MethodDelete, "/v13/deployments/"+url.PathEscape(deploymentID), nil, nil, nil)
}

// ListEnvVars lists a project's environment variables
func (c *defaultClient) ListEnvVars(ctx context.Context, projectID string) ([]EnvVarItem, error) {
	var out struct {
		Envs []EnvVarItem `json:"envs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(projectID)+"/env", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Envs, nil
}

// CreateEnvVars bulk-creates environment variables. The platform creates what
// it can and reports per-item failures in the result.
func (c *defaultClient) CreateEnvVars(ctx context.Context, projectID string, items []EnvVarItem) (*EnvVarBatchResult, error) {
	var result EnvVarBatchResult
	if err := c.do(ctx, http.MethodPost, "/v10/projects/"+url.PathEscape(projectID)+"/env", nil, items, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateEnvVar patches one environment variable by remote id
func (c *defaultClient) UpdateEnvVar(ctx context.Context, projectID, envID string, patch EnvVarItem) error {
	return c.do(ctx, http.MethodPatch,
		"/v9/projects/"+url.PathEscape(projectID)+"/env/"+url.PathEscape(envID), nil, patch, nil)
}

// DeleteEnvVar removes one environment variable by remote id
func (c *defaultClient) DeleteEnvVar(ctx context.Context, projectID, envID string) error {
	return c.do(ctx, http.MethodDelete,
		"/v9/projects/"+url.PathEscape(projectID)+"/env/"+url.PathEscape(envID), nil, nil, nil)
}

// ToggleCron enables or disables a project's cron jobs
func (c *defaultClient) ToggleCron(ctx context.Context, projectID string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPatch, "/v1/projects/"+url.PathEscape(projectID)+"/crons", nil, body, nil)
}
