package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRequestShape(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var gotBody ProjectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(Project{ID: "prj_1", Name: gotBody.Name})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123", "team-9")
	project, err := client.CreateProject(context.Background(), ProjectRequest{Name: "my-app"})
	require.NoError(t, err)

	assert.Equal(t, "prj_1", project.ID)
	assert.Equal(t, "/v10/projects", got.URL.Path)
	assert.Equal(t, "Bearer tok-123", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, UserAgent, got.Header.Get("User-Agent"))
	assert.Equal(t, "team-9", got.URL.Query().Get("teamId"))
	assert.Equal(t, "my-app", gotBody.Name)
}

func TestClientOmitsTeamScopeWhenUnset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("teamId"))
		_ = json.NewEncoder(w).Encode(Project{ID: "prj_1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123", "")
	_, err := client.GetProject(context.Background(), "prj_1")
	require.NoError(t, err)
}

func TestClientRetriesUpstreamFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			Deployments []Deployment `json:"deployments"`
		}{Deployments: []Deployment{{ID: "dpl_1"}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", "", WithMaxTries(4))
	deployments, err := client.ListDeployments(context.Background(), "prj_1", 1)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"project not found"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", "", WithMaxTries(4))
	_, err := client.GetProject(context.Background(), "prj_missing")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, ClassNotFound, apiErr.Class)
	assert.Equal(t, "project not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestClientGivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", "", WithMaxTries(2))
	_, err := client.ListEnvVars(context.Background(), "prj_1")
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, ClassRateLimited, Classify(err))
}

func TestClientListDeploymentsClampsLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limit     int
		wantLimit string
	}{
		{name: "zero defaults to maximum", limit: 0, wantLimit: "3"},
		{name: "within range passes through", limit: 2, wantLimit: "2"},
		{name: "above range is clamped", limit: 10, wantLimit: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantLimit, r.URL.Query().Get("limit"))
				assert.Equal(t, "prj_1", r.URL.Query().Get("projectId"))
				_, _ = w.Write([]byte(`{"deployments":[]}`))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "tok", "")
			_, err := client.ListDeployments(context.Background(), "prj_1", tt.limit)
			require.NoError(t, err)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusNotFound, ClassNotFound},
		{http.StatusUnauthorized, ClassUnauthorized},
		{http.StatusForbidden, ClassForbidden},
		{http.StatusConflict, ClassConflict},
		{http.StatusTooManyRequests, ClassRateLimited},
		{http.StatusInternalServerError, ClassUnknown},
	}

	for _, tt := range tests {
		err := NewAPIError(tt.status, "/v9/projects/prj_1", "boom")
		assert.Equal(t, tt.want, err.Class, "status %d", tt.status)
	}

	assert.Equal(t, ClassUnknown, Classify(assert.AnError))
	assert.True(t, IsAuthFailure(NewAPIError(http.StatusForbidden, "/", "")))
	assert.True(t, IsConflict(NewAPIError(http.StatusConflict, "/", "")))
}
