// Package remotetest provides a configurable fake of the remote platform
// client for tests in other packages.
package remotetest

import (
	"context"

	"github.com/launchfold/tenant-sync-server/internal/remote"
)

// FakeClient implements remote.Client through optional function fields. Calls
// whose field is nil succeed with zero values, so tests only wire what they
// assert on.
type FakeClient struct {
	CreateProjectFunc      func(ctx context.Context, req remote.ProjectRequest) (*remote.Project, error)
	GetProjectFunc         func(ctx context.Context, projectID string) (*remote.Project, error)
	UpdateProjectFunc      func(ctx context.Context, projectID string, req remote.ProjectRequest) (*remote.Project, error)
	DeleteProjectFunc      func(ctx context.Context, projectID string) error
	ListProjectDomainsFunc func(ctx context.Context, projectID string) ([]remote.Domain, error)

	ListDeploymentsFunc  func(ctx context.Context, projectID string, limit int) ([]remote.Deployment, error)
	CreateDeploymentFunc func(ctx context.Context, req remote.DeploymentRequest) (*remote.Deployment, error)
	CancelDeploymentFunc func(ctx context.Context, deploymentID string) (*remote.Deployment, error)
	DeleteDeploymentFunc func(ctx context.Context, deploymentID string) error

	ListEnvVarsFunc   func(ctx context.Context, projectID string) ([]remote.EnvVarItem, error)
	CreateEnvVarsFunc func(ctx context.Context, projectID string, items []remote.EnvVarItem) (*remote.EnvVarBatchResult, error)
	UpdateEnvVarFunc  func(ctx context.Context, projectID, envID string, patch remote.EnvVarItem) error
	DeleteEnvVarFunc  func(ctx context.Context, projectID, envID string) error

	ToggleCronFunc func(ctx context.Context, projectID string, enabled bool) error
}

var _ remote.Client = (*FakeClient)(nil)

// Factory returns a remote.Factory that always hands out this fake
func (f *FakeClient) Factory() remote.Factory {
	return func(_, _ string) remote.Client { return f }
}

// CreateProject calls CreateProjectFunc when set
func (f *FakeClient) CreateProject(ctx context.Context, req remote.ProjectRequest) (*remote.Project, error) {
	if f.CreateProjectFunc != nil {
		return f.CreateProjectFunc(ctx, req)
	}
	return &remote.Project{Name: req.Name}, nil
}

// GetProject calls GetProjectFunc when set
func (f *FakeClient) GetProject(ctx context.Context, projectID string) (*remote.Project, error) {
	if f.GetProjectFunc != nil {
		return f.GetProjectFunc(ctx, projectID)
	}
	return &remote.Project{ID: projectID}, nil
}

// UpdateProject calls UpdateProjectFunc when set
func (f *FakeClient) UpdateProject(ctx context.Context, projectID string, req remote.ProjectRequest) (*remote.Project, error) {
	if f.UpdateProjectFunc != nil {
		return f.UpdateProjectFunc(ctx, projectID, req)
	}
	return &remote.Project{ID: projectID, Name: req.Name}, nil
}

// DeleteProject calls DeleteProjectFunc when set
func (f *FakeClient) DeleteProject(ctx context.Context, projectID string) error {
	if f.DeleteProjectFunc != nil {
		return f.DeleteProjectFunc(ctx, projectID)
	}
	return nil
}

// ListProjectDomains calls ListProjectDomainsFunc when set
func (f *FakeClient) ListProjectDomains(ctx context.Context, projectID string) ([]remote.Domain, error) {
	if f.ListProjectDomainsFunc != nil {
		return f.ListProjectDomainsFunc(ctx, projectID)
	}
	return nil, nil
}

// ListDeployments calls ListDeploymentsFunc when set
func (f *FakeClient) ListDeployments(ctx context.Context, projectID string, limit int) ([]remote.Deployment, error) {
	if f.ListDeploymentsFunc != nil {
		return f.ListDeploymentsFunc(ctx, projectID, limit)
	}
	return nil, nil
}

// CreateDeployment calls CreateDeploymentFunc when set
func (f *FakeClient) CreateDeployment(ctx context.Context, req remote.DeploymentRequest) (*remote.Deployment, error) {
	if f.CreateDeploymentFunc != nil {
		return f.CreateDeploymentFunc(ctx, req)
	}
	return &remote.Deployment{Name: req.Name, State: remote.StateQueued}, nil
}

// CancelDeployment calls CancelDeploymentFunc when set
func (f *FakeClient) CancelDeployment(ctx context.Context, deploymentID string) (*remote.Deployment, error) {
	if f.CancelDeploymentFunc != nil {
		return f.CancelDeploymentFunc(ctx, deploymentID)
	}
	return &remote.Deployment{ID: deploymentID, State: remote.StateCanceled}, nil
}

// DeleteDeployment calls DeleteDeploymentFunc when set
func (f *FakeClient) DeleteDeployment(ctx context.Context, deploymentID string) error {
	if f.DeleteDeploymentFunc != nil {
		return f.DeleteDeploymentFunc(ctx, deploymentID)
	}
	return nil
}

// ListEnvVars calls ListEnvVarsFunc when set
func (f *FakeClient) ListEnvVars(ctx context.Context, projectID string) ([]remote.EnvVarItem, error) {
	if f.ListEnvVarsFunc != nil {
		return f.ListEnvVarsFunc(ctx, projectID)
	}
	return nil, nil
}

// CreateEnvVars calls CreateEnvVarsFunc when set
func (f *FakeClient) CreateEnvVars(ctx context.Context, projectID string, items []remote.EnvVarItem) (*remote.EnvVarBatchResult, error) {
	if f.CreateEnvVarsFunc != nil {
		return f.CreateEnvVarsFunc(ctx, projectID, items)
	}
	result := &remote.EnvVarBatchResult{}
	for _, item := range items {
		created := item
		created.ID = "env-" + item.Key
		result.Created = append(result.Created, created)
	}
	return result, nil
}

// UpdateEnvVar calls UpdateEnvVarFunc when set
func (f *FakeClient) UpdateEnvVar(ctx context.Context, projectID, envID string, patch remote.EnvVarItem) error {
	if f.UpdateEnvVarFunc != nil {
		return f.UpdateEnvVarFunc(ctx, projectID, envID, patch)
	}
	return nil
}

// DeleteEnvVar calls DeleteEnvVarFunc when set
func (f *FakeClient) DeleteEnvVar(ctx context.Context, projectID, envID string) error {
	if f.DeleteEnvVarFunc != nil {
		return f.DeleteEnvVarFunc(ctx, projectID, envID)
	}
	return nil
}

// ToggleCron calls ToggleCronFunc when set
func (f *FakeClient) ToggleCron(ctx context.Context, projectID string, enabled bool) error {
	if f.ToggleCronFunc != nil {
		return f.ToggleCronFunc(ctx, projectID, enabled)
	}
	return nil
}
