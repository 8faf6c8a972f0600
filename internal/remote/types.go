// Package remote provides the client for the deployment-hosting platform that
// owns the authoritative project, deployment, and environment-variable state.
package remote

import (
	"context"
	"time"
)

// MaxDeploymentsPerSync caps how many recent remote deployments a resync pass
// fetches per tenant. The sync-owned local subset is replaced wholesale each
// pass, so a deeper window buys nothing.
const MaxDeploymentsPerSync = 3

// GitSource describes the git repository a project deploys from
type GitSource struct {
	Provider string `json:"type,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

// ProjectRequest carries the writable fields of a project
type ProjectRequest struct {
	Name            string     `json:"name,omitempty"`
	Framework       string     `json:"framework,omitempty"`
	BuildCommand    string     `json:"buildCommand,omitempty"`
	InstallCommand  string     `json:"installCommand,omitempty"`
	OutputDirectory string     `json:"outputDirectory,omitempty"`
	RootDirectory   string     `json:"rootDirectory,omitempty"`
	PublicSource    *bool      `json:"publicSource,omitempty"`
	GitRepository   *GitSource `json:"gitRepository,omitempty"`
}

// Project is the remote representation of a project. Creation responses are
// partial; a full representation requires a follow-up GetProject.
type Project struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Framework       string     `json:"framework,omitempty"`
	BuildCommand    string     `json:"buildCommand,omitempty"`
	InstallCommand  string     `json:"installCommand,omitempty"`
	OutputDirectory string     `json:"outputDirectory,omitempty"`
	RootDirectory   string     `json:"rootDirectory,omitempty"`
	GitRepository   *GitSource `json:"link,omitempty"`
	CreatedAt       int64      `json:"createdAt,omitempty"`
	UpdatedAt       int64      `json:"updatedAt,omitempty"`
}

// Domain is one domain attached to a project
type Domain struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// DeploymentState is the remote deployment status vocabulary
type DeploymentState string

// Remote deployment states as reported by the platform
const (
	StateQueued       DeploymentState = "QUEUED"
	StateInitializing DeploymentState = "INITIALIZING"
	StateBuilding     DeploymentState = "BUILDING"
	StateReady        DeploymentState = "READY"
	StateError        DeploymentState = "ERROR"
	StateCanceled     DeploymentState = "CANCELED"
)

// Deployment is the remote representation of one deployment
type Deployment struct {
	ID        string          `json:"uid"`
	Name      string          `json:"name,omitempty"`
	State     DeploymentState `json:"state"`
	URL       string          `json:"url,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// Created returns the deployment creation time
func (d *Deployment) Created() time.Time {
	return time.UnixMilli(d.CreatedAt).UTC()
}

// DeploymentRequest triggers a new remote deployment
type DeploymentRequest struct {
	Name      string     `json:"name"`
	ProjectID string     `json:"project,omitempty"`
	Target    string     `json:"target,omitempty"`
	GitSource *GitSource `json:"gitSource,omitempty"`
}

// EnvVarItem is the remote representation of one environment variable
type EnvVarItem struct {
	ID        string   `json:"id,omitempty"`
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Type      string   `json:"type"`
	Targets   []string `json:"target"`
	Comment   string   `json:"comment,omitempty"`
	GitBranch string   `json:"gitBranch,omitempty"`
}

// EnvVarFailure is one failed item of a bulk env-var create
type EnvVarFailure struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// EnvVarBatchResult is the outcome of a bulk env-var create. The platform
// creates what it can and reports the rest as failed.
type EnvVarBatchResult struct {
	Created []EnvVarItem    `json:"created"`
	Failed  []EnvVarFailure `json:"failed,omitempty"`
}

// Client is the remote platform API surface the engine depends on. All calls
// are scoped by the bearer token and optional team id the client was built with.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/launchfold/tenant-sync-server/internal/remote Client
type Client interface {
	CreateProject(ctx context.Context, req ProjectRequest) (*Project, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	UpdateProject(ctx context.Context, projectID string, req ProjectRequest) (*Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	ListProjectDomains(ctx context.Context, projectID string) ([]Domain, error)

	ListDeployments(ctx context.Context, projectID string, limit int) ([]Deployment, error)
	CreateDeployment(ctx context.Context, req DeploymentRequest) (*Deployment, error)
	CancelDeployment(ctx context.Context, deploymentID string) (*Deployment, error)
	DeleteDeployment(ctx context.Context, deploymentID string) error

	ListEnvVars(ctx context.Context, projectID string) ([]EnvVarItem, error)
	CreateEnvVars(ctx context.Context, projectID string, items []EnvVarItem) (*EnvVarBatchResult, error)
	UpdateEnvVar(ctx context.Context, projectID, envID string, patch EnvVarItem) error
	DeleteEnvVar(ctx context.Context, projectID, envID string) error

	ToggleCron(ctx context.Context, projectID string, enabled bool) error
}

// Factory builds a Client bound to a credential pair. The engine resolves
// credentials per tenant and asks the factory for a matching client.
type Factory func(token, teamID string) Client
