// Package lifecycle drives the tenant ↔ remote-project state machine: project
// creation on approval, idempotent outbound updates, and guarded deletion with
// local cascade.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Sentinel errors surfaced to callers for precise diagnostics
var (
	// ErrIdentityClaimed means the remote project is already bound to another tenant
	ErrIdentityClaimed = errors.New("remote project already bound to another tenant")

	// ErrDeletionBlocked means the tenant is approved and active
	ErrDeletionBlocked = errors.New("tenant must be deactivated before deletion")
)

// Outcome summarizes what a lifecycle pass did to the remote project
type Outcome string

const (
	// OutcomeNone means the tenant required no remote action
	OutcomeNone Outcome = "none"

	// OutcomeCreated means a remote project was created
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated means the remote project received an outbound update
	OutcomeUpdated Outcome = "updated"
)

// Manager reconciles a tenant's remote project with its local record. A tenant
// owns at most one remote project; once bound, the binding never changes.
type Manager struct {
	tenants     store.TenantStore
	sets        store.EnvVarSetStore
	deployments store.DeploymentStore
	logger      *slog.Logger
}

// NewManager creates a lifecycle manager
func NewManager(
	tenants store.TenantStore,
	sets store.EnvVarSetStore,
	deployments store.DeploymentStore,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		tenants:     tenants,
		sets:        sets,
		deployments: deployments,
		logger:      logger,
	}
}

// Reconcile drives the tenant toward its target remote state. Draft tenants
// take no remote action. Approved tenants without a project get one created;
// approved tenants with a project get an idempotent outbound update. The
// returned tenant carries any fresh remote identity and detail fields.
func (m *Manager) Reconcile(ctx context.Context, tenant *store.Tenant, client remote.Client) (*store.Tenant, Outcome, error) {
	if tenant.Status != store.TenantStatusApproved {
		return tenant, OutcomeNone, nil
	}
	if !tenant.HasRemoteProject() {
		updated, err := m.createProject(ctx, tenant, client)
		if err != nil {
			return tenant, OutcomeNone, err
		}
		return updated, OutcomeCreated, nil
	}

	updated, err := m.updateProject(ctx, tenant, client)
	if err != nil {
		return tenant, OutcomeNone, err
	}
	return updated, OutcomeUpdated, nil
}

// createProject creates the remote project and runs the mandatory detail sync.
// A detail-sync failure rolls the remote project back so no orphan survives,
// and nothing is persisted locally.
func (m *Manager) createProject(ctx context.Context, tenant *store.Tenant, client remote.Client) (*store.Tenant, error) {
	project, err := client.CreateProject(ctx, m.projectRequest(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote project for tenant %s: %w", tenant.ID, err)
	}

	// A remote project backs at most one tenant.
	count, err := m.tenants.CountTenantsByRemoteProject(ctx, project.ID)
	if err == nil && count > 0 {
		m.rollbackProject(ctx, client, project.ID, tenant.ID)
		return nil, fmt.Errorf("%w: project %s", ErrIdentityClaimed, project.ID)
	}

	// Creation responses are partial; the detail sync is mandatory before the
	// identity may be persisted.
	detailed, domains, err := m.fetchDetails(ctx, client, project.ID)
	if err != nil {
		m.rollbackProject(ctx, client, project.ID, tenant.ID)
		return nil, fmt.Errorf("detail sync after project creation failed for tenant %s: %w", tenant.ID, err)
	}

	updated := *tenant
	updated.RemoteProjectID = detailed.ID
	applyProjectDetails(&updated, detailed, domains)

	if err := m.tenants.UpdateTenant(ctx, &updated, store.SyncOrigin()); err != nil {
		m.rollbackProject(ctx, client, project.ID, tenant.ID)
		return nil, fmt.Errorf("failed to persist remote identity for tenant %s: %w", tenant.ID, err)
	}

	m.logger.Info("remote project created",
		"tenant_id", tenant.ID,
		"project_id", detailed.ID,
		"project_name", detailed.Name)
	return &updated, nil
}

// updateProject pushes the tenant's remote-relevant fields to the existing
// project. Safe to repeat: the request carries the full desired state.
func (m *Manager) updateProject(ctx context.Context, tenant *store.Tenant, client remote.Client) (*store.Tenant, error) {
	project, err := client.UpdateProject(ctx, tenant.RemoteProjectID, m.projectRequest(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to update remote project %s for tenant %s: %w", tenant.RemoteProjectID, tenant.ID, err)
	}

	updated := *tenant
	applyProjectDetails(&updated, project, nil)
	if err := m.tenants.UpdateTenant(ctx, &updated, store.SyncOrigin()); err != nil {
		return nil, fmt.Errorf("failed to persist project details for tenant %s: %w", tenant.ID, err)
	}
	return &updated, nil
}

// SyncBack schedules an outbound update after a local edit to remote-relevant
// fields. Writes originating from the sync process itself are suppressed so
// the engine never reacts to its own writes. Update failures are logged and
// swallowed; the next full pass converges.
func (m *Manager) SyncBack(ctx context.Context, tenant *store.Tenant, client remote.Client, opts store.WriteOpts) {
	if opts.SyncOrigin {
		return
	}
	if tenant.Status != store.TenantStatusApproved || !tenant.HasRemoteProject() {
		return
	}
	if _, err := client.UpdateProject(ctx, tenant.RemoteProjectID, m.projectRequest(tenant)); err != nil {
		m.logger.Warn("outbound project update failed, will converge on next pass",
			"tenant_id", tenant.ID,
			"project_id", tenant.RemoteProjectID,
			"classification", remote.Classify(err))
	}
}

// Delete removes a tenant and its remote project. Deletion is allowed for
// draft tenants and for approved tenants that have been deactivated; an
// approved active tenant is rejected. The remote delete is best-effort; the
// local cascade (env-var set, deployment records, tenant) always completes.
func (m *Manager) Delete(ctx context.Context, tenant *store.Tenant, client remote.Client) error {
	if tenant.Status == store.TenantStatusApproved && tenant.IsActive {
		return fmt.Errorf("%w: tenant %s", ErrDeletionBlocked, tenant.ID)
	}

	if tenant.HasRemoteProject() {
		if err := client.DeleteProject(ctx, tenant.RemoteProjectID); err != nil && !remote.IsNotFound(err) {
			m.logger.Warn("remote project delete failed, continuing with local cascade",
				"tenant_id", tenant.ID,
				"project_id", tenant.RemoteProjectID,
				"classification", remote.Classify(err))
		}
	}

	if err := m.sets.DeleteSetByTenant(ctx, tenant.ID); err != nil {
		return fmt.Errorf("failed to delete environment variable set for tenant %s: %w", tenant.ID, err)
	}
	if err := m.deleteDeployments(ctx, tenant.ID); err != nil {
		return err
	}
	if err := m.tenants.DeleteTenant(ctx, tenant.ID); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", tenant.ID, err)
	}

	m.logger.Info("tenant deleted", "tenant_id", tenant.ID, "had_remote_project", tenant.HasRemoteProject())
	return nil
}

// deleteDeployments removes every deployment record of the tenant
func (m *Manager) deleteDeployments(ctx context.Context, tenantID string) error {
	records, err := m.deployments.ListDeployments(ctx, store.DeploymentFilter{TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("failed to list deployment records for tenant %s: %w", tenantID, err)
	}
	for _, record := range records {
		if err := m.deployments.DeleteDeployment(ctx, record.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to delete deployment record %s: %w", record.ID, err)
		}
	}
	return nil
}

// rollbackProject tears down a freshly created remote project after a failed
// creation flow. The rollback itself is required; a failure here leaves an
// orphan and is logged loudly.
func (m *Manager) rollbackProject(ctx context.Context, client remote.Client, projectID, tenantID string) {
	if err := client.DeleteProject(ctx, projectID); err != nil && !remote.IsNotFound(err) {
		m.logger.Error("rollback of remote project failed, orphan remains",
			"tenant_id", tenantID,
			"project_id", projectID,
			"classification", remote.Classify(err))
		return
	}
	m.logger.Info("rolled back remote project after failed creation",
		"tenant_id", tenantID, "project_id", projectID)
}

// fetchDetails loads the full project representation and its domains
func (m *Manager) fetchDetails(ctx context.Context, client remote.Client, projectID string) (*remote.Project, []remote.Domain, error) {
	project, err := client.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	domains, err := client.ListProjectDomains(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return project, domains, nil
}

// projectRequest builds the full desired remote state from the tenant record
func (m *Manager) projectRequest(tenant *store.Tenant) remote.ProjectRequest {
	req := remote.ProjectRequest{
		Name:            ProjectName(tenant),
		Framework:       tenant.Framework,
		BuildCommand:    tenant.BuildCommand,
		InstallCommand:  tenant.InstallCommand,
		OutputDirectory: tenant.OutputDirectory,
		RootDirectory:   tenant.RootDirectory,
	}
	if tenant.Visibility != "" {
		public := tenant.Visibility == "public"
		req.PublicSource = &public
	}
	if tenant.GitRepository.Complete() {
		req.GitRepository = &remote.GitSource{
			Provider: tenant.GitRepository.Provider,
			Owner:    tenant.GitRepository.Owner,
			Repo:     tenant.GitRepository.Repo,
			Branch:   tenant.GitRepository.Branch,
		}
	}
	return req
}

// applyProjectDetails copies the remote project representation onto the tenant
func applyProjectDetails(tenant *store.Tenant, project *remote.Project, domains []remote.Domain) {
	tenant.ProjectName = project.Name
	if project.Framework != "" {
		tenant.Framework = project.Framework
	}
	if url := primaryDomain(domains); url != "" {
		tenant.URL = url
	}
}

// primaryDomain picks the tenant-facing domain: the first verified one, or the
// first listed when none is verified yet.
func primaryDomain(domains []remote.Domain) string {
	for _, d := range domains {
		if d.Verified {
			return d.Name
		}
	}
	if len(domains) > 0 {
		return domains[0].Name
	}
	return ""
}

// ProjectName derives the remote project name from the tenant: the explicit
// project name when set, otherwise a slug of the display name.
func ProjectName(tenant *store.Tenant) string {
	if tenant.ProjectName != "" {
		return tenant.ProjectName
	}
	slug := strings.ToLower(strings.TrimSpace(tenant.Name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ' || r == '_' || r == '.':
			return '-'
		default:
			return -1
		}
	}, slug)
	return strings.Trim(slug, "-")
}
