// Package engine exposes the reconciliation entry points: full and per-tenant
// sync, env-var and deployment sync, deployment cancellation and creation, and
// tenant creation/deletion. Every operation resolves credentials through the
// resolver, takes the re-entrancy guard, and returns a uniform Result.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/launchfold/tenant-sync-server/internal/credentials"
	"github.com/launchfold/tenant-sync-server/internal/deploysync"
	"github.com/launchfold/tenant-sync-server/internal/envsync"
	"github.com/launchfold/tenant-sync-server/internal/guard"
	"github.com/launchfold/tenant-sync-server/internal/lifecycle"
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// defaultParallelism bounds concurrent per-tenant passes in full syncs
const defaultParallelism = 4

// Engine wires the reconciliation stages together behind the public
// operations. All state lives in the injected collaborators.
type Engine struct {
	store    store.Store
	resolver *credentials.Resolver
	clients  remote.Factory
	guard    *guard.Guard

	lifecycle *lifecycle.Manager
	env       *envsync.Reconciler
	deploy    *deploysync.Engine

	logger      *slog.Logger
	parallelism int
	now         func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithParallelism bounds concurrent tenant passes in full syncs
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine over the given collaborators
func New(
	st store.Store,
	resolver *credentials.Resolver,
	clients remote.Factory,
	g *guard.Guard,
	lm *lifecycle.Manager,
	env *envsync.Reconciler,
	deploy *deploysync.Engine,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:       st,
		resolver:    resolver,
		clients:     clients,
		guard:       g,
		lifecycle:   lm,
		env:         env,
		deploy:      deploy,
		logger:      logger,
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncAllTenants runs a full reconciliation pass over every tenant. Tenant
// passes run in parallel up to the configured bound; per-tenant failures are
// aggregated, never fatal to the pass.
func (e *Engine) SyncAllTenants(ctx context.Context) Result {
	const op = "sync-all-tenants"

	tenants, err := e.store.ListTenants(ctx, store.TenantFilter{})
	if err != nil {
		return failed(op, "", "failed to list tenants", err, Summary{})
	}

	summaries := make([]Summary, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, tenant := range tenants {
		g.Go(func() error {
			result := e.SyncTenant(gctx, tenant.ID)
			summaries[i] = result.Summary
			return nil
		})
	}
	_ = g.Wait()

	var total Summary
	for _, s := range summaries {
		total.add(s)
	}

	message := fmt.Sprintf("synced %d tenants", len(tenants))
	if total.Errors > 0 {
		message = fmt.Sprintf("synced %d tenants with %d errors", len(tenants), total.Errors)
	}
	return ok(message, total)
}

// SyncTenant runs a full reconciliation pass for one tenant: project
// lifecycle, environment variables, deployments, then last-sync bookkeeping.
// Overlapping passes for the same tenant are dropped by the guard.
func (e *Engine) SyncTenant(ctx context.Context, tenantID string) Result {
	const op = "sync-tenant"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindDocument)
	if err != nil {
		return failed(op, tenantID, "failed to acquire sync lock", err, Summary{})
	}
	if !acquired {
		return skipped("sync already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindDocument)
	}()

	return e.syncLocked(ctx, op, tenant)
}

// syncLocked is the pass body; the caller holds the tenant's document lock.
func (e *Engine) syncLocked(ctx context.Context, op string, tenant *store.Tenant) (result Result) {
	// Last-sync bookkeeping is written whatever happens to the pass itself.
	defer func() {
		e.recordSyncStatus(ctx, tenant.ID, result)
	}()

	creds, err := e.resolver.Resolve(ctx, tenant)
	if err != nil {
		return failed(op, tenant.ID, "credential resolution failed", err, Summary{})
	}
	client := e.clients(creds.Token, creds.TeamID)

	var summary Summary
	updated, outcome, err := e.lifecycle.Reconcile(ctx, tenant, client)
	if err != nil {
		return failed(op, tenant.ID, "project lifecycle failed", err, summary)
	}
	tenant = updated
	switch outcome {
	case lifecycle.OutcomeCreated:
		summary.Created++
	case lifecycle.OutcomeUpdated:
		summary.Updated++
	case lifecycle.OutcomeNone:
		summary.Skipped++
	}

	if !tenant.SyncEligible() {
		return ok("tenant not eligible for remote sync, lifecycle only", summary)
	}

	if envSummary, err := e.syncEnvVars(ctx, tenant, client, nil, false); err != nil {
		e.logger.Error("env-var sync failed within tenant pass", "tenant_id", tenant.ID, "error", err)
		summary.Errors++
	} else {
		summary.add(envSummary)
	}

	deploySummary, err := e.deploy.SyncTenant(ctx, tenant, client)
	summary.add(deploymentSummary(deploySummary))
	if err != nil {
		e.logger.Error("deployment sync failed within tenant pass", "tenant_id", tenant.ID, "error", err)
		summary.Errors++
	}

	message := "tenant synced"
	if summary.Errors > 0 {
		message = fmt.Sprintf("tenant synced with %d errors", summary.Errors)
	}
	return ok(message, summary)
}

// SyncEnvVars reconciles a tenant's environment variables. When desired is
// nil the stored document is re-driven toward the platform (pending creates
// and retries); otherwise desired replaces the stored document and the diff
// against it is applied. retryFailed clears terminal failure sentinels first.
func (e *Engine) SyncEnvVars(ctx context.Context, tenantID string, desired *store.EnvVarSet, retryFailed bool) Result {
	const op = "sync-env-vars"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}
	if !tenant.HasRemoteProject() {
		return failed(op, tenantID, "tenant has no remote project", store.ErrValidation, Summary{})
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindOpUpdate)
	if err != nil {
		return failed(op, tenantID, "failed to acquire operation lock", err, Summary{})
	}
	if !acquired {
		return skipped("env-var sync already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindOpUpdate)
	}()

	creds, err := e.resolver.Resolve(ctx, tenant)
	if err != nil {
		return failed(op, tenantID, "credential resolution failed", err, Summary{})
	}
	client := e.clients(creds.Token, creds.TeamID)

	summary, err := e.syncEnvVars(ctx, tenant, client, desired, retryFailed)
	if err != nil {
		return failed(op, tenantID, "environment variable sync failed", err, summary)
	}
	message := "environment variables synced"
	if summary.Errors > 0 {
		message = fmt.Sprintf("environment variables synced with %d errors", summary.Errors)
	}
	return ok(message, summary)
}

// syncEnvVars loads the stored set, chooses the desired state, and runs the
// reconciler. The stored document is the previous state of the diff.
func (e *Engine) syncEnvVars(ctx context.Context, tenant *store.Tenant, client remote.Client, desired *store.EnvVarSet, retryFailed bool) (Summary, error) {
	previous, err := e.store.GetSetByTenant(ctx, tenant.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Summary{}, err
	}

	current := desired
	if current == nil {
		if previous == nil {
			return Summary{}, nil
		}
		current = previous
	} else if previous != nil {
		// The desired document replaces the stored one under its identity.
		current.ID = previous.ID
		current.TenantID = tenant.ID
	}

	res, err := e.env.Reconcile(ctx, tenant, client, previous, current, envsync.PlanOptions{RetryFailed: retryFailed})
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Created: res.Created,
		Updated: res.Updated,
		Skipped: res.Skipped,
		Deleted: res.Deleted,
		Errors:  res.Errors,
	}, nil
}

// SyncDeployments mirrors the tenant's recent remote deployments locally. It
// takes the same document lock as full passes, so overlapping syncs for the
// tenant are dropped.
func (e *Engine) SyncDeployments(ctx context.Context, tenantID string) Result {
	const op = "sync-deployments"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}
	if !tenant.SyncEligible() {
		return skipped("tenant not eligible for deployment sync")
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindDocument)
	if err != nil {
		return failed(op, tenantID, "failed to acquire sync lock", err, Summary{})
	}
	if !acquired {
		return skipped("deployment sync already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindDocument)
	}()

	creds, err := e.resolver.Resolve(ctx, tenant)
	if err != nil {
		return failed(op, tenantID, "credential resolution failed", err, Summary{})
	}

	summary, err := e.deploy.SyncTenant(ctx, tenant, e.clients(creds.Token, creds.TeamID))
	if err != nil {
		return failed(op, tenantID, "deployment sync failed", err, deploymentSummary(summary))
	}
	return ok("deployments synced", deploymentSummary(summary))
}

// CancelDeployments cancels the tenant's in-flight deployments. It holds the
// document lock so a reconciliation pass cannot interleave with the
// cancellations.
func (e *Engine) CancelDeployments(ctx context.Context, tenantID string) Result {
	const op = "cancel-deployments"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindDocument)
	if err != nil {
		return failed(op, tenantID, "failed to acquire sync lock", err, Summary{})
	}
	if !acquired {
		return skipped("deployment cancellation already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindDocument)
	}()

	creds, err := e.resolver.Resolve(ctx, tenant)
	if err != nil {
		return failed(op, tenantID, "credential resolution failed", err, Summary{})
	}

	summary, err := e.deploy.CancelDeployments(ctx, tenant, e.clients(creds.Token, creds.TeamID))
	if err != nil {
		return failed(op, tenantID, "deployment cancellation failed", err, deploymentSummary(summary))
	}
	return ok("in-flight deployments canceled", deploymentSummary(summary))
}

// CreateTenantRequest carries the fields of a new tenant
type CreateTenantRequest struct {
	Name          string               `json:"name"`
	ProjectName   string               `json:"projectName,omitempty"`
	Framework     string               `json:"framework,omitempty"`
	GitRepository *store.GitRepository `json:"gitRepository,omitempty"`
}

// CreateTenant creates a draft tenant and its empty environment-variable set.
// No remote action is taken until the tenant is approved and synced.
func (e *Engine) CreateTenant(ctx context.Context, req CreateTenantRequest) Result {
	const op = "create-tenant"

	if req.Name == "" {
		return failed(op, "", "tenant name is required", store.ErrValidation, Summary{})
	}

	now := e.now().UTC()
	tenant := &store.Tenant{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Status:        store.TenantStatusDraft,
		ProjectName:   req.ProjectName,
		Framework:     req.Framework,
		GitRepository: req.GitRepository,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateTenant(ctx, tenant); err != nil {
		return failed(op, tenant.ID, "failed to create tenant", err, Summary{})
	}

	set := &store.EnvVarSet{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSet(ctx, set); err != nil {
		// Keep the invariant: a tenant always has exactly one set.
		_ = e.store.DeleteTenant(ctx, tenant.ID)
		return failed(op, tenant.ID, "failed to create environment variable set", err, Summary{})
	}
	tenant.EnvVarSetID = set.ID
	if err := e.store.UpdateTenant(ctx, tenant, store.UserOrigin()); err != nil {
		return failed(op, tenant.ID, "failed to bind environment variable set", err, Summary{})
	}

	e.logger.Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	return Result{Success: true, Message: "tenant created", Data: tenant, Summary: Summary{Created: 1}}
}

// UpdateTenantRequest is a partial update of a tenant's editable fields. Nil
// fields are left unchanged.
type UpdateTenantRequest struct {
	Name            *string              `json:"name,omitempty"`
	ProjectName     *string              `json:"projectName,omitempty"`
	Framework       *string              `json:"framework,omitempty"`
	BuildCommand    *string              `json:"buildCommand,omitempty"`
	InstallCommand  *string              `json:"installCommand,omitempty"`
	OutputDirectory *string              `json:"outputDirectory,omitempty"`
	RootDirectory   *string              `json:"rootDirectory,omitempty"`
	Visibility      *string              `json:"visibility,omitempty"`
	GitRepository   *store.GitRepository `json:"gitRepository,omitempty"`
}

// UpdateTenant persists a user edit and, for an approved tenant with a remote
// project, pushes the remote-relevant fields outward through the lifecycle
// sync-back. A failed outbound update is not fatal; the next pass converges.
func (e *Engine) UpdateTenant(ctx context.Context, tenantID string, req UpdateTenantRequest) Result {
	const op = "update-tenant"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindOpUpdate)
	if err != nil {
		return failed(op, tenantID, "failed to acquire operation lock", err, Summary{})
	}
	if !acquired {
		return skipped("tenant update already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindOpUpdate)
	}()

	applyTenantPatch(tenant, req)
	tenant.UpdatedAt = e.now().UTC()

	opts := store.UserOrigin()
	if err := e.store.UpdateTenant(ctx, tenant, opts); err != nil {
		return failed(op, tenantID, "failed to persist tenant update", err, Summary{})
	}

	if tenant.Status == store.TenantStatusApproved && tenant.HasRemoteProject() {
		creds, err := e.resolver.Resolve(ctx, tenant)
		if err != nil {
			e.logger.Warn("credential resolution failed, outbound update deferred to next pass",
				"tenant_id", tenant.ID, "error", err)
		} else {
			e.lifecycle.SyncBack(ctx, tenant, e.clients(creds.Token, creds.TeamID), opts)
		}
	}

	return Result{Success: true, Message: "tenant updated", Data: tenant, Summary: Summary{Updated: 1}}
}

// applyTenantPatch copies the set fields of the request onto the tenant
func applyTenantPatch(tenant *store.Tenant, req UpdateTenantRequest) {
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.ProjectName != nil {
		tenant.ProjectName = *req.ProjectName
	}
	if req.Framework != nil {
		tenant.Framework = *req.Framework
	}
	if req.BuildCommand != nil {
		tenant.BuildCommand = *req.BuildCommand
	}
	if req.InstallCommand != nil {
		tenant.InstallCommand = *req.InstallCommand
	}
	if req.OutputDirectory != nil {
		tenant.OutputDirectory = *req.OutputDirectory
	}
	if req.RootDirectory != nil {
		tenant.RootDirectory = *req.RootDirectory
	}
	if req.Visibility != nil {
		tenant.Visibility = *req.Visibility
	}
	if req.GitRepository != nil {
		tenant.GitRepository = req.GitRepository
	}
}

// CreateDeployment triggers a manual deployment for the tenant
func (e *Engine) CreateDeployment(ctx context.Context, tenantID, target string) Result {
	const op = "create-deployment"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}

	acquired, err := e.guard.TryAcquire(ctx, tenant.ID, guard.KindOpCreate)
	if err != nil {
		return failed(op, tenantID, "failed to acquire operation lock", err, Summary{})
	}
	if !acquired {
		return skipped("deployment creation already in progress, skipping")
	}
	defer func() {
		_ = e.guard.Release(ctx, tenant.ID, guard.KindOpCreate)
	}()

	creds, err := e.resolver.Resolve(ctx, tenant)
	if err != nil {
		return failed(op, tenantID, "credential resolution failed", err, Summary{})
	}

	record, err := e.deploy.Trigger(ctx, tenant, e.clients(creds.Token, creds.TeamID), store.TriggerManual, target)
	if err != nil {
		return failed(op, tenantID, "deployment trigger failed", err, Summary{})
	}
	return Result{Success: true, Message: "deployment triggered", Data: record, Summary: Summary{Created: 1}}
}

// DeleteTenant deletes a tenant, its remote project, and the local cascade
func (e *Engine) DeleteTenant(ctx context.Context, tenantID string) Result {
	const op = "delete-tenant"

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return failed(op, tenantID, "tenant not found", err, Summary{})
	}

	var client remote.Client
	creds, err := e.resolver.Resolve(ctx, tenant)
	switch {
	case err == nil:
		client = e.clients(creds.Token, creds.TeamID)
	case tenant.HasRemoteProject():
		// The remote project cannot be deleted without credentials.
		return failed(op, tenantID, "credential resolution failed", err, Summary{})
	default:
		client = e.clients("", "")
	}

	if err := e.lifecycle.Delete(ctx, tenant, client); err != nil {
		return failed(op, tenantID, "tenant deletion failed", err, Summary{})
	}
	e.resolver.Invalidate(tenant.ID)
	return ok("tenant deleted", Summary{Deleted: 1})
}

// recordSyncStatus writes the tenant's last-sync bookkeeping after a pass
func (e *Engine) recordSyncStatus(ctx context.Context, tenantID string, result Result) {
	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		e.logger.Error("failed to load tenant for sync bookkeeping", "tenant_id", tenantID, "error", err)
		return
	}

	now := e.now().UTC()
	tenant.LastSyncAt = &now
	tenant.LastSyncMessage = result.Message
	if result.Success {
		tenant.LastSyncState = store.SyncStateOK
	} else {
		tenant.LastSyncState = store.SyncStateFailed
	}
	if snapshot, err := json.Marshal(syncSnapshot(tenant, result)); err == nil {
		tenant.LastSyncSnapshot = snapshot
	}

	if err := e.store.UpdateTenant(ctx, tenant, store.SyncOrigin()); err != nil {
		e.logger.Error("failed to persist sync bookkeeping", "tenant_id", tenantID, "error", err)
	}
}

// syncSnapshot is the audit record persisted with each pass
func syncSnapshot(tenant *store.Tenant, result Result) map[string]any {
	return map[string]any{
		"remoteProjectId":    tenant.RemoteProjectID,
		"projectName":        tenant.ProjectName,
		"url":                tenant.URL,
		"framework":          tenant.Framework,
		"latestDeploymentId": tenant.LatestDeploymentID,
		"summary":            result.Summary,
	}
}

// deploymentSummary converts a deploysync summary into the engine vocabulary
func deploymentSummary(s deploysync.Summary) Summary {
	return Summary{Created: s.Created, Updated: s.Updated, Skipped: s.Skipped, Deleted: s.Deleted, Errors: s.Errors}
}

// ListTenants returns all tenants, for the read-only API surface
func (e *Engine) ListTenants(ctx context.Context) ([]*store.Tenant, error) {
	return e.store.ListTenants(ctx, store.TenantFilter{})
}

// GetTenant returns one tenant, for the read-only API surface
func (e *Engine) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	return e.store.GetTenant(ctx, id)
}
