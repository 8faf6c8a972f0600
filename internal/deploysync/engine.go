// Package deploysync mirrors the remote platform's recent deployments into
// local records and manages deployment cancellation and triggering.
package deploysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Summary counts the record-level outcomes of one deployment sync pass
type Summary struct {
	Created int
	Updated int
	Skipped int
	Deleted int
	Errors  int
}

// Engine keeps the sync-owned subset of deployment records convergent with the
// platform. Sync-owned records (trigger "sync") are replaced wholesale each
// pass; records from other triggers are patched in place when the platform
// reports their remote identity.
type Engine struct {
	tenants     store.TenantStore
	deployments store.DeploymentStore
	logger      *slog.Logger

	fetchLimit int
	now        func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithFetchLimit caps how many recent remote deployments each pass fetches.
// Values outside 1..MaxDeploymentsPerSync are clamped.
func WithFetchLimit(limit int) Option {
	return func(e *Engine) {
		switch {
		case limit < 1:
			e.fetchLimit = 1
		case limit > remote.MaxDeploymentsPerSync:
			e.fetchLimit = remote.MaxDeploymentsPerSync
		default:
			e.fetchLimit = limit
		}
	}
}

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a deployment sync engine
func NewEngine(tenants store.TenantStore, deployments store.DeploymentStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tenants:     tenants,
		deployments: deployments,
		logger:      logger,
		fetchLimit:  remote.MaxDeploymentsPerSync,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncTenant replaces the tenant's sync-owned deployment records with the
// platform's latest, patches records of other triggers by remote identity, and
// refreshes the tenant's latest-deployment pointer.
func (e *Engine) SyncTenant(ctx context.Context, tenant *store.Tenant, client remote.Client) (Summary, error) {
	var summary Summary
	if !tenant.HasRemoteProject() {
		return summary, fmt.Errorf("tenant %s has no remote project to sync deployments against", tenant.ID)
	}

	deleted, err := e.deployments.DeleteDeploymentsByTrigger(ctx, tenant.ID, store.TriggerSync)
	if err != nil {
		return summary, fmt.Errorf("failed to clear sync-owned records for tenant %s: %w", tenant.ID, err)
	}
	summary.Deleted = deleted

	deployments, err := client.ListDeployments(ctx, tenant.RemoteProjectID, e.fetchLimit)
	if err != nil {
		return summary, fmt.Errorf("failed to list remote deployments for tenant %s: %w", tenant.ID, err)
	}

	for _, d := range deployments {
		if err := e.mirror(ctx, tenant, d, &summary); err != nil {
			e.logger.Error("failed to mirror remote deployment",
				"tenant_id", tenant.ID,
				"deployment_id", d.ID,
				"error", err)
			summary.Errors++
		}
	}

	if err := e.refreshLatestPointer(ctx, tenant); err != nil {
		e.logger.Warn("failed to refresh latest-deployment pointer", "tenant_id", tenant.ID, "error", err)
		summary.Errors++
	}
	return summary, nil
}

// mirror lands one remote deployment in the local store: a patch when a record
// of any trigger already carries the remote identity, a fresh sync-owned
// record otherwise.
func (e *Engine) mirror(ctx context.Context, tenant *store.Tenant, d remote.Deployment, summary *Summary) error {
	now := e.now().UTC()
	status := NormalizeStatus(d.State)

	existing, err := e.deployments.GetDeploymentByRemoteID(ctx, tenant.ID, d.ID)
	switch {
	case err == nil:
		if existing.Status == status && existing.URL == d.URL {
			summary.Skipped++
			return nil
		}
		existing.Status = status
		existing.URL = d.URL
		existing.AppendEvent(now, "remote state %s", d.State)
		if err := e.deployments.UpdateDeployment(ctx, existing, store.SyncOrigin()); err != nil {
			return err
		}
		summary.Updated++
		return nil

	case errors.Is(err, store.ErrNotFound):
		record := &store.DeploymentRecord{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			RemoteID:  d.ID,
			Status:    status,
			Trigger:   store.TriggerSync,
			URL:       d.URL,
			CreatedAt: d.Created(),
			UpdatedAt: now,
		}
		record.AppendEvent(now, "mirrored from remote, state %s", d.State)
		if err := e.deployments.CreateDeployment(ctx, record); err != nil {
			return err
		}
		summary.Created++
		return nil

	default:
		return err
	}
}

// refreshLatestPointer writes the tenant's latest sync-owned deployment id,
// picked by creation time.
func (e *Engine) refreshLatestPointer(ctx context.Context, tenant *store.Tenant) error {
	trigger := store.TriggerSync
	records, err := e.deployments.ListDeployments(ctx, store.DeploymentFilter{
		TenantID: tenant.ID,
		Trigger:  &trigger,
		Limit:    1,
	})
	if err != nil {
		return err
	}

	latest := ""
	if len(records) > 0 {
		latest = records[0].ID
	}
	if tenant.LatestDeploymentID == latest {
		return nil
	}
	tenant.LatestDeploymentID = latest
	return e.tenants.UpdateTenant(ctx, tenant, store.SyncOrigin())
}

// CancelDeployments cancels the tenant's in-flight deployments: remote
// cancellation plus a local status update for records with a remote identity,
// plain deletion for queued records that never reached the platform.
func (e *Engine) CancelDeployments(ctx context.Context, tenant *store.Tenant, client remote.Client) (Summary, error) {
	var summary Summary

	records, err := e.deployments.ListDeployments(ctx, store.DeploymentFilter{TenantID: tenant.ID})
	if err != nil {
		return summary, fmt.Errorf("failed to list deployment records for tenant %s: %w", tenant.ID, err)
	}

	now := e.now().UTC()
	for _, record := range records {
		if !store.InFlight(record.Status) {
			summary.Skipped++
			continue
		}

		if record.RemoteID == "" {
			// Never reached the platform; nothing to cancel remotely.
			if err := e.deployments.DeleteDeployment(ctx, record.ID); err != nil {
				e.logger.Error("failed to delete queued record", "record_id", record.ID, "error", err)
				summary.Errors++
				continue
			}
			summary.Deleted++
			continue
		}

		if _, err := client.CancelDeployment(ctx, record.RemoteID); err != nil && !remote.IsNotFound(err) {
			e.logger.Error("remote cancellation failed",
				"tenant_id", tenant.ID,
				"deployment_id", record.RemoteID,
				"classification", remote.Classify(err))
			summary.Errors++
			continue
		}

		record.Status = store.DeploymentCanceled
		record.AppendEvent(now, "canceled by request")
		if err := e.deployments.UpdateDeployment(ctx, record, store.SyncOrigin()); err != nil {
			e.logger.Error("failed to persist cancellation", "record_id", record.ID, "error", err)
			summary.Errors++
			continue
		}
		summary.Updated++
	}
	return summary, nil
}

// Trigger starts a new remote deployment from the tenant's git source and
// records it locally.
func (e *Engine) Trigger(ctx context.Context, tenant *store.Tenant, client remote.Client, trigger store.DeploymentTrigger, target string) (*store.DeploymentRecord, error) {
	if !tenant.HasRemoteProject() {
		return nil, fmt.Errorf("tenant %s has no remote project to deploy", tenant.ID)
	}
	if !tenant.GitRepository.Complete() {
		return nil, fmt.Errorf("%w: tenant %s git repository is incomplete", store.ErrValidation, tenant.ID)
	}

	req := remote.DeploymentRequest{
		Name:      tenant.ProjectName,
		ProjectID: tenant.RemoteProjectID,
		Target:    target,
		GitSource: &remote.GitSource{
			Provider: tenant.GitRepository.Provider,
			Owner:    tenant.GitRepository.Owner,
			Repo:     tenant.GitRepository.Repo,
			Branch:   tenant.GitRepository.Branch,
		},
	}
	deployment, err := client.CreateDeployment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger deployment for tenant %s: %w", tenant.ID, err)
	}

	now := e.now().UTC()
	record := &store.DeploymentRecord{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		RemoteID:  deployment.ID,
		Status:    NormalizeStatus(deployment.State),
		Trigger:   trigger,
		URL:       deployment.URL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.AppendEvent(now, "triggered, remote state %s", deployment.State)
	if err := e.deployments.CreateDeployment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record triggered deployment for tenant %s: %w", tenant.ID, err)
	}

	e.logger.Info("deployment triggered",
		"tenant_id", tenant.ID,
		"deployment_id", deployment.ID,
		"trigger", trigger)
	return record, nil
}
