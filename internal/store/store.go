package store

import (
	"context"
	"errors"
)

// Sentinel errors shared by all store backends
var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a uniqueness constraint would be violated
	ErrDuplicate = errors.New("record already exists")

	// ErrValidation is returned for malformed records
	ErrValidation = errors.New("validation failed")
)

// WriteOpts qualifies a store write. SyncOrigin marks the write as caused by
// the reconciliation engine so downstream observers can recognize and skip
// effects of their own sync instead of re-triggering it.
type WriteOpts struct {
	SyncOrigin bool
}

// SyncOrigin is the WriteOpts for engine-originated writes
func SyncOrigin() WriteOpts {
	return WriteOpts{SyncOrigin: true}
}

// UserOrigin is the WriteOpts for user- or automation-originated writes
func UserOrigin() WriteOpts {
	return WriteOpts{}
}

// TenantFilter narrows ListTenants
type TenantFilter struct {
	Status           *TenantStatus
	IsActive         *bool
	HasRemoteProject *bool
}

// TenantStore persists tenants
//
//go:generate mockgen -destination=mocks/mock_tenant_store.go -package=mocks -source=store.go TenantStore
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context, filter TenantFilter) ([]*Tenant, error)

	// CountTenantsByRemoteProject counts tenants referencing the given remote
	// project id. Used to enforce that a remote project backs at most one tenant.
	CountTenantsByRemoteProject(ctx context.Context, remoteProjectID string) (int, error)

	CreateTenant(ctx context.Context, tenant *Tenant) error
	UpdateTenant(ctx context.Context, tenant *Tenant, opts WriteOpts) error
	DeleteTenant(ctx context.Context, id string) error
}

// EnvVarSetStore persists environment-variable sets. Sets are one-to-one with
// tenants; CreateSet fails with ErrDuplicate if the tenant already has one.
type EnvVarSetStore interface {
	GetSet(ctx context.Context, id string) (*EnvVarSet, error)
	GetSetByTenant(ctx context.Context, tenantID string) (*EnvVarSet, error)
	CreateSet(ctx context.Context, set *EnvVarSet) error
	UpdateSet(ctx context.Context, set *EnvVarSet, opts WriteOpts) error
	DeleteSetByTenant(ctx context.Context, tenantID string) error
}

// DeploymentFilter narrows ListDeployments
type DeploymentFilter struct {
	TenantID string
	Trigger  *DeploymentTrigger
	Status   *DeploymentStatus

	// Limit caps the result count; zero means unbounded. Results are always
	// sorted by creation time, newest first.
	Limit int
}

// DeploymentStore persists deployment records
type DeploymentStore interface {
	GetDeployment(ctx context.Context, id string) (*DeploymentRecord, error)
	GetDeploymentByRemoteID(ctx context.Context, tenantID, remoteID string) (*DeploymentRecord, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*DeploymentRecord, error)
	CreateDeployment(ctx context.Context, record *DeploymentRecord) error
	UpdateDeployment(ctx context.Context, record *DeploymentRecord, opts WriteOpts) error
	DeleteDeployment(ctx context.Context, id string) error

	// DeleteDeploymentsByTrigger bulk-deletes a tenant's records with the given
	// trigger origin. Used to wholesale replace the sync-owned subset.
	DeleteDeploymentsByTrigger(ctx context.Context, tenantID string, trigger DeploymentTrigger) (int, error)
}

// Store aggregates the three collections a backend must provide
type Store interface {
	TenantStore
	EnvVarSetStore
	DeploymentStore
}
