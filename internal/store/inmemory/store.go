// Package inmemory provides an in-memory implementation of the record store,
// used by tests and single-node deployments without a database.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Store implements store.Store on plain maps guarded by a RWMutex. All reads
// and writes copy records so callers can never mutate shared state.
type Store struct {
	mu          sync.RWMutex
	tenants     map[string]*store.Tenant
	sets        map[string]*store.EnvVarSet
	setByTenant map[string]string
	deployments map[string]*store.DeploymentRecord
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		tenants:     make(map[string]*store.Tenant),
		sets:        make(map[string]*store.EnvVarSet),
		setByTenant: make(map[string]string),
		deployments: make(map[string]*store.DeploymentRecord),
	}
}

func copyTenant(t *store.Tenant) *store.Tenant {
	cp := *t
	if t.GitRepository != nil {
		repo := *t.GitRepository
		cp.GitRepository = &repo
	}
	if t.CredentialOverride != nil {
		cred := *t.CredentialOverride
		cp.CredentialOverride = &cred
	}
	if t.LastSyncAt != nil {
		at := *t.LastSyncAt
		cp.LastSyncAt = &at
	}
	if t.LastSyncSnapshot != nil {
		cp.LastSyncSnapshot = append([]byte(nil), t.LastSyncSnapshot...)
	}
	return &cp
}

func copySet(s *store.EnvVarSet) *store.EnvVarSet {
	cp := *s
	cp.Vars = make([]store.EnvVar, len(s.Vars))
	for i, v := range s.Vars {
		cv := v
		cv.Targets = append([]store.EnvTarget(nil), v.Targets...)
		cp.Vars[i] = cv
	}
	return &cp
}

func copyDeployment(d *store.DeploymentRecord) *store.DeploymentRecord {
	cp := *d
	cp.Events = append([]store.DeploymentEvent(nil), d.Events...)
	return &cp
}

// GetTenant returns a tenant by id
func (s *Store) GetTenant(_ context.Context, id string) (*store.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTenant(t), nil
}

// ListTenants returns tenants matching the filter
func (s *Store) ListTenants(_ context.Context, filter store.TenantFilter) ([]*store.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Tenant
	for _, t := range s.tenants {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.IsActive != nil && t.IsActive != *filter.IsActive {
			continue
		}
		if filter.HasRemoteProject != nil && t.HasRemoteProject() != *filter.HasRemoteProject {
			continue
		}
		out = append(out, copyTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountTenantsByRemoteProject counts tenants bound to a remote project id
func (s *Store) CountTenantsByRemoteProject(_ context.Context, remoteProjectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.tenants {
		if remoteProjectID != "" && t.RemoteProjectID == remoteProjectID {
			count++
		}
	}
	return count, nil
}

// CreateTenant inserts a tenant
func (s *Store) CreateTenant(_ context.Context, tenant *store.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; ok {
		return store.ErrDuplicate
	}
	s.tenants[tenant.ID] = copyTenant(tenant)
	return nil
}

// UpdateTenant replaces a tenant record
func (s *Store) UpdateTenant(_ context.Context, tenant *store.Tenant, _ store.WriteOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; !ok {
		return store.ErrNotFound
	}
	tenant.UpdatedAt = time.Now().UTC()
	s.tenants[tenant.ID] = copyTenant(tenant)
	return nil
}

// DeleteTenant removes a tenant record
func (s *Store) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tenants, id)
	return nil
}

// GetSet returns an environment-variable set by id
func (s *Store) GetSet(_ context.Context, id string) (*store.EnvVarSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySet(set), nil
}

// GetSetByTenant returns the set owned by a tenant
func (s *Store) GetSetByTenant(_ context.Context, tenantID string) (*store.EnvVarSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.setByTenant[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySet(s.sets[id]), nil
}

// CreateSet inserts a set, enforcing one set per tenant
func (s *Store) CreateSet(_ context.Context, set *store.EnvVarSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.setByTenant[set.TenantID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.sets[set.ID]; ok {
		return store.ErrDuplicate
	}
	s.sets[set.ID] = copySet(set)
	s.setByTenant[set.TenantID] = set.ID
	return nil
}

// UpdateSet replaces a set document
func (s *Store) UpdateSet(_ context.Context, set *store.EnvVarSet, _ store.WriteOpts) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[set.ID]; !ok {
		return store.ErrNotFound
	}
	set.UpdatedAt = time.Now().UTC()
	s.sets[set.ID] = copySet(set)
	return nil
}

// DeleteSetByTenant removes the set owned by a tenant, if any
func (s *Store) DeleteSetByTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.setByTenant[tenantID]
	if !ok {
		return nil
	}
	delete(s.sets, id)
	delete(s.setByTenant, tenantID)
	return nil
}

// GetDeployment returns a deployment record by id
func (s *Store) GetDeployment(_ context.Context, id string) (*store.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyDeployment(d), nil
}

// GetDeploymentByRemoteID returns a tenant's record for a remote deployment id
func (s *Store) GetDeploymentByRemoteID(_ context.Context, tenantID, remoteID string) (*store.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deployments {
		if d.TenantID == tenantID && d.RemoteID == remoteID && remoteID != "" {
			return copyDeployment(d), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListDeployments returns records matching the filter, newest first
func (s *Store) ListDeployments(_ context.Context, filter store.DeploymentFilter) ([]*store.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.DeploymentRecord
	for _, d := range s.deployments {
		if filter.TenantID != "" && d.TenantID != filter.TenantID {
			continue
		}
		if filter.Trigger != nil && d.Trigger != *filter.Trigger {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, copyDeployment(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateDeployment inserts a deployment record
func (s *Store) CreateDeployment(_ context.Context, record *store.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[record.ID]; ok {
		return store.ErrDuplicate
	}
	s.deployments[record.ID] = copyDeployment(record)
	return nil
}

// UpdateDeployment replaces a deployment record
func (s *Store) UpdateDeployment(_ context.Context, record *store.DeploymentRecord, _ store.WriteOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[record.ID]; !ok {
		return store.ErrNotFound
	}
	record.UpdatedAt = time.Now().UTC()
	s.deployments[record.ID] = copyDeployment(record)
	return nil
}

// DeleteDeployment removes a deployment record
func (s *Store) DeleteDeployment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.deployments, id)
	return nil
}

// DeleteDeploymentsByTrigger bulk-deletes a tenant's records by trigger origin
func (s *Store) DeleteDeploymentsByTrigger(_ context.Context, tenantID string, trigger store.DeploymentTrigger) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, d := range s.deployments {
		if d.TenantID == tenantID && d.Trigger == trigger {
			delete(s.deployments, id)
			deleted++
		}
	}
	return deleted, nil
}
