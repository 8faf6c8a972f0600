package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Store implements the record store on a pgx connection pool
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New constructs a Store over the given pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	return err
}

const tenantColumns = `id, name, status, is_active, remote_project_id, project_name,
	framework, url, git_repository, build_command, install_command, output_directory,
	root_directory, visibility, latest_deployment_id, env_var_set_id, credential_override,
	last_sync_at, last_sync_state, last_sync_message, last_sync_snapshot, created_at, updated_at`

func scanTenant(row pgx.Row) (*store.Tenant, error) {
	var (
		t             store.Tenant
		gitRepo       []byte
		credOverride  []byte
		snapshot      []byte
		lastSyncState *string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Status, &t.IsActive, &t.RemoteProjectID, &t.ProjectName,
		&t.Framework, &t.URL, &gitRepo, &t.BuildCommand, &t.InstallCommand, &t.OutputDirectory,
		&t.RootDirectory, &t.Visibility, &t.LatestDeploymentID, &t.EnvVarSetID, &credOverride,
		&t.LastSyncAt, &lastSyncState, &t.LastSyncMessage, &snapshot, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if lastSyncState != nil {
		t.LastSyncState = store.SyncState(*lastSyncState)
	}
	if len(gitRepo) > 0 {
		t.GitRepository = &store.GitRepository{}
		if err := json.Unmarshal(gitRepo, t.GitRepository); err != nil {
			return nil, fmt.Errorf("failed to decode git repository: %w", err)
		}
	}
	if len(credOverride) > 0 {
		t.CredentialOverride = &store.CredentialOverride{}
		if err := json.Unmarshal(credOverride, t.CredentialOverride); err != nil {
			return nil, fmt.Errorf("failed to decode credential override: %w", err)
		}
	}
	if len(snapshot) > 0 {
		t.LastSyncSnapshot = append(json.RawMessage(nil), snapshot...)
	}
	return &t, nil
}

func tenantArgs(t *store.Tenant) ([]any, error) {
	var gitRepo, credOverride []byte
	var err error
	if t.GitRepository != nil {
		if gitRepo, err = json.Marshal(t.GitRepository); err != nil {
			return nil, err
		}
	}
	if t.CredentialOverride != nil {
		if credOverride, err = json.Marshal(t.CredentialOverride); err != nil {
			return nil, err
		}
	}
	var snapshot []byte
	if len(t.LastSyncSnapshot) > 0 {
		snapshot = t.LastSyncSnapshot
	}
	return []any{
		t.ID, t.Name, string(t.Status), t.IsActive, t.RemoteProjectID, t.ProjectName,
		t.Framework, t.URL, gitRepo, t.BuildCommand, t.InstallCommand, t.OutputDirectory,
		t.RootDirectory, t.Visibility, t.LatestDeploymentID, t.EnvVarSetID, credOverride,
		t.LastSyncAt, string(t.LastSyncState), t.LastSyncMessage, snapshot, t.CreatedAt, t.UpdatedAt,
	}, nil
}

// GetTenant returns a tenant by id
func (s *Store) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(s.pool.QueryRow(ctx, query, id))
}

// ListTenants returns tenants matching the filter, oldest first
func (s *Store) ListTenants(ctx context.Context, filter store.TenantFilter) ([]*store.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var clauses []string
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		clauses = append(clauses, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.HasRemoteProject != nil {
		if *filter.HasRemoteProject {
			clauses = append(clauses, "remote_project_id <> ''")
		} else {
			clauses = append(clauses, "remote_project_id = ''")
		}
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTenantsByRemoteProject counts tenants bound to a remote project id
func (s *Store) CountTenantsByRemoteProject(ctx context.Context, remoteProjectID string) (int, error) {
	if remoteProjectID == "" {
		return 0, nil
	}
	const query = `SELECT COUNT(1) FROM tenants WHERE remote_project_id = $1`
	var count int
	if err := s.pool.QueryRow(ctx, query, remoteProjectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CreateTenant inserts a tenant
func (s *Store) CreateTenant(ctx context.Context, tenant *store.Tenant) error {
	args, err := tenantArgs(tenant)
	if err != nil {
		return err
	}
	query := `INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// UpdateTenant replaces a tenant record
func (s *Store) UpdateTenant(ctx context.Context, tenant *store.Tenant, _ store.WriteOpts) error {
	tenant.UpdatedAt = time.Now().UTC()
	args, err := tenantArgs(tenant)
	if err != nil {
		return err
	}
	// Drop created_at; it is immutable after insert.
	args = append(args[:21:21], tenant.UpdatedAt)
	const query = `UPDATE tenants SET
		name = $2, status = $3, is_active = $4, remote_project_id = $5, project_name = $6,
		framework = $7, url = $8, git_repository = $9, build_command = $10, install_command = $11,
		output_directory = $12, root_directory = $13, visibility = $14, latest_deployment_id = $15,
		env_var_set_id = $16, credential_override = $17, last_sync_at = $18, last_sync_state = $19,
		last_sync_message = $20, last_sync_snapshot = $21, updated_at = $22
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteTenant removes a tenant record
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const setColumns = `id, tenant_id, vars, auto_deploy, created_at, updated_at`

func scanSet(row pgx.Row) (*store.EnvVarSet, error) {
	var (
		set  store.EnvVarSet
		vars []byte
	)
	if err := row.Scan(&set.ID, &set.TenantID, &vars, &set.AutoDeploy, &set.CreatedAt, &set.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &set.Vars); err != nil {
			return nil, fmt.Errorf("failed to decode environment variables: %w", err)
		}
	}
	return &set, nil
}

// GetSet returns an environment-variable set by id
func (s *Store) GetSet(ctx context.Context, id string) (*store.EnvVarSet, error) {
	query := `SELECT ` + setColumns + ` FROM env_var_sets WHERE id = $1`
	return scanSet(s.pool.QueryRow(ctx, query, id))
}

// GetSetByTenant returns the set owned by a tenant
func (s *Store) GetSetByTenant(ctx context.Context, tenantID string) (*store.EnvVarSet, error) {
	query := `SELECT ` + setColumns + ` FROM env_var_sets WHERE tenant_id = $1`
	return scanSet(s.pool.QueryRow(ctx, query, tenantID))
}

// CreateSet inserts a set; the unique tenant constraint enforces one per tenant
func (s *Store) CreateSet(ctx context.Context, set *store.EnvVarSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	vars, err := json.Marshal(set.Vars)
	if err != nil {
		return err
	}
	query := `INSERT INTO env_var_sets (` + setColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query, set.ID, set.TenantID, vars, set.AutoDeploy, set.CreatedAt, set.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// UpdateSet replaces a set document
func (s *Store) UpdateSet(ctx context.Context, set *store.EnvVarSet, _ store.WriteOpts) error {
	if err := set.Validate(); err != nil {
		return err
	}
	set.UpdatedAt = time.Now().UTC()
	vars, err := json.Marshal(set.Vars)
	if err != nil {
		return err
	}
	const query = `UPDATE env_var_sets SET tenant_id = $2, vars = $3, auto_deploy = $4, updated_at = $5 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, set.ID, set.TenantID, vars, set.AutoDeploy, set.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteSetByTenant removes the set owned by a tenant, if any
func (s *Store) DeleteSetByTenant(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM env_var_sets WHERE tenant_id = $1`, tenantID)
	return err
}

const deploymentColumns = `id, tenant_id, remote_id, status, trigger_origin, url, events, created_at, updated_at`

func scanDeployment(row pgx.Row) (*store.DeploymentRecord, error) {
	var (
		d      store.DeploymentRecord
		events []byte
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.RemoteID, &d.Status, &d.Trigger, &d.URL, &events, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &d.Events); err != nil {
			return nil, fmt.Errorf("failed to decode deployment events: %w", err)
		}
	}
	return &d, nil
}

// GetDeployment returns a deployment record by id
func (s *Store) GetDeployment(ctx context.Context, id string) (*store.DeploymentRecord, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(s.pool.QueryRow(ctx, query, id))
}

// GetDeploymentByRemoteID returns a tenant's record for a remote deployment id
func (s *Store) GetDeploymentByRemoteID(ctx context.Context, tenantID, remoteID string) (*store.DeploymentRecord, error) {
	if remoteID == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE tenant_id = $1 AND remote_id = $2`
	return scanDeployment(s.pool.QueryRow(ctx, query, tenantID, remoteID))
}

// ListDeployments returns records matching the filter, newest first
func (s *Store) ListDeployments(ctx context.Context, filter store.DeploymentFilter) ([]*store.DeploymentRecord, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	var clauses []string
	var args []any
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.Trigger != nil {
		args = append(args, string(*filter.Trigger))
		clauses = append(clauses, fmt.Sprintf("trigger_origin = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.DeploymentRecord
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDeployment inserts a deployment record
func (s *Store) CreateDeployment(ctx context.Context, record *store.DeploymentRecord) error {
	events, err := json.Marshal(record.Events)
	if err != nil {
		return err
	}
	query := `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		record.ID, record.TenantID, record.RemoteID, string(record.Status),
		string(record.Trigger), record.URL, events, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// UpdateDeployment replaces a deployment record
func (s *Store) UpdateDeployment(ctx context.Context, record *store.DeploymentRecord, _ store.WriteOpts) error {
	record.UpdatedAt = time.Now().UTC()
	events, err := json.Marshal(record.Events)
	if err != nil {
		return err
	}
	const query = `UPDATE deployments SET tenant_id = $2, remote_id = $3, status = $4,
		trigger_origin = $5, url = $6, events = $7, updated_at = $8 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		record.ID, record.TenantID, record.RemoteID, string(record.Status),
		string(record.Trigger), record.URL, events, record.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteDeployment removes a deployment record
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteDeploymentsByTrigger bulk-deletes a tenant's records by trigger origin
func (s *Store) DeleteDeploymentsByTrigger(ctx context.Context, tenantID string, trigger store.DeploymentTrigger) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM deployments WHERE tenant_id = $1 AND trigger_origin = $2`,
		tenantID, string(trigger))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
