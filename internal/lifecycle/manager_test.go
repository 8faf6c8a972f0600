package lifecycle

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/remote/remotetest"
	"github.com/launchfold/tenant-sync-server/internal/store"
	"github.com/launchfold/tenant-sync-server/internal/store/inmemory"
)

func newTestManager(st *inmemory.Store) *Manager {
	return NewManager(st, st, st, slog.New(slog.DiscardHandler))
}

func seedTenant(t *testing.T, st *inmemory.Store, tenant *store.Tenant) {
	t.Helper()
	require.NoError(t, st.CreateTenant(context.Background(), tenant))
}

func approvedTenant(id string) *store.Tenant {
	return &store.Tenant{
		ID:       id,
		Name:     "Acme Site",
		Status:   store.TenantStatusApproved,
		IsActive: true,
		GitRepository: &store.GitRepository{
			Provider: "github", Owner: "acme", Repo: "site", Branch: "main",
		},
	}
}

func TestReconcileDraftTenantTakesNoRemoteAction(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := &store.Tenant{ID: "t1", Name: "draft", Status: store.TenantStatusDraft}
	seedTenant(t, st, tenant)

	created := false
	client := &remotetest.FakeClient{
		CreateProjectFunc: func(_ context.Context, _ remote.ProjectRequest) (*remote.Project, error) {
			created = true
			return nil, nil
		},
	}

	m := newTestManager(st)
	_, outcome, err := m.Reconcile(context.Background(), tenant, client)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)
	assert.False(t, created)
}

func TestReconcileApprovedTenantCreatesProject(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	seedTenant(t, st, tenant)

	client := &remotetest.FakeClient{
		CreateProjectFunc: func(_ context.Context, req remote.ProjectRequest) (*remote.Project, error) {
			assert.Equal(t, "acme-site", req.Name)
			require.NotNil(t, req.GitRepository)
			assert.Equal(t, "acme", req.GitRepository.Owner)
			return &remote.Project{ID: "prj_1", Name: req.Name}, nil
		},
		GetProjectFunc: func(_ context.Context, projectID string) (*remote.Project, error) {
			return &remote.Project{ID: projectID, Name: "acme-site", Framework: "nextjs"}, nil
		},
		ListProjectDomainsFunc: func(_ context.Context, _ string) ([]remote.Domain, error) {
			return []remote.Domain{
				{Name: "acme-site-preview.example.app", Verified: false},
				{Name: "acme-site.example.app", Verified: true},
			}, nil
		},
	}

	m := newTestManager(st)
	updated, outcome, err := m.Reconcile(context.Background(), tenant, client)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "prj_1", updated.RemoteProjectID)
	assert.Equal(t, "nextjs", updated.Framework)
	assert.Equal(t, "acme-site.example.app", updated.URL, "verified domain wins")

	persisted, err := st.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "prj_1", persisted.RemoteProjectID)
}

func TestReconcileDetailSyncFailureRollsBack(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	seedTenant(t, st, tenant)

	var deletedProject string
	client := &remotetest.FakeClient{
		CreateProjectFunc: func(_ context.Context, req remote.ProjectRequest) (*remote.Project, error) {
			return &remote.Project{ID: "prj_1", Name: req.Name}, nil
		},
		GetProjectFunc: func(_ context.Context, _ string) (*remote.Project, error) {
			return nil, remote.NewAPIError(500, "https://api.example.com", "boom")
		},
		DeleteProjectFunc: func(_ context.Context, projectID string) error {
			deletedProject = projectID
			return nil
		},
	}

	m := newTestManager(st)
	_, _, err := m.Reconcile(context.Background(), tenant, client)
	require.Error(t, err)
	assert.Equal(t, "prj_1", deletedProject, "fresh project must be rolled back")

	persisted, err := st.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, persisted.RemoteProjectID, "no identity persisted after rollback")
}

func TestReconcileRejectsClaimedProjectIdentity(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	other := approvedTenant("other")
	other.RemoteProjectID = "prj_1"
	seedTenant(t, st, other)

	tenant := approvedTenant("t1")
	seedTenant(t, st, tenant)

	var deletedProject string
	client := &remotetest.FakeClient{
		CreateProjectFunc: func(_ context.Context, req remote.ProjectRequest) (*remote.Project, error) {
			return &remote.Project{ID: "prj_1", Name: req.Name}, nil
		},
		DeleteProjectFunc: func(_ context.Context, projectID string) error {
			deletedProject = projectID
			return nil
		},
	}

	m := newTestManager(st)
	_, _, err := m.Reconcile(context.Background(), tenant, client)
	assert.ErrorIs(t, err, ErrIdentityClaimed)
	assert.Equal(t, "prj_1", deletedProject)
}

func TestReconcileExistingProjectIsIdempotentUpdate(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	tenant.RemoteProjectID = "prj_1"
	tenant.BuildCommand = "pnpm build"
	seedTenant(t, st, tenant)

	updates := 0
	client := &remotetest.FakeClient{
		UpdateProjectFunc: func(_ context.Context, projectID string, req remote.ProjectRequest) (*remote.Project, error) {
			updates++
			assert.Equal(t, "prj_1", projectID)
			assert.Equal(t, "pnpm build", req.BuildCommand)
			return &remote.Project{ID: projectID, Name: req.Name}, nil
		},
	}

	m := newTestManager(st)
	for i := 0; i < 2; i++ {
		_, outcome, err := m.Reconcile(context.Background(), tenant, client)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
	}
	assert.Equal(t, 2, updates)
}

func TestSyncBackSuppressedForSyncOriginWrites(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	tenant.RemoteProjectID = "prj_1"

	calls := 0
	client := &remotetest.FakeClient{
		UpdateProjectFunc: func(_ context.Context, projectID string, _ remote.ProjectRequest) (*remote.Project, error) {
			calls++
			return &remote.Project{ID: projectID}, nil
		},
	}

	m := newTestManager(st)
	m.SyncBack(context.Background(), tenant, client, store.SyncOrigin())
	assert.Zero(t, calls, "engine writes must not feed back")

	m.SyncBack(context.Background(), tenant, client, store.UserOrigin())
	assert.Equal(t, 1, calls)
}

func TestSyncBackSwallowsRemoteFailure(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	tenant.RemoteProjectID = "prj_1"

	client := &remotetest.FakeClient{
		UpdateProjectFunc: func(_ context.Context, _ string, _ remote.ProjectRequest) (*remote.Project, error) {
			return nil, remote.NewAPIError(503, "https://api.example.com", "unavailable")
		},
	}

	m := newTestManager(st)
	// Must not panic or propagate; convergence is deferred to the next pass.
	m.SyncBack(context.Background(), tenant, client, store.UserOrigin())
}

func TestDeleteBlockedForActiveApprovedTenant(t *testing.T) {
	t.Parallel()

	st := inmemory.New()
	tenant := approvedTenant("t1")
	seedTenant(t, st, tenant)

	m := newTestManager(st)
	err := m.Delete(context.Background(), tenant, &remotetest.FakeClient{})
	assert.ErrorIs(t, err, ErrDeletionBlocked)

	_, err = st.GetTenant(context.Background(), "t1")
	assert.NoError(t, err, "tenant must survive a blocked delete")
}

func TestDeleteCascadesLocalRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := inmemory.New()
	tenant := approvedTenant("t1")
	tenant.IsActive = false
	tenant.RemoteProjectID = "prj_1"
	seedTenant(t, st, tenant)

	require.NoError(t, st.CreateSet(ctx, &store.EnvVarSet{ID: "set-1", TenantID: "t1"}))
	require.NoError(t, st.CreateDeployment(ctx, &store.DeploymentRecord{
		ID: "d1", TenantID: "t1", Status: store.DeploymentReady, Trigger: store.TriggerSync,
	}))

	var deletedProject string
	client := &remotetest.FakeClient{
		DeleteProjectFunc: func(_ context.Context, projectID string) error {
			deletedProject = projectID
			return nil
		},
	}

	m := newTestManager(st)
	require.NoError(t, m.Delete(ctx, tenant, client))
	assert.Equal(t, "prj_1", deletedProject)

	_, err := st.GetTenant(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSetByTenant(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	records, err := st.ListDeployments(ctx, store.DeploymentFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteContinuesWhenRemoteDeleteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := inmemory.New()
	tenant := &store.Tenant{ID: "t1", Name: "draft", Status: store.TenantStatusDraft, RemoteProjectID: "prj_1"}
	seedTenant(t, st, tenant)

	client := &remotetest.FakeClient{
		DeleteProjectFunc: func(_ context.Context, _ string) error {
			return remote.NewAPIError(503, "https://api.example.com", "unavailable")
		},
	}

	m := newTestManager(st)
	require.NoError(t, m.Delete(ctx, tenant, client))

	_, err := st.GetTenant(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound, "local cascade must complete regardless")
}

func TestProjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tenant store.Tenant
		want   string
	}{
		{"explicit project name wins", store.Tenant{Name: "Acme", ProjectName: "acme-prod"}, "acme-prod"},
		{"display name is slugged", store.Tenant{Name: "Acme Site 2"}, "acme-site-2"},
		{"special characters dropped", store.Tenant{Name: "Café & Bar!"}, "caf--bar"},
		{"underscores and dots become dashes", store.Tenant{Name: "my_app.io"}, "my-app-io"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ProjectName(&tc.tenant))
		})
	}
}
