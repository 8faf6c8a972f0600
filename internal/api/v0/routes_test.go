package v0

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchfold/tenant-sync-server/internal/credentials"
	"github.com/launchfold/tenant-sync-server/internal/deploysync"
	"github.com/launchfold/tenant-sync-server/internal/engine"
	"github.com/launchfold/tenant-sync-server/internal/envsync"
	"github.com/launchfold/tenant-sync-server/internal/guard"
	"github.com/launchfold/tenant-sync-server/internal/lifecycle"
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/remote/remotetest"
	"github.com/launchfold/tenant-sync-server/internal/store"
	"github.com/launchfold/tenant-sync-server/internal/store/inmemory"
)

type testServer struct {
	store   *inmemory.Store
	client  *remotetest.FakeClient
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := inmemory.New()
	g := guard.New(guard.NewMemoryLockStore())
	client := &remotetest.FakeClient{}
	logger := slog.New(slog.DiscardHandler)

	resolver := credentials.NewResolver(
		client.Factory(),
		credentials.Settings{Token: "shared-token", TeamID: "team-1"},
		credentials.NewMemoryCache(),
		logger,
		credentials.WithEnvLookup(func(string) string { return "" }),
	)

	eng := engine.New(
		st,
		resolver,
		client.Factory(),
		g,
		lifecycle.NewManager(st, st, st, logger),
		envsync.NewReconciler(st, st, g, logger),
		deploysync.NewEngine(st, st, logger),
		logger,
	)

	r := chi.NewRouter()
	r.Mount("/v0", Router(eng))
	r.Mount("/", HealthRouter(eng))

	return &testServer{store: st, client: client, handler: r}
}

func (ts *testServer) seedApprovedTenant(t *testing.T, id string) *store.Tenant {
	t.Helper()
	tenant := &store.Tenant{
		ID:              id,
		Name:            "acme",
		Status:          store.TenantStatusApproved,
		IsActive:        true,
		RemoteProjectID: "prj_" + id,
		ProjectName:     "acme-site",
		GitRepository:   &store.GitRepository{Provider: "github", Owner: "acme", Repo: "site"},
	}
	require.NoError(t, ts.store.CreateTenant(context.Background(), tenant))
	return tenant
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) engine.Result {
	t.Helper()
	var result engine.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.NotEmpty(t, version["go_version"])
}

func TestCreateAndListTenants(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v0/tenants", map[string]any{
		"name":      "acme",
		"framework": "nextjs",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Created)

	rec = ts.do(t, http.MethodGet, "/v0/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Tenants []*store.Tenant `json:"tenants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Tenants, 1)
	assert.Equal(t, "acme", listing.Tenants[0].Name)
	assert.Equal(t, store.TenantStatusDraft, listing.Tenants[0].Status)
}

func TestCreateTenantRejectsEmptyName(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v0/tenants", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTenant(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")

	rec := ts.do(t, http.MethodGet, "/v0/tenants/"+tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tenant.ID, got.ID)
	assert.Equal(t, "prj_t1", got.RemoteProjectID)

	rec = ts.do(t, http.MethodGet, "/v0/tenants/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncTenantEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")
	require.NoError(t, ts.store.CreateSet(context.Background(), &store.EnvVarSet{
		ID:       "set-1",
		TenantID: tenant.ID,
		Vars: []store.EnvVar{{
			Key: "API_KEY", Value: "v1", Type: store.EnvTypePlain,
			Targets: []store.EnvTarget{store.TargetProduction},
			Remote:  store.UnsyncedRef(),
		}},
	}))

	ts.client.ListDeploymentsFunc = func(_ context.Context, _ string, limit int) ([]remote.Deployment, error) {
		if limit == 1 {
			return nil, nil
		}
		return []remote.Deployment{{ID: "dpl_1", State: remote.StateReady, CreatedAt: 1000}}, nil
	}

	rec := ts.do(t, http.MethodPost, "/v0/tenants/"+tenant.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.Summary.Created, 2)
}

func TestSyncTenantEndpointUnknownTenant(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v0/tenants/missing/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncAllEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.seedApprovedTenant(t, "t1")
	ts.seedApprovedTenant(t, "t2")

	rec := ts.do(t, http.MethodPost, "/v0/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "synced 2 tenants")
}

func TestSyncEnvVarsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")
	require.NoError(t, ts.store.CreateSet(context.Background(), &store.EnvVarSet{
		ID:       "set-1",
		TenantID: tenant.ID,
	}))

	body := map[string]any{
		"set": map[string]any{
			"tenantId": tenant.ID,
			"envVars": []map[string]any{{
				"key":     "API_KEY",
				"value":   "v1",
				"type":    "plain",
				"targets": []string{"production"},
			}},
		},
	}
	rec := ts.do(t, http.MethodPost, "/v0/tenants/"+tenant.ID+"/env-vars/sync", body)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Created)

	set, err := ts.store.GetSetByTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Len(t, set.Vars, 1)
	assert.True(t, set.Vars[0].Remote.Synced())
}

func TestCreateDeploymentEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")

	rec := ts.do(t, http.MethodPost, "/v0/tenants/"+tenant.ID+"/deployments", map[string]any{
		"target": "production",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Created)
}

func TestCancelDeploymentsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")
	require.NoError(t, ts.store.CreateDeployment(context.Background(), &store.DeploymentRecord{
		ID:       "d1",
		TenantID: tenant.ID,
		RemoteID: "dpl_1",
		Trigger:  store.TriggerManual,
		Status:   store.DeploymentBuilding,
	}))

	rec := ts.do(t, http.MethodPost, "/v0/tenants/"+tenant.ID+"/deployments/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	record, err := ts.store.GetDeployment(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentCanceled, record.Status)
}

func TestUpdateTenantEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")

	var pushed *remote.ProjectRequest
	ts.client.UpdateProjectFunc = func(_ context.Context, projectID string, req remote.ProjectRequest) (*remote.Project, error) {
		pushed = &req
		return &remote.Project{ID: projectID, Name: req.Name}, nil
	}

	rec := ts.do(t, http.MethodPatch, "/v0/tenants/"+tenant.ID, map[string]any{
		"buildCommand": "pnpm build",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Updated)

	persisted, err := ts.store.GetTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "pnpm build", persisted.BuildCommand)

	require.NotNil(t, pushed, "expected an outbound project update")
	assert.Equal(t, "pnpm build", pushed.BuildCommand)
}

func TestUpdateTenantEndpointUnknownTenant(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPatch, "/v0/tenants/missing", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTenantEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")
	tenant.IsActive = false
	require.NoError(t, ts.store.UpdateTenant(context.Background(), tenant, store.UserOrigin()))

	rec := ts.do(t, http.MethodDelete, "/v0/tenants/"+tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	_, err := ts.store.GetTenant(context.Background(), tenant.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTenantBlockedWhileActive(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	tenant := ts.seedApprovedTenant(t, "t1")

	rec := ts.do(t, http.MethodDelete, "/v0/tenants/"+tenant.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
