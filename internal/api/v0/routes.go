// Package v0 provides the REST API handlers for the tenant sync engine.
package v0

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/launchfold/tenant-sync-server/internal/api/common"
	"github.com/launchfold/tenant-sync-server/internal/engine"
	"github.com/launchfold/tenant-sync-server/internal/store"
	"github.com/launchfold/tenant-sync-server/internal/versions"
)

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	engine *engine.Engine
}

// NewRoutes creates a new Routes instance over the given engine
func NewRoutes(eng *engine.Engine) *Routes {
	return &Routes{
		engine: eng,
	}
}

// Router creates a new router for the sync API
func Router(eng *engine.Engine) http.Handler {
	routes := NewRoutes(eng)

	r := chi.NewRouter()

	// Full reconciliation pass over every tenant
	r.Post("/sync", routes.syncAll)

	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", routes.listTenants)
		r.Post("/", routes.createTenant)

		r.Route("/{tenantID}", func(r chi.Router) {
			r.Get("/", routes.getTenant)
			r.Patch("/", routes.updateTenant)
			r.Delete("/", routes.deleteTenant)
			r.Post("/sync", routes.syncTenant)
			r.Post("/env-vars/sync", routes.syncEnvVars)
			r.Post("/deployments", routes.createDeployment)
			r.Post("/deployments/sync", routes.syncDeployments)
			r.Post("/deployments/cancel", routes.cancelDeployments)
		})
	})

	return r
}

// syncAll handles POST /v0/sync
func (rr *Routes) syncAll(w http.ResponseWriter, r *http.Request) {
	common.WriteResult(w, rr.engine.SyncAllTenants(r.Context()))
}

// listTenants handles GET /v0/tenants
func (rr *Routes) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := rr.engine.ListTenants(r.Context())
	if err != nil {
		common.WriteErrorResponse(w, "Failed to list tenants", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, map[string]any{"tenants": tenants}, http.StatusOK)
}

// getTenant handles GET /v0/tenants/{tenantID}
func (rr *Routes) getTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	tenant, err := rr.engine.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.WriteErrorResponse(w, "Tenant not found", http.StatusNotFound)
			return
		}
		common.WriteErrorResponse(w, "Failed to get tenant", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, tenant, http.StatusOK)
}

// createTenant handles POST /v0/tenants
func (rr *Routes) createTenant(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := rr.engine.CreateTenant(r.Context(), req)
	if result.Success {
		common.WriteJSONResponse(w, result, http.StatusCreated)
		return
	}
	common.WriteResult(w, result)
}

// updateTenant handles PATCH /v0/tenants/{tenantID}
func (rr *Routes) updateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	var req engine.UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	common.WriteResult(w, rr.engine.UpdateTenant(r.Context(), tenantID, req))
}

// deleteTenant handles DELETE /v0/tenants/{tenantID}
func (rr *Routes) deleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	common.WriteResult(w, rr.engine.DeleteTenant(r.Context(), tenantID))
}

// syncTenant handles POST /v0/tenants/{tenantID}/sync
func (rr *Routes) syncTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	common.WriteResult(w, rr.engine.SyncTenant(r.Context(), tenantID))
}

// syncEnvVarsRequest is the optional body of the env-var sync endpoint. When
// Set is present it replaces the stored document before the diff is applied.
type syncEnvVarsRequest struct {
	Set         *store.EnvVarSet `json:"set,omitempty"`
	RetryFailed bool             `json:"retryFailed,omitempty"`
}

// syncEnvVars handles POST /v0/tenants/{tenantID}/env-vars/sync
func (rr *Routes) syncEnvVars(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	var req syncEnvVarsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	common.WriteResult(w, rr.engine.SyncEnvVars(r.Context(), tenantID, req.Set, req.RetryFailed))
}

// createDeploymentRequest is the body of the manual deployment endpoint
type createDeploymentRequest struct {
	Target string `json:"target,omitempty"`
}

// createDeployment handles POST /v0/tenants/{tenantID}/deployments
func (rr *Routes) createDeployment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := rr.engine.CreateDeployment(r.Context(), tenantID, req.Target)
	if result.Success {
		common.WriteJSONResponse(w, result, http.StatusCreated)
		return
	}
	common.WriteResult(w, result)
}

// syncDeployments handles POST /v0/tenants/{tenantID}/deployments/sync
func (rr *Routes) syncDeployments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	common.WriteResult(w, rr.engine.SyncDeployments(r.Context(), tenantID))
}

// cancelDeployments handles POST /v0/tenants/{tenantID}/deployments/cancel
func (rr *Routes) cancelDeployments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	common.WriteResult(w, rr.engine.CancelDeployments(r.Context(), tenantID))
}

// tenantIDParam extracts the tenant id path parameter, writing a 400 when invalid
func tenantIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, err := common.PathParam(r, "tenantID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return tenantID, true
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(eng))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests by probing the store
func readinessHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := eng.ListTenants(r.Context()); err != nil {
			common.WriteErrorResponse(w, "Store not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
