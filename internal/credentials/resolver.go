// Package credentials resolves which remote platform credentials to use per
// tenant: tenant override, then the shared tenant setting, then the process
// environment, with validation and a bounded TTL cache.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Source identifies where a resolved credential came from
type Source string

const (
	// SourceTenantOverride is the tenant-level token/team pair
	SourceTenantOverride Source = "tenant-override"

	// SourceTenantSetting is the shared configuration record
	SourceTenantSetting Source = "tenant-setting"

	// SourceEnvironment is the process environment
	SourceEnvironment Source = "environment"
)

// Validity records whether a credential was validated against the platform
type Validity string

const (
	// ValidityValidated means a cheap read call succeeded with the credential
	ValidityValidated Validity = "validated"

	// ValidityUnvalidated means no project existed to validate against
	ValidityUnvalidated Validity = "unvalidated"
)

// Environment variable names consulted by the environment fallback
const (
	EnvToken  = "LFTS_REMOTE_TOKEN"
	EnvTeamID = "LFTS_REMOTE_TEAM_ID"
)

// Credentials is a resolved token/team pair with provenance
type Credentials struct {
	Token    string
	TeamID   string
	Source   Source
	Validity Validity
}

// Settings is the shared tenant-scoped credential configuration record
type Settings struct {
	Token  string
	TeamID string
}

// ResolveError is a terminal credential failure with the remote platform's
// classification of the last validation attempt.
type ResolveError struct {
	TenantID string
	Class    remote.ErrorClass
	Err      error
}

// Error returns the error message
func (e *ResolveError) Error() string {
	return fmt.Sprintf("no valid credentials for tenant %s (last failure: %s): %v", e.TenantID, e.Class, e.Err)
}

// Unwrap returns the underlying error
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolver walks the credential fallback chain. Every engine entry point must
// resolve through it rather than re-implementing the order.
type Resolver struct {
	clients  remote.Factory
	settings Settings
	cache    Cache
	lookup   func(string) string
	logger   *slog.Logger
}

// ResolverOption configures the resolver
type ResolverOption func(*Resolver)

// WithEnvLookup replaces the environment lookup, used by tests
func WithEnvLookup(lookup func(string) string) ResolverOption {
	return func(r *Resolver) {
		r.lookup = lookup
	}
}

// NewResolver creates a resolver over the given client factory and shared settings
func NewResolver(clients remote.Factory, settings Settings, cache Cache, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		clients:  clients,
		settings: settings,
		cache:    cache,
		lookup:   os.Getenv,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns the process-wide credentials without tenant scoping:
// shared setting first, then the environment. Never validated.
func (r *Resolver) Default() Credentials {
	if r.settings.Token != "" {
		return Credentials{
			Token:    r.settings.Token,
			TeamID:   r.settings.TeamID,
			Source:   SourceTenantSetting,
			Validity: ValidityUnvalidated,
		}
	}
	return Credentials{
		Token:    r.lookup(EnvToken),
		TeamID:   r.lookup(EnvTeamID),
		Source:   SourceEnvironment,
		Validity: ValidityUnvalidated,
	}
}

// Resolve returns the credentials to use for a tenant, walking override →
// setting → environment. Candidates are validated with a cheap deployment
// listing against the tenant's project when one exists; the first valid
// candidate is cached for the cache TTL.
func (r *Resolver) Resolve(ctx context.Context, tenant *store.Tenant) (Credentials, error) {
	if tenant == nil {
		return r.Default(), nil
	}

	if creds, ok := r.cache.Get(tenant.ID); ok {
		return creds, nil
	}

	candidates := r.candidates(tenant)
	if len(candidates) == 0 {
		return Credentials{}, &ResolveError{
			TenantID: tenant.ID,
			Class:    remote.ClassUnauthorized,
			Err:      fmt.Errorf("no credentials configured in any source"),
		}
	}

	// Without a remote project there is nothing cheap to validate against;
	// return the highest-priority candidate as-is.
	if !tenant.HasRemoteProject() {
		creds := candidates[0]
		creds.Validity = ValidityUnvalidated
		r.cache.Set(tenant.ID, creds)
		return creds, nil
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := r.validate(ctx, tenant, candidate); err != nil {
			lastErr = err
			r.logger.Warn("credential validation failed, falling back",
				"tenant_id", tenant.ID,
				"source", candidate.Source,
				"classification", remote.Classify(err))
			continue
		}
		candidate.Validity = ValidityValidated
		r.cache.Set(tenant.ID, candidate)
		return candidate, nil
	}

	r.cache.Invalidate(tenant.ID)
	return Credentials{}, &ResolveError{
		TenantID: tenant.ID,
		Class:    remote.Classify(lastErr),
		Err:      lastErr,
	}
}

// Invalidate drops the cached credentials for a tenant, forcing the next
// Resolve to re-validate.
func (r *Resolver) Invalidate(tenantID string) {
	r.cache.Invalidate(tenantID)
}

// candidates lists non-empty credential sources in fallback order
func (r *Resolver) candidates(tenant *store.Tenant) []Credentials {
	var out []Credentials
	if o := tenant.CredentialOverride; o != nil && o.Token != "" {
		out = append(out, Credentials{Token: o.Token, TeamID: o.TeamID, Source: SourceTenantOverride})
	}
	if r.settings.Token != "" {
		out = append(out, Credentials{Token: r.settings.Token, TeamID: r.settings.TeamID, Source: SourceTenantSetting})
	}
	if token := r.lookup(EnvToken); token != "" {
		out = append(out, Credentials{Token: token, TeamID: r.lookup(EnvTeamID), Source: SourceEnvironment})
	}
	return out
}

// validate performs the cheap read call against the tenant's project
func (r *Resolver) validate(ctx context.Context, tenant *store.Tenant, creds Credentials) error {
	client := r.clients(creds.Token, creds.TeamID)
	_, err := client.ListDeployments(ctx, tenant.RemoteProjectID, 1)
	return err
}
