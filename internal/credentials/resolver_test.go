package credentials

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// recordingFactory hands out a fake client per (token, team) pair and records
// which pairs were exercised.
type recordingFactory struct {
	validTokens map[string]bool
	used        []string
}

func (f *recordingFactory) factory() remote.Factory {
	return func(token, _ string) remote.Client {
		f.used = append(f.used, token)
		return &fakeValidator{valid: f.validTokens[token]}
	}
}

type fakeValidator struct {
	remote.Client
	valid bool
}

func (c *fakeValidator) ListDeployments(_ context.Context, _ string, _ int) ([]remote.Deployment, error) {
	if !c.valid {
		return nil, remote.NewAPIError(http.StatusUnauthorized, "/v6/deployments", "invalid token")
	}
	return nil, nil
}

func approvedTenant(override *store.CredentialOverride) *store.Tenant {
	return &store.Tenant{
		ID:                 "tenant-1",
		Name:               "tenant one",
		Status:             store.TenantStatusApproved,
		IsActive:           true,
		RemoteProjectID:    "prj_1",
		CredentialOverride: override,
	}
}

func newTestResolver(t *testing.T, factory *recordingFactory, settings Settings, env map[string]string) *Resolver {
	t.Helper()
	return NewResolver(
		factory.factory(),
		settings,
		NewMemoryCache(),
		slog.New(slog.DiscardHandler),
		WithEnvLookup(func(key string) string { return env[key] }),
	)
}

func TestResolverFallbackOrder(t *testing.T) {
	t.Parallel()

	t.Run("override wins when valid", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{validTokens: map[string]bool{"override-token": true}}
		r := newTestResolver(t, f, Settings{Token: "shared-token"}, nil)

		creds, err := r.Resolve(context.Background(), approvedTenant(&store.CredentialOverride{Token: "override-token", TeamID: "team-o"}))
		require.NoError(t, err)
		assert.Equal(t, "override-token", creds.Token)
		assert.Equal(t, SourceTenantOverride, creds.Source)
		assert.Equal(t, ValidityValidated, creds.Validity)
	})

	t.Run("falls back to shared setting on invalid override", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{validTokens: map[string]bool{"shared-token": true}}
		r := newTestResolver(t, f, Settings{Token: "shared-token", TeamID: "team-s"}, nil)

		creds, err := r.Resolve(context.Background(), approvedTenant(&store.CredentialOverride{Token: "bad-token"}))
		require.NoError(t, err)
		assert.Equal(t, "shared-token", creds.Token)
		assert.Equal(t, SourceTenantSetting, creds.Source)
		assert.Equal(t, []string{"bad-token", "shared-token"}, f.used)
	})

	t.Run("falls back to environment last", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{validTokens: map[string]bool{"env-token": true}}
		r := newTestResolver(t, f, Settings{}, map[string]string{
			EnvToken:  "env-token",
			EnvTeamID: "team-e",
		})

		creds, err := r.Resolve(context.Background(), approvedTenant(nil))
		require.NoError(t, err)
		assert.Equal(t, "env-token", creds.Token)
		assert.Equal(t, "team-e", creds.TeamID)
		assert.Equal(t, SourceEnvironment, creds.Source)
	})

	t.Run("all candidates invalid", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{}
		r := newTestResolver(t, f, Settings{Token: "shared-token"}, nil)

		_, err := r.Resolve(context.Background(), approvedTenant(&store.CredentialOverride{Token: "bad-token"}))
		require.Error(t, err)

		var resolveErr *ResolveError
		require.ErrorAs(t, err, &resolveErr)
		assert.Equal(t, "tenant-1", resolveErr.TenantID)
		assert.Equal(t, remote.ClassUnauthorized, resolveErr.Class)
	})

	t.Run("no candidates configured", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{}
		r := newTestResolver(t, f, Settings{}, nil)

		_, err := r.Resolve(context.Background(), approvedTenant(nil))
		var resolveErr *ResolveError
		require.ErrorAs(t, err, &resolveErr)
		assert.Empty(t, f.used, "nothing to validate")
	})
}

func TestResolverSkipsValidationWithoutProject(t *testing.T) {
	t.Parallel()

	f := &recordingFactory{}
	r := newTestResolver(t, f, Settings{Token: "shared-token"}, nil)

	tenant := approvedTenant(nil)
	tenant.RemoteProjectID = ""

	creds, err := r.Resolve(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, ValidityUnvalidated, creds.Validity)
	assert.Empty(t, f.used, "no project means no validation call")
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	t.Parallel()

	f := &recordingFactory{validTokens: map[string]bool{"shared-token": true}}
	r := newTestResolver(t, f, Settings{Token: "shared-token"}, nil)
	tenant := approvedTenant(nil)

	_, err := r.Resolve(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, f.used, 1)

	// Second resolve hits the cache, no validation call.
	_, err = r.Resolve(context.Background(), tenant)
	require.NoError(t, err)
	assert.Len(t, f.used, 1)

	r.Invalidate(tenant.ID)
	_, err = r.Resolve(context.Background(), tenant)
	require.NoError(t, err)
	assert.Len(t, f.used, 2)
}

func TestResolverDefault(t *testing.T) {
	t.Parallel()

	t.Run("shared setting", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{}
		r := newTestResolver(t, f, Settings{Token: "shared-token", TeamID: "team-s"}, nil)

		creds := r.Default()
		assert.Equal(t, "shared-token", creds.Token)
		assert.Equal(t, SourceTenantSetting, creds.Source)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Parallel()

		f := &recordingFactory{}
		r := newTestResolver(t, f, Settings{}, map[string]string{EnvToken: "env-token"})

		creds := r.Default()
		assert.Equal(t, "env-token", creds.Token)
		assert.Equal(t, SourceEnvironment, creds.Source)
	})
}

func TestResolverNilTenantUsesDefault(t *testing.T) {
	t.Parallel()

	f := &recordingFactory{}
	r := newTestResolver(t, f, Settings{Token: "shared-token"}, nil)

	creds, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, SourceTenantSetting, creds.Source)
}

func TestMemoryCacheTTL(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewMemoryCache(
		WithCacheTTL(time.Minute),
		withCacheClock(func() time.Time { return now }),
	)

	c.Set("tenant-1", Credentials{Token: "tok"})

	got, ok := c.Get("tenant-1")
	require.True(t, ok)
	assert.Equal(t, "tok", got.Token)

	now = now.Add(61 * time.Second)
	_, ok = c.Get("tenant-1")
	assert.False(t, ok, "entry expired")

	c.Set("tenant-1", Credentials{Token: "tok2"})
	c.Invalidate("tenant-1")
	_, ok = c.Get("tenant-1")
	assert.False(t, ok)
}
