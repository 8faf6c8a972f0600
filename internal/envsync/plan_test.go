package envsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchfold/tenant-sync-server/internal/store"
)

func prodVar(key, value string, ref store.RemoteRef) store.EnvVar {
	return store.EnvVar{
		Key:     key,
		Value:   value,
		Type:    store.EnvTypePlain,
		Targets: []store.EnvTarget{store.TargetProduction},
		Remote:  ref,
	}
}

func setOf(vars ...store.EnvVar) *store.EnvVarSet {
	return &store.EnvVarSet{ID: "set-1", TenantID: "tenant-1", Vars: vars}
}

func TestBuildPlanClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		previous *store.EnvVarSet
		current  *store.EnvVarSet
		opts     PlanOptions
		creates  []string
		updates  []string
		skips    []string
		deletes  []string
	}{
		{
			name:     "unsynced entry is created",
			previous: setOf(),
			current:  setOf(prodVar("API_KEY", "v1", store.UnsyncedRef())),
			creates:  []string{"API_KEY"},
		},
		{
			name:     "nil previous treats synced entries as skips",
			previous: nil,
			current: setOf(
				prodVar("A", "1", store.SyncedRef("env-a")),
				prodVar("B", "2", store.UnsyncedRef()),
			),
			creates: []string{"B"},
			skips:   []string{"A"},
		},
		{
			name:     "changed value is updated",
			previous: setOf(prodVar("A", "old", store.SyncedRef("env-a"))),
			current:  setOf(prodVar("A", "new", store.SyncedRef("env-a"))),
			updates:  []string{"A"},
		},
		{
			name:     "unchanged entry is skipped",
			previous: setOf(prodVar("A", "same", store.SyncedRef("env-a"))),
			current:  setOf(prodVar("A", "same", store.SyncedRef("env-a"))),
			skips:    []string{"A"},
		},
		{
			name:     "removed synced entry is deleted",
			previous: setOf(prodVar("GONE", "v", store.SyncedRef("env-gone"))),
			current:  setOf(),
			deletes:  []string{"GONE"},
		},
		{
			name:     "removed unsynced entry needs no remote call",
			previous: setOf(prodVar("GONE", "v", store.UnsyncedRef())),
			current:  setOf(),
		},
		{
			name:     "failed entry is skipped by default",
			previous: setOf(),
			current:  setOf(prodVar("BAD", "v", store.FailedRef(store.FailCreation))),
			skips:    []string{"BAD"},
		},
		{
			name:     "failed entry is retried as create when asked",
			previous: setOf(),
			current:  setOf(prodVar("BAD", "v", store.FailedRef(store.FailCreation))),
			opts:     PlanOptions{RetryFailed: true},
			creates:  []string{"BAD"},
		},
		{
			name:     "rename becomes create plus delete",
			previous: setOf(prodVar("OLD_NAME", "v", store.SyncedRef("env-1"))),
			current:  setOf(prodVar("NEW_NAME", "v", store.SyncedRef("env-1"))),
			creates:  []string{"NEW_NAME"},
			deletes:  []string{"OLD_NAME"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan := BuildPlan(tc.previous, tc.current, tc.opts)
			assert.Equal(t, tc.creates, keys(plan.Creates), "creates")
			assert.Equal(t, tc.updates, keys(plan.Updates), "updates")
			assert.Equal(t, tc.skips, keys(plan.Skips), "skips")
			assert.Equal(t, tc.deletes, deleteKeys(plan.Deletes), "deletes")
		})
	}
}

func TestBuildPlanRenameLinksDeleteToCreate(t *testing.T) {
	t.Parallel()

	previous := setOf(prodVar("OLD", "v", store.SyncedRef("env-1")))
	current := setOf(prodVar("NEW", "v", store.SyncedRef("env-1")))

	plan := BuildPlan(previous, current, PlanOptions{})

	require.Len(t, plan.Creates, 1)
	assert.False(t, plan.Creates[0].Remote.Synced(), "rename create must start unsynced")

	require.Len(t, plan.Deletes, 1)
	assert.Equal(t, "OLD", plan.Deletes[0].Var.Key)
	assert.Equal(t, "NEW", plan.Deletes[0].RenamedTo)
}

func TestBuildPlanTargetOrderDoesNotCauseUpdate(t *testing.T) {
	t.Parallel()

	prev := prodVar("A", "v", store.SyncedRef("env-a"))
	prev.Targets = []store.EnvTarget{store.TargetProduction, store.TargetPreview}
	cur := prodVar("A", "v", store.SyncedRef("env-a"))
	cur.Targets = []store.EnvTarget{store.TargetPreview, store.TargetProduction}

	plan := BuildPlan(setOf(prev), setOf(cur), PlanOptions{})
	assert.Empty(t, plan.Updates)
	assert.Len(t, plan.Skips, 1)
}

func TestBuildPlanDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	previous := setOf(prodVar("OLD", "v", store.SyncedRef("env-1")))
	current := setOf(prodVar("NEW", "v", store.SyncedRef("env-1")))

	BuildPlan(previous, current, PlanOptions{})

	assert.True(t, current.Vars[0].Remote.Synced(), "input set must not be mutated")
	assert.Equal(t, "env-1", current.Vars[0].Remote.ID)
}

func keys(vars []store.EnvVar) []string {
	var out []string
	for _, v := range vars {
		out = append(out, v.Key)
	}
	return out
}

func deleteKeys(items []DeleteItem) []string {
	var out []string
	for _, item := range items {
		out = append(out, item.Var.Key)
	}
	return out
}
