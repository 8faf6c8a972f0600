package envsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/launchfold/tenant-sync-server/internal/guard"
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// maxParallelUpdates bounds the in-flight remote update calls of one batch
const maxParallelUpdates = 4

// Result is the outcome of one environment-variable reconciliation pass
type Result struct {
	// Set is the reconciled document with fresh remote refs and synthesized
	// values, as persisted by the deferred write.
	Set *store.EnvVarSet

	Created int
	Updated int
	Skipped int
	Deleted int
	Errors  int

	// AutoDeployQueued reports whether a queued auto deployment record was
	// created as a side effect.
	AutoDeployQueued bool
}

// Reconciler applies environment-variable plans against the remote platform
// and persists the outcome through a per-record single-writer queue.
type Reconciler struct {
	sets        store.EnvVarSetStore
	deployments store.DeploymentStore
	locks       *guard.Guard
	writes      *writeQueue
	logger      *slog.Logger

	randSecret func(int) (string, error)
	now        func() time.Time
}

// ReconcilerOption configures the reconciler
type ReconcilerOption func(*Reconciler)

// WithSecretGenerator replaces the secret generator, used by tests
func WithSecretGenerator(gen func(int) (string, error)) ReconcilerOption {
	return func(r *Reconciler) {
		r.randSecret = gen
	}
}

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates an environment-variable reconciler
func NewReconciler(
	sets store.EnvVarSetStore,
	deployments store.DeploymentStore,
	locks *guard.Guard,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	r := &Reconciler{
		sets:        sets,
		deployments: deployments,
		locks:       locks,
		writes:      newWriteQueue(),
		logger:      logger,
		randSecret:  randomSecret,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile diffs previous against current and applies the plan for the
// tenant's remote project: creates, then updates, then deletes. The updated
// document is written back tagged as sync-origin.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	tenant *store.Tenant,
	client remote.Client,
	previous, current *store.EnvVarSet,
	opts PlanOptions,
) (*Result, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}

	plan := BuildPlan(previous, current, opts)
	result := &Result{Set: cloneSet(current), Skipped: len(plan.Skips)}

	if plan.Empty() {
		return result, nil
	}
	if !tenant.HasRemoteProject() {
		return nil, fmt.Errorf("tenant %s has no remote project to sync environment variables against", tenant.ID)
	}

	refByKey := make(map[string]store.RemoteRef)
	valueByKey := make(map[string]string)

	createFailed := r.applyCreates(ctx, tenant, client, plan.Creates, refByKey, valueByKey, result)
	r.applyUpdates(ctx, tenant, client, plan.Updates, refByKey, result)
	r.applyDeletes(ctx, tenant, client, plan.Deletes, createFailed, result)

	// Thread the new refs and synthesized values into the result document.
	for i, v := range result.Set.Vars {
		if ref, ok := refByKey[v.Key]; ok {
			result.Set.Vars[i].Remote = ref
		}
		if value, ok := valueByKey[v.Key]; ok {
			result.Set.Vars[i].Value = value
		}
	}

	if err := r.persist(ctx, result.Set); err != nil {
		return result, err
	}

	r.queueAutoDeploy(ctx, tenant, current, result)
	return result, nil
}

// applyCreates bulk-creates the planned entries, synthesizing empty values
// first. Returns the keys whose creation failed so linked deletions can be
// withheld.
func (r *Reconciler) applyCreates(
	ctx context.Context,
	tenant *store.Tenant,
	client remote.Client,
	creates []store.EnvVar,
	refByKey map[string]store.RemoteRef,
	valueByKey map[string]string,
	result *Result,
) map[string]bool {
	failed := make(map[string]bool)
	if len(creates) == 0 {
		return failed
	}

	items := make([]remote.EnvVarItem, 0, len(creates))
	for _, v := range creates {
		value, err := r.synthesizeValue(tenant, v)
		if err != nil {
			r.logger.Error("failed to synthesize value", "tenant_id", tenant.ID, "key", v.Key, "error", err)
			refByKey[v.Key] = store.FailedRef(store.FailCreation)
			failed[v.Key] = true
			result.Errors++
			continue
		}
		if value != v.Value {
			valueByKey[v.Key] = value
		}
		items = append(items, remote.EnvVarItem{
			Key:       v.Key,
			Value:     value,
			Type:      string(v.Type),
			Targets:   targetStrings(v.Targets),
			Comment:   v.Comment,
			GitBranch: v.GitBranch,
		})
	}
	if len(items) == 0 {
		return failed
	}

	batch, err := client.CreateEnvVars(ctx, tenant.RemoteProjectID, items)
	if err != nil {
		r.logger.Error("bulk env-var create failed",
			"tenant_id", tenant.ID,
			"count", len(items),
			"classification", remote.Classify(err))
		for _, item := range items {
			refByKey[item.Key] = store.FailedRef(store.FailCreation)
			failed[item.Key] = true
			result.Errors++
		}
		return failed
	}

	for _, created := range batch.Created {
		refByKey[created.Key] = store.SyncedRef(created.ID)
		result.Created++
	}
	for _, f := range batch.Failed {
		r.logger.Warn("env-var create rejected by platform",
			"tenant_id", tenant.ID, "key", f.Key, "message", f.Message)
		refByKey[f.Key] = store.FailedRef(store.FailCreation)
		failed[f.Key] = true
		result.Errors++
	}
	return failed
}

// applyUpdates patches the planned entries in parallel. The batch aborts on
// the first failure; entries that did not complete are marked with the
// terminal update sentinel so they are not retried indefinitely.
func (r *Reconciler) applyUpdates(
	ctx context.Context,
	tenant *store.Tenant,
	client remote.Client,
	updates []store.EnvVar,
	refByKey map[string]store.RemoteRef,
	result *Result,
) {
	if len(updates) == 0 {
		return
	}

	succeeded := make([]bool, len(updates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUpdates)

	for i, v := range updates {
		g.Go(func() error {
			patch := remote.EnvVarItem{
				Key:       v.Key,
				Value:     v.Value,
				Type:      string(v.Type),
				Targets:   targetStrings(v.Targets),
				Comment:   v.Comment,
				GitBranch: v.GitBranch,
			}
			if err := client.UpdateEnvVar(gctx, tenant.RemoteProjectID, v.Remote.ID, patch); err != nil {
				return fmt.Errorf("update of %q failed: %w", v.Key, err)
			}
			succeeded[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("env-var update batch aborted",
			"tenant_id", tenant.ID,
			"classification", remote.Classify(err),
			"error", err)
		for i, v := range updates {
			if succeeded[i] {
				result.Updated++
				continue
			}
			refByKey[v.Key] = store.FailedRef(store.FailUpdate)
			result.Errors++
		}
		return
	}
	result.Updated = len(updates)
}

// applyDeletes retires remote entries best-effort, each independent. A
// deletion linked to a rename whose create failed is withheld so the old
// identity is not torn down without a replacement.
func (r *Reconciler) applyDeletes(
	ctx context.Context,
	tenant *store.Tenant,
	client remote.Client,
	deletes []DeleteItem,
	createFailed map[string]bool,
	result *Result,
) {
	for _, item := range deletes {
		if item.RenamedTo != "" && createFailed[item.RenamedTo] {
			r.logger.Warn("withholding delete: replacement create failed",
				"tenant_id", tenant.ID, "key", item.Var.Key, "renamed_to", item.RenamedTo)
			continue
		}
		if err := client.DeleteEnvVar(ctx, tenant.RemoteProjectID, item.Var.Remote.ID); err != nil {
			r.logger.Warn("env-var delete failed",
				"tenant_id", tenant.ID,
				"key", item.Var.Key,
				"classification", remote.Classify(err))
			result.Errors++
			continue
		}
		result.Deleted++
	}
}

// persist writes the reconciled document back through the single-writer
// queue, holding the final-write flag so an overlapping pass cannot race it.
func (r *Reconciler) persist(ctx context.Context, set *store.EnvVarSet) error {
	acquired, err := r.locks.TryAcquire(ctx, set.ID, guard.KindFinalWrite)
	if err != nil {
		return fmt.Errorf("failed to flag final write for set %s: %w", set.ID, err)
	}
	if !acquired {
		return fmt.Errorf("final write already pending for set %s", set.ID)
	}
	defer func() {
		_ = r.locks.Release(ctx, set.ID, guard.KindFinalWrite)
	}()

	return r.writes.Do(set.ID, func() error {
		return r.sets.UpdateSet(ctx, set, store.SyncOrigin())
	})
}

// queueAutoDeploy creates a queued auto-deployment record when the set asks
// for one and the tenant is eligible. The actual remote trigger is delegated
// to the deployment-creation path.
func (r *Reconciler) queueAutoDeploy(ctx context.Context, tenant *store.Tenant, current *store.EnvVarSet, result *Result) {
	changed := result.Created+result.Updated+result.Deleted > 0
	if !current.AutoDeploy || !changed {
		return
	}
	if !tenant.SyncEligible() || !tenant.GitRepository.Complete() {
		return
	}

	now := r.now().UTC()
	record := &store.DeploymentRecord{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Status:    store.DeploymentQueued,
		Trigger:   store.TriggerAuto,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.AppendEvent(now, "queued after environment variable change")
	if err := r.deployments.CreateDeployment(ctx, record); err != nil {
		r.logger.Error("failed to queue auto deployment", "tenant_id", tenant.ID, "error", err)
		return
	}
	result.AutoDeployQueued = true
}

func targetStrings(targets []store.EnvTarget) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return out
}

func cloneSet(s *store.EnvVarSet) *store.EnvVarSet {
	cp := *s
	cp.Vars = make([]store.EnvVar, len(s.Vars))
	for i, v := range s.Vars {
		cv := v
		cv.Targets = append([]store.EnvTarget(nil), v.Targets...)
		cp.Vars[i] = cv
	}
	return &cp
}
