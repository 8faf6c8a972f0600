// Package envsync reconciles a tenant's local environment-variable set with
// the remote platform. Planning is a pure function over (previous, current);
// Apply performs the remote I/O and the deferred local write.
package envsync

import (
	"sort"

	"github.com/launchfold/tenant-sync-server/internal/store"
)

// PlanOptions tunes classification
type PlanOptions struct {
	// RetryFailed clears terminal failure sentinels so the entries are
	// re-attempted as creates. Set only for explicit manual syncs.
	RetryFailed bool
}

// DeleteItem is one remote entry scheduled for deletion. RenamedTo links the
// deletion to the create that replaces it when the entry was renamed, so the
// old identity is only torn down once the new one exists.
type DeleteItem struct {
	Var       store.EnvVar
	RenamedTo string
}

// Plan is the classified outcome of diffing previous against current.
// Apply order is a hard guarantee: creates, then updates, then deletes —
// renames must obtain a fresh identity before the old one is retired.
type Plan struct {
	Creates []store.EnvVar
	Updates []store.EnvVar
	Skips   []store.EnvVar
	Deletes []DeleteItem
}

// Empty reports whether the plan requires no remote calls
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// BuildPlan classifies every entry of current against previous. previous may
// be nil (first sync or full-resync trigger); synced entries then classify as
// skip and unsynced ones as create.
func BuildPlan(previous, current *store.EnvVarSet, opts PlanOptions) Plan {
	var plan Plan

	prevByKey := make(map[string]store.EnvVar)
	prevKeyByRemoteID := make(map[string]string)
	if previous != nil {
		for _, v := range previous.Vars {
			prevByKey[v.Key] = v
			if v.Remote.Synced() {
				prevKeyByRemoteID[v.Remote.ID] = v.Key
			}
		}
	}

	currentKeys := make(map[string]bool, len(current.Vars))
	renamedFromID := make(map[string]string)

	for _, v := range current.Vars {
		currentKeys[v.Key] = true

		switch {
		case v.Remote.Failed():
			if opts.RetryFailed {
				v.Remote = store.UnsyncedRef()
				plan.Creates = append(plan.Creates, v)
			} else {
				plan.Skips = append(plan.Skips, v)
			}

		case !v.Remote.Synced():
			plan.Creates = append(plan.Creates, v)

		default:
			prevKey, known := prevKeyByRemoteID[v.Remote.ID]
			if known && prevKey != v.Key {
				// The remote identity moved to a new key: a rename. Re-create
				// under the new key; the deletion diff retires the old one.
				renamedFromID[v.Remote.ID] = v.Key
				v.Remote = store.UnsyncedRef()
				plan.Creates = append(plan.Creates, v)
				continue
			}
			prev, ok := prevByKey[v.Key]
			if ok && varChanged(prev, v) {
				plan.Updates = append(plan.Updates, v)
			} else {
				plan.Skips = append(plan.Skips, v)
			}
		}
	}

	// Deletion diff: previous keys gone from current, holding a live remote
	// identity.
	if previous != nil {
		for _, prev := range previous.Vars {
			if currentKeys[prev.Key] || !prev.Remote.Synced() {
				continue
			}
			plan.Deletes = append(plan.Deletes, DeleteItem{
				Var:       prev,
				RenamedTo: renamedFromID[prev.Remote.ID],
			})
		}
	}

	return plan
}

// varChanged reports whether the remotely relevant fields drifted
func varChanged(prev, cur store.EnvVar) bool {
	if prev.Value != cur.Value || prev.Type != cur.Type ||
		prev.Comment != cur.Comment || prev.GitBranch != cur.GitBranch {
		return true
	}
	return !sameTargets(prev.Targets, cur.Targets)
}

// sameTargets compares target environments as sets
func sameTargets(a, b []store.EnvTarget) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i := range a {
		as[i] = string(a[i])
	}
	for i := range b {
		bs[i] = string(b[i])
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
