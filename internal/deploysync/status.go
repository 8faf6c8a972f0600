package deploysync

import (
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// statusByState is the fixed mapping from the platform's deployment state
// vocabulary to the local one.
var statusByState = map[remote.DeploymentState]store.DeploymentStatus{
	remote.StateQueued:       store.DeploymentQueued,
	remote.StateInitializing: store.DeploymentQueued,
	remote.StateBuilding:     store.DeploymentBuilding,
	remote.StateReady:        store.DeploymentReady,
	remote.StateError:        store.DeploymentError,
	remote.StateCanceled:     store.DeploymentCanceled,
}

// NormalizeStatus maps a remote deployment state to the local status
// vocabulary. Unknown states normalize to error so they surface instead of
// silently passing as healthy.
func NormalizeStatus(state remote.DeploymentState) store.DeploymentStatus {
	if status, ok := statusByState[state]; ok {
		return status
	}
	return store.DeploymentError
}
