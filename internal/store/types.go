// Package store defines the local record store contract: the tenant,
// environment-variable set, and deployment record aggregates plus the
// per-aggregate persistence interfaces the reconciliation engine runs against.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	// TenantStatusDraft means the tenant has no remote footprint yet
	TenantStatusDraft TenantStatus = "draft"

	// TenantStatusApproved means the tenant is (or is becoming) backed by a remote project
	TenantStatusApproved TenantStatus = "approved"
)

// SyncState records the outcome of the last reconciliation pass for a tenant
type SyncState string

const (
	// SyncStateNever means the tenant has not been reconciled yet
	SyncStateNever SyncState = "never"

	// SyncStateOK means the last reconciliation pass completed successfully
	SyncStateOK SyncState = "ok"

	// SyncStateFailed means the last reconciliation pass failed
	SyncStateFailed SyncState = "failed"
)

// GitRepository describes the git source backing a tenant's remote project
type GitRepository struct {
	Provider string `json:"provider" yaml:"provider"`
	Owner    string `json:"owner" yaml:"owner"`
	Repo     string `json:"repo" yaml:"repo"`
	Branch   string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Complete reports whether the repository carries the fields required to
// trigger remote deployments from it.
func (g *GitRepository) Complete() bool {
	return g != nil && g.Provider != "" && g.Owner != "" && g.Repo != ""
}

// CredentialOverride is a tenant-level API credential pair that takes
// precedence over the shared configuration and process environment.
type CredentialOverride struct {
	Token  string `json:"token"`
	TeamID string `json:"teamId,omitempty"`
}

// Tenant mirrors exactly one remote project. A tenant has at most one remote
// project; once RemoteProjectID is set the project is never re-created.
type Tenant struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   TenantStatus `json:"status"`
	IsActive bool         `json:"isActive"`

	// Remote project identity, populated on approval.
	RemoteProjectID string `json:"remoteProjectId,omitempty"`
	ProjectName     string `json:"projectName,omitempty"`
	Framework       string `json:"framework,omitempty"`
	URL             string `json:"url,omitempty"`

	GitRepository *GitRepository `json:"gitRepository,omitempty"`

	// Remote-relevant build settings; edits to these on an approved tenant
	// schedule an outbound update.
	BuildCommand    string `json:"buildCommand,omitempty"`
	InstallCommand  string `json:"installCommand,omitempty"`
	OutputDirectory string `json:"outputDirectory,omitempty"`
	RootDirectory   string `json:"rootDirectory,omitempty"`
	Visibility      string `json:"visibility,omitempty"`

	LatestDeploymentID string `json:"latestDeploymentId,omitempty"`
	EnvVarSetID        string `json:"envVarSetId,omitempty"`

	CredentialOverride *CredentialOverride `json:"credentialOverride,omitempty"`

	// Last-sync bookkeeping. Snapshot holds the raw remote project
	// representation from the last successful pass for audit.
	LastSyncAt       *time.Time      `json:"lastSyncAt,omitempty"`
	LastSyncState    SyncState       `json:"lastSyncState,omitempty"`
	LastSyncMessage  string          `json:"lastSyncMessage,omitempty"`
	LastSyncSnapshot json.RawMessage `json:"lastSyncSnapshot,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasRemoteProject reports whether the tenant already references a remote project
func (t *Tenant) HasRemoteProject() bool {
	return t.RemoteProjectID != ""
}

// SyncEligible reports whether the tenant participates in full resync passes
func (t *Tenant) SyncEligible() bool {
	return t.Status == TenantStatusApproved && t.IsActive && t.HasRemoteProject()
}

// RefState is the synchronization state of an entry's remote identity
type RefState string

const (
	// RefUnsynced means the entry has not been created on the remote platform
	RefUnsynced RefState = "unsynced"

	// RefSynced means the entry exists remotely under RemoteRef.ID
	RefSynced RefState = "synced"

	// RefFailed is a terminal sentinel: the entry must not be retried automatically
	RefFailed RefState = "failed"
)

// FailReason narrows a terminal RefFailed state
type FailReason string

const (
	// FailCreation means the remote create call failed
	FailCreation FailReason = "creation"

	// FailUpdate means the entry was part of an aborted remote update batch
	FailUpdate FailReason = "update"
)

// Legacy sentinel strings written by the previous implementation. They survive
// only at the serialization boundary.
const (
	legacyFailedCreation = "FAILED_CREATION"
	legacyFailedUpdate   = "FAILED_UPDATE"
)

// RemoteRef is the tagged remote identity of an environment-variable entry:
// Unsynced, Synced(id), or Failed(reason).
type RemoteRef struct {
	State  RefState
	ID     string
	Reason FailReason
}

// UnsyncedRef returns a reference for an entry that does not exist remotely
func UnsyncedRef() RemoteRef {
	return RemoteRef{State: RefUnsynced}
}

// SyncedRef returns a reference bound to a remote identity
func SyncedRef(id string) RemoteRef {
	return RemoteRef{State: RefSynced, ID: id}
}

// FailedRef returns a terminal failure sentinel
func FailedRef(reason FailReason) RemoteRef {
	return RemoteRef{State: RefFailed, Reason: reason}
}

// Synced reports whether the reference carries a valid remote identity
func (r RemoteRef) Synced() bool {
	return r.State == RefSynced && r.ID != ""
}

// Failed reports whether the reference is a terminal failure sentinel
func (r RemoteRef) Failed() bool {
	return r.State == RefFailed
}

// MarshalText serializes the reference in the legacy wire form: empty for
// unsynced, the sentinel strings for failures, the remote id otherwise.
func (r RemoteRef) MarshalText() ([]byte, error) {
	switch r.State {
	case RefSynced:
		return []byte(r.ID), nil
	case RefFailed:
		if r.Reason == FailUpdate {
			return []byte(legacyFailedUpdate), nil
		}
		return []byte(legacyFailedCreation), nil
	default:
		return []byte(""), nil
	}
}

// UnmarshalText parses the legacy wire form. The historic "null"/"undefined"
// strings written by buggy clients are treated as unsynced.
func (r *RemoteRef) UnmarshalText(data []byte) error {
	switch s := string(data); s {
	case "", "null", "undefined":
		*r = UnsyncedRef()
	case legacyFailedCreation:
		*r = FailedRef(FailCreation)
	case legacyFailedUpdate:
		*r = FailedRef(FailUpdate)
	default:
		*r = SyncedRef(s)
	}
	return nil
}

// EnvVarType classifies an environment-variable entry
type EnvVarType string

const (
	// EnvTypePlain is a plaintext variable
	EnvTypePlain EnvVarType = "plain"

	// EnvTypeEncrypted is encrypted at rest on the remote platform
	EnvTypeEncrypted EnvVarType = "encrypted"

	// EnvTypeSecret is write-only on the remote platform
	EnvTypeSecret EnvVarType = "secret"

	// EnvTypeSystem is populated by the remote platform itself
	EnvTypeSystem EnvVarType = "system"
)

// EnvTarget is a remote deployment environment an entry applies to
type EnvTarget string

const (
	// TargetProduction applies the entry to production deployments
	TargetProduction EnvTarget = "production"

	// TargetPreview applies the entry to preview deployments
	TargetPreview EnvTarget = "preview"

	// TargetDevelopment applies the entry to development pulls
	TargetDevelopment EnvTarget = "development"
)

// EnvVar is a single environment-variable entry within a set. Key is unique
// within the owning set.
type EnvVar struct {
	Key       string      `json:"key"`
	Value     string      `json:"value"`
	Type      EnvVarType  `json:"type"`
	Targets   []EnvTarget `json:"targets"`
	Comment   string      `json:"comment,omitempty"`
	GitBranch string      `json:"gitBranch,omitempty"`
	Remote    RemoteRef   `json:"remoteId"`
}

// EnvVarSet is the one-to-one environment-variable document of a tenant
type EnvVarSet struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Vars       []EnvVar  `json:"envVars"`
	AutoDeploy bool      `json:"autoDeployOnChange"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate enforces key uniqueness within the set
func (s *EnvVarSet) Validate() error {
	seen := make(map[string]bool, len(s.Vars))
	for _, v := range s.Vars {
		if v.Key == "" {
			return fmt.Errorf("%w: environment variable with empty key", ErrValidation)
		}
		if seen[v.Key] {
			return fmt.Errorf("%w: duplicate environment variable key %q", ErrValidation, v.Key)
		}
		seen[v.Key] = true
	}
	return nil
}

// DeploymentStatus is the local deployment status vocabulary
type DeploymentStatus string

const (
	// DeploymentQueued means the deployment is waiting to build
	DeploymentQueued DeploymentStatus = "queued"

	// DeploymentBuilding means the deployment is building
	DeploymentBuilding DeploymentStatus = "building"

	// DeploymentReady means the deployment is serving traffic
	DeploymentReady DeploymentStatus = "ready"

	// DeploymentError means the deployment failed
	DeploymentError DeploymentStatus = "error"

	// DeploymentCanceled means the deployment was canceled
	DeploymentCanceled DeploymentStatus = "canceled"
)

// DeploymentTrigger records what caused a deployment record to exist
type DeploymentTrigger string

const (
	// TriggerManual means an explicit user action created the record
	TriggerManual DeploymentTrigger = "manual"

	// TriggerAuto means automation (e.g. env-var auto-deploy) created the record
	TriggerAuto DeploymentTrigger = "auto"

	// TriggerSync means the record is wholly owned by the sync process and is
	// replaced wholesale on each full resync
	TriggerSync DeploymentTrigger = "sync"
)

// InFlight reports whether the status can still be canceled
func InFlight(s DeploymentStatus) bool {
	return s == DeploymentQueued || s == DeploymentBuilding
}

// DeploymentEvent is one entry in a deployment's free-form event log
type DeploymentEvent struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// DeploymentRecord is the local mirror of one remote deployment
type DeploymentRecord struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenantId"`
	RemoteID string            `json:"remoteId,omitempty"`
	Status   DeploymentStatus  `json:"status"`
	Trigger  DeploymentTrigger `json:"trigger"`
	URL      string            `json:"url,omitempty"`

	Events []DeploymentEvent `json:"events,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppendEvent adds a timestamped entry to the record's event log
func (d *DeploymentRecord) AppendEvent(at time.Time, format string, args ...any) {
	d.Events = append(d.Events, DeploymentEvent{At: at, Message: fmt.Sprintf(format, args...)})
}
