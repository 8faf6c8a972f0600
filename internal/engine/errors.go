package engine

import (
	"errors"
	"fmt"

	"github.com/launchfold/tenant-sync-server/internal/credentials"
	"github.com/launchfold/tenant-sync-server/internal/lifecycle"
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// Kind is the coarse failure taxonomy surfaced on every engine error
type Kind string

const (
	// KindCredential means no usable credentials could be resolved
	KindCredential Kind = "credential"

	// KindRemoteNotFound means the remote resource is missing
	KindRemoteNotFound Kind = "remote-not-found"

	// KindRemoteConflict means the remote resource already exists
	KindRemoteConflict Kind = "remote-conflict"

	// KindRemotePartial means the pass landed some changes but not all
	KindRemotePartial Kind = "remote-partial-failure"

	// KindLocalStore means the local record store failed
	KindLocalStore Kind = "local-store"

	// KindValidation means the request violates an invariant
	KindValidation Kind = "validation"

	// KindUnknown is any other failure
	KindUnknown Kind = "unknown"
)

// Error is a structured engine failure carrying the operation, the tenant it
// concerned, and the taxonomy kind callers branch on.
type Error struct {
	Err      error  `json:"-"`
	Message  string `json:"message"`
	Kind     Kind   `json:"kind"`
	Op       string `json:"op"`
	TenantID string `json:"tenantId,omitempty"`
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an engine error, deriving the kind from the cause
func newError(op, tenantID, message string, err error) *Error {
	return &Error{
		Err:      err,
		Message:  message,
		Kind:     kindOf(err),
		Op:       op,
		TenantID: tenantID,
	}
}

// kindOf maps an error chain onto the taxonomy
func kindOf(err error) Kind {
	var resolveErr *credentials.ResolveError
	if errors.As(err, &resolveErr) {
		return KindCredential
	}

	switch {
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, lifecycle.ErrDeletionBlocked),
		errors.Is(err, lifecycle.ErrIdentityClaimed):
		return KindValidation
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDuplicate):
		return KindLocalStore
	}

	switch remote.Classify(err) {
	case remote.ClassNotFound:
		return KindRemoteNotFound
	case remote.ClassConflict:
		return KindRemoteConflict
	case remote.ClassUnauthorized, remote.ClassForbidden:
		return KindCredential
	case remote.ClassRateLimited, remote.ClassUnknown:
	}
	return KindUnknown
}
