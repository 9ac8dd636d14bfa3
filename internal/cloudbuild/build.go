// Package cloudbuild submits and polls the remote validation job.
package cloudbuild

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a remote build.
type Status string

const (
	StatusUnknown       Status = "STATUS_UNKNOWN"
	StatusPending       Status = "PENDING"
	StatusQueued        Status = "QUEUED"
	StatusWorking       Status = "WORKING"
	StatusSuccess       Status = "SUCCESS"
	StatusFailure       Status = "FAILURE"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusTimeout       Status = "TIMEOUT"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
)

// IsTerminal reports whether the build has stopped running.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusInternalError, StatusTimeout, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// TimedOut reports whether the build ran out of time, either while running
// or while waiting in the queue.
func (s Status) TimedOut() bool {
	return s == StatusTimeout || s == StatusExpired
}

// ErrBuildNotFound is returned by GetBuild for an unknown build id.
var ErrBuildNotFound = errors.New("cloudbuild: build not found")

// Client is the build service contract.
type Client interface {
	CreateBuild(ctx context.Context, spec *Spec) (string, error)
	GetBuild(ctx context.Context, buildID string) (Status, error)
}
