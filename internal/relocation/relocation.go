// Package relocation holds the durable model of a cross-organization
// relocation and the store contract the pipeline drives it through.
package relocation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Step is the coarse pipeline phase a relocation is in.
type Step string

const (
	StepUploading      Step = "UPLOADING"
	StepPreprocessing  Step = "PREPROCESSING"
	StepValidating     Step = "VALIDATING"
	StepImporting      Step = "IMPORTING"
	StepPostprocessing Step = "POSTPROCESSING"
	StepNotifying      Step = "NOTIFYING"
	StepCompleted      Step = "COMPLETED"
)

// Status is the overall outcome of a relocation.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
)

// Terminal reports whether no further task may run.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ValidationStatus is the state of a validation campaign.
type ValidationStatus string

const (
	ValidationInProgress ValidationStatus = "IN_PROGRESS"
	ValidationValid      ValidationStatus = "VALID"
	ValidationInvalid    ValidationStatus = "INVALID"
)

// AttemptStatus is the state of one remote build submission.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptTimeout    AttemptStatus = "TIMEOUT"
	AttemptFailure    AttemptStatus = "FAILURE"
	AttemptValid      AttemptStatus = "VALID"
	AttemptInvalid    AttemptStatus = "INVALID"
)

// FileKind tags a relocation artifact.
type FileKind string

const (
	FileRawUserData    FileKind = "RAW_USER_DATA"
	FileBaselineConfig FileKind = "BASELINE_CONFIG_VALIDATION_DATA"
	FileCollidingUsers FileKind = "COLLIDING_USERS_VALIDATION_DATA"
)

// Relocation is one requested migration of organizations between deployments.
type Relocation struct {
	ID                 int64
	UUID               uuid.UUID
	CreatorID          int64
	OwnerID            int64
	WantOrgSlugs       []string
	WantUsernames      []string
	Step               Step
	Status             Status
	LatestTask         Task
	LatestTaskAttempts int
	FailureReason      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SelfService reports whether the requester relocates their own data.
func (r *Relocation) SelfService() bool {
	return r.CreatorID == r.OwnerID
}

// File is an uploaded or generated artifact; its content lives in the blob
// store at BlobPath.
type File struct {
	ID           int64
	RelocationID int64
	Kind         FileKind
	BlobPath     string
	Size         int64
	SHA256       string
	CreatedAt    time.Time
}

// Validation accumulates the remote validation attempts of one relocation.
type Validation struct {
	ID           int64
	RelocationID int64
	Status       ValidationStatus
	Attempts     int
}

// ValidationAttempt is one remote build submission.
type ValidationAttempt struct {
	ID           int64
	RelocationID int64
	ValidationID int64
	BuildID      string
	Status       AttemptStatus
	CreatedAt    time.Time
}

// Silo says which side of the deployment an import chunk was written to.
type Silo string

const (
	SiloControl Silo = "control"
	SiloRegion  Silo = "region"
)

// ImportChunk records what one model's import inserted.
type ImportChunk struct {
	ImportUUID          uuid.UUID
	Silo                Silo
	Model               string
	MinOrdinal          int
	MaxOrdinal          int
	InsertedMap         map[int64]int64
	ExistingMap         map[int64]int64
	InsertedIdentifiers map[int64]string
}

// Turn identifies the delivery allowed to move a relocation on: its latest
// task and the attempt number that delivery recorded.
type Turn struct {
	Task    Task
	Attempt int
}

// TurnOf returns the turn of the delivery that loaded r.
func TurnOf(r *Relocation) Turn {
	return Turn{Task: r.LatestTask, Attempt: r.LatestTaskAttempts}
}

// Effect runs inside the transaction of a state change. Writes it makes
// through ctx commit or roll back with the change.
type Effect func(ctx context.Context) error

// Dispatch is the next unit of work the store persists alongside a transition.
type Dispatch struct {
	Task    Task
	BuildID string
	Delay   time.Duration
}
