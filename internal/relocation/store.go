package relocation

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable record of relocations. Every method is atomic; the
// MySQL implementation serializes writers on the relocation row.
type Store interface {
	// Create inserts a relocation, its raw upload and the first task.
	Create(ctx context.Context, r *Relocation, raw *File, first Dispatch) error
	Get(ctx context.Context, id uuid.UUID) (*Relocation, error)
	List(ctx context.Context, limit int) ([]*Relocation, error)

	// Advance moves to step, makes next.Task the latest task with zero
	// attempts, runs effect and enqueues next in one transaction. It
	// returns ErrStale unless turn is still the relocation's latest task
	// and attempt and the relocation is in progress. effect may be nil.
	Advance(ctx context.Context, id uuid.UUID, turn Turn, step Step, next Dispatch, effect Effect) error
	// Requeue enqueues next without touching the attempt counter, under the
	// same turn check as Advance.
	Requeue(ctx context.Context, id uuid.UUID, turn Turn, next Dispatch) error
	// RecordAttempt resets the counter to 1 when task differs from the
	// latest task and increments it otherwise, returning the new count.
	RecordAttempt(ctx context.Context, id uuid.UUID, task Task) (int, error)
	// Fail marks the relocation failed and runs effect in the same
	// transaction. It reports whether this call made the transition; later
	// calls are no-ops and do not run effect.
	Fail(ctx context.Context, id uuid.UUID, reason string, effect Effect) (bool, error)
	Succeed(ctx context.Context, id uuid.UUID) error
	SetWantUsernames(ctx context.Context, id uuid.UUID, usernames []string) error

	// CreateFile stores f unless a file of the same kind exists, in which
	// case the existing row is returned unchanged.
	CreateFile(ctx context.Context, f *File) (*File, error)
	GetFile(ctx context.Context, relocationID int64, kind FileKind) (*File, error)

	GetOrCreateValidation(ctx context.Context, relocationID int64) (*Validation, error)
	GetValidation(ctx context.Context, relocationID int64) (*Validation, error)
	SetValidationStatus(ctx context.Context, validationID int64, status ValidationStatus) error
	// CreateValidationAttempt records a submitted build and increments the
	// validation's attempt count together.
	CreateValidationAttempt(ctx context.Context, a *ValidationAttempt) error
	GetValidationAttempt(ctx context.Context, buildID string) (*ValidationAttempt, error)
	ListValidationAttempts(ctx context.Context, validationID int64) ([]*ValidationAttempt, error)
	SetValidationAttemptStatus(ctx context.Context, buildID string, status AttemptStatus) error

	ListImportChunks(ctx context.Context, importUUID uuid.UUID) ([]*ImportChunk, error)
}
