package backup

import (
	"context"

	"github.com/google/uuid"

	"github.com/libops/relocation/internal/relocation"
)

// Flags control an import.
type Flags struct {
	// ImportUUID tags the chunks an import writes.
	ImportUUID uuid.UUID
	// OrgFilter limits the import to these organization slugs and the rows
	// that belong to them. Empty imports every organization.
	OrgFilter []string
	// MergeUsers maps colliding usernames onto the existing account instead
	// of creating a renamed copy.
	MergeUsers bool
}

// Engine moves model data in and out of the destination deployment.
type Engine interface {
	// ExportConfig exports global options and administrative accounts.
	ExportConfig(ctx context.Context) ([]Model, error)
	// ExportUsers exports the existing accounts among usernames.
	ExportUsers(ctx context.Context, usernames []string) ([]Model, error)
	// Import writes models and their import chunks in one transaction.
	Import(ctx context.Context, models []Model, flags Flags) ([]*relocation.ImportChunk, error)
	// GrantOwner gives userID an owner membership with global access in
	// orgID. Granting twice is harmless.
	GrantOwner(ctx context.Context, orgID, userID int64) error
	// UserEmail returns the address notifications for userID go to.
	UserEmail(ctx context.Context, userID int64) (string, error)
}
