package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/libops/relocation/internal/archive"
	"github.com/libops/relocation/internal/gcp"
	"github.com/libops/relocation/internal/metrics"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/validation"
)

// ErrInvalidUpload is returned by Upload for requests that can never start.
var ErrInvalidUpload = errors.New("invalid relocation upload")

// UploadRequest starts a relocation.
type UploadRequest struct {
	CreatorID int64
	OwnerID   int64
	OrgSlugs  []string
	// Archive is the encrypted export, produced with PublicKey.
	Archive []byte
}

// PublicKey returns the PEM key exports must be encrypted with.
func (o *Orchestrator) PublicKey(ctx context.Context) ([]byte, error) {
	return o.KMS.GetPublicKey(ctx)
}

// Upload stores the archive and queues the first task.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*relocation.Relocation, error) {
	if req.CreatorID == 0 || req.OwnerID == 0 {
		return nil, fmt.Errorf("%w: creator and owner are required", ErrInvalidUpload)
	}
	slugs := dedupe(req.OrgSlugs)
	if err := validation.OrgSlugs(slugs, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if _, err := archive.Unwrap(req.Archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	r := &relocation.Relocation{
		UUID:         uuid.New(),
		CreatorID:    req.CreatorID,
		OwnerID:      req.OwnerID,
		WantOrgSlugs: slugs,
		Step:         relocation.StepUploading,
	}
	blobPath := gcp.FilePath(r.UUID, string(relocation.FileRawUserData))
	if err := o.Bucket.Write(ctx, blobPath, req.Archive); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	sum := sha256.Sum256(req.Archive)
	raw := &relocation.File{
		Kind:     relocation.FileRawUserData,
		BlobPath: blobPath,
		Size:     int64(len(req.Archive)),
		SHA256:   hex.EncodeToString(sum[:]),
	}
	if err := o.Store.Create(ctx, r, raw, relocation.Dispatch{Task: relocation.TaskUploadingComplete}); err != nil {
		return nil, err
	}

	metrics.RecordRelocationStarted()
	slog.InfoContext(ctx, "Relocation accepted", "relocation_id", r.UUID, "orgs", slugs, "size", raw.Size)
	return r, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Get returns the relocation with id.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*relocation.Relocation, error) {
	return o.Store.Get(ctx, id)
}

// List returns up to limit relocations, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*relocation.Relocation, error) {
	return o.Store.List(ctx, limit)
}
