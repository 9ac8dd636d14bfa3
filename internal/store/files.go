package store

import (
	"context"
	"fmt"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/relocation"
)

// CreateFile implements relocation.Store.
func (s *Store) CreateFile(ctx context.Context, f *relocation.File) (*relocation.File, error) {
	err := createFile(ctx, s.queries(ctx), f)
	if isDuplicateKeyError(err) {
		return s.GetFile(ctx, f.RelocationID, f.Kind)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func createFile(ctx context.Context, q *db.Queries, f *relocation.File) error {
	res, err := q.CreateRelocationFile(ctx, db.CreateRelocationFileParams{
		RelocationID: f.RelocationID,
		Kind:         string(f.Kind),
		BlobPath:     f.BlobPath,
		Size:         f.Size,
		Sha256:       f.SHA256,
	})
	if err != nil {
		return fmt.Errorf("create %s file: %w", f.Kind, err)
	}
	id, err := db.LastInsertID(res)
	if err != nil {
		return fmt.Errorf("create %s file: %w", f.Kind, err)
	}
	f.ID = id
	return nil
}

// GetFile implements relocation.Store.
func (s *Store) GetFile(ctx context.Context, relocationID int64, kind relocation.FileKind) (*relocation.File, error) {
	row, err := s.queries(ctx).GetRelocationFile(ctx, db.GetRelocationFileParams{RelocationID: relocationID, Kind: string(kind)})
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("get %s file", kind))
	}
	return &relocation.File{
		ID:           row.ID,
		RelocationID: row.RelocationID,
		Kind:         relocation.FileKind(row.Kind),
		BlobPath:     row.BlobPath,
		Size:         row.Size,
		SHA256:       row.Sha256,
		CreatedAt:    row.CreatedAt,
	}, nil
}
