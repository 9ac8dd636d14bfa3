package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/relocation"
)

// GetOrCreateValidation implements relocation.Store.
func (s *Store) GetOrCreateValidation(ctx context.Context, relocationID int64) (*relocation.Validation, error) {
	v, err := s.GetValidation(ctx, relocationID)
	if err == nil || !errors.Is(err, relocation.ErrNotFound) {
		return v, err
	}

	_, err = s.queries(ctx).CreateRelocationValidation(ctx, db.CreateRelocationValidationParams{
		RelocationID: relocationID,
		Status:       string(relocation.ValidationInProgress),
	})
	if err != nil && !isDuplicateKeyError(err) {
		return nil, fmt.Errorf("create validation: %w", err)
	}
	return s.GetValidation(ctx, relocationID)
}

// GetValidation implements relocation.Store.
func (s *Store) GetValidation(ctx context.Context, relocationID int64) (*relocation.Validation, error) {
	row, err := s.queries(ctx).GetRelocationValidation(ctx, relocationID)
	if err != nil {
		return nil, notFound(err, "get validation")
	}
	return &relocation.Validation{
		ID:           row.ID,
		RelocationID: row.RelocationID,
		Status:       relocation.ValidationStatus(row.Status),
		Attempts:     int(row.Attempts),
	}, nil
}

// SetValidationStatus implements relocation.Store.
func (s *Store) SetValidationStatus(ctx context.Context, validationID int64, status relocation.ValidationStatus) error {
	err := s.queries(ctx).UpdateRelocationValidationStatus(ctx, db.UpdateRelocationValidationStatusParams{
		Status: string(status),
		ID:     validationID,
	})
	if err != nil {
		return fmt.Errorf("set validation %d to %s: %w", validationID, status, err)
	}
	return nil
}

// CreateValidationAttempt implements relocation.Store.
func (s *Store) CreateValidationAttempt(ctx context.Context, a *relocation.ValidationAttempt) error {
	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		if _, err := q.GetRelocationValidationForUpdate(ctx, a.RelocationID); err != nil {
			return notFound(err, "lock validation")
		}
		res, err := q.CreateRelocationValidationAttempt(ctx, db.CreateRelocationValidationAttemptParams{
			RelocationID:           a.RelocationID,
			RelocationValidationID: a.ValidationID,
			BuildID:                a.BuildID,
			Status:                 string(a.Status),
		})
		if err != nil {
			return fmt.Errorf("create validation attempt for build %s: %w", a.BuildID, err)
		}
		id, err := db.LastInsertID(res)
		if err != nil {
			return fmt.Errorf("create validation attempt for build %s: %w", a.BuildID, err)
		}
		a.ID = id
		if err := q.IncrementRelocationValidationAttempts(ctx, a.ValidationID); err != nil {
			return fmt.Errorf("count validation attempt: %w", err)
		}
		return nil
	})
}

// GetValidationAttempt implements relocation.Store.
func (s *Store) GetValidationAttempt(ctx context.Context, buildID string) (*relocation.ValidationAttempt, error) {
	row, err := s.queries(ctx).GetRelocationValidationAttemptByBuildID(ctx, buildID)
	if err != nil {
		return nil, notFound(err, "get validation attempt for build "+buildID)
	}
	return toAttempt(row), nil
}

// ListValidationAttempts implements relocation.Store.
func (s *Store) ListValidationAttempts(ctx context.Context, validationID int64) ([]*relocation.ValidationAttempt, error) {
	rows, err := s.queries(ctx).ListRelocationValidationAttempts(ctx, validationID)
	if err != nil {
		return nil, fmt.Errorf("list validation attempts: %w", err)
	}
	out := make([]*relocation.ValidationAttempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAttempt(row))
	}
	return out, nil
}

// SetValidationAttemptStatus implements relocation.Store.
func (s *Store) SetValidationAttemptStatus(ctx context.Context, buildID string, status relocation.AttemptStatus) error {
	err := s.queries(ctx).UpdateRelocationValidationAttemptStatus(ctx, db.UpdateRelocationValidationAttemptStatusParams{
		Status:  string(status),
		BuildID: buildID,
	})
	if err != nil {
		return fmt.Errorf("set attempt for build %s to %s: %w", buildID, status, err)
	}
	return nil
}

func toAttempt(row db.RelocationValidationAttempt) *relocation.ValidationAttempt {
	return &relocation.ValidationAttempt{
		ID:           row.ID,
		RelocationID: row.RelocationID,
		ValidationID: row.RelocationValidationID,
		BuildID:      row.BuildID,
		Status:       relocation.AttemptStatus(row.Status),
		CreatedAt:    row.CreatedAt,
	}
}

// ListImportChunks implements relocation.Store.
func (s *Store) ListImportChunks(ctx context.Context, importUUID uuid.UUID) ([]*relocation.ImportChunk, error) {
	rows, err := s.queries(ctx).ListImportChunks(ctx, importUUID.String())
	if err != nil {
		return nil, fmt.Errorf("list import chunks: %w", err)
	}
	out := make([]*relocation.ImportChunk, 0, len(rows))
	for _, row := range rows {
		c := &relocation.ImportChunk{
			ImportUUID: importUUID,
			Silo:       relocation.Silo(row.Silo),
			Model:      row.Model,
			MinOrdinal: int(row.MinOrdinal),
			MaxOrdinal: int(row.MaxOrdinal),
		}
		if err := row.InsertedMap.Decode(&c.InsertedMap); err != nil {
			return nil, err
		}
		if err := row.ExistingMap.Decode(&c.ExistingMap); err != nil {
			return nil, err
		}
		if err := row.InsertedIdentifiers.Decode(&c.InsertedIdentifiers); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
