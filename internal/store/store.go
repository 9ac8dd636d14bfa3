// Package store is the MySQL implementation of relocation.Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/db/types"
	"github.com/libops/relocation/internal/database"
	"github.com/libops/relocation/internal/relocation"
)

// Store persists relocations in MySQL. Mutations of a relocation lock its
// row with SELECT ... FOR UPDATE so concurrent deliveries serialize.
type Store struct {
	pool *sql.DB
	q    *db.Queries
	now  func() time.Time
}

var _ relocation.Store = (*Store)(nil)

// New returns a Store on pool.
func New(pool *sql.DB) *Store {
	return &Store{pool: pool, q: db.New(pool), now: time.Now}
}

// inTx runs fn in a transaction, or in the one ctx already carries. The ctx
// handed to fn carries the transaction so effects can write through it.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, q *db.Queries) error) error {
	return database.InTx(ctx, s.pool, nil, func(tx *sql.Tx) error {
		return fn(database.WithTx(ctx, tx), s.q.WithTx(tx))
	})
}

// queries binds to the transaction in ctx, if any.
func (s *Store) queries(ctx context.Context) *db.Queries {
	if tx, ok := database.TxFromContext(ctx); ok {
		return s.q.WithTx(tx)
	}
	return s.q
}

func stale(id uuid.UUID, turn relocation.Turn) error {
	return fmt.Errorf("relocation %s past %s attempt %d: %w", id, turn.Task, turn.Attempt, relocation.ErrStale)
}

func owns(row db.Relocation, turn relocation.Turn) bool {
	return row.Status == string(relocation.StatusInProgress) &&
		row.LatestTask == string(turn.Task) &&
		int(row.LatestTaskAttempts) == turn.Attempt
}

// isDuplicateKeyError checks if an error is a MySQL duplicate key error (1062).
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, relocation.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Store) enqueue(ctx context.Context, q *db.Queries, id uuid.UUID, d relocation.Dispatch) error {
	err := q.EnqueueRelocationTask(ctx, db.EnqueueRelocationTaskParams{
		RelocationUuid: id.String(),
		Task:           string(d.Task),
		BuildID:        sql.NullString{String: d.BuildID, Valid: d.BuildID != ""},
		RunAfter:       s.now().Add(d.Delay).UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", d.Task, id, err)
	}
	return nil
}

// Create implements relocation.Store.
func (s *Store) Create(ctx context.Context, r *relocation.Relocation, raw *relocation.File, first relocation.Dispatch) error {
	wantOrgs, err := types.MarshalRaw(r.WantOrgSlugs)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		res, err := q.CreateRelocation(ctx, db.CreateRelocationParams{
			Uuid:         r.UUID.String(),
			CreatorID:    r.CreatorID,
			OwnerID:      r.OwnerID,
			WantOrgSlugs: wantOrgs,
			Step:         string(r.Step),
			Status:       string(relocation.StatusInProgress),
			LatestTask:   string(first.Task),
		})
		if err != nil {
			return fmt.Errorf("create relocation: %w", err)
		}
		id, err := db.LastInsertID(res)
		if err != nil {
			return fmt.Errorf("create relocation: %w", err)
		}
		r.ID = id
		r.Status = relocation.StatusInProgress
		r.LatestTask = first.Task
		r.LatestTaskAttempts = 0

		raw.RelocationID = id
		if err := createFile(ctx, q, raw); err != nil {
			return err
		}
		return s.enqueue(ctx, q, r.UUID, first)
	})
}

// Get implements relocation.Store.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*relocation.Relocation, error) {
	row, err := s.queries(ctx).GetRelocationByUUID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, "get relocation "+id.String())
	}
	return toRelocation(row)
}

// List implements relocation.Store.
func (s *Store) List(ctx context.Context, limit int) ([]*relocation.Relocation, error) {
	rows, err := s.queries(ctx).ListRelocations(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list relocations: %w", err)
	}
	out := make([]*relocation.Relocation, 0, len(rows))
	for _, row := range rows {
		r, err := toRelocation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) lock(ctx context.Context, q *db.Queries, id uuid.UUID) (db.Relocation, error) {
	row, err := q.GetRelocationByUUIDForUpdate(ctx, id.String())
	if err != nil {
		return db.Relocation{}, notFound(err, "lock relocation "+id.String())
	}
	return row, nil
}

// Advance implements relocation.Store.
func (s *Store) Advance(ctx context.Context, id uuid.UUID, turn relocation.Turn, step relocation.Step, next relocation.Dispatch, effect relocation.Effect) error {
	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		n, err := q.UpdateRelocationProgress(ctx, db.UpdateRelocationProgressParams{
			Step:        string(step),
			LatestTask:  string(next.Task),
			ID:          row.ID,
			FromTask:    string(turn.Task),
			FromAttempt: int32(turn.Attempt),
		})
		if err != nil {
			return fmt.Errorf("advance relocation %s: %w", id, err)
		}
		if n == 0 {
			return stale(id, turn)
		}
		if effect != nil {
			if err := effect(ctx); err != nil {
				return err
			}
		}
		return s.enqueue(ctx, q, id, next)
	})
}

// Requeue implements relocation.Store.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID, turn relocation.Turn, next relocation.Dispatch) error {
	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		if !owns(row, turn) {
			return stale(id, turn)
		}
		return s.enqueue(ctx, q, id, next)
	})
}

// RecordAttempt implements relocation.Store.
func (s *Store) RecordAttempt(ctx context.Context, id uuid.UUID, task relocation.Task) (int, error) {
	var attempts int
	err := s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		attempts = 1
		if row.LatestTask == string(task) {
			attempts = int(row.LatestTaskAttempts) + 1
		}
		err = q.SetRelocationAttempts(ctx, db.SetRelocationAttemptsParams{
			LatestTask:         string(task),
			LatestTaskAttempts: int32(attempts),
			ID:                 row.ID,
		})
		if err != nil {
			return fmt.Errorf("record attempt of %s: %w", task, err)
		}
		return nil
	})
	return attempts, err
}

// Fail implements relocation.Store.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, reason string, effect relocation.Effect) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		n, err := q.FailRelocation(ctx, db.FailRelocationParams{
			FailureReason: sql.NullString{String: reason, Valid: true},
			ID:            row.ID,
		})
		if err != nil {
			return fmt.Errorf("fail relocation %s: %w", id, err)
		}
		if n == 0 || effect == nil {
			changed = n > 0
			return nil
		}
		if err := effect(ctx); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Succeed implements relocation.Store.
func (s *Store) Succeed(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		if _, err := q.SucceedRelocation(ctx, row.ID); err != nil {
			return fmt.Errorf("complete relocation %s: %w", id, err)
		}
		return nil
	})
}

// SetWantUsernames implements relocation.Store.
func (s *Store) SetWantUsernames(ctx context.Context, id uuid.UUID, usernames []string) error {
	raw, err := types.MarshalRaw(usernames)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context, q *db.Queries) error {
		row, err := s.lock(ctx, q, id)
		if err != nil {
			return err
		}
		return q.SetRelocationWantUsernames(ctx, db.SetRelocationWantUsernamesParams{WantUsernames: raw, ID: row.ID})
	})
}

func toRelocation(row db.Relocation) (*relocation.Relocation, error) {
	id, err := uuid.Parse(row.Uuid)
	if err != nil {
		return nil, fmt.Errorf("relocation %d has invalid uuid %q: %w", row.ID, row.Uuid, err)
	}
	r := &relocation.Relocation{
		ID:                 row.ID,
		UUID:               id,
		CreatorID:          row.CreatorID,
		OwnerID:            row.OwnerID,
		Step:               relocation.Step(row.Step),
		Status:             relocation.Status(row.Status),
		LatestTask:         relocation.Task(row.LatestTask),
		LatestTaskAttempts: int(row.LatestTaskAttempts),
		FailureReason:      row.FailureReason.String,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if err := row.WantOrgSlugs.Decode(&r.WantOrgSlugs); err != nil {
		return nil, err
	}
	if err := row.WantUsernames.Decode(&r.WantUsernames); err != nil {
		return nil, err
	}
	return r, nil
}
