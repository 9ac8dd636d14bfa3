package testutils

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/libops/relocation/internal/relocation"
)

// Queued is a task the MemoryStore would have written to relocation_tasks.
type Queued struct {
	RelocationUUID uuid.UUID
	relocation.Dispatch
}

// MemoryStore is an in-memory relocation.Store. Enqueued tasks collect in a
// FIFO that tests drain with Dequeue.
type MemoryStore struct {
	// tx serializes state transitions the way the relocation row lock
	// does; mu guards the maps and is never held while an effect runs.
	tx          sync.Mutex
	mu          sync.Mutex
	nextID      int64
	relocations map[uuid.UUID]*relocation.Relocation
	files       map[int64]map[relocation.FileKind]*relocation.File
	validations map[int64]*relocation.Validation
	attempts    []*relocation.ValidationAttempt
	chunks      map[uuid.UUID][]*relocation.ImportChunk
	queue       []Queued

	// FailNext, when set, is returned by the next mutating call.
	FailNext error
}

var _ relocation.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relocations: map[uuid.UUID]*relocation.Relocation{},
		files:       map[int64]map[relocation.FileKind]*relocation.File{},
		validations: map[int64]*relocation.Validation{},
		chunks:      map[uuid.UUID][]*relocation.ImportChunk{},
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) injected() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryStore) get(id uuid.UUID) (*relocation.Relocation, error) {
	r, ok := s.relocations[id]
	if !ok {
		return nil, fmt.Errorf("relocation %s: %w", id, relocation.ErrNotFound)
	}
	return r, nil
}

func copyRelocation(r *relocation.Relocation) *relocation.Relocation {
	c := *r
	c.WantOrgSlugs = slices.Clone(r.WantOrgSlugs)
	c.WantUsernames = slices.Clone(r.WantUsernames)
	return &c
}

// Dequeue pops the oldest queued task.
func (s *MemoryStore) Dequeue() (Queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Queued{}, false
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, true
}

// Push puts a task back on the queue, as a redelivery would.
func (s *MemoryStore) Push(q Queued) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, q)
}

// Queue returns the tasks waiting to run.
func (s *MemoryStore) Queue() []Queued {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

// Put stores r as is, bypassing Create. Tests use it to stage a relocation
// at any point of the pipeline.
func (s *MemoryStore) Put(r *relocation.Relocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.id()
	}
	s.relocations[r.UUID] = copyRelocation(r)
}

// PutImportChunks records chunks the way the import engine's transaction does.
func (s *MemoryStore) PutImportChunks(importUUID uuid.UUID, chunks []*relocation.ImportChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[importUUID] = append(s.chunks[importUUID], chunks...)
}

func (s *MemoryStore) Create(_ context.Context, r *relocation.Relocation, raw *relocation.File, first relocation.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	now := time.Now()
	r.ID = s.id()
	r.Status = relocation.StatusInProgress
	r.LatestTask = first.Task
	r.LatestTaskAttempts = 0
	r.CreatedAt, r.UpdatedAt = now, now
	s.relocations[r.UUID] = copyRelocation(r)

	raw.RelocationID = r.ID
	raw.ID = s.id()
	raw.CreatedAt = now
	f := *raw
	s.files[r.ID] = map[relocation.FileKind]*relocation.File{raw.Kind: &f}
	s.queue = append(s.queue, Queued{RelocationUUID: r.UUID, Dispatch: first})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*relocation.Relocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return copyRelocation(r), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*relocation.Relocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*relocation.Relocation, 0, len(s.relocations))
	for _, r := range s.relocations {
		out = append(out, copyRelocation(r))
	}
	slices.SortFunc(out, func(a, b *relocation.Relocation) int { return int(b.ID - a.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// check runs fn on the stored relocation under mu.
func (s *MemoryStore) check(id uuid.UUID, fn func(r *relocation.Relocation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.get(id)
	if err != nil {
		return err
	}
	return fn(r)
}

func owns(r *relocation.Relocation, turn relocation.Turn) bool {
	return r.Status == relocation.StatusInProgress && r.LatestTask == turn.Task && r.LatestTaskAttempts == turn.Attempt
}

func stale(id uuid.UUID, turn relocation.Turn) error {
	return fmt.Errorf("relocation %s past %s attempt %d: %w", id, turn.Task, turn.Attempt, relocation.ErrStale)
}

func (s *MemoryStore) Advance(ctx context.Context, id uuid.UUID, turn relocation.Turn, step relocation.Step, next relocation.Dispatch, effect relocation.Effect) error {
	s.tx.Lock()
	defer s.tx.Unlock()
	err := s.check(id, func(r *relocation.Relocation) error {
		if err := s.injected(); err != nil {
			return err
		}
		if !owns(r, turn) {
			return stale(id, turn)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if effect != nil {
		if err := effect(ctx); err != nil {
			return err
		}
	}
	return s.check(id, func(r *relocation.Relocation) error {
		r.Step = step
		r.LatestTask = next.Task
		r.LatestTaskAttempts = 0
		r.UpdatedAt = time.Now()
		s.queue = append(s.queue, Queued{RelocationUUID: id, Dispatch: next})
		return nil
	})
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID, turn relocation.Turn, next relocation.Dispatch) error {
	s.tx.Lock()
	defer s.tx.Unlock()
	return s.check(id, func(r *relocation.Relocation) error {
		if err := s.injected(); err != nil {
			return err
		}
		if !owns(r, turn) {
			return stale(id, turn)
		}
		s.queue = append(s.queue, Queued{RelocationUUID: id, Dispatch: next})
		return nil
	})
}

func (s *MemoryStore) RecordAttempt(_ context.Context, id uuid.UUID, task relocation.Task) (int, error) {
	s.tx.Lock()
	defer s.tx.Unlock()
	var attempts int
	err := s.check(id, func(r *relocation.Relocation) error {
		if r.LatestTask != task {
			r.LatestTask = task
			r.LatestTaskAttempts = 0
		}
		r.LatestTaskAttempts++
		attempts = r.LatestTaskAttempts
		return nil
	})
	return attempts, err
}

func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, reason string, effect relocation.Effect) (bool, error) {
	s.tx.Lock()
	defer s.tx.Unlock()
	var inProgress bool
	err := s.check(id, func(r *relocation.Relocation) error {
		inProgress = r.Status == relocation.StatusInProgress
		return nil
	})
	if err != nil || !inProgress {
		return false, err
	}
	if effect != nil {
		if err := effect(ctx); err != nil {
			return false, err
		}
	}
	err = s.check(id, func(r *relocation.Relocation) error {
		r.Status = relocation.StatusFailure
		r.FailureReason = reason
		return nil
	})
	return err == nil, err
}

func (s *MemoryStore) Succeed(_ context.Context, id uuid.UUID) error {
	s.tx.Lock()
	defer s.tx.Unlock()
	return s.check(id, func(r *relocation.Relocation) error {
		if r.Status != relocation.StatusInProgress {
			return nil
		}
		r.Status = relocation.StatusSuccess
		r.Step = relocation.StepCompleted
		r.FailureReason = ""
		return nil
	})
}

func (s *MemoryStore) SetWantUsernames(_ context.Context, id uuid.UUID, usernames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.get(id)
	if err != nil {
		return err
	}
	r.WantUsernames = slices.Clone(usernames)
	return nil
}

func (s *MemoryStore) CreateFile(_ context.Context, f *relocation.File) (*relocation.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	byKind := s.files[f.RelocationID]
	if byKind == nil {
		byKind = map[relocation.FileKind]*relocation.File{}
		s.files[f.RelocationID] = byKind
	}
	if existing, ok := byKind[f.Kind]; ok {
		c := *existing
		return &c, nil
	}
	f.ID = s.id()
	f.CreatedAt = time.Now()
	c := *f
	byKind[f.Kind] = &c
	return f, nil
}

func (s *MemoryStore) GetFile(_ context.Context, relocationID int64, kind relocation.FileKind) (*relocation.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[relocationID][kind]
	if !ok {
		return nil, fmt.Errorf("%s file: %w", kind, relocation.ErrNotFound)
	}
	c := *f
	return &c, nil
}

func (s *MemoryStore) GetOrCreateValidation(_ context.Context, relocationID int64) (*relocation.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[relocationID]
	if !ok {
		v = &relocation.Validation{ID: s.id(), RelocationID: relocationID, Status: relocation.ValidationInProgress}
		s.validations[relocationID] = v
	}
	c := *v
	return &c, nil
}

func (s *MemoryStore) GetValidation(_ context.Context, relocationID int64) (*relocation.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[relocationID]
	if !ok {
		return nil, fmt.Errorf("validation: %w", relocation.ErrNotFound)
	}
	c := *v
	return &c, nil
}

func (s *MemoryStore) SetValidationStatus(_ context.Context, validationID int64, status relocation.ValidationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.validations {
		if v.ID == validationID {
			v.Status = status
			return nil
		}
	}
	return fmt.Errorf("validation %d: %w", validationID, relocation.ErrNotFound)
}

func (s *MemoryStore) CreateValidationAttempt(_ context.Context, a *relocation.ValidationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	v, ok := s.validations[a.RelocationID]
	if !ok {
		return fmt.Errorf("validation: %w", relocation.ErrNotFound)
	}
	for _, existing := range s.attempts {
		if existing.BuildID == a.BuildID {
			return fmt.Errorf("duplicate build id %s", a.BuildID)
		}
	}
	a.ID = s.id()
	a.CreatedAt = time.Now()
	c := *a
	s.attempts = append(s.attempts, &c)
	v.Attempts++
	return nil
}

func (s *MemoryStore) GetValidationAttempt(_ context.Context, buildID string) (*relocation.ValidationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.BuildID == buildID {
			c := *a
			return &c, nil
		}
	}
	return nil, fmt.Errorf("attempt for build %s: %w", buildID, relocation.ErrNotFound)
}

func (s *MemoryStore) ListValidationAttempts(_ context.Context, validationID int64) ([]*relocation.ValidationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*relocation.ValidationAttempt
	for _, a := range s.attempts {
		if a.ValidationID == validationID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetValidationAttemptStatus(_ context.Context, buildID string, status relocation.AttemptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.BuildID == buildID {
			a.Status = status
			return nil
		}
	}
	return fmt.Errorf("attempt for build %s: %w", buildID, relocation.ErrNotFound)
}

func (s *MemoryStore) ListImportChunks(_ context.Context, importUUID uuid.UUID) ([]*relocation.ImportChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks[importUUID]), nil
}
