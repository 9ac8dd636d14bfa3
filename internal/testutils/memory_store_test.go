package testutils

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libops/relocation/internal/relocation"
)

func create(t *testing.T, s *MemoryStore) *relocation.Relocation {
	t.Helper()
	r := &relocation.Relocation{
		UUID:         uuid.New(),
		CreatorID:    1,
		OwnerID:      2,
		WantOrgSlugs: []string{"acme"},
		Step:         relocation.StepUploading,
	}
	raw := &relocation.File{Kind: relocation.FileRawUserData, BlobPath: "runs/raw.tar"}
	require.NoError(t, s.Create(context.Background(), r, raw, relocation.Dispatch{Task: relocation.TaskUploadingComplete}))
	return r
}

func TestMemoryStore_CreateEnqueuesFirstTask(t *testing.T) {
	s := NewMemoryStore()
	r := create(t, s)

	got, err := s.Get(context.Background(), r.UUID)
	require.NoError(t, err)
	assert.Equal(t, relocation.StatusInProgress, got.Status)
	assert.Equal(t, relocation.TaskUploadingComplete, got.LatestTask)

	q, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, r.UUID, q.RelocationUUID)
	assert.Equal(t, relocation.TaskUploadingComplete, q.Task)

	f, err := s.GetFile(context.Background(), got.ID, relocation.FileRawUserData)
	require.NoError(t, err)
	assert.Equal(t, "runs/raw.tar", f.BlobPath)
}

func TestMemoryStore_RecordAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := create(t, s)

	n, err := s.RecordAttempt(ctx, r.UUID, relocation.TaskUploadingComplete)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.RecordAttempt(ctx, r.UUID, relocation.TaskUploadingComplete)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a different task restarts the count
	n, err = s.RecordAttempt(ctx, r.UUID, relocation.TaskPreprocessingScan)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	turn := relocation.Turn{Task: relocation.TaskPreprocessingScan, Attempt: 1}
	require.NoError(t, s.Advance(ctx, r.UUID, turn, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingBaselineConfig}, nil))
	got, err := s.Get(ctx, r.UUID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LatestTaskAttempts)
	assert.Equal(t, relocation.StepPreprocessing, got.Step)
	assert.Len(t, s.Queue(), 2)
}

func TestMemoryStore_FailTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := create(t, s)

	effects := 0
	effect := func(context.Context) error { effects++; return nil }

	changed, err := s.Fail(ctx, r.UUID, "first", effect)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Fail(ctx, r.UUID, "second", effect)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, effects)

	got, err := s.Get(ctx, r.UUID)
	require.NoError(t, err)
	assert.Equal(t, relocation.StatusFailure, got.Status)
	assert.Equal(t, "first", got.FailureReason)

	// a failed relocation never succeeds
	require.NoError(t, s.Succeed(ctx, r.UUID))
	got, err = s.Get(ctx, r.UUID)
	require.NoError(t, err)
	assert.Equal(t, relocation.StatusFailure, got.Status)
}

func TestMemoryStore_ValidationAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := create(t, s)
	got, err := s.Get(ctx, r.UUID)
	require.NoError(t, err)

	v, err := s.GetOrCreateValidation(ctx, got.ID)
	require.NoError(t, err)
	again, err := s.GetOrCreateValidation(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, again.ID)

	a := &relocation.ValidationAttempt{RelocationID: got.ID, ValidationID: v.ID, BuildID: "b-1", Status: relocation.AttemptInProgress}
	require.NoError(t, s.CreateValidationAttempt(ctx, a))
	assert.Error(t, s.CreateValidationAttempt(ctx, &relocation.ValidationAttempt{RelocationID: got.ID, ValidationID: v.ID, BuildID: "b-1"}))

	v, err = s.GetValidation(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Attempts)

	require.NoError(t, s.SetValidationAttemptStatus(ctx, "b-1", relocation.AttemptValid))
	stored, err := s.GetValidationAttempt(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, relocation.AttemptValid, stored.Status)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	missing := uuid.New()

	_, err := s.Get(ctx, missing)
	assert.True(t, errors.Is(err, relocation.ErrNotFound))
	_, err = s.RecordAttempt(ctx, missing, relocation.TaskCompleted)
	assert.True(t, errors.Is(err, relocation.ErrNotFound))
	_, err = s.GetValidationAttempt(ctx, "nope")
	assert.True(t, errors.Is(err, relocation.ErrNotFound))
}

func TestMemoryStore_FailNext(t *testing.T) {
	s := NewMemoryStore()
	r := create(t, s)
	s.FailNext = errors.New("boom")

	turn := relocation.TurnOf(r)
	next := relocation.Dispatch{Task: relocation.TaskPreprocessingScan}
	err := s.Advance(context.Background(), r.UUID, turn, relocation.StepPreprocessing, next, nil)
	assert.EqualError(t, err, "boom")
	require.NoError(t, s.Advance(context.Background(), r.UUID, turn, relocation.StepPreprocessing, next, nil))
}

func TestMemoryStore_AdvanceOnlyFromTheLatestDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := create(t, s)
	s.Dequeue()

	first, err := s.RecordAttempt(ctx, r.UUID, relocation.TaskUploadingComplete)
	require.NoError(t, err)
	second, err := s.RecordAttempt(ctx, r.UUID, relocation.TaskUploadingComplete)
	require.NoError(t, err)

	next := relocation.Dispatch{Task: relocation.TaskPreprocessingScan}
	ran := 0
	effect := func(context.Context) error { ran++; return nil }

	err = s.Advance(ctx, r.UUID, relocation.Turn{Task: relocation.TaskUploadingComplete, Attempt: first}, relocation.StepPreprocessing, next, effect)
	assert.ErrorIs(t, err, relocation.ErrStale)
	require.NoError(t, s.Advance(ctx, r.UUID, relocation.Turn{Task: relocation.TaskUploadingComplete, Attempt: second}, relocation.StepPreprocessing, next, effect))
	// replaying the winning turn is stale too
	err = s.Advance(ctx, r.UUID, relocation.Turn{Task: relocation.TaskUploadingComplete, Attempt: second}, relocation.StepPreprocessing, next, effect)
	assert.ErrorIs(t, err, relocation.ErrStale)

	assert.Equal(t, 1, ran)
	assert.Len(t, s.Queue(), 1)

	err = s.Requeue(ctx, r.UUID, relocation.Turn{Task: relocation.TaskUploadingComplete, Attempt: second}, next)
	assert.ErrorIs(t, err, relocation.ErrStale)
}

func TestMemoryStore_EffectErrorLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := create(t, s)
	s.Dequeue()

	boom := errors.New("outbox down")
	err := s.Advance(ctx, r.UUID, relocation.TurnOf(r), relocation.StepPreprocessing,
		relocation.Dispatch{Task: relocation.TaskPreprocessingScan}, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	changed, err := s.Fail(ctx, r.UUID, "nope", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, changed)

	got, err := s.Get(ctx, r.UUID)
	require.NoError(t, err)
	assert.Equal(t, relocation.StatusInProgress, got.Status)
	assert.Equal(t, relocation.TaskUploadingComplete, got.LatestTask)
	assert.Empty(t, s.Queue())
}
