package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libops/relocation/internal/archive"
	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/blobstore"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/config"
	"github.com/libops/relocation/internal/gcp"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/taskqueue"
	"github.com/libops/relocation/internal/testutils"
)

const (
	ownerID      = int64(1)
	creatorID    = int64(2)
	ownerEmail   = "owner@example.com"
	creatorEmail = "admin@example.com"
)

var (
	keyOnce sync.Once
	testKMS *kms.Local
)

func sharedKMS(t *testing.T) *kms.Local {
	keyOnce.Do(func() { testKMS = testutils.NewLocalKMS(t) })
	return testKMS
}

type harness struct {
	t        *testing.T
	store    *testutils.MemoryStore
	bucket   *blobstore.Memory
	kms      *kms.Local
	builds   *testutils.FakeBuilds
	engine   *testutils.FakeEngine
	notifier *testutils.RecordingNotifier
	o        *Orchestrator
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{
		PipelineConfig: config.DefaultPipelineConfig(),
		BuildImage:     "us-docker.pkg.dev/libops/relocation/validate:latest",
		BuildTimeout:   40 * time.Minute,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		t:        t,
		store:    testutils.NewMemoryStore(),
		bucket:   blobstore.NewMemory("relocation-test"),
		kms:      sharedKMS(t),
		builds:   &testutils.FakeBuilds{},
		notifier: &testutils.RecordingNotifier{},
	}
	h.engine = testutils.NewFakeEngine(h.store, map[int64]string{ownerID: ownerEmail, creatorID: creatorEmail})
	h.o = New(Deps{
		Store:    h.store,
		Bucket:   h.bucket,
		KMS:      h.kms,
		Builds:   h.builds,
		Engine:   h.engine,
		Notifier: h.notifier,
	}, cfg)
	return h
}

func (h *harness) upload(creator int64, want []string, models []backup.Model) *relocation.Relocation {
	h.t.Helper()
	r, err := h.o.Upload(context.Background(), UploadRequest{
		CreatorID: creator,
		OwnerID:   ownerID,
		OrgSlugs:  want,
		Archive:   testutils.SealExport(h.t, h.kms, models),
	})
	require.NoError(h.t, err)
	return r
}

// run delivers queued tasks until the queue is empty. A task that returns
// an error goes back on the queue, as the task queue would redeliver it.
func (h *harness) run() {
	h.t.Helper()
	for i := 0; ; i++ {
		require.Less(h.t, i, 1000, "pipeline did not settle")
		q, ok := h.store.Dequeue()
		if !ok {
			return
		}
		err := h.o.Handle(context.Background(), taskqueue.Message{
			RelocationUUID: q.RelocationUUID,
			Task:           q.Task,
			BuildID:        q.BuildID,
		})
		if err != nil {
			h.store.Push(q)
		}
	}
}

func (h *harness) get(id uuid.UUID) *relocation.Relocation {
	h.t.Helper()
	r, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return r
}

// wrap counts the body calls of task. before, when set, can fail a call
// before the real body runs.
func (h *harness) wrap(task relocation.Task, before func(call int) error) *int {
	var mu sync.Mutex
	calls := new(int)
	spec := h.o.tasks[task]
	run := spec.run
	spec.run = func(ctx context.Context, r *relocation.Relocation, msg taskqueue.Message) error {
		mu.Lock()
		*calls++
		call := *calls
		mu.Unlock()
		if before != nil {
			if err := before(call); err != nil {
				return err
			}
		}
		return run(ctx, r, msg)
	}
	h.o.tasks[task] = spec
	return calls
}

func (h *harness) validation(r *relocation.Relocation) (*relocation.Validation, []*relocation.ValidationAttempt) {
	h.t.Helper()
	v, err := h.store.GetValidation(context.Background(), r.ID)
	require.NoError(h.t, err)
	attempts, err := h.store.ListValidationAttempts(context.Background(), v.ID)
	require.NoError(h.t, err)
	return v, attempts
}

func (h *harness) assertFailed(r *relocation.Relocation, step relocation.Step, reason string, to []string) {
	h.t.Helper()
	got := h.get(r.UUID)
	assert.Equal(h.t, relocation.StatusFailure, got.Status)
	assert.Equal(h.t, step, got.Step)
	assert.Equal(h.t, reason, got.FailureReason)

	failed := h.notifier.Sent(notify.KindFailed)
	require.Len(h.t, failed, 1, "exactly one failure notification")
	assert.Equal(h.t, to, failed[0].To)
	assert.Equal(h.t, reason, failed[0].Data["reason"])
	assert.Empty(h.t, h.notifier.Sent(notify.KindSucceeded))
	assert.Empty(h.t, h.store.Queue())
}

const oneFinding = `[{"finding":"UnequalJSON","kind":"Unequal","left_pk":1,"on":{"model":"sentry.user","ordinal":1},"reason":"the left value (\"alice\") differs from the right value (\"alice-1\")","right_pk":1}]`

func TestPipeline_Completes(t *testing.T) {
	h := newHarness(t)
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice", "bob"}, []string{"acme", "other"}))

	prefix := gcp.FindingsPrefix(r.UUID)
	require.NoError(t, h.bucket.Write(context.Background(), prefix+"import-baseline-config.json", []byte("[]")))
	require.NoError(t, h.bucket.Write(context.Background(), prefix+"artifacts-manifest.json", []byte("not findings")))

	h.run()

	got := h.get(r.UUID)
	assert.Equal(t, relocation.StatusSuccess, got.Status)
	assert.Equal(t, relocation.StepCompleted, got.Step)
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, []string{"alice", "bob"}, got.WantUsernames)

	succeeded := h.notifier.Sent(notify.KindSucceeded)
	require.Len(t, succeeded, 1, "exactly one success notification")
	assert.Equal(t, []string{ownerEmail, creatorEmail}, succeeded[0].To)
	assert.Len(t, h.notifier.Sent(notify.KindStarted), 1)
	assert.Empty(t, h.notifier.Sent(notify.KindFailed))
	assert.Len(t, h.notifier.Sent(notify.KindAccountRelocated), 2)

	v, attempts := h.validation(r)
	assert.Equal(t, relocation.ValidationValid, v.Status)
	require.Len(t, attempts, 1)
	assert.Equal(t, relocation.AttemptValid, attempts[0].Status)

	assert.Equal(t, 1, h.engine.Imports)
	require.Len(t, h.engine.Grants, 1, "only the wanted organization is imported")
	assert.Equal(t, ownerID, h.engine.Grants[0].UserID)

	names, err := h.bucket.List(context.Background(), gcp.RunPath(r.UUID)+"/")
	require.NoError(t, err)
	for _, want := range []string{
		gcp.ConfPath(r.UUID, gcp.BuildConfigFile),
		gcp.ConfPath(r.UUID, gcp.BuildArchiveFile),
		gcp.InPath(r.UUID, gcp.KMSConfigFile),
		gcp.InPath(r.UUID, gcp.RawRelocationDataFile),
		gcp.InPath(r.UUID, gcp.BaselineConfigFile),
		gcp.InPath(r.UUID, gcp.CollidingUsersFile),
	} {
		assert.Contains(t, names, want)
	}

	bundle, err := h.bucket.Read(context.Background(), gcp.ConfPath(r.UUID, gcp.BuildArchiveFile))
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, gcp.BuildConfigFile, zr.File[0].Name)

	require.Len(t, h.builds.Submitted, 1)
	assert.Equal(t, gcp.URL("relocation-test", prefix), h.builds.Submitted[0].Artifacts.Objects.Location)
}

func TestPipeline_SelfServiceNotifiesOwnerOnly(t *testing.T) {
	h := newHarness(t)
	r := h.upload(ownerID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
	succeeded := h.notifier.Sent(notify.KindSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, []string{ownerEmail}, succeeded[0].To)
	assert.Empty(t, h.engine.Grants, "the owner already owns what they import")
}

func TestPreprocessingScan_NoWantedOrgs(t *testing.T) {
	h := newHarness(t)
	baseline := h.wrap(relocation.TaskPreprocessingBaselineConfig, nil)
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"other"}))

	h.run()

	h.assertFailed(r, relocation.StepPreprocessing, relocation.ErrPreprocessingNoOrgs, []string{ownerEmail, creatorEmail})
	assert.Zero(t, *baseline)
}

func TestPreprocessingScan_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
		users  []string
		orgs   []string
		reason string
	}{
		{
			name:   "no orgs in archive",
			want:   []string{"acme"},
			users:  []string{"alice"},
			reason: relocation.ErrPreprocessingNoOrgs,
		},
		{
			name:   "no users",
			want:   []string{"acme"},
			orgs:   []string{"acme"},
			reason: relocation.ErrPreprocessingNoUsers,
		},
		{
			name:   "too many users",
			mutate: func(c *Config) { c.MaxUsersPerRelocation = 1 },
			want:   []string{"acme"},
			users:  []string{"alice", "bob"},
			orgs:   []string{"acme"},
			reason: relocation.ErrPreprocessingTooManyUsers(2, 1),
		},
		{
			name:   "too many orgs",
			mutate: func(c *Config) { c.MaxOrgsPerRelocation = 1 },
			want:   []string{"acme"},
			users:  []string{"alice"},
			orgs:   []string{"acme", "other"},
			reason: relocation.ErrPreprocessingTooManyOrgs(2, 1),
		},
		{
			name:   "missing orgs",
			want:   []string{"zeta", "acme", "beta"},
			users:  []string{"alice"},
			orgs:   []string{"acme"},
			reason: relocation.ErrPreprocessingMissingOrgs([]string{"beta", "zeta"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*Config)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			h := newHarness(t, mutate...)
			r := h.upload(creatorID, tt.want, testutils.ExportModels(t, tt.users, tt.orgs))

			h.run()

			h.assertFailed(r, relocation.StepPreprocessing, tt.reason, []string{ownerEmail, creatorEmail})
			assert.Empty(t, h.notifier.Sent(notify.KindStarted))
		})
	}
}

func TestPreprocessingScan_BadContent(t *testing.T) {
	h := newHarness(t)
	pub, err := h.kms.GetPublicKey(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name     string
		blob     func() []byte
		reason   string
		attempts int
	}{
		{
			name:     "not an archive",
			blob:     func() []byte { return []byte("definitely not a tarball") },
			reason:   relocation.ErrPreprocessingInvalidTarball,
			attempts: 1,
		},
		{
			name: "invalid json",
			blob: func() []byte {
				sealed, err := archive.Encrypt([]byte(`[{"model":`), pub)
				require.NoError(t, err)
				return sealed
			},
			reason:   relocation.ErrPreprocessingInvalidJSON,
			attempts: 1,
		},
		{
			name: "unknown model",
			blob: func() []byte {
				sealed, err := archive.Encrypt([]byte(`[{"model":"sentry.rule","pk":1,"fields":{}}]`), pub)
				require.NoError(t, err)
				return sealed
			},
			reason:   relocation.ErrPreprocessingInvalidJSON,
			attempts: 1,
		},
		{
			name: "wrong key",
			blob: func() []byte {
				other := testutils.NewLocalKMS(t)
				return testutils.SealExport(t, other, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))
			},
			reason:   relocation.ErrPreprocessingDecryption,
			attempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			scan := h.wrap(relocation.TaskPreprocessingScan, nil)
			r := h.upload(ownerID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))
			f, err := h.store.GetFile(context.Background(), r.ID, relocation.FileRawUserData)
			require.NoError(t, err)
			require.NoError(t, h.bucket.Write(context.Background(), f.BlobPath, tt.blob()))

			h.run()

			h.assertFailed(r, relocation.StepPreprocessing, tt.reason, []string{ownerEmail})
			assert.Equal(t, tt.attempts, *scan)
		})
	}
}

func TestValidatingPoll_WorkingThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.builds.Runs = [][]cloudbuild.Status{{
		cloudbuild.StatusWorking, cloudbuild.StatusWorking, cloudbuild.StatusWorking, cloudbuild.StatusSuccess,
	}}
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	v, attempts := h.validation(r)
	require.Len(t, attempts, 1)
	assert.Equal(t, relocation.AttemptValid, attempts[0].Status)
	assert.Equal(t, relocation.ValidationValid, v.Status)
	assert.Equal(t, 1, v.Attempts)
	assert.Equal(t, 4, h.builds.Polls("build-1"))
	assert.Equal(t, 1, h.engine.Imports)
	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
}

func TestValidatingPoll_TimeoutThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.builds.Runs = [][]cloudbuild.Status{
		{cloudbuild.StatusQueued, cloudbuild.StatusTimeout},
		{cloudbuild.StatusSuccess},
	}
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	v, attempts := h.validation(r)
	require.Len(t, attempts, 2)
	assert.Equal(t, relocation.AttemptTimeout, attempts[0].Status)
	assert.Equal(t, relocation.AttemptValid, attempts[1].Status)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
}

func TestValidatingStart_MaxRuns(t *testing.T) {
	h := newHarness(t)
	h.builds.Runs = [][]cloudbuild.Status{
		{cloudbuild.StatusFailure},
		{cloudbuild.StatusInternalError},
		{cloudbuild.StatusExpired},
	}
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	h.assertFailed(r, relocation.StepValidating, relocation.ErrValidatingMaxRuns, []string{ownerEmail, creatorEmail})
	v, attempts := h.validation(r)
	assert.Equal(t, 3, v.Attempts)
	require.Len(t, attempts, 3)
	assert.Equal(t, relocation.AttemptFailure, attempts[0].Status)
	assert.Equal(t, relocation.AttemptFailure, attempts[1].Status)
	assert.Equal(t, relocation.AttemptTimeout, attempts[2].Status)
	assert.Len(t, h.builds.Submitted, 3)
}

func TestValidatingComplete_Findings(t *testing.T) {
	findings, err := backup.ParseFindings([]byte(oneFinding))
	require.NoError(t, err)
	reason := relocation.ErrValidatingInvalid(1, findings[0].String())

	for _, runs := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d runs", runs), func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.MaxValidationRuns = runs })
			r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))
			require.NoError(t, h.bucket.Write(context.Background(), gcp.FindingsPrefix(r.UUID)+"compare-colliding-users.json", []byte(oneFinding)))

			h.run()

			h.assertFailed(r, relocation.StepValidating, reason, []string{ownerEmail, creatorEmail})
			v, attempts := h.validation(r)
			assert.Equal(t, relocation.ValidationInvalid, v.Status)
			require.Len(t, attempts, runs)
			for _, a := range attempts {
				assert.Equal(t, relocation.AttemptInvalid, a.Status)
			}
			assert.Zero(t, h.engine.Imports)
			chunks, err := h.store.ListImportChunks(context.Background(), r.UUID)
			require.NoError(t, err)
			assert.Empty(t, chunks)
		})
	}
}

func TestValidatingComplete_UnreadableFindings(t *testing.T) {
	h := newHarness(t)
	complete := h.wrap(relocation.TaskValidatingComplete, nil)
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))
	require.NoError(t, h.bucket.Write(context.Background(), gcp.FindingsPrefix(r.UUID)+"export-raw-relocation-data.json", []byte("{truncated")))

	h.run()

	h.assertFailed(r, relocation.StepValidating, relocation.ErrValidatingInternal, []string{ownerEmail, creatorEmail})
	assert.Equal(t, 3, *complete)
}

func TestCeiling_LastAllowedAttemptSucceeds(t *testing.T) {
	h := newHarness(t)
	calls := h.wrap(relocation.TaskUploadingComplete, func(call int) error {
		if call < 3 {
			return errors.New("storage unavailable")
		}
		return nil
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	assert.Equal(t, 3, *calls)
	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
	assert.Empty(t, h.notifier.Sent(notify.KindFailed))
}

func TestCeiling_ExhaustionFailsOnce(t *testing.T) {
	h := newHarness(t)
	calls := h.wrap(relocation.TaskUploadingComplete, func(int) error {
		return errors.New("storage unavailable")
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	assert.Equal(t, 3, *calls)
	h.assertFailed(r, relocation.StepUploading, relocation.ErrUploadingFailed, []string{ownerEmail, creatorEmail})

	// A straggling redelivery neither runs the body nor notifies again.
	require.NoError(t, h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: r.UUID, Task: relocation.TaskUploadingComplete}))
	assert.Equal(t, 3, *calls)
	assert.Len(t, h.notifier.Sent(notify.KindFailed), 1)
}

func TestCeiling_OverCeilingNeverRunsBody(t *testing.T) {
	h := newHarness(t)
	calls := h.wrap(relocation.TaskImporting, nil)
	r := &relocation.Relocation{
		UUID:               uuid.New(),
		CreatorID:          creatorID,
		OwnerID:            ownerID,
		WantOrgSlugs:       []string{"acme"},
		Step:               relocation.StepImporting,
		Status:             relocation.StatusInProgress,
		LatestTask:         relocation.TaskImporting,
		LatestTaskAttempts: 3,
	}
	h.store.Put(r)

	err := h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: r.UUID, Task: relocation.TaskImporting})
	require.NoError(t, err)

	assert.Zero(t, *calls)
	h.assertFailed(r, relocation.StepImporting, relocation.ErrImportingInternal, []string{ownerEmail, creatorEmail})
}

func TestHandle_Noops(t *testing.T) {
	tests := []struct {
		name   string
		status relocation.Status
		latest relocation.Task
	}{
		{name: "already failed", status: relocation.StatusFailure, latest: relocation.TaskPreprocessingScan},
		{name: "already succeeded", status: relocation.StatusSuccess, latest: relocation.TaskPreprocessingScan},
		{name: "stale delivery", status: relocation.StatusInProgress, latest: relocation.TaskPreprocessingBaselineConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			scan := h.wrap(relocation.TaskPreprocessingScan, nil)
			r := &relocation.Relocation{
				UUID:               uuid.New(),
				CreatorID:          creatorID,
				OwnerID:            ownerID,
				Step:               relocation.StepPreprocessing,
				Status:             tt.status,
				LatestTask:         tt.latest,
				LatestTaskAttempts: 1,
			}
			h.store.Put(r)

			err := h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: r.UUID, Task: relocation.TaskPreprocessingScan})
			require.NoError(t, err)

			got := h.get(r.UUID)
			assert.Zero(t, *scan)
			assert.Equal(t, 1, got.LatestTaskAttempts)
			assert.Equal(t, tt.status, got.Status)
			assert.Empty(t, h.notifier.All())
			assert.Empty(t, h.store.Queue())
		})
	}
}

func TestHandle_UnknownRelocation(t *testing.T) {
	h := newHarness(t)
	err := h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: uuid.New(), Task: relocation.TaskImporting})
	assert.NoError(t, err)
}

func TestHandle_ConcurrentDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	var entered sync.WaitGroup
	entered.Add(2)
	scan := h.wrap(relocation.TaskPreprocessingScan, func(int) error {
		// both deliveries have recorded their attempt before either advances
		entered.Done()
		entered.Wait()
		return nil
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	q, ok := h.store.Dequeue()
	require.True(t, ok)
	require.NoError(t, h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: q.RelocationUUID, Task: q.Task}))
	q, ok = h.store.Dequeue()
	require.True(t, ok)
	require.Equal(t, relocation.TaskPreprocessingScan, q.Task)

	msg := taskqueue.Message{RelocationUUID: q.RelocationUUID, Task: q.Task}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.o.Handle(context.Background(), msg)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, *scan)
	queued := h.store.Queue()
	require.Len(t, queued, 1, "one delivery hands off")
	assert.Equal(t, relocation.TaskPreprocessingBaselineConfig, queued[0].Task)
	assert.Len(t, h.notifier.Sent(notify.KindStarted), 1)

	h.run()

	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
	assert.Len(t, h.notifier.Sent(notify.KindStarted), 1)
	assert.Len(t, h.notifier.Sent(notify.KindSucceeded), 1)
	assert.Equal(t, 1, h.engine.Imports)
}

func TestHandle_ReplayAfterHandOff(t *testing.T) {
	h := newHarness(t)
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	q, ok := h.store.Dequeue()
	require.True(t, ok)
	msg := taskqueue.Message{RelocationUUID: q.RelocationUUID, Task: q.Task}
	require.NoError(t, h.o.Handle(context.Background(), msg))
	// a duplicate that loaded the relocation before the hand-off
	stale := h.get(r.UUID)
	stale.LatestTask = relocation.TaskUploadingComplete
	stale.LatestTaskAttempts = 1
	err := h.o.advance(context.Background(), stale, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingScan}, nil)
	assert.ErrorIs(t, err, relocation.ErrStale)

	assert.Len(t, h.store.Queue(), 1)
}

func TestPreprocessingScan_StartedOnceWhenHandOffFails(t *testing.T) {
	h := newHarness(t)
	scan := h.wrap(relocation.TaskPreprocessingScan, func(call int) error {
		if call == 1 {
			h.store.FailNext = errors.New("database unavailable")
		}
		return nil
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	assert.Equal(t, 2, *scan)
	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
	assert.Len(t, h.notifier.Sent(notify.KindStarted), 1)
}

func TestValidatingPoll_BuildNotFound(t *testing.T) {
	h := newHarness(t)
	poll := h.wrap(relocation.TaskValidatingPoll, func(call int) error {
		if call == 1 {
			h.builds.Lose("build-1")
		}
		return nil
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	v, attempts := h.validation(r)
	require.Len(t, attempts, 2)
	assert.Equal(t, "build-1", attempts[0].BuildID)
	assert.Equal(t, relocation.AttemptFailure, attempts[0].Status)
	assert.Equal(t, relocation.AttemptValid, attempts[1].Status)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, 2, *poll, "a lost build spends a run, not the poll budget")
	assert.Zero(t, h.builds.Polls("build-1"))
	assert.Equal(t, relocation.StatusSuccess, h.get(r.UUID).Status)
}

func TestFail_NotificationCommitsWithFailure(t *testing.T) {
	tests := []struct {
		name       string
		notifier   func(n *testutils.RecordingNotifier)
		wantCalls  int
		wantFailed int
	}{
		{
			name: "outbox error retries the failure",
			notifier: func(n *testutils.RecordingNotifier) {
				n.FailOnce = map[notify.Kind]error{notify.KindFailed: errors.New("outbox unavailable")}
			},
			wantCalls:  2,
			wantFailed: 1,
		},
		{
			name: "undeliverable recipients still fail",
			notifier: func(n *testutils.RecordingNotifier) {
				n.Fail = map[notify.Kind]error{notify.KindFailed: fmt.Errorf("no address: %w", notify.ErrUndeliverable)}
			},
			wantCalls:  1,
			wantFailed: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.notifier(h.notifier)
			calls := h.wrap(relocation.TaskUploadingComplete, func(int) error {
				return relocation.Fatal(relocation.ErrUploadingFailed, nil)
			})
			r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

			h.run()

			got := h.get(r.UUID)
			assert.Equal(t, relocation.StatusFailure, got.Status)
			assert.Equal(t, relocation.ErrUploadingFailed, got.FailureReason)
			assert.Equal(t, tt.wantCalls, *calls)
			assert.Len(t, h.notifier.Sent(notify.KindFailed), tt.wantFailed)
			assert.Empty(t, h.store.Queue())
		})
	}
}

func TestFail_RolledBackFailureStaysInProgress(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailOnce = map[notify.Kind]error{notify.KindFailed: errors.New("outbox unavailable")}
	h.wrap(relocation.TaskUploadingComplete, func(int) error {
		return relocation.Fatal(relocation.ErrUploadingFailed, nil)
	})
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	q, ok := h.store.Dequeue()
	require.True(t, ok)
	err := h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: q.RelocationUUID, Task: q.Task})
	require.Error(t, err)

	got := h.get(r.UUID)
	assert.Equal(t, relocation.StatusInProgress, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.Empty(t, h.notifier.Sent(notify.KindFailed))
}

func TestNotifyingOwner_Exhausted(t *testing.T) {
	h := newHarness(t)
	h.notifier.Fail = map[notify.Kind]error{notify.KindSucceeded: errors.New("mailer down")}
	r := h.upload(creatorID, []string{"acme"}, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	h.run()

	h.assertFailed(r, relocation.StepNotifying, relocation.ErrNotifyingInternal, []string{ownerEmail, creatorEmail})
	assert.Equal(t, 1, h.engine.Imports)
}

func TestImporting_SkipsCommittedImport(t *testing.T) {
	h := newHarness(t)
	r := &relocation.Relocation{
		UUID:         uuid.New(),
		CreatorID:    creatorID,
		OwnerID:      ownerID,
		WantOrgSlugs: []string{"acme"},
		Step:         relocation.StepImporting,
		Status:       relocation.StatusInProgress,
		LatestTask:   relocation.TaskImporting,
	}
	h.store.Put(r)
	h.store.PutImportChunks(r.UUID, []*relocation.ImportChunk{{
		ImportUUID:  r.UUID,
		Silo:        relocation.SiloRegion,
		Model:       backup.ModelOrganization,
		MinOrdinal:  1,
		MaxOrdinal:  1,
		InsertedMap: map[int64]int64{100: 5000},
	}})

	err := h.o.Handle(context.Background(), taskqueue.Message{RelocationUUID: r.UUID, Task: relocation.TaskImporting})
	require.NoError(t, err)

	assert.Zero(t, h.engine.Imports)
	got := h.get(r.UUID)
	assert.Equal(t, relocation.StepPostprocessing, got.Step)
	assert.Equal(t, relocation.TaskPostprocessing, got.LatestTask)
}

func TestUpload_Rejects(t *testing.T) {
	h := newHarness(t)
	sealed := testutils.SealExport(t, h.kms, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{name: "no orgs", req: UploadRequest{CreatorID: creatorID, OwnerID: ownerID, OrgSlugs: []string{""}, Archive: sealed}},
		{name: "no owner", req: UploadRequest{CreatorID: creatorID, OrgSlugs: []string{"acme"}, Archive: sealed}},
		{name: "not an archive", req: UploadRequest{CreatorID: creatorID, OwnerID: ownerID, OrgSlugs: []string{"acme"}, Archive: []byte("plain")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.o.Upload(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidUpload)
		})
	}
	assert.Empty(t, h.store.Queue())
}
