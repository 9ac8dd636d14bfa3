package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/relocation"
)

var taskColumns = []string{"id", "relocation_uuid", "task", "build_id", "status", "deliveries", "run_after", "processing_by", "processing_at", "last_error", "created_at", "updated_at"}

const relocationUUID = "3b0e7a4c-7c1e-4f0f-8f5e-2a6b1d9c4e21"

type outcomes struct {
	mu  sync.Mutex
	got map[relocation.Task]string
}

func (o *outcomes) record(task relocation.Task, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got[task] = outcome
}

func newTestProcessor(t *testing.T, handler Handler) (*Processor, sqlmock.Sqlmock, *outcomes) {
	t.Helper()
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.MaxDeliveries = 3
	p := NewProcessor(db.New(pool), handler, "worker-a", cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	o := &outcomes{got: map[relocation.Task]string{}}
	p.Observe(o.record)
	return p, mock, o
}

func TestProcessBatch(t *testing.T) {
	var mu sync.Mutex
	var handled []Message
	handler := HandlerFunc(func(_ context.Context, msg Message) error {
		mu.Lock()
		handled = append(handled, msg)
		mu.Unlock()
		switch msg.Task {
		case relocation.TaskValidatingPoll, relocation.TaskImporting:
			return errors.New("still busy")
		}
		return nil
	})
	p, mock, o := newTestProcessor(t, handler)
	now := time.Now()

	mock.ExpectExec("UPDATE relocation_tasks\\s+SET status = 'processing'").
		WithArgs(sql.NullString{String: "worker-a-1", Valid: true}, int32(16)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery("WHERE status = 'processing' AND processing_by = \\?").
		WithArgs(sql.NullString{String: "worker-a-1", Valid: true}).
		WillReturnRows(sqlmock.NewRows(taskColumns).
			AddRow(1, relocationUUID, "preprocessing_scan", nil, "processing", 1, now, "worker-a-1", now, nil, now, now).
			AddRow(2, relocationUUID, "validating_poll", "build-1", "processing", 2, now, "worker-a-1", now, nil, now, now).
			AddRow(3, relocationUUID, "importing", nil, "processing", 3, now, "worker-a-1", now, nil, now, now).
			AddRow(4, relocationUUID, "no_such_task", nil, "processing", 1, now, "worker-a-1", now, nil, now, now))
	mock.ExpectExec("SET status = 'done'").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'pending', processing_by = NULL, processing_at = NULL, run_after = \\?").
		WithArgs(p.now().Add(10*time.Second).UTC(), sql.NullString{String: "still busy", Valid: true}, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'dead_letter'").
		WithArgs(sql.NullString{String: "still busy", Valid: true}, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'dead_letter'").
		WithArgs(sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, handled, 3)
	assert.Equal(t, "build-1", handled[1].BuildID)
	assert.Equal(t, relocationUUID, handled[0].RelocationUUID.String())

	assert.Equal(t, OutcomeDone, o.got[relocation.TaskPreprocessingScan])
	assert.Equal(t, OutcomeRetry, o.got[relocation.TaskValidatingPoll])
	assert.Equal(t, OutcomeDeadLetter, o.got[relocation.TaskImporting])
	assert.Equal(t, OutcomeDeadLetter, o.got[relocation.Task("no_such_task")])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_NothingDue(t *testing.T) {
	p, mock, _ := newTestProcessor(t, HandlerFunc(func(context.Context, Message) error {
		t.Fatal("handler must not run")
		return nil
	}))

	mock.ExpectExec("UPDATE relocation_tasks").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_PanicIsRetried(t *testing.T) {
	p, mock, o := newTestProcessor(t, HandlerFunc(func(context.Context, Message) error {
		panic("nil map")
	}))
	now := time.Now()

	mock.ExpectExec("UPDATE relocation_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM relocation_tasks").WillReturnRows(sqlmock.NewRows(taskColumns).
		AddRow(9, relocationUUID, "postprocessing", nil, "processing", 1, now, "worker-a-1", now, nil, now, now))
	mock.ExpectExec("SET status = 'pending'").
		WithArgs(sqlmock.AnyArg(), sql.NullString{String: "task panicked: nil map", Valid: true}, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, o.got[relocation.TaskPostprocessing])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoff(t *testing.T) {
	p := NewProcessor(nil, nil, "worker-a", Config{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second})

	tests := []struct {
		deliveries int
		want       time.Duration
	}{
		{deliveries: 1, want: time.Second},
		{deliveries: 2, want: 2 * time.Second},
		{deliveries: 4, want: 8 * time.Second},
		{deliveries: 9, want: 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.backoff(tt.deliveries), "deliveries=%d", tt.deliveries)
	}
}
