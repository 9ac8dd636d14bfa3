package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/database"
)

var eventColumns = []string{
	"id", "event_id", "event_type", "event_source", "event_subject", "event_data", "content_type",
	"status", "retry_count", "last_error", "processing_by", "processing_at", "sent_at", "created_at",
}

type fakeSender struct {
	mu   sync.Mutex
	sent []cloudevents.Event
	err  error
}

func (f *fakeSender) Send(_ context.Context, event cloudevents.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, event)
	return nil
}

func TestEmitter_Send(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	mock.ExpectExec("INSERT INTO event_queue").
		WithArgs(sqlmock.AnyArg(), EventTypeRelocationStarted, EventSourceRelocation, "rel-1",
			[]byte(`{"uuid":"rel-1"}`), ContentTypeJSON).
		WillReturnResult(sqlmock.NewResult(1, 1))

	emitter := NewEmitter(db.New(pool), EventSourceRelocation)
	id, err := emitter.Send(context.Background(), EventTypeRelocationStarted, "rel-1", map[string]string{"uuid": "rel-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitter_SendJoinsTransaction(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO event_queue").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	emitter := NewEmitter(db.New(pool), EventSourceRelocation)
	tx, err := pool.Begin()
	require.NoError(t, err)

	_, err = emitter.Send(database.WithTx(context.Background(), tx), EventTypeRelocationFailed, "rel-1", map[string]string{"uuid": "rel-1"})
	require.NoError(t, err)
	// rolling back the state change drops the event with it
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSenderClient_ReportsNACK(t *testing.T) {
	event := cloudevents.NewEvent()
	event.SetID("1")
	event.SetSource(EventSourceRelocation)
	event.SetType(EventTypeRelocationFailed)

	ok := NewSenderClient(&fakeSender{})
	assert.True(t, cloudevents.IsACK(ok.Send(context.Background(), event)))

	failing := NewSenderClient(&fakeSender{err: errors.New("unavailable")})
	res := failing.Send(context.Background(), event)
	assert.True(t, cloudevents.IsNACK(res))
	assert.Contains(t, res.Error(), "unavailable")
}

func TestQueueProcessor_ProcessBatch(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		retryCount int32
		expect     func(sqlmock.Sqlmock)
		outcome    string
	}{
		{
			name: "sent",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE event_queue\\s+SET status = 'sent'").WithArgs(int64(7)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			outcome: OutcomeSent,
		},
		{
			name:    "failed",
			sendErr: errors.New("unavailable"),
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE event_queue\\s+SET status = 'failed'").WithArgs(sqlmock.AnyArg(), int64(7)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			outcome: OutcomeFailed,
		},
		{
			name:       "dead letter",
			sendErr:    errors.New("unavailable"),
			retryCount: 4,
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE event_queue\\s+SET status = 'dead_letter'").WithArgs(sqlmock.AnyArg(), int64(7)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			outcome: OutcomeDeadLetter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = pool.Close() }()

			mock.ExpectExec("UPDATE event_queue\\s+SET status = 'processing'").
				WithArgs("worker-1", 5, 10).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery("FROM event_queue\\s+WHERE status = 'processing'").
				WithArgs("worker-1").
				WillReturnRows(sqlmock.NewRows(eventColumns).AddRow(
					7, "evt-1", EventTypeRelocationSucceeded, EventSourceRelocation, "rel-1",
					[]byte(`{"uuid":"rel-1"}`), ContentTypeJSON, "processing", tt.retryCount,
					nil, "worker-1", time.Now(), nil, time.Now()))
			tt.expect(mock)

			sender := &fakeSender{err: tt.sendErr}
			cfg := DefaultQueueProcessorConfig()
			cfg.SendDelay = 0
			p := NewQueueProcessor(db.New(pool), NewSenderClient(sender), "worker-1", cfg)

			var outcomes []string
			p.Observe(func(o string) { outcomes = append(outcomes, o) })

			require.NoError(t, p.processBatch(context.Background()))
			assert.Equal(t, []string{tt.outcome}, outcomes)
			assert.NoError(t, mock.ExpectationsWereMet())

			if tt.sendErr == nil {
				require.Len(t, sender.sent, 1)
				assert.Equal(t, "rel-1", sender.sent[0].Subject())
				assert.JSONEq(t, `{"uuid":"rel-1"}`, string(sender.sent[0].Data()))
			}
		})
	}
}

func TestQueueProcessor_NothingClaimed(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	mock.ExpectExec("UPDATE event_queue").WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewQueueProcessor(db.New(pool), NewSenderClient(&fakeSender{}), "worker-1", DefaultQueueProcessorConfig())
	require.NoError(t, p.processBatch(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
