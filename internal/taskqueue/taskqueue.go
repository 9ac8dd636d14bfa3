// Package taskqueue delivers relocation tasks from the durable
// relocation_tasks table to a bounded pool of workers.
package taskqueue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/logging"
	"github.com/libops/relocation/internal/relocation"
)

// Message is one delivery of a task.
type Message struct {
	RelocationUUID uuid.UUID
	Task           relocation.Task
	BuildID        string
	// Delivery counts how many times the queue has handed out this row.
	Delivery int
}

// Handler runs a task. A non-nil error schedules a redelivery.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Config tunes the processor.
type Config struct {
	Workers       int
	BatchSize     int32
	PollInterval  time.Duration
	MaxDeliveries int32
	// InitialBackoff and MaxBackoff bound the redelivery delay, which
	// doubles with every failed delivery.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StaleTimeout   int32 // Minutes before a claimed task is handed out again
	CleanupDays    int32
}

// DefaultConfig returns the production queue settings.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		BatchSize:      16,
		PollInterval:   time.Second,
		MaxDeliveries:  100,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		StaleTimeout:   30,
		CleanupDays:    7,
	}
}

// Delivery outcomes reported to the observer.
const (
	OutcomeDone       = "done"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)

// Processor claims due tasks and runs them.
type Processor struct {
	querier    db.Querier
	handler    Handler
	instanceID string
	cfg        Config
	claims     atomic.Uint64
	now        func() time.Time
	observer   func(task relocation.Task, outcome string)
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

// NewProcessor creates a processor that hands claimed rows to handler.
func NewProcessor(querier db.Querier, handler Handler, instanceID string, cfg Config) *Processor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Processor{
		querier:    querier,
		handler:    handler,
		instanceID: instanceID,
		cfg:        cfg,
		now:        time.Now,
		observer:   func(relocation.Task, string) {},
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Observe registers fn to be called with the outcome of every delivery.
func (p *Processor) Observe(fn func(task relocation.Task, outcome string)) {
	p.observer = fn
}

// Start processes due tasks until ctx is cancelled or Stop is called.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("Task processor started", "instance", p.instanceID, "workers", p.cfg.Workers)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	defer close(p.stoppedCh)

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	p.recoverStale(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Task processor stopped (context cancelled)")
			return
		case <-p.stopCh:
			slog.Info("Task processor stopped (stop signal)")
			return
		case <-cleanup.C:
			if err := p.querier.CleanupFinishedRelocationTasks(ctx, p.cfg.CleanupDays); err != nil {
				slog.Error("Error cleaning up finished tasks", "error", err)
			}
			p.recoverStale(ctx)
		case <-ticker.C:
			// Drain everything due before waiting for the next tick.
			for {
				n, err := p.ProcessBatch(ctx)
				if err != nil {
					slog.Error("Error processing task batch", "error", err)
					break
				}
				if n < int(p.cfg.BatchSize) || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// Stop signals the processor to stop and waits for in-flight tasks.
func (p *Processor) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Processor) recoverStale(ctx context.Context) {
	n, err := p.querier.RecoverStaleRelocationTasks(ctx, p.cfg.StaleTimeout)
	if err != nil {
		slog.Error("Error recovering stale tasks", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("Recovered stale tasks", "count", n)
	}
}

// Pending returns the number of tasks waiting to be claimed.
func (p *Processor) Pending(ctx context.Context) (int64, error) {
	return p.querier.CountPendingRelocationTasks(ctx)
}

// ProcessBatch claims up to BatchSize due tasks, runs them and returns how
// many were claimed.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	token := sql.NullString{String: fmt.Sprintf("%s-%d", p.instanceID, p.claims.Add(1)), Valid: true}
	result, err := p.querier.ClaimRelocationTasks(ctx, db.ClaimRelocationTasksParams{
		ProcessingBy: token,
		Limit:        p.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to claim tasks: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, nil
	}

	rows, err := p.querier.GetClaimedRelocationTasks(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("failed to get claimed tasks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, row := range rows {
		g.Go(func() error {
			p.deliver(gctx, row)
			return nil
		})
	}
	_ = g.Wait()

	return len(rows), nil
}

func (p *Processor) deliver(ctx context.Context, row db.RelocationTask) {
	msg, err := toMessage(row)
	if err != nil {
		p.deadLetter(ctx, row, err)
		return
	}

	ctx = logging.WithTask(ctx, msg.RelocationUUID, string(msg.Task))
	if err := p.handle(ctx, msg); err != nil {
		if row.Deliveries >= p.cfg.MaxDeliveries {
			p.deadLetter(ctx, row, err)
			return
		}
		delay := p.backoff(int(row.Deliveries))
		retry := db.RetryRelocationTaskParams{
			RunAfter:  p.now().Add(delay).UTC(),
			LastError: sql.NullString{String: err.Error(), Valid: true},
			ID:        row.ID,
		}
		if err := p.querier.RetryRelocationTask(ctx, retry); err != nil {
			slog.ErrorContext(ctx, "Failed to reschedule task", "task_id", row.ID, "error", err)
		}
		slog.WarnContext(ctx, "Task failed, will retry", "delivery", row.Deliveries, "delay", delay, "error", err)
		p.observer(msg.Task, OutcomeRetry)
		return
	}

	if err := p.querier.CompleteRelocationTask(ctx, row.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark task done", "task_id", row.ID, "error", err)
	}
	p.observer(msg.Task, OutcomeDone)
}

func (p *Processor) handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return p.handler.Handle(ctx, msg)
}

func (p *Processor) deadLetter(ctx context.Context, row db.RelocationTask, cause error) {
	params := db.DeadLetterRelocationTaskParams{
		LastError: sql.NullString{String: cause.Error(), Valid: true},
		ID:        row.ID,
	}
	if err := p.querier.DeadLetterRelocationTask(ctx, params); err != nil {
		slog.ErrorContext(ctx, "Failed to dead-letter task", "task_id", row.ID, "error", err)
	}
	slog.ErrorContext(ctx, "Task moved to dead letter", "task_id", row.ID, "task", row.Task, "deliveries", row.Deliveries, "error", cause)
	p.observer(relocation.Task(row.Task), OutcomeDeadLetter)
}

// backoff returns the delay before redelivering a task that has failed
// deliveries times.
func (p *Processor) backoff(deliveries int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < deliveries; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func toMessage(row db.RelocationTask) (Message, error) {
	id, err := uuid.Parse(row.RelocationUuid)
	if err != nil {
		return Message{}, fmt.Errorf("task %d has invalid relocation uuid %q: %w", row.ID, row.RelocationUuid, err)
	}
	task, err := relocation.ParseTask(row.Task)
	if err != nil {
		return Message{}, fmt.Errorf("task %d: %w", row.ID, err)
	}
	return Message{
		RelocationUUID: id,
		Task:           task,
		BuildID:        row.BuildID.String,
		Delivery:       int(row.Deliveries),
	}, nil
}
