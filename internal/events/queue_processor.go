package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/libops/relocation/db"
)

// QueueProcessor publishes queued events and retries failed ones until
// they are dead-lettered.
type QueueProcessor struct {
	querier      db.Querier
	client       cloudevents.Client
	instanceID   string
	batchSize    int32
	maxRetries   int32
	pollInterval time.Duration
	sendDelay    time.Duration
	cleanupDays  int32
	staleTimeout int32 // Minutes before recovering stale processing events
	observer     func(outcome string)
	stopCh       chan struct{}
	stoppedCh    chan struct{}
}

// QueueProcessorConfig holds configuration for the queue processor.
type QueueProcessorConfig struct {
	BatchSize    int32
	MaxRetries   int32
	PollInterval time.Duration
	// SendDelay spaces out publishes within a batch.
	SendDelay    time.Duration
	CleanupDays  int32
	StaleTimeout int32 // Minutes before recovering stale processing events
}

// DefaultQueueProcessorConfig returns default queue processor config.
func DefaultQueueProcessorConfig() QueueProcessorConfig {
	return QueueProcessorConfig{
		BatchSize:    10,
		MaxRetries:   5,
		PollInterval: 5 * time.Second,
		SendDelay:    100 * time.Millisecond,
		CleanupDays:  7,
		StaleTimeout: 5, // 5 minutes
	}
}

// Event outcomes reported to the observer.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeDeadLetter = "dead_letter"
)

// NewQueueProcessor creates a new queue processor.
func NewQueueProcessor(querier db.Querier, client cloudevents.Client, instanceID string, config QueueProcessorConfig) *QueueProcessor {
	return &QueueProcessor{
		querier:      querier,
		client:       client,
		instanceID:   instanceID,
		batchSize:    config.BatchSize,
		maxRetries:   config.MaxRetries,
		pollInterval: config.PollInterval,
		sendDelay:    config.SendDelay,
		cleanupDays:  config.CleanupDays,
		staleTimeout: config.StaleTimeout,
		observer:     func(string) {},
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Observe registers fn to be called with the outcome of every publish.
func (p *QueueProcessor) Observe(fn func(outcome string)) {
	p.observer = fn
}

// Start processes queued events until ctx is cancelled or Stop is called.
func (p *QueueProcessor) Start(ctx context.Context) {
	slog.Info("Queue processor started", "instance", p.instanceID)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	defer close(p.stoppedCh)

	if err := p.querier.RecoverStaleProcessing(ctx, p.staleTimeout); err != nil {
		slog.Error("Error recovering stale events", "error", err)
	}

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Queue processor stopped (context cancelled)")
			return
		case <-p.stopCh:
			slog.Info("Queue processor stopped (stop signal)")
			return
		case <-cleanup.C:
			if err := p.CleanupOldEvents(ctx); err != nil {
				slog.Error("Error cleaning up sent events", "error", err)
			}
		case <-ticker.C:
			if err := p.querier.RecoverStaleProcessing(ctx, p.staleTimeout); err != nil {
				slog.Error("Error recovering stale events", "error", err)
				continue
			}

			if err := p.processBatch(ctx); err != nil {
				slog.Error("Error processing event queue batch", "error", err)
			}
		}
	}
}

// Stop signals the processor to stop.
func (p *QueueProcessor) Stop() {
	close(p.stopCh)
	<-p.stoppedCh // Wait for processor to finish
}

// processBatch processes a batch of queued events.
func (p *QueueProcessor) processBatch(ctx context.Context) error {
	owner := sql.NullString{String: p.instanceID, Valid: true}
	result, err := p.querier.ClaimPendingEvents(ctx, db.ClaimPendingEventsParams{
		ProcessingBy: owner,
		RetryCount:   p.maxRetries,
		Limit:        p.batchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to claim pending events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil
	}

	queued, err := p.querier.GetClaimedEvents(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to get claimed events: %w", err)
	}

	slog.Debug("Processing queued events", "count", len(queued), "instance", p.instanceID)

	counts := map[string]int{}
	for i, queuedEvent := range queued {
		if i > 0 && p.sendDelay > 0 {
			time.Sleep(p.sendDelay)
		}
		outcome := p.publish(ctx, queuedEvent)
		counts[outcome]++
		p.observer(outcome)
	}

	slog.Info("Queue batch processed",
		"sent", counts[OutcomeSent],
		"failed", counts[OutcomeFailed],
		"dead_letter", counts[OutcomeDeadLetter])

	return nil
}

func (p *QueueProcessor) publish(ctx context.Context, queuedEvent db.EventQueue) string {
	event := cloudevents.NewEvent()
	event.SetID(queuedEvent.EventID)
	event.SetSource(queuedEvent.EventSource)
	event.SetType(queuedEvent.EventType)
	if queuedEvent.EventSubject.Valid {
		event.SetSubject(queuedEvent.EventSubject.String)
	}
	event.SetTime(queuedEvent.CreatedAt)

	var result error
	if err := event.SetData(queuedEvent.ContentType, queuedEvent.EventData); err != nil {
		result = fmt.Errorf("set event data: %w", err)
	} else if res := p.client.Send(ctx, event); cloudevents.IsNACK(res) {
		result = res
	}

	if result == nil {
		if err := p.querier.MarkEventSent(ctx, queuedEvent.ID); err != nil {
			slog.Error("Failed to mark event as sent", "event_id", queuedEvent.EventID, "error", err)
		}
		return OutcomeSent
	}

	lastError := sql.NullString{String: result.Error(), Valid: true}
	if queuedEvent.RetryCount >= p.maxRetries-1 {
		if err := p.querier.MarkEventDeadLetter(ctx, db.MarkEventDeadLetterParams{ID: queuedEvent.ID, LastError: lastError}); err != nil {
			slog.Error("Failed to mark event as dead letter", "event_id", queuedEvent.EventID, "error", err)
		}
		slog.Warn("Event moved to dead letter", "event_id", queuedEvent.EventID, "retry_count", queuedEvent.RetryCount+1, "error", result)
		return OutcomeDeadLetter
	}

	if err := p.querier.MarkEventFailed(ctx, db.MarkEventFailedParams{ID: queuedEvent.ID, LastError: lastError}); err != nil {
		slog.Error("Failed to mark event as failed", "event_id", queuedEvent.EventID, "error", err)
	}
	return OutcomeFailed
}

// CleanupOldEvents removes old sent events from the queue.
func (p *QueueProcessor) CleanupOldEvents(ctx context.Context) error {
	return p.querier.CleanupOldEvents(ctx, p.cleanupDays)
}
