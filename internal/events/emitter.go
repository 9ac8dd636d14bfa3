package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/database"
)

// Emitter writes events to the database queue for processing by the QueueProcessor.
type Emitter struct {
	querier db.Querier
	source  string // e.g., "io.libops.relocation"
}

// NewEmitter creates a new event emitter that writes to the database queue.
func NewEmitter(querier db.Querier, source string) *Emitter {
	return &Emitter{
		querier: querier,
		source:  source,
	}
}

// querierFor writes through the transaction in ctx, if any, so an event
// commits together with the state change that caused it.
func (e *Emitter) querierFor(ctx context.Context) db.Querier {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return e.querier
	}
	if q, ok := e.querier.(*db.Queries); ok {
		return q.WithTx(tx)
	}
	return e.querier
}

// Send queues data as a JSON CloudEvent. Subject identifies the resource the
// event is about, e.g. a relocation UUID, and doubles as the Pub/Sub
// ordering key.
//
// The event will have:
//   - ID: auto-generated UUID
//   - Source: the emitter's configured source
//   - Type: the provided eventType
//   - DataContentType: "application/json"
func (e *Emitter) Send(ctx context.Context, eventType, subject string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	eventID := uuid.NewString()
	var subjectSQL sql.NullString
	if subject != "" {
		subjectSQL = sql.NullString{String: subject, Valid: true}
	}

	err = e.querierFor(ctx).EnqueueEvent(ctx, db.EnqueueEventParams{
		EventID:      eventID,
		EventType:    eventType,
		EventSource:  e.source,
		EventSubject: subjectSQL,
		EventData:    payload,
		ContentType:  ContentTypeJSON,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	slog.InfoContext(ctx, "Event queued",
		"event_id", eventID,
		"event_type", eventType)

	return eventID, nil
}
