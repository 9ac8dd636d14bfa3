// Package notify sends the user-facing relocation emails by queueing them
// as events for the mailer.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/libops/relocation/internal/events"
	"github.com/libops/relocation/internal/validation"
)

// Kind is a notification template.
type Kind string

const (
	KindStarted          Kind = "relocation.started"
	KindFailed           Kind = "relocation.failed"
	KindSucceeded        Kind = "relocation.succeeded"
	KindAccountRelocated Kind = "relocation.account_relocated"
)

var eventTypes = map[Kind]string{
	KindStarted:          events.EventTypeRelocationStarted,
	KindFailed:           events.EventTypeRelocationFailed,
	KindSucceeded:        events.EventTypeRelocationSucceeded,
	KindAccountRelocated: events.EventTypeRelocationAccountRelocated,
}

var title = cases.Title(language.English)

// ErrUndeliverable means the message can never be sent as addressed.
var ErrUndeliverable = errors.New("notification undeliverable")

// Subject is the email subject line for kind, e.g. "Your Relocation Has Started".
func Subject(kind Kind) string {
	switch kind {
	case KindStarted:
		return title.String("your relocation has started")
	case KindFailed:
		return title.String("your relocation has failed")
	case KindSucceeded:
		return title.String("your relocation has succeeded")
	case KindAccountRelocated:
		return title.String("your account has been relocated")
	default:
		return title.String(strings.ReplaceAll(strings.TrimPrefix(string(kind), "relocation."), "_", " "))
	}
}

// Message is the payload the mailer receives.
type Message struct {
	Kind    Kind           `json:"kind"`
	To      []string       `json:"to"`
	Subject string         `json:"subject"`
	Data    map[string]any `json:"data"`
}

// Gateway delivers notifications.
type Gateway interface {
	Send(ctx context.Context, kind Kind, recipients []string, data map[string]any) error
}

// Emitter queues an event; *events.Emitter implements it.
type Emitter interface {
	Send(ctx context.Context, eventType, subject string, data any) (string, error)
}

// EventGateway queues each notification as one CloudEvent.
type EventGateway struct {
	emitter Emitter
}

// NewEventGateway returns a Gateway writing through emitter.
func NewEventGateway(emitter Emitter) *EventGateway {
	return &EventGateway{emitter: emitter}
}

// Send implements Gateway. data["uuid"], when present, becomes the event
// subject so messages about one relocation stay ordered.
func (g *EventGateway) Send(ctx context.Context, kind Kind, recipients []string, data map[string]any) error {
	eventType, ok := eventTypes[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q: %w", kind, ErrUndeliverable)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("notification %s has no recipients: %w", kind, ErrUndeliverable)
	}
	for _, to := range recipients {
		if err := validation.Email(to); err != nil {
			return fmt.Errorf("notification %s: %w: %w", kind, ErrUndeliverable, err)
		}
	}

	subject, _ := data["uuid"].(string)
	_, err := g.emitter.Send(ctx, eventType, subject, Message{
		Kind:    kind,
		To:      recipients,
		Subject: Subject(kind),
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}
