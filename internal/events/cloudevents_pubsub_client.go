package events

import (
	"context"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/protocol"
)

// Sender delivers one CloudEvent.
type Sender interface {
	Send(ctx context.Context, event cloudevents.Event) error
}

// SenderClient wraps a Sender to implement the cloudevents.Client interface.
type SenderClient struct {
	sender Sender
}

// NewSenderClient creates a send-only CloudEvents client.
func NewSenderClient(sender Sender) cloudevents.Client {
	return &SenderClient{sender: sender}
}

// Send transmits a CloudEvent. Failures are reported as NACK receipts so
// callers can use cloudevents.IsACK/IsNACK.
func (c *SenderClient) Send(ctx context.Context, event cloudevents.Event) protocol.Result {
	if err := c.sender.Send(ctx, event); err != nil {
		return protocol.NewReceipt(false, "%w", err)
	}
	return protocol.ResultACK
}

// Request is not supported for Pub/Sub (fire-and-forget only).
func (c *SenderClient) Request(ctx context.Context, event cloudevents.Event) (*cloudevents.Event, protocol.Result) {
	return nil, protocol.NewReceipt(false, "request/response not supported")
}

// StartReceiver is not supported (send-only client).
func (c *SenderClient) StartReceiver(ctx context.Context, fn any) error {
	return fmt.Errorf("receiver not supported for send-only client")
}

// LogSender logs events instead of publishing them. It backs deployments
// without a Pub/Sub topic.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, event cloudevents.Event) error {
	slog.InfoContext(ctx, "Event published to log",
		"event_id", event.ID(),
		"event_type", event.Type(),
		"subject", event.Subject(),
		"data", string(event.Data()))
	return nil
}
