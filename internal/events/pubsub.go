// Package events queues relocation notifications as CloudEvents and
// publishes them to Google Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	pubsub "cloud.google.com/go/pubsub/v2"
	pb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// PubSubSender implements a simple CloudEvents sender using Pub/Sub directly.
type PubSubSender struct {
	publisher *pubsub.Publisher
	client    *pubsub.Client
}

// NewPubSubSender creates a sender that publishes CloudEvents to a Pub/Sub
// topic, creating the topic when it does not exist.
func NewPubSubSender(ctx context.Context, projectID, topicID string) (*PubSubSender, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic_id is required")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	if err := ensureTopic(ctx, client, fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)); err != nil {
		_ = client.Close()
		return nil, err
	}

	publisher := client.Publisher(topicID)
	// Notifications about one relocation are published in queue order.
	publisher.EnableMessageOrdering = true

	return &PubSubSender{
		publisher: publisher,
		client:    client,
	}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicPath string) error {
	// In v2, use TopicAdminClient to check and create topics
	_, err := client.TopicAdminClient.GetTopic(ctx, &pb.GetTopicRequest{Topic: topicPath})
	if err == nil {
		return nil
	}

	slog.Info("Creating Pub/Sub topic", "topic", topicPath)
	if _, err := client.TopicAdminClient.CreateTopic(ctx, &pb.Topic{Name: topicPath}); err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// Send publishes a CloudEvent to Pub/Sub.
func (s *PubSubSender) Send(ctx context.Context, event cloudevents.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := s.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.Subject(),
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion(),
			"ce-type":        event.Type(),
			"ce-source":      event.Source(),
			"ce-id":          event.ID(),
			"ce-subject":     event.Subject(),
		},
	})

	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses its ordering key until resumed.
		if key := event.Subject(); key != "" {
			s.publisher.ResumePublish(key)
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close flushes pending messages and releases the client.
func (s *PubSubSender) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}
