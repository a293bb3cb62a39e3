// Package pubsub announces captured thumbnails on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// EventType is set as the "type" attribute on every message.
const EventType = "thumbnail.captured"

// Notifier publishes CapturedEvent payloads as JSON.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify marshals the event and waits for the server to acknowledge it.
func (n *Notifier) Notify(ctx context.Context, event thumbnail.CapturedEvent) error {
	if n == nil || n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":      EventType,
			"entity_id": event.EntityID,
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (n *Notifier) Close() {
	if n == nil || n.topic == nil {
		return
	}
	n.topic.Stop()
}
