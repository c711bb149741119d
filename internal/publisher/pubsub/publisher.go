// Package pubsub publishes cycle reports to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Publisher sends each cycle report as one JSON message. It implements
// crawler.ReportSink.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	source string
}

// New creates a client for projectID and a publisher for topicID. The topic
// must already exist.
func New(ctx context.Context, projectID, topicID, source string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil || !exists {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q does not exist in project %q", topicID, projectID)
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	p := NewWithTopic(topic, source)
	p.client = client
	return p, nil
}

// NewWithTopic wraps an existing topic handle (primarily for testing).
func NewWithTopic(topic *pubsub.Topic, source string) *Publisher {
	return &Publisher{topic: topic, source: source}
}

// Record publishes the report and waits for the server to acknowledge it.
func (p *Publisher) Record(ctx context.Context, report crawler.CycleReport) error {
	_, err := p.Publish(ctx, report, map[string]string{
		"cycle_id": report.CycleID,
		"mode":     report.Mode,
	})
	return err
}

// Publish marshals payload to JSON, publishes it with attrs and returns the
// server message id.
func (p *Publisher) Publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if p.source != "" {
		msg.Attributes["source"] = p.source
	}
	for k, v := range attrs {
		if v != "" {
			msg.Attributes[k] = v
		}
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client when this Publisher owns it.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
