// Package realtime carries pod row updates from writers to watching clients
// over the Redis change-notification channel.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"podforge/internal/models"
)

const channelPrefix = "pod.events."

// ChannelFor returns the change channel for one pod.
func ChannelFor(podID string) string {
	return channelPrefix + podID
}

// Publisher pushes the full updated pod row to the pod's change channel.
type Publisher struct {
	client *redis.Client
}

// NewPublisher builds a publisher over an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishPod emits one row-update event. Subscribers receive the complete
// row, never a delta.
func (p *Publisher) PublishPod(ctx context.Context, pod models.Pod) error {
	body, err := json.Marshal(pod)
	if err != nil {
		return fmt.Errorf("marshal pod event: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelFor(pod.ID), body).Err(); err != nil {
		return fmt.Errorf("publish pod event: %w", err)
	}
	return nil
}
