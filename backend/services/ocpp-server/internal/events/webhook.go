package events

import (
	"context"
	"fmt"
)

// Poster posts a JSON body.
type Poster interface {
	Post(ctx context.Context, body interface{}) error
}

// WebhookPublisher posts each event as a JSON document.
type WebhookPublisher struct {
	poster Poster
}

// NewWebhookPublisher builds publisher.
func NewWebhookPublisher(poster Poster) *WebhookPublisher {
	return &WebhookPublisher{poster: poster}
}

func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	if err := p.poster.Post(ctx, event); err != nil {
		return fmt.Errorf("events: webhook %s: %w", event.Type, err)
	}
	return nil
}
