package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yashrajoria/storefront/services/cart-service/models"
	awspkg "github.com/yashrajoria/storefront/pkg/aws"
)

// EventPublisher delivers cart events after the write that caused them has
// committed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.CartEvent) error
}

type snsEventPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
}

// NewSNSEventPublisher publishes events as JSON with an event_type message
// attribute.
func NewSNSEventPublisher(client awspkg.SNSPublisher, topicArn string) EventPublisher {
	return &snsEventPublisher{client: client, topicArn: topicArn}
}

func (p *snsEventPublisher) Publish(ctx context.Context, event models.CartEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, data, map[string]string{"event_type": event.Event})
}

type multiPublisher []EventPublisher

// NewMultiPublisher sends every event to each non-nil publisher. It returns
// nil when none are given.
func NewMultiPublisher(publishers ...EventPublisher) EventPublisher {
	var m multiPublisher
	for _, p := range publishers {
		if p != nil {
			m = append(m, p)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (m multiPublisher) Publish(ctx context.Context, event models.CartEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
