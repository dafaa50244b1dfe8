package events

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/pkg/db/models"
	"github.com/angelmondragon/activity-fanout/pkg/enums"
	pkgerrors "github.com/angelmondragon/activity-fanout/pkg/errors"
	"github.com/angelmondragon/activity-fanout/pkg/idempotency"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

const (
	fanoutConsumerPrefix = "activity-fanout"
	purgeConsumer        = "activity-purge"
)

// ActivityCreator runs the fan-out pipeline for one template.
type ActivityCreator interface {
	Create(ctx context.Context, params fanout.CreateParams) (*models.Activity, error)
}

// EntityPurger removes activities about a deleted entity.
type EntityPurger interface {
	PurgeEntity(ctx context.Context, ref fanout.EntityRef) (int64, error)
}

// Consumer turns entity mutation events into activities.
type Consumer struct {
	creator      ActivityCreator
	purger       EntityPurger
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an entity mutation consumer.
func NewConsumer(creator ActivityCreator, purger EntityPurger, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if creator == nil {
		return nil, fmt.Errorf("activity creator required")
	}
	if purger == nil {
		return nil, fmt.Errorf("entity purger required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		creator:      creator,
		purger:       purger,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("entity events subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack     bool
	nack    bool
	created int
}

func (c *Consumer) process(ctx context.Context, messageID, eventType string, data []byte) processResult {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != EventTypeEntityMutated {
		c.logg.Info(logCtx, "skipping non-mutation event")
		return processResult{ack: true}
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	if err := envelope.Validate(); err != nil {
		c.logg.Error(logCtx, "invalid entity mutation envelope", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id": envelope.EventID.String(),
		"event":    envelope.Event,
		"entity":   envelope.Entity.Type + ":" + envelope.Entity.ID,
	})

	if envelope.Event == string(enums.EntityDeleted) {
		return c.purge(ctx, logCtx, envelope)
	}
	return c.fanOut(ctx, logCtx, envelope)
}

func (c *Consumer) purge(ctx, logCtx context.Context, envelope Envelope) processResult {
	already, err := c.idempotency.CheckAndMarkProcessed(ctx, purgeConsumer, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}
	if _, err := c.purger.PurgeEntity(logCtx, fanout.EntityRef{Type: envelope.Entity.Type, ID: envelope.Entity.ID}); err != nil {
		c.logg.Error(logCtx, "purge entity activities failed", err)
		_ = c.idempotency.Delete(ctx, purgeConsumer, envelope.EventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

// fanOut creates one activity per template. Each template is marked processed
// on its own so a redelivery only repeats the templates that failed.
func (c *Consumer) fanOut(ctx, logCtx context.Context, envelope Envelope) processResult {
	entity, err := envelope.ToEntity()
	if err != nil {
		c.logg.Error(logCtx, "invalid entity event", err)
		return processResult{ack: true}
	}

	batch := fanout.NewBatch()
	result := processResult{ack: true}
	for _, templateID := range envelope.TemplateIDs {
		consumer := fanoutConsumerPrefix + ":" + templateID
		tmplCtx := c.logg.WithTemplateID(logCtx, templateID)

		already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumer, envelope.EventID)
		if err != nil {
			c.logg.Error(tmplCtx, "idempotency check failed", err)
			result = processResult{nack: true, created: result.created}
			continue
		}
		if already {
			continue
		}

		activity, err := c.creator.Create(tmplCtx, fanout.CreateParams{
			TemplateID: templateID,
			ActorID:    envelope.ActorID,
			Entity:     entity,
			Extra:      envelope.Extra,
			Batch:      batch,
		})
		if err != nil {
			c.logg.Error(tmplCtx, "activity fan-out failed", err)
			if retryable(err) {
				_ = c.idempotency.Delete(ctx, consumer, envelope.EventID)
				result = processResult{nack: true, created: result.created}
			}
			continue
		}
		if activity != nil {
			result.created++
		}
	}
	return result
}

func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}
