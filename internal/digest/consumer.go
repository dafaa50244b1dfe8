package digest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/mailqueue"
)

// Sender delivers a rendered digest to the recipient's inbox.
type Sender interface {
	Send(ctx context.Context, payload Payload) error
}

// Consumer handles digest tasks pulled off the mail queue.
type Consumer struct {
	sender Sender
	logg   *logger.Logger
}

func NewConsumer(sender Sender, logg *logger.Logger) (*Consumer, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{sender: sender, logg: logg}, nil
}

// Handle decodes and sends one digest. Undecodable payloads are not retried.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logg.Error(ctx, "decode digest payload", err)
		return fmt.Errorf("decode digest payload: %v: %w", err, mailqueue.SkipRetry)
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"recipient_id": payload.RecipientID.String(),
		"frequency":    payload.Frequency,
		"items":        payload.Count(),
	})
	if err := c.sender.Send(logCtx, payload); err != nil {
		c.logg.Error(logCtx, "digest send failed", err)
		return err
	}
	c.logg.Info(logCtx, "digest sent")
	return nil
}

// LogSender writes digests to the service log. It stands in for the mail
// transport in environments without one.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, payload Payload) error {
	sections := make([]string, 0, len(payload.Sections))
	for _, section := range payload.Sections {
		sections = append(sections, fmt.Sprintf("%s:%d", section.TemplateID, len(section.Items)))
	}
	s.logg.Info(s.logg.WithField(ctx, "sections", sections), "digest delivered to log sender")
	return nil
}
