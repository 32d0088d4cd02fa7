package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/kiosk-session-server/internal/video"
)

// Consumer reads RenderEventQueue and hands each report to a video.Sink.
type Consumer struct {
	url  string
	sink video.Sink
	log  *log.Logger
}

func NewConsumer(url string, sink video.Sink, logger *log.Logger) *Consumer {
	return &Consumer{url: url, sink: sink, log: logger}
}

// Run keeps a consumer attached to the broker until ctx is done.  Dial
// failures back off exponentially up to 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warnj(log.JSON{"msg": "render consumer dial failed", "err": err.Error(), "retry_in": backoff.String()})
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnj(log.JSON{"msg": "render consume loop ended, reconnecting", "err": err.Error()})
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warnj(log.JSON{"msg": "render consumer qos failed", "err": err.Error()})
	}
	if _, err := ch.QueueDeclare(RenderEventQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(RenderEventQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Warnj(log.JSON{"msg": "render event rejected", "err": err.Error()})
				_ = d.Nack(false, false) // no requeue, avoids tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handleMessage decodes one report.  Reports for unknown or stale jobs are
// acknowledged: the coordinator already logged them as discarded.
func (c *Consumer) handleMessage(body []byte) error {
	var ev RenderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.JobID == "" {
		return errors.New("render event without jobId")
	}
	switch ev.Kind {
	case video.UpdateProgress, video.UpdateCompleted, video.UpdateFailed:
	default:
		return fmt.Errorf("unknown render event kind %q", ev.Kind)
	}
	_ = c.sink.Handle(ev.Update)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
