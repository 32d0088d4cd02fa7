package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/kiosk-session-server/internal/video"
)

// Publisher sends render requests to RenderRequestQueue.  The connection
// is opened lazily and re-opened after a failed publish.
type Publisher struct {
	url string
	log *log.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, logger *log.Logger) *Publisher {
	return &Publisher{url: url, log: logger}
}

// Submit implements video.Renderer.
func (p *Publisher) Submit(ctx context.Context, job video.Job) error {
	body, err := json.Marshal(RenderRequest{Job: job, RequestedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     job.ID,
		CorrelationId: job.SessionID,
		Body:          body,
	}
	if err := ch.PublishWithContext(ctx, "", RenderRequestQueue, false, false, pub); err != nil {
		p.log.Errorj(log.JSON{"msg": "render publish failed", "job_id": job.ID, "err": err.Error()})
		p.reset()
		return fmt.Errorf("publish render request: %w", err)
	}
	return nil
}

// channel must be called with p.mu held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(RenderRequestQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.reset()
	p.mu.Unlock()
}
