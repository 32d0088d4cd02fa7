// Package audit streams accepted session transitions to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/segmentio/kafka-go"
)

// Record is one audited event of a session.
type Record struct {
	SessionID string    `json:"session_id"`
	KioskID   string    `json:"kiosk_id"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Sink accepts records without blocking the caller.
type Sink interface {
	Record(r Record)
}

// Nop drops every record.
type Nop struct{}

func (Nop) Record(Record) {}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink buffers records and writes them from Run.  When the buffer is
// full the record is dropped and logged.
type KafkaSink struct {
	w     messageWriter
	queue chan Record
	log   *log.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *log.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, logger)
}

func newKafkaSink(w messageWriter, logger *log.Logger) *KafkaSink {
	if logger == nil {
		logger = log.New("audit")
	}
	return &KafkaSink{w: w, queue: make(chan Record, 1024), log: logger}
}

func (s *KafkaSink) Record(r Record) {
	select {
	case s.queue <- r:
	default:
		s.log.Warnj(log.JSON{"msg": "audit buffer full, record dropped", "session_id": r.SessionID, "event": r.Event})
	}
}

// Run writes buffered records until ctx is done, then flushes what is left
// and closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	defer func() { _ = s.w.Close() }()
	for {
		select {
		case r := <-s.queue:
			s.write(ctx, r)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case r := <-s.queue:
					s.write(flush, r)
				default:
					return nil
				}
			}
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, r Record) {
	msg, err := encode(r)
	if err != nil {
		s.log.Errorj(log.JSON{"msg": "audit encode failed", "error": err.Error()})
		return
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.log.Errorj(log.JSON{"msg": "audit write failed", "session_id": r.SessionID, "error": err.Error()})
	}
}

func encode(r Record) (kafka.Message, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit record: %w", err)
	}
	return kafka.Message{Key: []byte(r.SessionID), Value: body, Time: r.At}, nil
}
