package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/austindbirch/grpc_deliver/internal/db"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/tracing"
)

// Message is an accepted delivery as handed to a sink.
type Message struct {
	ReceiptID     string            `json:"receipt_id"`
	TransactionID string            `json:"transaction_id"`
	RFC822        []byte            `json:"rfc822"`
	ReceivedAt    string            `json:"received_at"` // RFC3339
	TraceHeaders  map[string]string `json:"trace_headers,omitempty"`
}

// Sink stores accepted messages.
type Sink interface {
	Name() string
	Store(ctx context.Context, m Message) error
}

// LogSink only logs what it receives.
type LogSink struct {
	Log *logging.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Store(ctx context.Context, m Message) error {
	log := s.Log
	if log == nil {
		log = logging.Default()
	}
	log.WithContext(ctx).
		WithTransaction(m.TransactionID).
		WithField("receipt_id", m.ReceiptID).
		WithField("bytes", len(m.RFC822)).
		Info("message stored")
	return nil
}

// Publisher publishes to a topic. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSink publishes each message as a JSON envelope carrying the caller's
// trace context.
type NSQSink struct {
	Producer Publisher
	Topic    string
}

func (NSQSink) Name() string { return "nsq" }

func (s NSQSink) Store(ctx context.Context, m Message) error {
	m.TraceHeaders = tracing.PropagateTraceToNSQ(ctx)
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	tracing.AddSpanEvent(ctx, "nsq.publish")
	if err := s.Producer.Publish(s.Topic, b); err != nil {
		return fmt.Errorf("nsq publish: %w", err)
	}
	return nil
}

// PostgresSink inserts each message into grpc_deliver.messages.
type PostgresSink struct {
	DB db.Execer
}

func (PostgresSink) Name() string { return "postgres" }

func (s PostgresSink) Store(ctx context.Context, m Message) error {
	receivedAt, err := time.Parse(time.RFC3339, m.ReceivedAt)
	if err != nil {
		return fmt.Errorf("parse received_at: %w", err)
	}
	tracing.AddSpanEvent(ctx, "db.insert_message")
	_, err = s.DB.Exec(ctx, `
		INSERT INTO grpc_deliver.messages(receipt_id, transaction_id, rfc822, size_bytes, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ReceiptID, m.TransactionID, m.RFC822, len(m.RFC822), receivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
