// Package receiver is a demonstration rfc822.Deliverer service. It accepts
// messages into a sink and can simulate the failures a real service returns.
package receiver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/metrics"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
	"github.com/austindbirch/grpc_deliver/internal/tracing"
)

// ReasonQuota is the status message for messages over the size limit.
const ReasonQuota = "quota exceeded"

type Options struct {
	// FailFirstN makes the first N calls fail with Unavailable.
	FailFirstN int
	// MaxMessageBytes rejects larger messages with ResourceExhausted. Zero
	// means no limit.
	MaxMessageBytes int
	Log             *logging.Logger
}

type Server struct {
	rfc822.UnimplementedDelivererServer
	sink  Sink
	opts  Options
	calls atomic.Int64
	now   func() time.Time
}

// NewServer returns a Deliverer that stores accepted messages in sink.
func NewServer(sink Sink, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	return &Server{sink: sink, opts: opts, now: time.Now}
}

// Deliver accepts one message.
func (s *Server) Deliver(ctx context.Context, req *rfc822.Request) (*rfc822.Response, error) {
	ctx, span := tracing.StartReceive(ctx, req.TransactionID, len(req.RFC822))
	defer span.End()

	sink := s.sink.Name()
	log := s.opts.Log.WithContext(ctx).WithTransaction(req.TransactionID)

	// Simulate flakiness: first N calls -> Unavailable
	if n := s.calls.Add(1); n <= int64(s.opts.FailFirstN) {
		metrics.RecordReceived(sink, "failed")
		log.Warnf("failing call %d/%d", n, s.opts.FailFirstN)
		return nil, status.Errorf(codes.Unavailable, "temporary failure (%d/%d)", n, s.opts.FailFirstN)
	}

	if s.opts.MaxMessageBytes > 0 && len(req.RFC822) > s.opts.MaxMessageBytes {
		metrics.RecordReceived(sink, "rejected")
		log.WithField("bytes", len(req.RFC822)).Warn("message over quota")
		return nil, status.Error(codes.ResourceExhausted, ReasonQuota)
	}

	if req.TransactionID == "" {
		metrics.RecordReceived(sink, "rejected")
		return nil, status.Error(codes.InvalidArgument, "transactionid is required")
	}

	m := Message{
		ReceiptID:     uuid.NewString(),
		TransactionID: req.TransactionID,
		RFC822:        req.RFC822,
		ReceivedAt:    s.now().UTC().Format(time.RFC3339),
	}
	if err := s.sink.Store(ctx, m); err != nil {
		metrics.RecordReceived(sink, "failed")
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("store message")
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	metrics.RecordReceived(sink, "accepted")
	log.WithField("receipt_id", m.ReceiptID).WithField("sink", sink).Info("message accepted")
	return &rfc822.Response{}, nil
}
