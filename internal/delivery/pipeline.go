// Package delivery runs one asynchronous task per delivery attempt: read the
// message and its metadata from the host, hand it to the remote Deliverer and
// report exactly one outcome.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"google.golang.org/grpc/status"

	"github.com/austindbirch/grpc_deliver/internal/accessor"
	"github.com/austindbirch/grpc_deliver/internal/host"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/metrics"
	"github.com/austindbirch/grpc_deliver/internal/reporter"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
	"github.com/austindbirch/grpc_deliver/internal/supervisor"
	"github.com/austindbirch/grpc_deliver/internal/tracing"
	"github.com/austindbirch/grpc_deliver/internal/transport"
)

// Spawner starts tasks without waiting for them.
type Spawner interface {
	Spawn(task supervisor.Task)
}

// Pipeline turns handles into reported outcomes.
type Pipeline struct {
	Supervisor Spawner
	Connector  transport.Connector
	Log        *logging.Logger

	// OnTransition, if set, is called on entry to every state.
	OnTransition func(State)
}

// Dispatch spawns the task for h and returns at once.
func (p *Pipeline) Dispatch(h *Handle) {
	p.Supervisor.Spawn(func(ctx context.Context) {
		p.Run(ctx, h)
	})
}

// attempt collects what is known about one delivery for logging.
type attempt struct {
	txID     string
	endpoint string
	stage    string
	err      error
}

func (a *attempt) fail(stage string, err error, o reporter.Outcome) reporter.Outcome {
	a.stage = stage
	a.err = err
	return o
}

// Run executes one attempt and reports its outcome to the host.
func (p *Pipeline) Run(ctx context.Context, h *Handle) reporter.Outcome {
	log := p.logger()
	dc, err := h.Take()
	if err != nil {
		log.Plain().WithError(err).Error("delivery task started without a handle")
		return reporter.LocalError()
	}

	start := time.Now()
	ctx, span := tracing.StartAttempt(ctx)
	defer span.End()

	var a attempt
	out := p.execute(ctx, dc, &a)

	p.enter(ctx, Reporting)
	if err := reporter.New(dc).Report(out); err != nil {
		log.WithContext(ctx).WithTransaction(a.txID).WithError(err).Error("host rejected delivery result")
	}

	latency := time.Since(start)
	metrics.RecordDelivery(out.Code, latency)
	tracing.FinishAttempt(span, a.txID, a.endpoint, out.Code, a.stage, a.err)

	entry := log.WithContext(ctx).
		WithTransaction(a.txID).
		WithEndpoint(a.endpoint).
		WithField("code", out.Code).
		WithField("latency_ms", latency.Milliseconds())
	if a.err != nil {
		metrics.RecordFailure(a.stage)
		entry.WithState(a.stage).WithError(a.err).WithField("reason", out.Reason).Warn("delivery deferred")
	} else {
		entry.Info("delivery accepted")
	}
	return out
}

// execute walks the attempt up to, not including, Reporting. A panic anywhere
// in it still produces an outcome.
func (p *Pipeline) execute(ctx context.Context, dc host.DeliveryContext, a *attempt) (out reporter.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Plain().WithField("stack", string(debug.Stack())).Crit("delivery attempt panicked")
			out = a.fail("panic", fmt.Errorf("panic: %v", r), reporter.LocalError())
		}
	}()

	p.enter(ctx, ReadingMessage)
	stream, err := accessor.MessageStream(dc)
	var msg []byte
	if err == nil {
		msg, err = accessor.ReadAll(stream)
	}
	if err != nil {
		return a.fail("message", err, reporter.LocalError())
	}

	p.enter(ctx, ReadingTransactionID)
	if a.txID, err = accessor.TransactionID(dc); err != nil {
		return a.fail("transaction_id", err, reporter.LocalError())
	}

	p.enter(ctx, ReadingEndpoint)
	if a.endpoint, err = accessor.TargetEndpoint(dc); err != nil {
		return a.fail("endpoint", err, reporter.LocalError())
	}

	p.enter(ctx, Dialing)
	conn, err := p.Connector.Connect(ctx, a.endpoint)
	if err != nil {
		return a.fail("dial", err, reporter.Temporary(err.Error()))
	}
	defer conn.Close()

	p.enter(ctx, Calling)
	err = conn.Deliver(ctx, &rfc822.Request{TransactionID: a.txID, RFC822: msg})
	if err != nil {
		return a.fail("call", err, reporter.Temporary(status.Convert(err).Message()))
	}
	return reporter.Accepted()
}

func (p *Pipeline) enter(ctx context.Context, s State) {
	tracing.EnterState(ctx, s.String())
	if p.OnTransition != nil {
		p.OnTransition(s)
	}
}

func (p *Pipeline) logger() *logging.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logging.Default()
}
