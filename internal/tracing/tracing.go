// Package tracing wires OpenTelemetry for delivery attempts and the
// demonstration receiver. A delivery attempt is one client span carrying the
// transaction id, the endpoint and the result code reported to the host, with
// one event per pipeline state.
package tracing

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for this module
const TracerName = "github.com/austindbirch/grpc_deliver"

const (
	AttemptSpan = "delivery.attempt"
	ReceiveSpan = "receiver.Deliver"
)

// Span attribute keys.
const (
	TransactionIDKey = attribute.Key("delivery.transaction_id")
	EndpointKey      = attribute.Key("delivery.endpoint")
	ResultCodeKey    = attribute.Key("delivery.result_code")
	StateKey         = attribute.Key("delivery.state")
	SizeBytesKey     = attribute.Key("rfc822.size_bytes")
	ServiceKey       = attribute.Key("rpc.service")
)

// deliverService is the remote service every attempt calls.
const deliverService = "rfc822.Deliverer"

// InitTracing installs a global OTLP/HTTP tracer provider for serviceName.
// The returned function flushes and shuts the provider down.
func InitTracing(ctx context.Context, serviceName string) (func(), error) {
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(getOTLPEndpoint()),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		_ = tp.Shutdown(context.Background())
	}, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(getVersion()),
			attribute.String("service.instance.id", getInstanceID()),
			ServiceKey.String(deliverService),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
}

func tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// StartAttempt opens the span for one delivery attempt. The transaction id
// and endpoint are unknown until the pipeline has read them, so they are set
// by FinishAttempt.
func StartAttempt(ctx context.Context) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, AttemptSpan,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(ServiceKey.String(deliverService)),
	)
}

// EnterState marks the attempt entering a pipeline state.
func EnterState(ctx context.Context, state string) {
	oteltrace.SpanFromContext(ctx).AddEvent(state, oteltrace.WithAttributes(StateKey.String(state)))
}

// FinishAttempt records what the host was told. A non-nil err marks the span
// failed with the failing stage.
func FinishAttempt(span oteltrace.Span, txID, endpoint string, code int, stage string, err error) {
	span.SetAttributes(
		TransactionIDKey.String(txID),
		EndpointKey.String(endpoint),
		ResultCodeKey.Int(code),
	)
	if err != nil {
		span.SetAttributes(StateKey.String(stage))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// StartReceive opens the server span for one message arriving at the receiver.
func StartReceive(ctx context.Context, txID string, size int) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, ReceiveSpan,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(TransactionIDKey.String(txID), SizeBytesKey.Int(size)),
	)
}

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	oteltrace.SpanFromContext(ctx).AddEvent(name, oteltrace.WithAttributes(attrs...))
}

// SetSpanError records err on the current span.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// PropagateTraceToNSQ returns the trace context of ctx as a header map that
// can ride along in an NSQ message body.
func PropagateTraceToNSQ(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

func getVersion() string {
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func getInstanceID() string {
	if id := os.Getenv("HOSTNAME"); id != "" {
		return id
	}
	return "unknown"
}

// getOTLPEndpoint returns the OTLP collector as host:port
func getOTLPEndpoint() string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		return strings.TrimSuffix(endpoint, "/")
	}
	return "localhost:4318"
}
