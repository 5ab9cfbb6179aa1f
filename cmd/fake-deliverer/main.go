package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/grpc_deliver/internal/auth"
	"github.com/austindbirch/grpc_deliver/internal/config"
	"github.com/austindbirch/grpc_deliver/internal/db"
	"github.com/austindbirch/grpc_deliver/internal/health"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/metrics"
	"github.com/austindbirch/grpc_deliver/internal/receiver"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
	"github.com/austindbirch/grpc_deliver/internal/tracing"
)

const serviceName = "fake-deliverer"

func main() {
	cfg := config.ReceiverFromEnv()
	ctx := context.Background()
	logging.SetDefaultService(serviceName)
	log := logging.Default()

	if cfg.Tracing {
		shutdown, err := tracing.InitTracing(ctx, serviceName)
		if err != nil {
			log.Plain().WithError(err).Fatal("init tracing")
		}
		defer shutdown()
	}

	sink, checks, closeSink, err := newSink(ctx, cfg, log)
	if err != nil {
		log.Plain().WithError(err).Fatal("create sink")
	}
	defer closeSink()

	grpcSrv, err := newGRPCServer(cfg, sink, log)
	if err != nil {
		log.Plain().WithError(err).Fatal("create gRPC server")
	}

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		log.Plain().WithError(err).Fatal("gRPC listen")
	}
	go func() {
		log.Plain().Infof("fake-deliverer gRPC listening on %s (sink=%s)", cfg.GRPCPort, sink.Name())
		if err := grpcSrv.Serve(lis); err != nil {
			log.Plain().WithError(err).Fatal("gRPC serve")
		}
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: newHTTPMux(checks), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Plain().Infof("fake-deliverer HTTP listening on %s", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Plain().WithError(err).Fatal("HTTP serve")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	grpcSrv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Plain().Info("fake-deliverer stopped")
}

// newSink builds the configured sink and the health checks for its backend.
func newSink(ctx context.Context, cfg config.Receiver, log *logging.Logger) (receiver.Sink, map[string]health.Checker, func(), error) {
	switch cfg.Sink {
	case "log", "":
		return receiver.LogSink{Log: log}, nil, func() {}, nil

	case "nsq":
		prod, err := nsq.NewProducer(cfg.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("nsq producer: %w", err)
		}
		checks := map[string]health.Checker{
			"nsq": health.CheckFunc(func(context.Context) error { return prod.Ping() }),
		}
		return receiver.NSQSink{Producer: prod, Topic: cfg.Topic}, checks, prod.Stop, nil

	case "postgres":
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("db schema: %w", err)
		}
		return receiver.PostgresSink{DB: pool}, map[string]health.Checker{"database": pool}, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown sink %q (want log, nsq or postgres)", cfg.Sink)
	}
}

// newGRPCServer registers the Deliverer and the gRPC health service.
func newGRPCServer(cfg config.Receiver, sink receiver.Sink, log *logging.Logger) (*grpc.Server, error) {
	opts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if cfg.JWTSecret != "" {
		v, err := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.UnaryInterceptor(v.GRPCInterceptor()))
	}

	srv := grpc.NewServer(opts...)
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(rfc822.ServiceName, healthpb.HealthCheckResponse_SERVING)

	rfc822.RegisterDelivererServer(srv, receiver.NewServer(sink, receiver.Options{
		FailFirstN:      cfg.FailFirstN,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Log:             log,
	}))
	return srv, nil
}

// newHTTPMux serves /healthz and /metrics.
func newHTTPMux(checks map[string]health.Checker) *http.ServeMux {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
