// Package plugin is the host-facing surface: Version, Init and Deliver.
//
// Init commits process-wide state into a slot that can be written once. Deliver
// never blocks on I/O; it hands the attempt to the delivery pipeline.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/grpc_deliver/internal/auth"
	"github.com/austindbirch/grpc_deliver/internal/config"
	"github.com/austindbirch/grpc_deliver/internal/delivery"
	"github.com/austindbirch/grpc_deliver/internal/health"
	"github.com/austindbirch/grpc_deliver/internal/host"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/metrics"
	"github.com/austindbirch/grpc_deliver/internal/reporter"
	"github.com/austindbirch/grpc_deliver/internal/supervisor"
	"github.com/austindbirch/grpc_deliver/internal/tracing"
	"github.com/austindbirch/grpc_deliver/internal/transport"
)

// PluginVersion is the host plugin interface version.
const PluginVersion uint32 = 1

const serviceName = "grpc-deliver"

// ErrAlreadyInitialized is logged when Init runs a second time.
var ErrAlreadyInitialized = errors.New("already initialized")

// instance is everything a successful Init commits.
type instance struct {
	cfg        config.Startup
	supervisor *supervisor.Supervisor
	pipeline   *delivery.Pipeline
	metrics    net.Addr
	teardown   []func()
}

func (in *instance) close() {
	for i := len(in.teardown) - 1; i >= 0; i-- {
		in.teardown[i]()
	}
	in.teardown = nil
}

var (
	mu      sync.Mutex
	current *instance
)

// Version returns the plugin interface version. It has no side effects.
func Version() uint32 {
	return PluginVersion
}

// Init reads the startup configuration, builds the executor and commits them.
// It returns false, leaving no state behind, on any failure.
func Init(ic host.InitContext) bool {
	log := logging.Default()

	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		log.Plain().WithError(ErrAlreadyInitialized).Crit("Failed to initialize plugin")
		return false
	}

	raw, err := ic.ConfigJSON()
	if err != nil {
		log.Plain().WithError(err).Crit("Failed to get config")
		return false
	}
	cfg, err := config.ParseStartup(raw)
	if err != nil {
		log.Plain().WithError(err).Crit("Failed to parse config")
		return false
	}
	sup, err := supervisor.New(cfg.Threads)
	if err != nil {
		log.Plain().WithError(err).Crit("Failed to create runtime")
		return false
	}

	in := &instance{cfg: cfg, supervisor: sup}
	if err := in.start(log); err != nil {
		in.close()
		log.Plain().WithError(err).Crit("Failed to start plugin")
		return false
	}

	current = in
	entry := log.Plain().
		WithField("workers", sup.Workers()).
		WithField("tracing", cfg.Tracing).
		WithField("auth", cfg.Auth.Enabled())
	if in.metrics != nil {
		entry = entry.WithField("metrics_addr", in.metrics.String())
	}
	entry.Info("plugin initialized")
	return true
}

// start brings up the optional side-cars and the pipeline. Each started
// resource registers its teardown before the next one starts.
func (in *instance) start(log *logging.Logger) error {
	if in.cfg.Tracing {
		shutdown, err := tracing.InitTracing(context.Background(), serviceName)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		in.teardown = append(in.teardown, shutdown)
	}

	if in.cfg.MetricsAddr != "" {
		addr, stop, err := serveMetrics(in.cfg.MetricsAddr, log)
		if err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
		in.metrics = addr
		in.teardown = append(in.teardown, stop)
	}

	var signer *auth.Signer
	if in.cfg.Auth.Enabled() {
		var err error
		signer, err = auth.NewSigner(in.cfg.Auth.Secret, in.cfg.Auth.Issuer, in.cfg.Auth.Audience, in.cfg.Auth.TTL())
		if err != nil {
			return fmt.Errorf("create call signer: %w", err)
		}
	}

	in.pipeline = &delivery.Pipeline{
		Supervisor: in.supervisor,
		Connector:  &transport.Dialer{Signer: signer},
		Log:        log,
	}
	return nil
}

// serveMetrics exposes /metrics and /healthz on addr.
func serveMetrics(addr string, log *logging.Logger) (net.Addr, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(nil))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Plain().WithError(err).Error("metrics listener stopped")
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return lis.Addr(), stop, nil
}

// Deliver hands one attempt to the pipeline and returns at once. Before a
// successful Init the attempt is answered with a temporary local error.
func Deliver(dc host.DeliveryContext) {
	mu.Lock()
	in := current
	mu.Unlock()

	if in == nil {
		logging.Default().Plain().Crit("Deliver called before successful Init")
		if err := reporter.Report(dc, reporter.LocalError()); err != nil {
			logging.Default().Plain().WithError(err).Error("host rejected delivery result")
		}
		return
	}
	in.pipeline.Dispatch(delivery.NewHandle(dc))
}

// Wait blocks until every dispatched attempt has been reported or ctx ends.
func Wait(ctx context.Context) error {
	mu.Lock()
	in := current
	mu.Unlock()
	if in == nil {
		return nil
	}
	return in.supervisor.Wait(ctx)
}

// Workers returns the executor size, or zero before Init.
func Workers() int {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return 0
	}
	return current.supervisor.Workers()
}

// reset tears down and clears the committed state.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		current.close()
		current = nil
	}
}
