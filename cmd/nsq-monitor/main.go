package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/grpc_deliver/internal/config"
	"github.com/austindbirch/grpc_deliver/internal/health"
	"github.com/austindbirch/grpc_deliver/internal/logging"
)

const serviceName = "nsq-monitor"

// nsqStats is the subset of the nsqd /stats JSON the monitor reads.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Depth     int64  `json:"depth"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// gauges holds the backlog metrics for the receiver's topic.
type gauges struct {
	topicDepth      *prometheus.GaugeVec
	channelDepth    *prometheus.GaugeVec
	channelInflight *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer) *gauges {
	g := &gauges{
		topicDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grpc_deliver_nsq_topic_depth",
			Help: "Messages queued on the received-message topic",
		}, []string{"topic"}),
		channelDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grpc_deliver_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
		channelInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grpc_deliver_nsq_channel_inflight",
			Help: "In-flight messages for NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
	}
	reg.MustRegister(g.topicDepth, g.channelDepth, g.channelInflight)
	return g
}

func main() {
	cfg := config.MonitorFromEnv()
	logging.SetDefaultService(serviceName)
	log := logging.Default()

	reg := prometheus.NewRegistry()
	g := newGauges(reg)
	client := &http.Client{Timeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	log.Plain().Infof("monitoring topic %q at %s every %s", cfg.Topic, cfg.NsqdHTTPAddr, cfg.PollInterval)
	go collect(ctx, log, client, g, cfg)

	srv := &http.Server{Addr: cfg.Port, Handler: newMux(reg, client, cfg.NsqdHTTPAddr), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Plain().Infof("nsq-monitor listening on %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Plain().WithError(err).Error("HTTP serve")
		os.Exit(1)
	}
}

func newMux(reg *prometheus.Registry, client *http.Client, nsqdHTTP string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.HTTPHandler(map[string]health.Checker{
		"nsqd": health.CheckFunc(func(ctx context.Context) error { return ping(ctx, client, nsqdHTTP) }),
	}))
	return mux
}

func collect(ctx context.Context, log *logging.Logger, client *http.Client, g *gauges, cfg config.Monitor) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := g.update(ctx, client, cfg.NsqdHTTPAddr, cfg.Topic); err != nil {
			log.Plain().WithError(err).Warn("update nsq metrics")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func ping(ctx context.Context, client *http.Client, nsqdHTTP string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/ping", nsqdHTTP), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd ping: %s", resp.Status)
	}
	return nil
}

// update polls nsqd once and refreshes the gauges for topic.
func (g *gauges) update(ctx context.Context, client *http.Client, nsqdHTTP, topic string) error {
	url := fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTP, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: %s", resp.Status)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}

	for _, t := range stats.Topics {
		if t.TopicName != topic {
			continue
		}
		g.topicDepth.WithLabelValues(t.TopicName).Set(float64(t.Depth))
		for _, c := range t.Channels {
			g.channelDepth.WithLabelValues(t.TopicName, c.ChannelName).Set(float64(c.Depth))
			g.channelInflight.WithLabelValues(t.TopicName, c.ChannelName).Set(float64(c.InFlightCount))
		}
	}
	return nil
}
