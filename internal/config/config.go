package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Auth configures the bearer token attached to every delivery call.
type Auth struct {
	Secret     string `json:"secret"`
	Issuer     string `json:"issuer"`
	Audience   string `json:"audience"`
	TTLSeconds uint   `json:"ttl_seconds"`
}

// Enabled reports whether calls should carry a token.
func (a Auth) Enabled() bool {
	return a.Secret != ""
}

// TTL returns the token lifetime, one minute when unset.
func (a Auth) TTL() time.Duration {
	if a.TTLSeconds == 0 {
		return time.Minute
	}
	return time.Duration(a.TTLSeconds) * time.Second
}

// Startup is the plugin configuration the host hands over at init. It is
// immutable once parsed.
type Startup struct {
	Threads     uint   `json:"threads"`      // executor workers, 0 = one per CPU
	MetricsAddr string `json:"metrics_addr"` // /metrics and /healthz listener, "" = off
	Tracing     bool   `json:"tracing"`      // export spans over OTLP/HTTP
	Auth        Auth   `json:"auth"`
}

// ParseStartup decodes the host's JSON config. Types are strict: a negative or
// non-integer threads value is an error. Unknown keys are ignored.
func ParseStartup(raw []byte) (Startup, error) {
	var cfg Startup
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return cfg, fmt.Errorf("parse startup config: empty document")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Startup{}, fmt.Errorf("parse startup config: %w", err)
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = getenv("GRPC_DELIVER_METRICS_ADDR", "")
	}
	return cfg, nil
}

// Receiver configures the demonstration delivery service.
type Receiver struct {
	GRPCPort        string // :50051
	HTTPPort        string // :8081, /healthz and /metrics
	Sink            string // log, nsq or postgres
	NsqdTCPAddr     string // e.g. nsqd:4150
	Topic           string // NSQ topic for accepted messages
	DB              DB
	FailFirstN      int    // Number of requests to fail initially
	MaxMessageBytes int    // 0 = unlimited
	JWTSecret       string // "" disables token checks
	JWTIssuer       string
	JWTAudience     string
	Tracing         bool
}

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ReceiverFromEnv reads the delivery service configuration.
func ReceiverFromEnv() Receiver {
	return Receiver{
		GRPCPort:    getenv("GRPC_PORT", ":50051"),
		HTTPPort:    getenv("HTTP_PORT", ":8081"),
		Sink:        getenv("SINK", "log"),
		NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
		Topic:       getenv("NSQ_TOPIC", "rfc822"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "grpc_deliver"),
		},
		FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
		MaxMessageBytes: getenvInt("MAX_MESSAGE_BYTES", 0),
		JWTSecret:       getenv("JWT_SECRET", ""),
		JWTIssuer:       getenv("JWT_ISSUER", "grpc-deliver"),
		JWTAudience:     getenv("JWT_AUDIENCE", "rfc822.Deliverer"),
		Tracing:         getenvBool("TRACING", false),
	}
}

func (c Receiver) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Monitor configures the NSQ backlog monitor for the receiver's topic.
type Monitor struct {
	NsqdHTTPAddr string // nsqd HTTP API, e.g. nsqd:4151
	Topic        string
	Port         string // :8084, /metrics and /healthz
	PollInterval time.Duration
}

// MonitorFromEnv reads the monitor configuration.
func MonitorFromEnv() Monitor {
	return Monitor{
		NsqdHTTPAddr: getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
		Topic:        getenv("NSQ_TOPIC", "rfc822"),
		Port:         getenv("PORT", ":8084"),
		PollInterval: time.Duration(getenvInt("POLL_INTERVAL_SECONDS", 15)) * time.Second,
	}
}
