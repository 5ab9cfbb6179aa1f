package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/austindbirch/grpc_deliver/internal/host"
	"github.com/austindbirch/grpc_deliver/internal/host/hosttest"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
)

type failingInit struct{}

func (failingInit) ConfigJSON() ([]byte, error) { return nil, errors.New("no config") }

// setup silences the default logger and clears the slot around a test.
func setup(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	reset()
	t.Cleanup(func() {
		reset()
		logging.SetOutput(io.Discard)
	})
	return &buf
}

func TestVersion(t *testing.T) {
	if Version() != 1 {
		t.Errorf("Version() = %d, want 1", Version())
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name        string
		ic          host.InitContext
		want        bool
		wantWorkers int
		wantLog     string
	}{
		{name: "four threads", ic: host.StaticInit(`{"threads":4}`), want: true, wantWorkers: 4},
		{name: "one thread", ic: host.StaticInit(`{"threads":1}`), want: true, wantWorkers: 1},
		{name: "unknown keys ignored", ic: host.StaticInit(`{"threads":2,"queue":"x"}`), want: true, wantWorkers: 2},
		{name: "config unavailable", ic: failingInit{}, wantLog: "Failed to get config"},
		{name: "negative threads", ic: host.StaticInit(`{"threads":-1}`), wantLog: "Failed to parse config"},
		{name: "threads not a number", ic: host.StaticInit(`{"threads":"four"}`), wantLog: "Failed to parse config"},
		{name: "not json", ic: host.StaticInit(`threads=4`), wantLog: "Failed to parse config"},
		{name: "too many threads", ic: host.StaticInit(`{"threads":100000}`), wantLog: "Failed to create runtime"},
		{name: "threads beyond max int", ic: host.StaticInit(`{"threads":18446744073709551615}`), wantLog: "Failed to create runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := setup(t)

			if got := Init(tt.ic); got != tt.want {
				t.Fatalf("Init() = %v, want %v (logs: %s)", got, tt.want, logs)
			}
			if Workers() != tt.wantWorkers {
				t.Errorf("Workers() = %d, want %d", Workers(), tt.wantWorkers)
			}
			if tt.wantLog != "" {
				if !strings.Contains(logs.String(), tt.wantLog) || !strings.Contains(logs.String(), `"level":"crit"`) {
					t.Errorf("logs %q missing crit %q", logs, tt.wantLog)
				}
			}
		})
	}
}

func TestInitTwice(t *testing.T) {
	logs := setup(t)

	if !Init(host.StaticInit(`{"threads":2}`)) {
		t.Fatal("first Init failed")
	}
	if Init(host.StaticInit(`{"threads":3}`)) {
		t.Fatal("second Init succeeded")
	}
	if Workers() != 2 {
		t.Errorf("second Init changed workers to %d", Workers())
	}
	if !strings.Contains(logs.String(), "already initialized") {
		t.Errorf("logs %q missing already initialized", logs)
	}
}

func TestInitFailureLeavesNoState(t *testing.T) {
	setup(t)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := fmt.Sprintf(`{"threads":1,"metrics_addr":%q}`, busy.Addr().String())
	if Init(host.StaticInit(cfg)) {
		t.Fatal("Init succeeded with a busy metrics address")
	}
	if Workers() != 0 {
		t.Errorf("failed Init left %d workers committed", Workers())
	}
	if !Init(host.StaticInit(`{"threads":1}`)) {
		t.Error("Init after a failed Init did not succeed")
	}
}

func TestMetricsListener(t *testing.T) {
	setup(t)

	if !Init(host.StaticInit(`{"threads":3,"metrics_addr":"127.0.0.1:0"}`)) {
		t.Fatal("Init failed")
	}
	mu.Lock()
	addr := current.metrics.String()
	mu.Unlock()

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "grpc_deliver_runtime_workers 3") {
		t.Errorf("/metrics missing worker gauge:\n%s", body)
	}

	resp, err = http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	reset()
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("metrics listener still serving after teardown")
	}
}

func TestDeliverBeforeInit(t *testing.T) {
	logs := setup(t)

	dc := hosttest.New("abc123", "grpc://svc:50051", []byte("m"))
	Deliver(dc)

	code, reason := dc.Result()
	if code != 421 || reason != "Temporary local error" {
		t.Errorf("host saw (%d, %q), want (421, Temporary local error)", code, reason)
	}
	if dc.DoneCalls() != 1 {
		t.Errorf("Done called %d times, want 1", dc.DoneCalls())
	}
	if !strings.Contains(logs.String(), `"level":"crit"`) {
		t.Errorf("logs %q missing crit entry", logs)
	}
}

type echo struct {
	rfc822.UnimplementedDelivererServer
	got chan *rfc822.Request
}

func (e *echo) Deliver(_ context.Context, req *rfc822.Request) (*rfc822.Response, error) {
	e.got <- req
	return &rfc822.Response{}, nil
}

func TestDeliverEndToEnd(t *testing.T) {
	setup(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &echo{got: make(chan *rfc822.Request, 1)}
	s := grpc.NewServer()
	rfc822.RegisterDelivererServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	if !Init(host.StaticInit(`{"threads":2}`)) {
		t.Fatal("Init failed")
	}

	msg := []byte("Subject: hi\r\n\r\nbody")
	dc := hosttest.New("abc123", "grpc://"+lis.Addr().String(), msg)

	start := time.Now()
	Deliver(dc)
	if d := time.Since(start); d > time.Second {
		t.Errorf("Deliver blocked for %s", d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	code, reason := dc.Result()
	if code != 250 || reason != "OK" {
		t.Errorf("host saw (%d, %q), want (250, OK)", code, reason)
	}
	select {
	case req := <-srv.got:
		if req.TransactionID != "abc123" || !bytes.Equal(req.RFC822, msg) {
			t.Errorf("server received %+v", req)
		}
	default:
		t.Error("server received nothing")
	}
}
