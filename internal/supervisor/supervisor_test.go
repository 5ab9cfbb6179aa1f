package supervisor

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/grpc_deliver/internal/metrics"
)

// stubMaxProcs records what New asked the scheduler for.
func stubMaxProcs(t *testing.T) *int {
	t.Helper()
	got := new(int)
	prev := maxProcs
	maxProcs = func(n int) int {
		*got = n
		return n
	}
	t.Cleanup(func() { maxProcs = prev })
	return got
}

func TestNewWorkers(t *testing.T) {
	tests := []struct {
		name    string
		threads uint
		want    int
		wantErr bool
	}{
		{name: "default is one per CPU", threads: 0, want: runtime.NumCPU()},
		{name: "one worker", threads: 1, want: 1},
		{name: "four workers", threads: 4, want: 4},
		{name: "at the limit", threads: MaxWorkers, want: MaxWorkers},
		{name: "too many", threads: MaxWorkers + 1, wantErr: true},
		{name: "wraps past max int", threads: ^uint(0), wantErr: true},
		{name: "just past max int", threads: uint(math.MaxInt) + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied := stubMaxProcs(t)

			s, err := New(tt.threads)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%d) error = %v, wantErr %v", tt.threads, err, tt.wantErr)
			}
			if tt.wantErr {
				if *applied != 0 {
					t.Errorf("failed New resized the scheduler to %d", *applied)
				}
				return
			}
			if s.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", s.Workers(), tt.want)
			}
			if *applied != tt.want {
				t.Errorf("GOMAXPROCS set to %d, want %d", *applied, tt.want)
			}
			if got := testutil.ToFloat64(metrics.RuntimeWorkers); got != float64(tt.want) {
				t.Errorf("runtime_workers gauge = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestSpawnDoesNotBlock(t *testing.T) {
	stubMaxProcs(t)
	s, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var finished atomic.Int32
	start := time.Now()
	for i := 0; i < 1000; i++ {
		s.Spawn(func(ctx context.Context) {
			<-release
			finished.Add(1)
		})
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("spawning 1000 blocked tasks took %s", d)
	}
	if got := testutil.ToFloat64(metrics.InflightTasks); got < 1000 {
		t.Errorf("inflight_tasks = %v, want >= 1000", got)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if finished.Load() != 1000 {
		t.Errorf("%d tasks finished, want 1000", finished.Load())
	}
}

func TestSpawnRecoversPanic(t *testing.T) {
	stubMaxProcs(t)
	s, _ := New(2)

	var after atomic.Bool
	s.Spawn(func(ctx context.Context) { panic("boom") })
	s.Spawn(func(ctx context.Context) { after.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !after.Load() {
		t.Error("task after a panicking task did not run")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	stubMaxProcs(t)
	s, _ := New(1)

	block := make(chan struct{})
	defer close(block)
	s.Spawn(func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}
