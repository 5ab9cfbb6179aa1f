// Package supervisor owns the executor that runs delivery tasks.
//
// The executor is the Go scheduler: its worker count is GOMAXPROCS and every
// task is a goroutine. A goroutine blocked in a syscall (the message file
// read) releases its worker, so blocking reads do not stall other attempts.
package supervisor

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/metrics"
)

// maxProcs is swapped out by tests that must not resize the real scheduler.
var maxProcs = runtime.GOMAXPROCS

// MaxWorkers bounds the configured worker count.
const MaxWorkers = 4096

// Task is one unit of asynchronous work.
type Task func(ctx context.Context)

// Supervisor spawns tasks without admission control: every Spawn starts a
// goroutine immediately, there is no queue and no backpressure.
// TODO: bound outstanding tasks with an admission gate sized independently of
// the worker count.
type Supervisor struct {
	workers int
	ctx     context.Context
	wg      sync.WaitGroup
	log     *logging.Logger
}

// New sizes the executor. Zero means one worker per CPU.
func New(workers uint) (*Supervisor, error) {
	if workers > MaxWorkers {
		return nil, fmt.Errorf("create runtime: %d workers exceeds limit of %d", workers, MaxWorkers)
	}
	n := int(workers)
	if workers == 0 {
		n = min(runtime.NumCPU(), MaxWorkers)
	}
	maxProcs(n)
	metrics.SetWorkers(n)
	return &Supervisor{
		workers: n,
		ctx:     context.Background(),
		log:     logging.Default(),
	}, nil
}

// Workers returns the executor's worker count.
func (s *Supervisor) Workers() int {
	return s.workers
}

// Spawn starts task and returns without waiting for it. A panicking task is
// logged and does not take the process down.
func (s *Supervisor) Spawn(task Task) {
	s.wg.Add(1)
	metrics.TaskStarted()
	go func() {
		defer s.wg.Done()
		defer metrics.TaskFinished()
		defer func() {
			if r := recover(); r != nil {
				s.log.Plain().WithFields(map[string]any{
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("delivery task panicked")
			}
		}()
		task(s.ctx)
	}()
}

// Wait blocks until every spawned task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
