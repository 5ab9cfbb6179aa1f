// Package hosttest provides a recording host.DeliveryContext for tests.
package hosttest

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/grpc_deliver/internal/host"
)

var (
	ErrNoFile          = errors.New("hosttest: no file")
	ErrNoTransactionID = errors.New("hosttest: no transaction id")
	ErrNoArguments     = errors.New("hosttest: no arguments")
)

// Context is an in-memory host.DeliveryContext. Zero-valued failure fields mean
// the corresponding accessor succeeds.
type Context struct {
	Message []byte
	TxID    string
	Args    map[string]any

	FileErr   error
	TxIDErr   error
	ArgsErr   error
	CodeErr   error
	ReasonErr error
	// Stream overrides the reader built from Message.
	Stream io.ReadSeeker

	mu        sync.Mutex
	code      int
	reason    string
	codeSets  int
	doneCalls int
	done      chan struct{}
	once      sync.Once
}

// New returns a context that will deliver msg with the given transaction id to
// url. An empty url leaves the argument collection empty.
func New(txID, url string, msg []byte) *Context {
	c := &Context{Message: msg, TxID: txID, Args: map[string]any{}}
	if url != "" {
		c.Args["url"] = url
	}
	return c
}

func (c *Context) init() {
	c.once.Do(func() { c.done = make(chan struct{}) })
}

func (c *Context) Arguments() (map[string]any, error) {
	if c.ArgsErr != nil {
		return nil, c.ArgsErr
	}
	return c.Args, nil
}

func (c *Context) File() (io.ReadSeeker, error) {
	if c.FileErr != nil {
		return nil, c.FileErr
	}
	if c.Stream != nil {
		return c.Stream, nil
	}
	return bytes.NewReader(c.Message), nil
}

func (c *Context) TransactionID() (string, error) {
	if c.TxIDErr != nil {
		return "", c.TxIDErr
	}
	return c.TxID, nil
}

func (c *Context) SetResultCode(code int) error {
	if c.CodeErr != nil {
		return c.CodeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
	c.codeSets++
	return nil
}

func (c *Context) SetResultReason(reason string) error {
	if c.ReasonErr != nil {
		return c.ReasonErr
	}
	if !host.ValidReason(reason) {
		return host.ErrInvalidReason
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reason = reason
	return nil
}

func (c *Context) Done() {
	c.init()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doneCalls++
	if c.doneCalls == 1 {
		close(c.done)
	}
}

// Result returns the recorded code and reason.
func (c *Context) Result() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

// DoneCalls returns how many times Done was invoked.
func (c *Context) DoneCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCalls
}

// Wait blocks until Done is called, failing the test after timeout.
func (c *Context) Wait(t testing.TB, timeout time.Duration) {
	t.Helper()
	c.init()
	select {
	case <-c.done:
	case <-time.After(timeout):
		t.Fatalf("delivery %q not reported within %s", c.TxID, timeout)
	}
}
