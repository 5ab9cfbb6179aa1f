package host

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Result is the outcome a host recorded for one attempt.
type Result struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// FileContext is a DeliveryContext backed by a message file on disk. It stands
// in for the host when a single message is pushed through the plugin by hand.
type FileContext struct {
	path  string
	txID  string
	args  map[string]any
	file  *os.File
	done  chan struct{}
	mu    sync.Mutex
	res   Result
	ended bool
}

// NewFileContext returns a context delivering the message at path.
func NewFileContext(path, transactionID string, args map[string]any) *FileContext {
	return &FileContext{
		path: path,
		txID: transactionID,
		args: args,
		done: make(chan struct{}),
	}
}

func (f *FileContext) Arguments() (map[string]any, error) {
	return f.args, nil
}

func (f *FileContext) File() (io.ReadSeeker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return f.file, nil
	}
	fp, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open message file: %w", err)
	}
	f.file = fp
	return fp, nil
}

func (f *FileContext) TransactionID() (string, error) {
	if f.txID == "" {
		return "", errors.New("no transaction id")
	}
	return f.txID, nil
}

func (f *FileContext) SetResultCode(code int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res.Code = code
	return nil
}

func (f *FileContext) SetResultReason(reason string) error {
	if !ValidReason(reason) {
		return ErrInvalidReason
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res.Reason = reason
	return nil
}

// Done closes the message file and releases Wait. Later calls are ignored.
func (f *FileContext) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	f.ended = true
	if f.file != nil {
		_ = f.file.Close()
	}
	close(f.done)
}

// Wait returns a channel closed once the attempt has been reported.
func (f *FileContext) Wait() <-chan struct{} {
	return f.done
}

// Result returns what was reported so far.
func (f *FileContext) Result() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}
