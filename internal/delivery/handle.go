package delivery

import (
	"errors"
	"sync"

	"github.com/austindbirch/grpc_deliver/internal/host"
)

// ErrHandleTaken is returned by every Take after the first.
var ErrHandleTaken = errors.New("delivery handle already taken")

// Handle carries a host delivery context from the host's calling goroutine to
// the task that serves it. The host guarantees exclusive ownership of the
// context for the attempt, so moving it once is safe; Take enforces the once.
type Handle struct {
	mu sync.Mutex
	dc host.DeliveryContext
}

func NewHandle(dc host.DeliveryContext) *Handle {
	return &Handle{dc: dc}
}

// Take transfers ownership of the context to the caller.
func (h *Handle) Take() (host.DeliveryContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dc == nil {
		return nil, ErrHandleTaken
	}
	dc := h.dc
	h.dc = nil
	return dc, nil
}
