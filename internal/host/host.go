// Package host describes the narrow surface the mail-transfer host exposes to
// the plugin. The host's own plugin ABI sits behind these interfaces so the
// delivery logic can run against a substitute in tests and in deliverctl.
package host

import (
	"errors"
	"io"
	"strings"
)

// ErrInvalidReason is returned by SetResultReason when the reason text cannot
// be carried across the host boundary.
var ErrInvalidReason = errors.New("reason contains a NUL byte")

// InitContext is handed to the plugin once at load time.
type InitContext interface {
	// ConfigJSON returns the plugin's configuration object converted to JSON.
	ConfigJSON() ([]byte, error)
}

// DeliveryContext is the per-attempt handle. The host guarantees that a single
// attempt is owned by exactly one caller until Done is invoked; after Done it
// must not be touched again.
type DeliveryContext interface {
	// Arguments returns the per-attempt argument collection. A nil map means
	// the host supplied no collection at all.
	Arguments() (map[string]any, error)
	// File returns the message stream in RFC 822 wire format.
	File() (io.ReadSeeker, error)
	TransactionID() (string, error)

	SetResultCode(code int) error
	SetResultReason(reason string) error
	// Done signals completion to the host.
	Done()
}

// ValidReason reports whether reason can be passed to SetResultReason.
func ValidReason(reason string) bool {
	return !strings.ContainsRune(reason, 0)
}

// StaticInit is an InitContext backed by an in-memory JSON document.
type StaticInit []byte

// ConfigJSON returns the document. An empty document is treated as "{}".
func (s StaticInit) ConfigJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("{}"), nil
	}
	return []byte(s), nil
}
