// Package accessor reads the per-attempt inputs of a delivery out of the
// host's delivery context. Every read is independently fallible and every
// failure wraps ErrContext.
package accessor

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/austindbirch/grpc_deliver/internal/host"
)

// URLArgument is the argument holding the target endpoint.
const URLArgument = "url"

const chunkSize = 8192

var (
	// ErrContext classifies every failure of this package.
	ErrContext = errors.New("delivery context")

	ErrNoStream     = fmt.Errorf("%w: no message stream", ErrContext)
	ErrNoArguments  = fmt.Errorf("%w: missing or invalid arguments", ErrContext)
	ErrMissingURL   = fmt.Errorf("%w: argument %q not set", ErrContext, URLArgument)
	ErrURLNotString = fmt.Errorf("%w: argument %q is not a string", ErrContext, URLArgument)
)

// MessageStream returns the message stream of the attempt.
func MessageStream(dc host.DeliveryContext) (io.ReadSeeker, error) {
	r, err := dc.File()
	if err != nil {
		return nil, fmt.Errorf("%w: get message file: %w", ErrContext, err)
	}
	if r == nil {
		return nil, ErrNoStream
	}
	return r, nil
}

// ReadAll rewinds r and reads it to EOF. Short reads are retried; any error
// fails the whole read and no partial data is returned.
func ReadAll(r io.ReadSeeker) ([]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewind message: %w", ErrContext, err)
	}
	var out []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read message: %w", ErrContext, err)
		}
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// TransactionID returns the host's transaction id for the attempt. Invalid
// UTF-8 is replaced with U+FFFD so the id always fits the wire's string field.
func TransactionID(dc host.DeliveryContext) (string, error) {
	id, err := dc.TransactionID()
	if err != nil {
		return "", fmt.Errorf("%w: get transaction id: %w", ErrContext, err)
	}
	return strings.ToValidUTF8(id, "\uFFFD"), nil
}

// TargetEndpoint returns the "url" argument. There is no default: an absent
// collection, an absent entry or a non-string entry are all errors.
func TargetEndpoint(dc host.DeliveryContext) (string, error) {
	args, err := dc.Arguments()
	if err != nil {
		return "", fmt.Errorf("%w: get arguments: %w", ErrContext, err)
	}
	if args == nil {
		return "", ErrNoArguments
	}
	v, ok := args[URLArgument]
	if !ok {
		return "", ErrMissingURL
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrURLNotString
	}
	return s, nil
}
