// Package reporter writes the terminal outcome of a delivery attempt back to
// the host. Each attempt is reported at most once, and Done is always
// signalled even when the host rejects the code or reason.
package reporter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/austindbirch/grpc_deliver/internal/host"
)

const (
	CodeAccepted  = 250
	CodeTemporary = 421

	ReasonOK         = "OK"
	ReasonLocalError = "Temporary local error"
)

// ErrAlreadyReported is returned by a second Report on the same Reporter.
var ErrAlreadyReported = errors.New("delivery already reported")

// Outcome is what the host sees for one attempt.
type Outcome struct {
	Code   int
	Reason string
}

func Accepted() Outcome {
	return Outcome{Code: CodeAccepted, Reason: ReasonOK}
}

// LocalError hides which local read failed.
func LocalError() Outcome {
	return Outcome{Code: CodeTemporary, Reason: ReasonLocalError}
}

// Temporary carries reason verbatim.
func Temporary(reason string) Outcome {
	return Outcome{Code: CodeTemporary, Reason: reason}
}

func (o Outcome) String() string {
	return fmt.Sprintf("%d %s", o.Code, o.Reason)
}

// Sanitize makes reason acceptable to the host: NUL bytes are dropped and
// invalid UTF-8 is replaced with U+FFFD.
func Sanitize(reason string) string {
	reason = strings.ToValidUTF8(reason, "�")
	return strings.ReplaceAll(reason, "\x00", "")
}

// Reporter reports exactly one outcome for one delivery context.
type Reporter struct {
	dc   host.DeliveryContext
	once sync.Once
}

func New(dc host.DeliveryContext) *Reporter {
	return &Reporter{dc: dc}
}

// Report writes o and signals completion. Only the first call reaches the
// host; later calls return ErrAlreadyReported.
func (r *Reporter) Report(o Outcome) error {
	err := ErrAlreadyReported
	r.once.Do(func() {
		err = Report(r.dc, o)
		r.dc = nil
	})
	return err
}

// Report writes the code, then the sanitized reason, then signals Done. Done
// runs even if a setter fails; the setter errors are returned joined.
func Report(dc host.DeliveryContext, o Outcome) error {
	defer dc.Done()

	var errs []error
	if err := dc.SetResultCode(o.Code); err != nil {
		errs = append(errs, fmt.Errorf("set result code: %w", err))
	}
	if err := dc.SetResultReason(Sanitize(o.Reason)); err != nil {
		errs = append(errs, fmt.Errorf("set result reason: %w", err))
	}
	return errors.Join(errs...)
}
