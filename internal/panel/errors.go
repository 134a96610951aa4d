package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Adapter-boundary error taxonomy. Callers branch on these, never on
// vendor-specific strings.
var (
	// ErrUnreachable covers transport failures and timeouts. Transient;
	// the only kind the orchestrator retries.
	ErrUnreachable = errors.New("panel unreachable")

	// ErrAuthFailed means the stored credential was rejected.
	// Operator-visible, never retried.
	ErrAuthFailed = errors.New("panel auth failed")

	// ErrClientNotFound is benign for delete and for stats after delete.
	ErrClientNotFound = errors.New("client not found on panel")
)

// RejectedError is a vendor-side validation failure, usually permanent for
// the given input.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "panel rejected request: " + e.Reason
}

// Rejected wraps a vendor reason into a RejectedError.
func Rejected(format string, args ...interface{}) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// IsRejected reports whether err is a vendor rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsAlreadyExists matches the rejection vendors return when the client name
// is taken. Create treats it as success.
func IsAlreadyExists(err error) bool {
	re, ok := IsRejected(err)
	if !ok {
		return false
	}
	reason := strings.ToLower(re.Reason)
	return strings.Contains(reason, "already exist") || strings.Contains(reason, "duplicate")
}

// wrapTransport maps transport-level failures onto the taxonomy.
func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	// resty returns url.Error wrapping dial/TLS failures
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// classifyStatus maps an HTTP status code onto the taxonomy. A nil return
// means the caller should parse the body.
func classifyStatus(code int, body string) error {
	switch {
	case code == 401 || code == 403:
		return ErrAuthFailed
	case code == 404:
		return ErrClientNotFound
	case code == 409:
		return Rejected("already exists")
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrUnreachable, code)
	case code >= 400:
		return Rejected("status %d: %s", code, strings.TrimSpace(body))
	}
	return nil
}
