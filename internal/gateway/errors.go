package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindUnreachable    Kind = "unreachable"
	KindServerRejected Kind = "server_rejected"
	KindMalformed      Kind = "malformed"
)

// Error is the only error type the gateway returns for remote failures.
// Local validation failures are returned as *settings.ValidationError instead.
type Error struct {
	Kind       Kind   `json:"kind"`
	Op         string `json:"op"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of a gateway error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return "", false
}

// transportError maps an error from the HTTP client into a gateway Error.
func transportError(op string, err error) *Error {
	kind := KindUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Detail: err.Error(), Err: err}
}
