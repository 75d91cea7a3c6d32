package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Infrastructure errors. Each carries the rail and the upstream operation so
// a log line is enough to reproduce the call.

// DecodeError means the upstream answered but the body could not be
// understood (invalid JSON, missing fields, unparseable numbers).
type DecodeError struct {
	Rail Rail
	Op   string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: decode response: %v", e.Rail, e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UpstreamError means the upstream explicitly reported an error in a
// well-formed response (a JSON-RPC error object, a rippled error status).
type UpstreamError struct {
	Rail    Rail
	Op      string
	Code    string
	Message string
	Data    json.RawMessage
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: upstream error %s: %s", e.Rail, e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: upstream error %s", e.Rail, e.Op, e.Code)
}

// StatusError means the upstream rejected the request with a non-success
// HTTP status and no interpretable error body.
type StatusError struct {
	Rail       Rail
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http status %d", e.Rail, e.Op, e.StatusCode)
}

// TransportError wraps failures to reach the upstream at all.
type TransportError struct {
	Rail Rail
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Rail, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the transport failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsInfrastructure reports whether err is one of the infrastructure shapes
// (or a bare context deadline). Infrastructure errors never mark a purchase
// failed.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	var (
		de *DecodeError
		ue *UpstreamError
		se *StatusError
		te *TransportError
	)
	switch {
	case errors.As(err, &de), errors.As(err, &ue), errors.As(err, &se), errors.As(err, &te):
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTimeout reports whether err is a deadline expiry anywhere in the chain.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te) && te.Timeout()
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	var (
		de *DecodeError
		ue *UpstreamError
		se *StatusError
	)
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return "timeout"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &ue):
		return "upstream"
	case errors.As(err, &se):
		return "status"
	case IsInfrastructure(err):
		return "transport"
	default:
		return "internal"
	}
}
