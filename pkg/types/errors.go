package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors shared by transports and the supervisor.
var (
	ErrTimeout          = errors.New("operation timed out")
	ErrConnectionClosed = errors.New("connection closed")
	ErrOrderNotFound    = errors.New("order not found")
	ErrUnsupported      = errors.New("operation not supported by venue")
	ErrNoMidPrice       = errors.New("no mid price available")
)

// ErrorClass is the coarse taxonomy used to decide recovery behaviour.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTimeout
	ClassConnectionClosed
	ClassVenueRejected
	ClassMalformed
	ClassUnclassified
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTimeout:
		return "timeout"
	case ClassConnectionClosed:
		return "connection_closed"
	case ClassVenueRejected:
		return "venue_rejected"
	case ClassMalformed:
		return "malformed_response"
	default:
		return "unclassified"
	}
}

// Recoverable reports whether the class drives the reconnect path.
func (c ErrorClass) Recoverable() bool {
	return c == ClassTimeout || c == ClassConnectionClosed
}

// RejectReason is the diagnostic reason a venue rejected a request.
type RejectReason string

const (
	RejectInsufficientFunds RejectReason = "insufficient_funds"
	RejectPrecision         RejectReason = "precision"
	RejectFilter            RejectReason = "filter"
	RejectTimeout           RejectReason = "timeout"
	RejectNotFound          RejectReason = "not_found"
	RejectOther             RejectReason = "other"
)

// RejectedError is returned when the venue answered but refused the request.
type RejectedError struct {
	Venue   string
	Code    int64
	Reason  RejectReason
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request (%s, code %d): %s", e.Venue, e.Reason, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrOrderNotFound) and errors.Is(err, ErrTimeout) see through venue codes.
func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrOrderNotFound:
		return e.Reason == RejectNotFound
	case ErrTimeout:
		return e.Reason == RejectTimeout
	}
	return false
}

// MalformedResponseError is returned when a payload has an unrecognized shape.
type MalformedResponseError struct {
	Venue string
	Shape string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned malformed response: %s", e.Venue, e.Shape)
}

var connectionKeywords = []string{"connection", "socket", "network", "disconnect", "reset", "broken pipe"}

// Classify maps an error onto the taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return ClassVenueRejected
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return ClassMalformed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassConnectionClosed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnectionClosed
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return ClassTimeout
	}
	for _, kw := range connectionKeywords {
		if strings.Contains(msg, kw) {
			return ClassConnectionClosed
		}
	}
	return ClassUnclassified
}

// IsRecoverable is shorthand for Classify(err).Recoverable().
func IsRecoverable(err error) bool {
	return Classify(err).Recoverable()
}
