package lvi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConnected is returned by any operation attempted while the
// session is not in StateConnected.
var ErrNotConnected = errors.New("lvi: not connected")

// AuthError reports a rejected or malformed credential exchange.
type AuthError struct {
	// Status is the HTTP status of the auth call, when one was
	// received.
	Status int
	// Code is the vendor result code ("3" means bad credentials).
	Code   string
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("lvi auth failed (http %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("lvi auth failed: %s", e.Reason)
}

// NetworkError wraps a transport-level failure (connection refused,
// timeout) on any call.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("lvi %s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError reports an unexpected response from a discovery call: a
// non-2xx status, a vendor error code, or a payload missing required
// fields.
type APIError struct {
	Path   string
	Status int
	Code   string
	Msg    string
	// RetryAfter carries the server's Retry-After header on 429
	// responses so callers can pace themselves. Zero otherwise.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	parts := []string{fmt.Sprintf("lvi api error on %s", e.Path)}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("http %d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code "+e.Code)
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	return strings.Join(parts, ": ")
}

// CommandFailure classifies why a command did not take effect.
type CommandFailure int

const (
	// UnknownDevice: the device id is absent from the registry. No
	// network call was made.
	UnknownDevice CommandFailure = iota
	// OutOfRange: the requested setpoint is outside the heater's
	// allowed range. No network call was made.
	OutOfRange
	// Rejected: the vendor service refused the command.
	Rejected
	// NetworkFailure: the command call failed at the transport level.
	NetworkFailure
)

func (f CommandFailure) String() string {
	switch f {
	case UnknownDevice:
		return "unknown device"
	case OutOfRange:
		return "out of range"
	case Rejected:
		return "rejected"
	case NetworkFailure:
		return "network failure"
	default:
		return "unknown"
	}
}

// CommandError reports a failed SetTemperature or SetControl.
type CommandError struct {
	DeviceID string
	Reason   CommandFailure
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lvi command for %s: %s: %v", e.DeviceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("lvi command for %s: %s", e.DeviceID, e.Reason)
}

func (e *CommandError) Unwrap() error { return e.Err }
