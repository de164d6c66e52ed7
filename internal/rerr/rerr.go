// Package rerr defines the routing proxy's stable, structured error kinds
// (spec §7). Errors carry a Kind alongside the usual wrapped cause, in the
// sentinel-error style the circuit breaker package used for ErrCircuitOpen:
// callers discriminate with errors.As, not string matching.
package rerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification surfaced to callers and metrics.
// Never format these into user-facing text directly — Error() already does.
type Kind string

const (
	// ConfigurationInvalid: malformed user config or referenced provider/model missing. Fatal at startup.
	ConfigurationInvalid Kind = "configuration_invalid"
	// StartupFailed: a stage or handshake failed. Fatal at startup.
	StartupFailed Kind = "startup_failed"
	// NoRoute: no pipeline available for the virtual model.
	NoRoute Kind = "no_route"
	// UpstreamTimeout: the Server stage's upstream call exceeded its deadline.
	UpstreamTimeout Kind = "upstream_timeout"
	// UpstreamTransient: 5xx or connection reset from the upstream.
	UpstreamTransient Kind = "upstream_transient"
	// UpstreamRateLimited: HTTP 429 or provider-equivalent.
	UpstreamRateLimited Kind = "upstream_rate_limited"
	// UpstreamAuth: HTTP 401/403 or provider-specific auth failure.
	UpstreamAuth Kind = "upstream_auth"
	// ProtocolMismatch: a Transformer/Protocol/ServerCompatibility stage
	// received an input it cannot shape. Non-retryable.
	ProtocolMismatch Kind = "protocol_mismatch"
	// ExecutionCancelled: cancellation from destroyPipeline or a timeout.
	ExecutionCancelled Kind = "execution_cancelled"
	// HandshakeFailed: surfaced during pipeline init only.
	HandshakeFailed Kind = "handshake_failed"
)

// Error wraps a cause with a stable Kind. Use New or Wrap to construct one;
// use errors.As to recover the Kind from an error chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error wrapping cause. Returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err's chain, returning ok=false if err does
// not wrap a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's chain carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
