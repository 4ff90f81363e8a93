// Package errs defines the error taxonomy shared by the retrieval pipeline.
//
// Configuration errors are fatal at startup. Upstream errors come from the external
// similarity index (or generator) and are recovered by the pipeline into the empty
// result branch; they never reach the transport layer as-is.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel upstream conditions.
var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ConfigError reports malformed or missing policy, selection, weight or normalizer
// configuration. A process holding one must not serve requests.
type ConfigError struct {
	Source string // file path or config section
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Source != "":
		return fmt.Sprintf("configuration error in %s (%s): %v", e.Source, e.Field, e.Err)
	case e.Source != "":
		return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config builds a ConfigError with a formatted cause.
func Config(source, field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Source: source, Field: field, Err: fmt.Errorf(format, args...)}
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// UpstreamError wraps a failure of an external collaborator call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream classifies err from operation op. Deadline expiry maps to ErrUpstreamTimeout,
// everything else to ErrUpstreamUnavailable; the original error stays in the chain.
func Upstream(op string, err error) *UpstreamError {
	if err == nil {
		return nil
	}
	kind := ErrUpstreamUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
		kind = ErrUpstreamTimeout
	}
	return &UpstreamError{Op: op, Err: fmt.Errorf("%w: %w", kind, err)}
}
