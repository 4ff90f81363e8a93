package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := Config("policy.yaml", "default_departments", "must not be empty")
	if got := err.Error(); got != "configuration error in policy.yaml (default_departments): must not be empty" {
		t.Errorf("Error() = %q", got)
	}
	wrapped := fmt.Errorf("load: %w", err)
	if !IsConfig(wrapped) {
		t.Error("IsConfig should see through wrapping")
	}
	if IsConfig(errors.New("other")) {
		t.Error("plain error is not a ConfigError")
	}
}

func TestUpstream(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrUpstreamTimeout},
		{"wrapped deadline", fmt.Errorf("search: %w", context.DeadlineExceeded), ErrUpstreamTimeout},
		{"other", errors.New("connection refused"), ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := Upstream("index search", tt.err)
			if !errors.Is(ue, tt.want) {
				t.Errorf("expected %v in chain, got %v", tt.want, ue)
			}
			if !errors.Is(ue, tt.err) {
				t.Error("original error should remain in chain")
			}
		})
	}
	if Upstream("x", nil) != nil {
		t.Error("nil error should yield nil")
	}
}
