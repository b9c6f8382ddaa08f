package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(Validation, "url is required"), Validation},
		{"wrapped once", fmt.Errorf("create report: %w", New(State, "already deleted")), State},
		{"wrapped cause", Wrap(Fetch, errors.New("connection reset"), "fetch page"), Fetch},
		{"plain error", errors.New("disk full"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation is permanent", New(Validation, "bad url"), false},
		{"auth is permanent", New(Auth, "unknown token"), false},
		{"not found is permanent", New(NotFound, "no such project"), false},
		{"state is permanent", New(State, "report still running"), false},
		{"fetch is transient", New(Fetch, "timeout"), true},
		{"generation is transient", New(Generation, "model overloaded"), true},
		{"unclassified is transient", errors.New("database is locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	err := Wrap(Fetch, errors.New("tls handshake failed"), "fetch https://example.com")
	want := "fetch https://example.com: tls handshake failed"
	if got := Message(err); got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("run audit: %w", New(Generation, "schema parse failed"))
	if got := Message(wrapped); got != "schema parse failed" {
		t.Errorf("Message() = %q, want %q", got, "schema parse failed")
	}

	plain := errors.New("disk full")
	if got := Message(plain); got != "disk full" {
		t.Errorf("Message() = %q, want %q", got, "disk full")
	}
}

func TestErrorString(t *testing.T) {
	err := New(NotFound, "report 42")
	if got := err.Error(); got != "not_found: report 42" {
		t.Errorf("Error() = %q", got)
	}
	withCause := Wrap(Internal, errors.New("no rows"), "load project")
	if got := withCause.Error(); got != "internal: load project: no rows" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withCause, withCause.Err) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}
