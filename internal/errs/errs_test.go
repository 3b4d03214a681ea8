package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("plans step: %w", Malformed("parse plans", "no lines"))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatal("wrapped malformed error should match ErrMalformedResponse")
	}
	if errors.Is(err, ErrTransport) {
		t.Fatal("malformed error should not match ErrTransport")
	}
	if !Is(err, KindMalformedResponse) {
		t.Fatal("Is should see through wrapping")
	}
}

func TestRecoverableAndRetryable(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
		retryable   bool
	}{
		{"transport", Transport("send chat", context.DeadlineExceeded), true, true},
		{"auth", AuthOrRateLimit("send chat", "no choices"), true, false},
		{"malformed", Malformed("parse", "bad"), true, false},
		{"prompt state", PromptState("build", "no template"), false, false},
		{"invariant", DomainInvariant("rank", "len"), false, false},
		{"plain", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recoverable(tt.err); got != tt.recoverable {
				t.Errorf("Recoverable = %v, want %v", got, tt.recoverable)
			}
			if got := Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestTransportUnwrapsCause(t *testing.T) {
	err := Transport("embed", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatal("transport error should unwrap to its cause")
	}
	want := "embed: transport: context canceled"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
