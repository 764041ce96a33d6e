package swaperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("failed to create swap: %w", Invalid(CodeSelfSwap, "participant equals initiator"))

	if !errors.Is(err, ErrInvalidParameters) {
		t.Error("expected wrapped error to match ErrInvalidParameters")
	}
	if !errors.Is(err, &Error{Kind: KindInvalidParameters, Code: CodeSelfSwap}) {
		t.Error("expected wrapped error to match its code")
	}
	if errors.Is(err, &Error{Kind: KindInvalidParameters, Code: CodeZeroAddress}) {
		t.Error("expected code mismatch not to match")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("expected kind mismatch not to match")
	}
}

func TestKindOfAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"plain error is transient", errors.New("connection reset"), KindTransient, true},
		{"transient", Transient("submit", errors.New("timeout")), KindTransient, true},
		{"secret mismatch", New(KindSecretMismatch, "claim", nil), KindSecretMismatch, false},
		{"not open", fmt.Errorf("wrapped: %w", ErrNotOpen), KindNotOpen, false},
		{"deadline", Newf(KindDeadlineExceeded, "claim", "expired at %d", 10), KindDeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %s, want %s", got, tt.kind)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}

	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindInvalidParameters, Code: CodeUnknownAsset, Op: "validate", Err: errors.New("asset DOGE")}
	want := "validate: INVALID_PARAMETERS(unknown_asset): asset DOGE"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
