package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("disk full")
	err := NewError(ErrPersistence, "record update failed").
		WithCause(root).
		WithRetryable(true)

	if GetErrorCode(err) != ErrPersistence {
		t.Fatalf("expected code %s, got %s", ErrPersistence, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", err.HTTPStatus)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("dispatch: %w", NewError(ErrNotVerified, "identity not verified"))

	if !errors.Is(wrapped, NewError(ErrNotVerified, "")) {
		t.Fatalf("expected code match through wrapping")
	}
	if errors.Is(wrapped, NewError(ErrNotFound, "")) {
		t.Fatalf("unexpected match on different code")
	}
	if !IsErrorCode(wrapped, ErrNotVerified) {
		t.Fatalf("expected IsErrorCode to see wrapped code")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestDefaultHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrNotFound:             http.StatusNotFound,
		ErrNoTaskLoaded:         http.StatusConflict,
		ErrNotVerified:          http.StatusForbidden,
		ErrVerificationMismatch: http.StatusUnprocessableEntity,
		ErrSessionComplete:      http.StatusConflict,
		ErrInvalidRequest:       http.StatusBadRequest,
		ErrorCode("SOMETHING"):  http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := DefaultHTTPStatus(code); got != want {
			t.Errorf("%s: want %d, got %d", code, want, got)
		}
	}
}
