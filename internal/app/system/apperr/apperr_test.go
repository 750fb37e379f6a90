package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindInternal},
		{name: "plain", err: errors.New("x"), want: KindInternal},
		{name: "direct", err: Conflict(CodeSessionLimitExhausted, "active session exists"), want: KindConflict},
		{name: "wrapped", err: fmt.Errorf("start: %w", NotFound(CodeSessionNotFound, "gone")), want: KindNotFound},
		{name: "fatal", err: New(KindFatal, CodeRevertFailed, "revert failed", errors.New("db down")), want: KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := New(KindReverted, CodeChangesReverted, "changes reverted", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if CodeOf(err) != CodeChangesReverted {
		t.Errorf("CodeOf: got %q", CodeOf(err))
	}
	if !Is(err, KindReverted) || Is(err, KindFatal) {
		t.Error("Is reported the wrong kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation: http.StatusBadRequest,
		KindForbidden:  http.StatusForbidden,
		KindConflict:   http.StatusConflict,
		KindNotFound:   http.StatusNotFound,
		KindTransient:  http.StatusServiceUnavailable,
		KindReverted:   http.StatusServiceUnavailable,
		KindFatal:      http.StatusInternalServerError,
		KindInternal:   http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}
