package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: Validation("bad"), want: http.StatusBadRequest},
		{name: "unauthorized", err: Unauthorized("no"), want: http.StatusUnauthorized},
		{name: "forbidden", err: Forbidden("no"), want: http.StatusForbidden},
		{name: "not found", err: NotFound("x"), want: http.StatusNotFound},
		{name: "not recognized", err: NotRecognized("x"), want: http.StatusNotFound},
		{name: "unknown subject", err: UnknownSubject("x"), want: http.StatusNotFound},
		{name: "already marked", err: AlreadyMarked("x"), want: http.StatusConflict},
		{name: "conflict", err: Conflict("x"), want: http.StatusConflict},
		{name: "service disabled", err: ServiceDisabled("x"), want: http.StatusServiceUnavailable},
		{name: "gateway unavailable", err: GatewayUnavailable(errors.New("dial")), want: http.StatusServiceUnavailable},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
		{name: "wrapped typed error", err: fmt.Errorf("mark: %w", AlreadyMarked("x")), want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetryableAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	gw := GatewayUnavailable(cause)
	if !Retryable(gw) {
		t.Error("gateway errors should be retryable")
	}
	if Retryable(NotRecognized("no match")) {
		t.Error("not recognized should not be retryable")
	}
	if !errors.Is(gw, cause) {
		t.Error("GatewayUnavailable should unwrap to its cause")
	}
	if got := Message(errors.New("pq: secret detail")); got != "internal error" {
		t.Errorf("Message() leaked internal text: %q", got)
	}
	if got := Message(Validation("userId is required")); got != "userId is required" {
		t.Errorf("Message() = %q", got)
	}
}
