package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHTTP_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("invalid_age", "age out of range"), http.StatusBadRequest},
		{"forbidden", Forbidden("not_owner", "not yours"), http.StatusForbidden},
		{"unauthenticated", Unauthenticated("missing session"), http.StatusUnauthorized},
		{"not found", NotFound("doctor_not_found", "no doctor"), http.StatusNotFound},
		{"conflict", Conflict("invalid_transition", "bad", "accepted"), http.StatusConflict},
		{"upstream", Upstream("provider_unavailable", "down", errors.New("timeout")), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("create: %w", NotFound("x", "y")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := HTTP(tt.err)
			if he.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, he.Code)
			}
		})
	}
}

func TestHTTP_ConflictCarriesCurrentStatus(t *testing.T) {
	he := HTTP(Conflict("invalid_transition", "cannot accept", "accepted"))
	body, ok := he.Message.(Body)
	if !ok {
		t.Fatalf("expected Body message, got %T", he.Message)
	}
	if body.CurrentStatus != "accepted" {
		t.Errorf("expected current_status accepted, got %q", body.CurrentStatus)
	}
	if body.Code != "invalid_transition" {
		t.Errorf("expected code invalid_transition, got %q", body.Code)
	}
}

func TestHTTP_PlainErrorDoesNotLeak(t *testing.T) {
	he := HTTP(errors.New("password=hunter2"))
	body := he.Message.(Body)
	if body.Message != "internal server error" {
		t.Errorf("unexpected message %q", body.Message)
	}
	if he.Internal == nil {
		t.Error("expected original error kept as internal")
	}
}

func TestHTTP_PassesEchoErrors(t *testing.T) {
	orig := echo.NewHTTPError(http.StatusTeapot, "teapot")
	if got := HTTP(orig); got != orig {
		t.Error("expected echo errors to pass through")
	}
}

func TestIsAndRetryable(t *testing.T) {
	err := fmt.Errorf("sync: %w", Upstream("provider_unavailable", "down", nil))
	if !Is(err, KindUpstream) {
		t.Error("expected upstream kind")
	}
	ae, _ := As(err)
	if !ae.Retryable() {
		t.Error("upstream errors are retryable")
	}
	if Validation("x", "y").Retryable() {
		t.Error("validation errors are not retryable")
	}
}
