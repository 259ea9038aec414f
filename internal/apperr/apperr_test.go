package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("gone"), http.StatusNotFound},
		{RateLimited("slow down"), http.StatusTooManyRequests},
		{Upstream("erp down", nil), http.StatusBadGateway},
		{Store("write failed", nil), http.StatusServiceUnavailable},
		{Internal("boom", nil), http.StatusInternalServerError},
		{&Error{Kind: KindUnauthorized}, http.StatusUnauthorized},
		{&Error{Kind: KindForbidden}, http.StatusForbidden},
	}

	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("%s: HTTPStatus = %d, want %d", tt.err.Kind, got, tt.want)
		}
	}
}

func TestUnwrapAndIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("erp fetch failed", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !errors.Is(fmt.Errorf("outer: %w", err), &Error{Kind: KindUpstream}) {
		t.Error("kind matching through wrapping failed")
	}
	if errors.Is(err, &Error{Kind: KindStore}) {
		t.Error("kind mismatch reported as match")
	}
}

func TestFrom(t *testing.T) {
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}

	plain := errors.New("plain")
	ae := From(plain)
	if ae.Kind != KindInternal {
		t.Errorf("From(plain).Kind = %s", ae.Kind)
	}
	if !errors.Is(ae, plain) {
		t.Error("From must preserve the cause chain")
	}

	orig := Validation("bad limit", "limit must be 1..1000")
	if got := From(fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Error("From should unwrap to the original *Error")
	}
}

func TestValidationDetails(t *testing.T) {
	err := Validation("invalid request", "limit must be 1..1000", "unknown entity type")
	if len(err.Details) != 2 {
		t.Fatalf("Details = %v", err.Details)
	}
}
