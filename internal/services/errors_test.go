package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestErrorKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want int
	}{
		{ErrBadRequest, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrInternal, http.StatusInternalServerError},
		{ErrGatewayTimeout, http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("HTTPStatus(%d) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{Kind: ErrGatewayTimeout, Code: "upstream_unreachable", Message: "Gateway Timeout", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if msg := err.Error(); msg != "upstream_unreachable: Gateway Timeout: dial tcp: connection refused" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestRespondError(t *testing.T) {
	t.Run("domain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, NewForbidden("access_denied", "You do not have access to this API"))

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("body not JSON: %v", err)
		}
		if body["error"] != "access_denied" {
			t.Errorf("error code = %q", body["error"])
		}
	})

	t.Run("wrapped domain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, fmt.Errorf("handling call: %w", NewNotFound("api_not_found", "API not found")))

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("unknown error", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, errors.New("pq: password authentication failed for user"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
		if body := w.Body.String(); strings.Contains(body, "pq:") || strings.Contains(body, "password") {
			t.Errorf("internal detail leaked: %s", body)
		}
	})
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(NewBadRequest("x", "y")); got != http.StatusBadRequest {
		t.Errorf("StatusFor = %d, want 400", got)
	}
	if got := StatusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("StatusFor = %d, want 500", got)
	}
}
