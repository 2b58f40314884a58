package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/models"
	"github.com/apimarket/gateway/internal/services"
)

type fakeKeyStore struct {
	keys map[string]*models.APIKey
	err  error
}

func (s *fakeKeyStore) GetAPIKeyByKey(_ context.Context, key string) (*models.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.keys[key], nil
}

func (s *fakeKeyStore) GetAPIByID(context.Context, uuid.UUID) (*models.RegisteredAPI, error) {
	return nil, nil
}
func (s *fakeKeyStore) ListEndpoints(context.Context, uuid.UUID) ([]models.Endpoint, error) {
	return nil, nil
}
func (s *fakeKeyStore) GetEndpointByID(context.Context, uuid.UUID) (*models.Endpoint, error) {
	return nil, nil
}
func (s *fakeKeyStore) TouchAPIKey(context.Context, uuid.UUID) error { return nil }
func (s *fakeKeyStore) HasPurchase(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func authedHandler(t *testing.T, got **Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	quota := services.Quota{Name: "auth", Points: 3, Window: time.Minute, Block: 15 * time.Minute}
	userID := uuid.New()
	store := &fakeKeyStore{keys: map[string]*models.APIKey{
		"valid-key": {ID: uuid.New(), UserID: userID, Key: "valid-key", IsActive: true},
	}}

	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api-proxy/x/users", nil)
		r.RemoteAddr = "10.0.0.1:54321"
		return r
	}

	t.Run("valid key sets the identity", func(t *testing.T) {
		var ident *Identity
		mw := APIKeyAuth(store, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(authedHandler(t, &ident))

		r := newRequest()
		r.Header.Set("X-API-Key", "valid-key")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if ident == nil || ident.UserID != userID {
			t.Fatalf("identity = %+v", ident)
		}
		if ident.IP != "10.0.0.1" {
			t.Errorf("IP = %q", ident.IP)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		var ident *Identity
		mw := APIKeyAuth(store, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(authedHandler(t, &ident))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest())

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if ident != nil {
			t.Error("handler ran without credentials")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		mw := APIKeyAuth(store, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler ran with an unknown key")
		}))

		r := newRequest()
		r.Header.Set("X-API-Key", "nope")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("expired key", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		expStore := &fakeKeyStore{keys: map[string]*models.APIKey{
			"expired": {ID: uuid.New(), UserID: userID, Key: "expired", IsActive: true, ExpiresAt: &past},
		}}
		mw := APIKeyAuth(expStore, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler ran with an expired key")
		}))

		r := newRequest()
		r.Header.Set("X-API-Key", "expired")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("repeated failures get blocked", func(t *testing.T) {
		mw := APIKeyAuth(store, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		var last *httptest.ResponseRecorder
		for i := 0; i < 4; i++ {
			r := newRequest()
			r.Header.Set("X-API-Key", "brute-force-guess")
			last = httptest.NewRecorder()
			h.ServeHTTP(last, r)
		}

		if last.Code != http.StatusTooManyRequests {
			t.Fatalf("status after repeated failures = %d, want 429", last.Code)
		}
		retry, err := strconv.Atoi(last.Header().Get("Retry-After"))
		if err != nil || retry < 1 {
			t.Errorf("Retry-After = %q, want a positive integer", last.Header().Get("Retry-After"))
		}
	})

	t.Run("database error is a 500, not an auth failure", func(t *testing.T) {
		errStore := &fakeKeyStore{err: errors.New("connection refused")}
		mw := APIKeyAuth(errStore, services.NewLimiter(nil, zerolog.Nop()), quota, zerolog.Nop())
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		r := newRequest()
		r.Header.Set("X-API-Key", "valid-key")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.10:4321"
		return r
	}

	t.Run("x-forwarded-for first hop", func(t *testing.T) {
		r := newRequest()
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
		if got := ClientIP(r); got != "203.0.113.5" {
			t.Errorf("ClientIP = %q", got)
		}
	})

	t.Run("x-real-ip", func(t *testing.T) {
		r := newRequest()
		r.Header.Set("X-Real-IP", "203.0.113.9")
		if got := ClientIP(r); got != "203.0.113.9" {
			t.Errorf("ClientIP = %q", got)
		}
	})

	t.Run("remote addr", func(t *testing.T) {
		if got := ClientIP(newRequest()); got != "192.0.2.10" {
			t.Errorf("ClientIP = %q", got)
		}
	})
}
