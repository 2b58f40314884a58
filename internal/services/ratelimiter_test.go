package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubQuotaStore struct {
	res   Result
	err   error
	calls int
}

func (s *stubQuotaStore) Consume(context.Context, Quota, string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestLimiterConsume(t *testing.T) {
	ctx := context.Background()
	q := Quota{Name: "general", Points: 10, Window: time.Minute}

	t.Run("passes through the store result", func(t *testing.T) {
		store := &stubQuotaStore{res: Result{Allowed: true, Remaining: 7}}
		l := NewLimiter(store, zerolog.Nop())

		res := l.Consume(ctx, q, "1.2.3.4")
		if !res.Allowed || res.Remaining != 7 {
			t.Errorf("Consume = %+v, want the store result", res)
		}
		if store.calls != 1 {
			t.Errorf("store called %d times, want 1", store.calls)
		}
	})

	t.Run("falls back on store error", func(t *testing.T) {
		store := &stubQuotaStore{err: errors.New("connection refused")}
		l := NewLimiter(store, zerolog.Nop())

		res := l.Consume(ctx, q, "1.2.3.4")
		if !res.Allowed {
			t.Error("fallback should still allow the first call")
		}
		if res.Remaining != q.Points-1 {
			t.Errorf("Remaining = %d, want %d from the in-memory counter", res.Remaining, q.Points-1)
		}
	})

	t.Run("skips the store while degraded", func(t *testing.T) {
		store := &stubQuotaStore{err: errors.New("connection refused")}
		l := NewLimiter(store, zerolog.Nop())

		l.Consume(ctx, q, "1.2.3.4")
		l.Consume(ctx, q, "1.2.3.4")
		l.Consume(ctx, q, "1.2.3.4")

		if store.calls != 1 {
			t.Errorf("store called %d times during cooldown, want 1", store.calls)
		}
	})

	t.Run("fallback enforces the quota", func(t *testing.T) {
		store := &stubQuotaStore{err: errors.New("connection refused")}
		l := NewLimiter(store, zerolog.Nop())
		small := Quota{Name: "general", Points: 2, Window: time.Minute}

		l.Consume(ctx, small, "a")
		l.Consume(ctx, small, "a")
		res := l.Consume(ctx, small, "a")
		if res.Allowed {
			t.Error("third call allowed, want the fallback to deny it")
		}
	})

	t.Run("nil store uses the fallback", func(t *testing.T) {
		l := NewLimiter(nil, zerolog.Nop())
		if res := l.Consume(ctx, q, "a"); !res.Allowed {
			t.Error("first call denied")
		}
	})
}
