package services

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQuotaStoreConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the quota", func(t *testing.T) {
		s := NewMemoryQuotaStore()
		q := Quota{Name: "general", Points: 3, Window: time.Minute}

		for i := 0; i < 3; i++ {
			res, err := s.Consume(ctx, q, "1.2.3.4")
			if err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if !res.Allowed {
				t.Fatalf("call %d denied, want allowed", i+1)
			}
			if res.Remaining != 3-(i+1) {
				t.Errorf("call %d remaining = %d, want %d", i+1, res.Remaining, 3-(i+1))
			}
		}

		res, err := s.Consume(ctx, q, "1.2.3.4")
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if res.Allowed {
			t.Error("call over quota allowed, want denied")
		}
		if res.RetryAfter <= 0 {
			t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
		}
	})

	t.Run("identities are independent", func(t *testing.T) {
		s := NewMemoryQuotaStore()
		q := Quota{Name: "general", Points: 1, Window: time.Minute}

		if res, _ := s.Consume(ctx, q, "a"); !res.Allowed {
			t.Fatal("first call for a denied")
		}
		if res, _ := s.Consume(ctx, q, "a"); res.Allowed {
			t.Fatal("second call for a allowed")
		}
		if res, _ := s.Consume(ctx, q, "b"); !res.Allowed {
			t.Error("b should have its own counter")
		}
	})

	t.Run("scopes are independent", func(t *testing.T) {
		s := NewMemoryQuotaStore()
		general := Quota{Name: "general", Points: 1, Window: time.Minute}
		auth := Quota{Name: "auth", Points: 1, Window: time.Minute}

		if res, _ := s.Consume(ctx, general, "a"); !res.Allowed {
			t.Fatal("first general call denied")
		}
		if res, _ := s.Consume(ctx, auth, "a"); !res.Allowed {
			t.Error("auth scope should not share the general counter")
		}
	})

	t.Run("window resets the counter", func(t *testing.T) {
		s := NewMemoryQuotaStore()
		q := Quota{Name: "general", Points: 1, Window: 50 * time.Millisecond}

		if res, _ := s.Consume(ctx, q, "a"); !res.Allowed {
			t.Fatal("first call denied")
		}
		if res, _ := s.Consume(ctx, q, "a"); res.Allowed {
			t.Fatal("second call allowed inside window")
		}

		time.Sleep(60 * time.Millisecond)

		if res, _ := s.Consume(ctx, q, "a"); !res.Allowed {
			t.Error("call after window reset denied")
		}
	})

	t.Run("block outlasts the window", func(t *testing.T) {
		s := NewMemoryQuotaStore()
		q := Quota{Name: "auth", Points: 1, Window: 30 * time.Millisecond, Block: time.Hour}

		s.Consume(ctx, q, "a")
		res, _ := s.Consume(ctx, q, "a")
		if res.Allowed {
			t.Fatal("breach allowed")
		}
		if res.RetryAfter < 30*time.Minute {
			t.Errorf("RetryAfter = %v, want the block duration", res.RetryAfter)
		}

		time.Sleep(40 * time.Millisecond)

		res, _ = s.Consume(ctx, q, "a")
		if res.Allowed {
			t.Error("blocked identity allowed after the window expired")
		}
	})
}

func TestMemoryQuotaStoreCleanup(t *testing.T) {
	s := NewMemoryQuotaStore()
	q := Quota{Name: "general", Points: 5, Window: time.Minute}

	if _, err := s.Consume(context.Background(), q, "old"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	s.mu.Lock()
	s.windows["general:old"].lastSeen = time.Now().Add(-25 * time.Hour)
	s.lastCleanup = time.Now().Add(-2 * memCleanupInterval)
	s.mu.Unlock()

	if _, err := s.Consume(context.Background(), q, "fresh"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	s.mu.Lock()
	_, stale := s.windows["general:old"]
	_, fresh := s.windows["general:fresh"]
	s.mu.Unlock()

	if stale {
		t.Error("stale window survived cleanup")
	}
	if !fresh {
		t.Error("fresh window was swept")
	}
}
