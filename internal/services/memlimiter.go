package services

import (
	"context"
	"sync"
	"time"
)

const (
	memCleanupInterval = 5 * time.Minute
	memStaleEntryTTL   = 24 * time.Hour
)

// MemoryQuotaStore is the in-process fallback counter store used while the
// shared store is unavailable. Same quota semantics: fixed window plus an
// optional block once exceeded. Stale entries are swept opportunistically.
type MemoryQuotaStore struct {
	mu          sync.Mutex
	windows     map[string]*memWindow
	lastCleanup time.Time
}

type memWindow struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{
		windows:     make(map[string]*memWindow),
		lastCleanup: time.Now(),
	}
}

func (s *MemoryQuotaStore) Consume(_ context.Context, q Quota, identity string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := q.Name + ":" + identity

	w, ok := s.windows[key]
	if !ok || (now.After(w.resetAt) && now.After(w.blockedUntil)) {
		s.windows[key] = &memWindow{
			count:    1,
			resetAt:  now.Add(q.Window),
			lastSeen: now,
		}
		s.cleanupLocked(now)
		return Result{Allowed: true, Remaining: q.Points - 1, Reset: q.Window}, nil
	}

	w.lastSeen = now

	if now.Before(w.blockedUntil) {
		retry := w.blockedUntil.Sub(now)
		s.cleanupLocked(now)
		return Result{Allowed: false, Reset: retry, RetryAfter: retry}, nil
	}

	if now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(q.Window)
	}

	w.count++
	reset := w.resetAt.Sub(now)

	if w.count > q.Points {
		retry := reset
		if q.Block > 0 {
			w.blockedUntil = now.Add(q.Block)
			retry = q.Block
		}
		s.cleanupLocked(now)
		return Result{Allowed: false, Reset: reset, RetryAfter: retry}, nil
	}

	s.cleanupLocked(now)
	return Result{Allowed: true, Remaining: q.Points - w.count, Reset: reset}, nil
}

func (s *MemoryQuotaStore) cleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < memCleanupInterval {
		return
	}

	for key, w := range s.windows {
		if now.Sub(w.lastSeen) > memStaleEntryTTL && now.After(w.blockedUntil) {
			delete(s.windows, key)
		}
	}

	s.lastCleanup = now
}
