package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/models"
)

type fakeAnalyticsStore struct {
	mu      sync.Mutex
	logs    []models.APICallLog
	updates []struct {
		apiID      uuid.UUID
		statusCode int
		responseMs int
	}
	insertErr error
	updateErr error
}

func (s *fakeAnalyticsStore) InsertCallLog(_ context.Context, entry *models.APICallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *fakeAnalyticsStore) UpdateAnalytics(_ context.Context, apiID uuid.UUID, statusCode, responseTimeMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, struct {
		apiID      uuid.UUID
		statusCode int
		responseMs int
	}{apiID, statusCode, responseTimeMs})
	return nil
}

func (s *fakeAnalyticsStore) CountRecentCalls(context.Context, uuid.UUID, uuid.UUID, time.Time) (int, error) {
	return 0, nil
}

func TestRecorder(t *testing.T) {
	t.Run("writes log and aggregate", func(t *testing.T) {
		store := &fakeAnalyticsStore{}
		rec := NewRecorder(store, time.Second, zerolog.Nop())

		apiID := uuid.New()
		consumer := uuid.New()
		country := "DE"
		rec.Record(CallRecord{
			APIID:      apiID,
			StatusCode: 200,
			Duration:   150 * time.Millisecond,
			Endpoint:   "GET /users/{id}",
			ConsumerID: &consumer,
			Country:    &country,
			UserAgent:  "test-agent",
		})
		rec.Wait()

		store.mu.Lock()
		defer store.mu.Unlock()
		if len(store.logs) != 1 {
			t.Fatalf("got %d log rows, want 1", len(store.logs))
		}
		entry := store.logs[0]
		if entry.APIID != apiID || entry.StatusCode != 200 || entry.ResponseTimeMs != 150 {
			t.Errorf("log row = %+v", entry)
		}
		if entry.ConsumerID == nil || *entry.ConsumerID != consumer {
			t.Error("consumer not recorded")
		}
		if len(store.updates) != 1 {
			t.Fatalf("got %d aggregate updates, want 1", len(store.updates))
		}
		if u := store.updates[0]; u.apiID != apiID || u.statusCode != 200 || u.responseMs != 150 {
			t.Errorf("aggregate update = %+v", u)
		}
	})

	t.Run("insert failure still updates the aggregate", func(t *testing.T) {
		store := &fakeAnalyticsStore{insertErr: errors.New("connection reset")}
		rec := NewRecorder(store, time.Second, zerolog.Nop())

		rec.Record(CallRecord{APIID: uuid.New(), StatusCode: 502})
		rec.Wait()

		store.mu.Lock()
		defer store.mu.Unlock()
		if len(store.updates) != 1 {
			t.Errorf("got %d aggregate updates, want 1", len(store.updates))
		}
	})

	t.Run("many concurrent records all land", func(t *testing.T) {
		store := &fakeAnalyticsStore{}
		rec := NewRecorder(store, time.Second, zerolog.Nop())

		apiID := uuid.New()
		for i := 0; i < 50; i++ {
			rec.Record(CallRecord{APIID: apiID, StatusCode: 200, Duration: time.Millisecond})
		}
		rec.Wait()

		store.mu.Lock()
		defer store.mu.Unlock()
		if len(store.logs) != 50 || len(store.updates) != 50 {
			t.Errorf("got %d logs and %d updates, want 50 each", len(store.logs), len(store.updates))
		}
	})
}
