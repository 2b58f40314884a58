package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/models"
)

// CallRecord is one call outcome to persist.
type CallRecord struct {
	APIID        uuid.UUID
	StatusCode   int
	Duration     time.Duration
	Endpoint     string
	ConsumerID   *uuid.UUID
	Country      *string
	UserAgent    string
	ErrorMessage *string
}

// Recorder persists call outcomes off the request path: every Record spawns
// a detached write with its own deadline, so the caller-visible response
// never waits on analytics. Write failures are logged and swallowed.
type Recorder struct {
	store   database.AnalyticsStore
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewRecorder(store database.AnalyticsStore, timeout time.Duration, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Record fires and forgets one call outcome.
func (r *Recorder) Record(rec CallRecord) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.record(rec)
	}()
}

func (r *Recorder) record(rec CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	entry := &models.APICallLog{
		APIID:          rec.APIID,
		StatusCode:     rec.StatusCode,
		ResponseTimeMs: int(rec.Duration.Milliseconds()),
		Endpoint:       rec.Endpoint,
		ConsumerID:     rec.ConsumerID,
		Country:        rec.Country,
		UserAgent:      rec.UserAgent,
		ErrorMessage:   rec.ErrorMessage,
	}

	if err := r.store.InsertCallLog(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("api_id", rec.APIID.String()).Msg("failed to write call log")
	}

	if err := r.store.UpdateAnalytics(ctx, rec.APIID, rec.StatusCode, entry.ResponseTimeMs); err != nil {
		r.logger.Error().Err(err).Str("api_id", rec.APIID.String()).Msg("failed to update analytics aggregate")
	}
}

// Wait blocks until all in-flight writes finish. Called on shutdown.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
