package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/storage"
)

// idempotencyHeader carries the queue item ID on replay so the server can
// deduplicate at-least-once delivery.
const idempotencyHeader = "X-Idempotency-Key"

// syncPayload is the body POSTed to the sync endpoint when submitting
// completed sessions.
type syncPayload struct {
	Sessions []storage.TrackingSession `json:"sessions"`
	SyncedAt time.Time                 `json:"syncedAt"`
}

// ReplayResult summarizes one replay pass over the offline queue.
type ReplayResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Syncer submits tracking data to the configured sync endpoint and replays
// the offline queue. Submissions go through the caching transport so a
// submission made while offline is queued instead of lost; replay goes
// straight to the network, replaying through the interceptor would re-queue
// its own failures.
type Syncer struct {
	queue    storage.QueueStore
	sessions storage.SessionStore
	endpoint string
	submit   *http.Client // wraps the offline transport
	direct   *http.Client // plain network, used for replay
	clk      clock.Clock
	logger   zerolog.Logger
}

// NewSyncer creates a syncer. transport is the offline-intercepting
// transport, direct is the raw network transport.
func NewSyncer(queue storage.QueueStore, sessions storage.SessionStore, endpoint string, transport, direct http.RoundTripper, timeout time.Duration, clk clock.Clock, logger zerolog.Logger) *Syncer {
	if direct == nil {
		direct = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{
		queue:    queue,
		sessions: sessions,
		endpoint: endpoint,
		submit:   &http.Client{Transport: transport, Timeout: timeout},
		direct:   &http.Client{Transport: direct, Timeout: timeout},
		clk:      clk,
		logger:   logger.With().Str("component", "sync").Logger(),
	}
}

// SubmitSessions POSTs completed sessions to the sync endpoint. When the
// network is down the request lands in the offline queue and the call still
// succeeds; the data syncs on the next replay.
func (s *Syncer) SubmitSessions(ctx context.Context, sessions []storage.TrackingSession) error {
	if s.endpoint == "" || len(sessions) == 0 {
		return nil
	}

	payload, err := json.Marshal(syncPayload{Sessions: sessions, SyncedAt: s.clk.Now()})
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.submit.Do(req)
	if err != nil {
		return fmt.Errorf("submit sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get(queuedHeader) != "" {
		s.logger.Info().Int("sessions", len(sessions)).Msg("Sync endpoint unreachable, sessions queued")
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync endpoint returned status %d", resp.StatusCode)
	}

	if err := s.sessions.SetLastSync(ctx, s.clk.Now()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record last sync timestamp")
	}
	s.logger.Info().Int("sessions", len(sessions)).Msg("Sessions synced")
	return nil
}

// Replay walks the offline queue oldest-first and re-issues each request
// with its original method, headers and body plus an idempotency key. One
// best-effort pass: successes are deleted, failures stay queued in their
// original relative order for the next trigger. There is deliberately no
// backoff or poison-item detection; a permanently failing item retries on
// every pass.
func (s *Syncer) Replay(ctx context.Context) (ReplayResult, error) {
	items, err := s.queue.List(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list offline queue: %w", err)
	}

	var result ReplayResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		if s.replayItem(ctx, item) {
			if err := s.queue.Delete(ctx, item.ID); err != nil {
				metrics.PersistenceErrors.Inc()
				s.logger.Error().Err(err).Str("queue_id", item.ID).Msg("Failed to remove synced queue item")
				continue
			}
			result.Synced++
			metrics.ReplaySuccesses.Inc()
		} else {
			result.Failed++
			metrics.ReplayFailures.Inc()
		}
	}

	if depth, err := s.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
		if depth == 0 && result.Synced > 0 {
			if err := s.sessions.SetLastSync(ctx, s.clk.Now()); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to record last sync timestamp")
			}
		}
	}

	if result.Synced > 0 || result.Failed > 0 {
		s.logger.Info().
			Int("synced", result.Synced).
			Int("failed", result.Failed).
			Msg("Offline queue replay finished")
	}
	return result, nil
}

// replayItem reports whether the item was accepted by the server. Only a
// 2xx counts; any reachable-server error keeps the item queued too, the
// next pass may hit a recovered backend.
func (s *Syncer) replayItem(ctx context.Context, item storage.QueueItem) bool {
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, bytes.NewReader(item.Body))
	if err != nil {
		s.logger.Error().Err(err).Str("queue_id", item.ID).Msg("Malformed queued request")
		return false
	}
	for k, vs := range item.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(idempotencyHeader, item.ID)

	resp, err := s.direct.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Str("queue_id", item.ID).Msg("Replay failed, keeping item queued")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run replays the queue on a fixed interval until the context ends.
// interval <= 0 disables periodic sync; explicit triggers still work.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Replay(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Periodic sync failed")
			}
		}
	}
}
