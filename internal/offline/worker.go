// Package offline implements the offline cache and sync worker: an
// intercepting HTTP transport with per-class caching strategies, a durable
// queue for mutating requests made while offline, and FIFO replay on sync.
package offline

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/storage"
)

// Phase is a worker lifecycle state. Each cache version runs the full
// sequence once; after that the worker stays active until shutdown.
type Phase string

const (
	PhaseInstalling    Phase = "installing"
	PhaseCachingStatic Phase = "caching-static-assets"
	PhaseActivating    Phase = "activating"
	PhaseEvicting      Phase = "evicting-stale-caches"
	PhaseActive        Phase = "active"
)

// Worker drives the cache lifecycle for one cache version: precache critical
// routes, then evict every namespace belonging to older versions. Request
// interception itself lives on Transport; the worker owns setup and
// teardown of the cache generation.
type Worker struct {
	transport *Transport
	caches    storage.CacheStore
	baseURL   string
	routes    []string
	logger    zerolog.Logger

	mu    sync.Mutex
	phase Phase
}

// NewWorker creates a worker over the given transport.
func NewWorker(transport *Transport, caches storage.CacheStore, baseURL string, criticalRoutes []string, logger zerolog.Logger) *Worker {
	return &Worker{
		transport: transport,
		caches:    caches,
		baseURL:   strings.TrimRight(baseURL, "/"),
		routes:    criticalRoutes,
		logger:    logger.With().Str("component", "offline").Logger(),
		phase:     PhaseInstalling,
	}
}

// Phase returns the current lifecycle phase.
func (w *Worker) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

func (w *Worker) setPhase(p Phase) {
	w.mu.Lock()
	w.phase = p
	w.mu.Unlock()
	w.logger.Info().Str("phase", string(p)).Msg("Worker phase changed")
}

// Activate runs the lifecycle to completion: precache critical routes into
// the static namespace, then delete every cache namespace that doesn't
// belong to the current version. Precache failures are logged and skipped,
// a single unreachable route must not block offline operation. Eviction
// failures abort, leaving stale caches behind would mix generations.
func (w *Worker) Activate(ctx context.Context) error {
	w.setPhase(PhaseInstalling)

	w.setPhase(PhaseCachingStatic)
	for _, route := range w.routes {
		if err := w.precache(ctx, route); err != nil {
			w.logger.Warn().Err(err).Str("route", route).Msg("Failed to precache route")
		}
	}

	w.setPhase(PhaseActivating)

	w.setPhase(PhaseEvicting)
	if err := w.evictStale(ctx); err != nil {
		return err
	}

	w.setPhase(PhaseActive)
	return nil
}

// precache fetches one critical route and stores it in the static namespace.
func (w *Worker) precache(ctx context.Context, route string) error {
	url := route
	if strings.HasPrefix(route, "/") {
		url = w.baseURL + route
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return w.transport.Precache(req)
}

// evictStale deletes every namespace not in the current version's set.
func (w *Worker) evictStale(ctx context.Context) error {
	current := make(map[string]bool)
	for _, name := range w.transport.CurrentNamespaces() {
		current[name] = true
	}

	namespaces, err := w.caches.ListNamespaces(ctx)
	if err != nil {
		return err
	}
	for _, name := range namespaces {
		if current[name] {
			continue
		}
		if err := w.caches.DeleteNamespace(ctx, name); err != nil {
			return err
		}
		w.logger.Info().Str("namespace", name).Msg("Evicted stale cache namespace")
	}

	w.transport.InvalidateMemory()
	return nil
}
