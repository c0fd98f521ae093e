package offline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/storage"
)

// Cache namespace prefixes. The full namespace name carries the cache
// version so a version bump naturally retires every old namespace.
const (
	prefixStatic  = "static"
	prefixDynamic = "dynamic"
	prefixAPI     = "api"
	prefixImage   = "image"
	prefixGPS     = "gps"
)

// queuedHeader marks synthetic responses for requests parked in the offline
// queue instead of reaching the network.
const queuedHeader = "X-Offline-Queued"

// Transport is an http.RoundTripper applying the offline caching policy.
// Reads are answered per request class (network-first or cache-first);
// mutating requests that fail on the network are appended to the durable
// offline queue and acknowledged with a synthetic 202.
//
// Cache writes go to the durable store and a small in-memory LRU in front of
// it; the LRU only ever holds what the store also holds, so losing it costs
// a store read, never data.
type Transport struct {
	base    http.RoundTripper
	caches  storage.CacheStore
	queue   storage.QueueStore
	mem     *lru.Cache[string, storage.CacheEntry]
	version string
	clk     clock.Clock
	logger  zerolog.Logger
}

// NewTransport wraps base with the offline caching policy. memEntries bounds
// the in-memory cache layer.
func NewTransport(base http.RoundTripper, caches storage.CacheStore, queue storage.QueueStore, version string, memEntries int, clk clock.Clock, logger zerolog.Logger) (*Transport, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	if memEntries <= 0 {
		memEntries = 256
	}
	mem, err := lru.New[string, storage.CacheEntry](memEntries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Transport{
		base:    base,
		caches:  caches,
		queue:   queue,
		mem:     mem,
		version: version,
		clk:     clk,
		logger:  logger.With().Str("component", "offline").Logger(),
	}, nil
}

// Namespace returns the versioned cache namespace for a prefix.
func (t *Transport) Namespace(prefix string) string {
	return prefix + "-" + t.version
}

// CurrentNamespaces returns every namespace name belonging to the current
// cache version.
func (t *Transport) CurrentNamespaces() []string {
	return []string{
		t.Namespace(prefixStatic),
		t.Namespace(prefixDynamic),
		t.Namespace(prefixAPI),
		t.Namespace(prefixImage),
		t.Namespace(prefixGPS),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if IsMutating(req) {
		return t.mutate(req)
	}

	switch Classify(req) {
	case ClassImage:
		return t.networkFirst(req, t.Namespace(prefixImage), false)
	case ClassAPI:
		return t.networkFirst(req, t.Namespace(prefixAPI), false)
	case ClassNavigation:
		return t.networkFirst(req, t.Namespace(prefixDynamic), true)
	case ClassStatic:
		return t.cacheFirst(req, t.Namespace(prefixStatic))
	default:
		return t.cacheFirst(req, t.Namespace(prefixDynamic))
	}
}

// mutate sends the request to the network; a transport-level failure parks it
// in the offline queue. A reachable server's error response passes through
// untouched, only connectivity failures queue.
func (t *Transport) mutate(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := t.base.RoundTrip(req)
	if err == nil {
		metrics.Fetches.WithLabelValues("mutate", "network").Inc()
		return resp, nil
	}

	item := storage.QueueItem{
		ID:       fmt.Sprintf("%020d-%s", t.clk.Now().UnixNano(), uuid.NewString()[:8]),
		URL:      req.URL.String(),
		Method:   req.Method,
		Headers:  req.Header.Clone(),
		Body:     body,
		QueuedAt: t.clk.Now(),
	}
	if qerr := t.queue.Append(req.Context(), item); qerr != nil {
		metrics.PersistenceErrors.Inc()
		return nil, errors.Join(err, fmt.Errorf("queue request: %w", qerr))
	}
	t.refreshQueueDepth(req)
	metrics.Fetches.WithLabelValues("mutate", "queued").Inc()
	t.logger.Info().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("queue_id", item.ID).
		Msg("Network unavailable, request queued for sync")

	return syntheticQueuedResponse(req, item.ID), nil
}

func (t *Transport) networkFirst(req *http.Request, namespace string, navigation bool) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp = t.cachePut(req, namespace, resp)
		}
		metrics.Fetches.WithLabelValues("network-first", "network").Inc()
		return resp, nil
	}

	if entry, ok := t.cacheGet(req, namespace); ok {
		metrics.Fetches.WithLabelValues("network-first", "cache").Inc()
		return entryResponse(req, entry), nil
	}
	if navigation {
		metrics.Fetches.WithLabelValues("network-first", "fallback").Inc()
		return offlineFallbackResponse(req), nil
	}
	metrics.Fetches.WithLabelValues("network-first", "error").Inc()
	return nil, err
}

func (t *Transport) cacheFirst(req *http.Request, namespace string) (*http.Response, error) {
	if entry, ok := t.cacheGet(req, namespace); ok {
		metrics.Fetches.WithLabelValues("cache-first", "cache").Inc()
		return entryResponse(req, entry), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.Fetches.WithLabelValues("cache-first", "error").Inc()
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp = t.cachePut(req, namespace, resp)
	}
	metrics.Fetches.WithLabelValues("cache-first", "network").Inc()
	return resp, nil
}

func (t *Transport) cacheGet(req *http.Request, namespace string) (storage.CacheEntry, bool) {
	url := req.URL.String()
	if entry, ok := t.mem.Get(namespace + "|" + url); ok {
		metrics.CacheHits.WithLabelValues(namespace).Inc()
		return entry, true
	}

	entry, err := t.caches.Get(req.Context(), namespace, url)
	if err != nil {
		metrics.CacheMisses.WithLabelValues(namespace).Inc()
		return storage.CacheEntry{}, false
	}
	t.mem.Add(namespace+"|"+url, *entry)
	metrics.CacheHits.WithLabelValues(namespace).Inc()
	return *entry, true
}

// cachePut stores the response body and returns the response with a
// replacement body reader. Store failures are logged and the live response
// still flows to the caller.
func (t *Transport) cachePut(req *http.Request, namespace string, resp *http.Response) *http.Response {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Failed to read response for caching")
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := storage.CacheEntry{
		URL:       req.URL.String(),
		Status:    resp.StatusCode,
		Headers:   resp.Header.Clone(),
		Body:      body,
		FetchedAt: t.clk.Now(),
	}
	if err := t.caches.Put(req.Context(), namespace, entry); err != nil {
		metrics.PersistenceErrors.Inc()
		t.logger.Warn().Err(err).Str("url", entry.URL).Str("namespace", namespace).Msg("Failed to persist cache entry")
		return resp
	}
	t.mem.Add(namespace+"|"+entry.URL, entry)
	return resp
}

func (t *Transport) refreshQueueDepth(req *http.Request) {
	if depth, err := t.queue.Len(req.Context()); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

// Precache fetches a resource over the network and stores it in the static
// namespace regardless of its request class. Non-2xx responses are not
// cached and reported as an error.
func (t *Transport) Precache(req *http.Request) error {
	return t.precacheInto(req, t.Namespace(prefixStatic))
}

// PrecacheTile stores a fetched map tile in the GPS namespace so the map
// keeps rendering offline.
func (t *Transport) PrecacheTile(req *http.Request) error {
	return t.precacheInto(req, t.Namespace(prefixGPS))
}

func (t *Transport) precacheInto(req *http.Request, namespace string) error {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("precache %s: status %d", req.URL, resp.StatusCode)
	}
	resp = t.cachePut(req, namespace, resp)
	resp.Body.Close()
	return nil
}

// InvalidateMemory drops the in-memory layer, e.g. after stale-namespace
// eviction. The durable store is untouched.
func (t *Transport) InvalidateMemory() {
	t.mem.Purge()
}

func entryResponse(req *http.Request, entry storage.CacheEntry) *http.Response {
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.Status, http.StatusText(entry.Status)),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, len(entry.Headers)+1),
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
	for k, vs := range entry.Headers {
		for _, v := range vs {
			resp.Header.Add(k, v)
		}
	}
	resp.Header.Set("X-Served-From", "cache")
	return resp
}

func syntheticQueuedResponse(req *http.Request, id string) *http.Response {
	body := []byte(fmt.Sprintf(`{"queued":true,"id":%q}`, id))
	resp := &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, 2),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Set(queuedHeader, "1")
	return resp
}

const offlineFallbackHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not cached. Tracking continues and your data will sync when connectivity returns.</p>
</body>
</html>
`

func offlineFallbackResponse(req *http.Request) *http.Response {
	body := []byte(offlineFallbackHTML)
	resp := &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, 2),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Set("X-Served-From", "offline-fallback")
	return resp
}
