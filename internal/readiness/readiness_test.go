package readiness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/offline"
	"github.com/strakata/trailtracker/internal/storage"
	"github.com/strakata/trailtracker/internal/storage/bolt"
)

// stubBase answers every request with 200 unless blocking, in which case it
// parks until the request context ends.
type stubBase struct {
	mu       sync.Mutex
	block    bool
	requests []string
}

func (s *stubBase) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req.URL.String())
	block := s.block
	s.mu.Unlock()

	if block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func (s *stubBase) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestOrchestrator(t *testing.T, base http.RoundTripper, cfg Config) (*Orchestrator, storage.Store, *clock.TestClock) {
	t.Helper()

	backend, err := bolt.Open(filepath.Join(t.TempDir(), "trailtracker.bolt"))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	clk := clock.NewTestClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	transport, err := offline.NewTransport(base, backend.Caches(), backend.Queue(), "v3", 64, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return NewOrchestrator(transport, backend.Caches(), cfg, clk, zerolog.Nop()), backend, clk
}

func pragueConfig() Config {
	return Config{
		BaseURL:         "https://app.test",
		CriticalRoutes:  []string{"/", "/gps"},
		TileURLTemplate: "https://tile.test/{z}/{x}/{y}.png",
		Viewport:        Viewport{MinLat: 49.95, MaxLat: 50.15, MinLng: 14.25, MaxLng: 14.60},
		ZoomLevels:      []int{12},
		MaxTilesPerZoom: 5,
		SkipTimeout:     5 * time.Second,
	}
}

func TestReadyImmediatelyWhenCachesWarm(t *testing.T) {
	base := &stubBase{}
	o, backend, clk := newTestOrchestrator(t, base, pragueConfig())
	ctx := context.Background()

	// One GPS entry plus a static cache over the population threshold.
	if err := backend.Caches().Put(ctx, "gps-v3", storage.CacheEntry{URL: "https://tile.test/12/1/1.png", Status: 200, FetchedAt: clk.Now()}); err != nil {
		t.Fatalf("seed gps cache: %v", err)
	}
	for i := 0; i < 11; i++ {
		entry := storage.CacheEntry{URL: fmt.Sprintf("https://app.test/asset-%d.js", i), Status: 200, FetchedAt: clk.Now()}
		if err := backend.Caches().Put(ctx, "static-v3", entry); err != nil {
			t.Fatalf("seed static cache: %v", err)
		}
	}

	if err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	progress := o.Progress()
	if progress.State != StateReady || progress.Percent != 100 {
		t.Fatalf("expected immediate ready, got %+v", progress)
	}
	if base.count() != 0 {
		t.Fatalf("expected no network traffic when warm, got %d requests", base.count())
	}
}

func TestWarmupFetchesCriticalRoutesAndTiles(t *testing.T) {
	base := &stubBase{}
	o, backend, _ := newTestOrchestrator(t, base, pragueConfig())
	ctx := context.Background()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	progress := o.Progress()
	if progress.State != StateReady || progress.Percent != 100 {
		t.Fatalf("expected ready after warmup, got %+v", progress)
	}
	if progress.TilesFetched != 5 {
		t.Fatalf("expected tile fetches capped at 5, got %d", progress.TilesFetched)
	}

	for _, url := range []string{"https://app.test/", "https://app.test/gps"} {
		if _, err := backend.Caches().Get(ctx, "static-v3", url); err != nil {
			t.Fatalf("expected %s warmed: %v", url, err)
		}
	}
	if count, err := backend.Caches().Count(ctx, "gps-v3"); err != nil || count != 5 {
		t.Fatalf("expected 5 tiles in gps cache, got %d (%v)", count, err)
	}
}

func TestTilesPerZoomCapped(t *testing.T) {
	base := &stubBase{}
	cfg := pragueConfig()
	cfg.MaxTilesPerZoom = 20
	o, _, _ := newTestOrchestrator(t, base, cfg)

	// Zoom 15 over the whole viewport is far more than 20 tiles.
	tiles := o.tilesForZoom(15)
	if len(tiles) != 20 {
		t.Fatalf("expected exactly 20 tiles at the cap, got %d", len(tiles))
	}
	if tiles[0] == tiles[1] {
		t.Fatalf("expected distinct tile URLs")
	}
	if !strings.HasPrefix(tiles[0], "https://tile.test/15/") {
		t.Fatalf("unexpected tile URL: %s", tiles[0])
	}
}

func TestSkipAbortsWarmup(t *testing.T) {
	base := &stubBase{block: true}
	o, _, clk := newTestOrchestrator(t, base, pragueConfig())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Progress().State == StateFetchingCritical {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if o.Progress().State != StateFetchingCritical {
		t.Fatalf("warmup never started, state %s", o.Progress().State)
	}

	if o.Progress().SkipAvailable {
		t.Fatalf("skip must not be available before the timeout")
	}
	clk.Advance(6 * time.Second)
	if !o.Progress().SkipAvailable {
		t.Fatalf("expected skip available after timeout")
	}

	o.Skip()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after skip: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not finish after skip")
	}

	progress := o.Progress()
	if progress.State != StateReady || !progress.Skipped {
		t.Fatalf("expected skipped ready state, got %+v", progress)
	}
}
