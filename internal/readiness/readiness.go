// Package readiness primes the offline caches before tracking screens are
// shown: it checks whether the critical routes and map tiles are already
// cached and, if not, drives a bounded warmup with progress reporting and a
// skip escape. Tracking correctness never depends on this package, only the
// quality of the offline map experience does.
package readiness

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/geo"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/offline"
	"github.com/strakata/trailtracker/internal/storage"
)

// State is an orchestrator lifecycle state.
type State string

const (
	StateChecking         State = "checking"
	StateFetchingCritical State = "fetching-critical-resources"
	StateFetchingTiles    State = "fetching-map-tiles"
	StateFinalizing       State = "finalizing"
	StateReady            State = "ready"
)

// phaseGauge maps states onto the readiness gauge.
var phaseGauge = map[State]float64{
	StateChecking:         0,
	StateFetchingCritical: 1,
	StateFetchingTiles:    2,
	StateFinalizing:       3,
	StateReady:            4,
}

// minStaticEntries is the population heuristic for declaring the static
// cache warm without refetching.
const minStaticEntries = 10

// Viewport bounds the map area warmed during tile prefetch.
type Viewport struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Config holds warmup parameters.
type Config struct {
	BaseURL         string
	CriticalRoutes  []string
	TileURLTemplate string // {z}/{x}/{y} placeholders
	Viewport        Viewport
	ZoomLevels      []int
	MaxTilesPerZoom int
	SkipTimeout     time.Duration
}

// Progress is a snapshot of warmup state for the control API.
type Progress struct {
	State         State `json:"state"`
	Percent       int   `json:"percent"`
	TilesFetched  int   `json:"tilesFetched"`
	SkipAvailable bool  `json:"skipAvailable"`
	Skipped       bool  `json:"skipped"`
}

// Orchestrator drives the warmup sequence. Run is called once at startup;
// Progress and Skip serve the control API concurrently.
type Orchestrator struct {
	transport *offline.Transport
	caches    storage.CacheStore
	cfg       Config
	clk       clock.Clock
	logger    zerolog.Logger

	mu        sync.Mutex
	state     State
	percent   int
	tiles     int
	skipped   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(transport *offline.Transport, caches storage.CacheStore, cfg Config, clk clock.Clock, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxTilesPerZoom <= 0 {
		cfg.MaxTilesPerZoom = 20
	}
	if cfg.SkipTimeout <= 0 {
		cfg.SkipTimeout = 5 * time.Second
	}
	return &Orchestrator{
		transport: transport,
		caches:    caches,
		cfg:       cfg,
		clk:       clk,
		logger:    logger.With().Str("component", "readiness").Logger(),
		state:     StateChecking,
	}
}

// Progress returns the current warmup snapshot. The skip escape becomes
// available once the timeout has elapsed while still warming.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()

	skipAvailable := false
	if o.state != StateReady && !o.startedAt.IsZero() {
		skipAvailable = o.clk.Now().Sub(o.startedAt) >= o.cfg.SkipTimeout
	}
	return Progress{
		State:         o.state,
		Percent:       o.percent,
		TilesFetched:  o.tiles,
		SkipAvailable: skipAvailable,
		Skipped:       o.skipped,
	}
}

// Skip aborts the warmup and declares ready with whatever is cached. The
// app proceeds with degraded offline maps.
func (o *Orchestrator) Skip() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateReady || o.cancel == nil {
		return
	}
	o.skipped = true
	o.cancel()
	o.logger.Info().Msg("Cache warmup skipped by user")
}

// Run executes the warmup sequence. A skip or context cancellation ends in
// the ready state; only infrastructure failures return an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.startedAt = o.clk.Now()
	o.cancel = cancel
	o.mu.Unlock()

	o.setState(StateChecking, 0)

	warm, err := o.alreadyWarm(ctx)
	if err != nil {
		return err
	}
	if warm {
		o.logger.Info().Msg("Caches already warm, ready immediately")
		o.setState(StateReady, 100)
		return nil
	}

	o.setState(StateFetchingCritical, 5)
	o.fetchCritical(ctx)

	o.setState(StateFetchingTiles, 40)
	o.fetchTiles(ctx)

	o.setState(StateFinalizing, 95)
	o.setState(StateReady, 100)
	return nil
}

// alreadyWarm reports whether the GPS cache exists and the static cache
// holds more entries than the population threshold.
func (o *Orchestrator) alreadyWarm(ctx context.Context) (bool, error) {
	namespaces, err := o.caches.ListNamespaces(ctx)
	if err != nil {
		return false, fmt.Errorf("list cache namespaces: %w", err)
	}

	gpsNamespace := o.transport.Namespace("gps")
	hasGPS := false
	for _, name := range namespaces {
		if name == gpsNamespace {
			hasGPS = true
			break
		}
	}
	if !hasGPS {
		return false, nil
	}

	staticCount, err := o.caches.Count(ctx, o.transport.Namespace("static"))
	if err != nil {
		return false, fmt.Errorf("count static cache: %w", err)
	}
	return staticCount > minStaticEntries, nil
}

func (o *Orchestrator) fetchCritical(ctx context.Context) {
	base := strings.TrimRight(o.cfg.BaseURL, "/")
	for i, route := range o.cfg.CriticalRoutes {
		if ctx.Err() != nil {
			return
		}
		url := route
		if strings.HasPrefix(route, "/") {
			url = base + route
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			o.logger.Warn().Err(err).Str("route", route).Msg("Skipping malformed critical route")
			continue
		}
		if err := o.transport.Precache(req); err != nil {
			o.logger.Warn().Err(err).Str("route", route).Msg("Failed to warm critical route")
		}
		o.setPercent(5 + 35*(i+1)/len(o.cfg.CriticalRoutes))
	}
}

func (o *Orchestrator) fetchTiles(ctx context.Context) {
	if o.cfg.TileURLTemplate == "" || len(o.cfg.ZoomLevels) == 0 {
		return
	}

	for zi, zoom := range o.cfg.ZoomLevels {
		if ctx.Err() != nil {
			return
		}
		fetched := 0
		for _, tile := range o.tilesForZoom(zoom) {
			if ctx.Err() != nil {
				return
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, tile, nil)
			if err != nil {
				continue
			}
			if err := o.transport.PrecacheTile(req); err != nil {
				o.logger.Debug().Err(err).Str("tile", tile).Msg("Failed to warm tile")
				continue
			}
			fetched++
			metrics.TilesPrefetched.Inc()
			o.mu.Lock()
			o.tiles++
			o.mu.Unlock()
		}
		o.logger.Info().Int("zoom", zoom).Int("tiles", fetched).Msg("Warmed tile zoom level")
		o.setPercent(40 + 55*(zi+1)/len(o.cfg.ZoomLevels))
	}
}

// tilesForZoom enumerates tile URLs covering the viewport at one zoom
// level, capped at MaxTilesPerZoom walking row-major from the north-west
// corner.
func (o *Orchestrator) tilesForZoom(zoom int) []string {
	minX, minY := geo.TileXY(o.cfg.Viewport.MaxLat, o.cfg.Viewport.MinLng, zoom)
	maxX, maxY := geo.TileXY(o.cfg.Viewport.MinLat, o.cfg.Viewport.MaxLng, zoom)

	urls := make([]string, 0, o.cfg.MaxTilesPerZoom)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if len(urls) >= o.cfg.MaxTilesPerZoom {
				return urls
			}
			urls = append(urls, o.tileURL(zoom, x, y))
		}
	}
	return urls
}

func (o *Orchestrator) tileURL(zoom, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(o.cfg.TileURLTemplate)
}

func (o *Orchestrator) setState(state State, percent int) {
	o.mu.Lock()
	o.state = state
	o.percent = percent
	o.mu.Unlock()

	metrics.ReadinessPhase.Set(phaseGauge[state])
	o.logger.Info().Str("state", string(state)).Int("percent", percent).Msg("Readiness state changed")
}

func (o *Orchestrator) setPercent(percent int) {
	o.mu.Lock()
	if percent > o.percent {
		o.percent = percent
	}
	o.mu.Unlock()
}
