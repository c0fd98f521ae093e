package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/storage"
)

// PushSource is a LocationSource fed by an external producer, typically the
// device UI posting fixes to the control API. The daemon has no direct GPS
// hardware access; whatever holds the platform watch pushes here.
//
// A watchdog surfaces ErrTimeout when no fix arrives within the watch
// timeout, matching the bounded-timeout behavior of the platform API.
type PushSource struct {
	clk clock.Clock

	mu      sync.Mutex
	fixes   chan storage.PositionSample
	errs    chan error
	lastFix time.Time
	active  bool
}

// NewPushSource creates an idle push source.
func NewPushSource(clk clock.Clock) *PushSource {
	return &PushSource{clk: clk}
}

// Watch implements LocationSource.
func (p *PushSource) Watch(ctx context.Context, opts WatchOptions) (<-chan storage.PositionSample, <-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fixes := make(chan storage.PositionSample, 16)
	errs := make(chan error, 4)
	p.fixes = fixes
	p.errs = errs
	p.lastFix = p.clk.Now()
	p.active = true

	go p.watchdog(ctx, opts.Timeout, errs)
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.fixes == fixes {
			p.active = false
			p.fixes = nil
			p.errs = nil
		}
		close(fixes)
		close(errs)
	}()

	return fixes, errs, nil
}

// Push delivers a fix to the active watch. Fixes pushed while no watch is
// active are dropped.
func (p *PushSource) Push(fix storage.PositionSample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || p.fixes == nil {
		return
	}
	p.lastFix = p.clk.Now()
	select {
	case p.fixes <- fix:
	default:
		// Consumer stalled; drop rather than block the producer.
	}
}

// PushError delivers a source error (e.g. the UI reporting permission denial).
func (p *PushSource) PushError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || p.errs == nil {
		return
	}
	select {
	case p.errs <- err:
	default:
	}
}

func (p *PushSource) watchdog(ctx context.Context, timeout time.Duration, errs chan error) {
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			stalled := p.active && p.errs == errs && p.clk.Now().Sub(p.lastFix) > timeout
			if stalled {
				p.lastFix = p.clk.Now() // one timeout per stall, not one per tick
				select {
				case errs <- ErrTimeout:
				default:
				}
			}
			p.mu.Unlock()
		}
	}
}
