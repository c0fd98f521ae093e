package sampler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/storage"
)

// latOffset converts meters of northward displacement to degrees latitude.
func latOffset(meters float64) float64 {
	return meters / 111194.9
}

func testOptions() Options {
	return Options{
		HighAccuracy: true,
		MinDistanceM: 10,
		MinAccuracyM: 50,
		MaxSampleAge: 10 * time.Second,
		MinInterval:  5 * time.Second,
		Timeout:      10 * time.Second,
	}
}

func fix(lat, lng float64, at time.Time) storage.PositionSample {
	return storage.PositionSample{
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  5,
		Timestamp: at,
	}
}

func TestFilterRejectsJitterOnly(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	s := New(nil, clk, testOptions(), zerolog.Nop())
	s.running = true

	var accepted []storage.PositionSample
	onSample := func(sample storage.PositionSample) { accepted = append(accepted, sample) }

	// First sample always passes.
	s.deliver(fix(50.0, 14.0, base), onSample)
	if len(accepted) != 1 {
		t.Fatalf("expected first sample accepted, got %d", len(accepted))
	}

	// 3 m away, 1 s later: both thresholds fail, rejected.
	clk.Advance(time.Second)
	s.deliver(fix(50.0+latOffset(3), 14.0, base.Add(time.Second)), onSample)
	if len(accepted) != 1 {
		t.Fatalf("expected jitter sample rejected, got %d accepted", len(accepted))
	}

	// 3 m away, 6 s later: interval is sufficient, accepted.
	clk.Advance(5 * time.Second)
	s.deliver(fix(50.0+latOffset(3), 14.0, base.Add(6*time.Second)), onSample)
	if len(accepted) != 2 {
		t.Fatalf("expected slow-motion sample accepted, got %d", len(accepted))
	}

	// 50 m away, 1 s later: distance is sufficient, accepted.
	clk.Advance(time.Second)
	s.deliver(fix(50.0+latOffset(3+50), 14.0, base.Add(7*time.Second)), onSample)
	if len(accepted) != 3 {
		t.Fatalf("expected jump sample accepted, got %d", len(accepted))
	}
}

func TestPausedTimeDoesNotSatisfyJitterInterval(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	s := New(nil, clk, testOptions(), zerolog.Nop())
	s.running = true

	var accepted int
	onSample := func(storage.PositionSample) { accepted++ }

	s.deliver(fix(50.0, 14.0, base), onSample)
	if accepted != 1 {
		t.Fatalf("expected first sample accepted")
	}

	// Ten stationary seconds, all of them paused: the interval arm of the
	// jitter rule must not pass on paused time alone.
	s.Pause()
	clk.Advance(10 * time.Second)
	s.Resume()
	s.deliver(fix(50.0, 14.0, base.Add(10*time.Second)), onSample)
	if accepted != 1 {
		t.Fatalf("expected stationary fix rejected after paused interval, got %d accepted", accepted)
	}

	// The same stationary fix passes once enough unpaused time elapses.
	clk.Advance(6 * time.Second)
	s.deliver(fix(50.0, 14.0, base.Add(16*time.Second)), onSample)
	if accepted != 2 {
		t.Fatalf("expected stationary fix accepted after unpaused interval, got %d", accepted)
	}
}

func TestFixesWhilePausedAreDiscarded(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	s := New(nil, clk, testOptions(), zerolog.Nop())
	s.running = true

	var accepted int
	onSample := func(storage.PositionSample) { accepted++ }

	s.deliver(fix(50.0, 14.0, base), onSample)

	s.Pause()
	clk.Advance(time.Second)
	s.deliver(fix(50.1, 14.1, base.Add(time.Second)), onSample)
	if accepted != 1 {
		t.Fatalf("expected fix discarded while paused, got %d accepted", accepted)
	}

	s.Resume()
	clk.Advance(time.Second)
	s.deliver(fix(50.1, 14.1, base.Add(2*time.Second)), onSample)
	if accepted != 2 {
		t.Fatalf("expected delivery restored after resume, got %d accepted", accepted)
	}
}

func TestFilterRejectsBadAccuracyAndStaleFixes(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	s := New(nil, clk, testOptions(), zerolog.Nop())
	s.running = true

	var accepted int
	onSample := func(storage.PositionSample) { accepted++ }

	bad := fix(50.0, 14.0, base)
	bad.Accuracy = 120
	s.deliver(bad, onSample)
	if accepted != 0 {
		t.Fatalf("expected low-accuracy fix rejected")
	}

	stale := fix(50.0, 14.0, base.Add(-time.Minute))
	s.deliver(stale, onSample)
	if accepted != 0 {
		t.Fatalf("expected stale fix rejected")
	}

	s.deliver(fix(50.0, 14.0, base), onSample)
	if accepted != 1 {
		t.Fatalf("expected clean fix accepted")
	}
}

func TestDeliverDerivesSpeedWhenAbsent(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	s := New(nil, clk, testOptions(), zerolog.Nop())
	s.running = true

	var accepted []storage.PositionSample
	onSample := func(sample storage.PositionSample) { accepted = append(accepted, sample) }

	s.deliver(fix(50.0, 14.0, base), onSample)

	clk.Advance(10 * time.Second)
	// ~111 m north in 10 s, roughly 11.1 m/s.
	s.deliver(fix(50.001, 14.0, base.Add(10*time.Second)), onSample)

	if len(accepted) != 2 {
		t.Fatalf("expected 2 accepted samples, got %d", len(accepted))
	}
	if accepted[1].Speed == nil {
		t.Fatalf("expected derived speed on second sample")
	}
	if math.Abs(*accepted[1].Speed-11.12) > 0.5 {
		t.Fatalf("unexpected derived speed: %v m/s", *accepted[1].Speed)
	}
}

func TestStopHaltsDeliveryImmediately(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(base)
	source := NewPushSource(clk)
	s := New(source, clk, testOptions(), zerolog.Nop())

	got := make(chan storage.PositionSample, 8)
	onSample := func(sample storage.PositionSample) { got <- sample }
	onError := func(error) {}

	if err := s.Start(context.Background(), onSample, onError); err != nil {
		t.Fatalf("start sampler: %v", err)
	}

	source.Push(fix(50.0, 14.0, base))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("expected sample before stop")
	}

	s.Stop()
	source.Push(fix(50.1, 14.1, base.Add(time.Minute)))

	select {
	case sample := <-got:
		t.Fatalf("unexpected sample after stop: %+v", sample)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartTwiceFails(t *testing.T) {
	clk := clock.NewTestClock(time.Now())
	source := NewPushSource(clk)
	s := New(source, clk, testOptions(), zerolog.Nop())

	if err := s.Start(context.Background(), func(storage.PositionSample) {}, func(error) {}); err != nil {
		t.Fatalf("start sampler: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), func(storage.PositionSample) {}, func(error) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestPushSourceSurfacesTimeout(t *testing.T) {
	source := NewPushSource(clock.RealClock{})
	_, errs, err := source.Watch(context.Background(), WatchOptions{Timeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected timeout error from watchdog")
	}
}

func TestPushSourceErrorPropagates(t *testing.T) {
	clk := clock.NewTestClock(time.Now())
	source := NewPushSource(clk)
	s := New(source, clk, testOptions(), zerolog.Nop())

	errCh := make(chan error, 1)
	if err := s.Start(context.Background(), func(storage.PositionSample) {}, func(err error) { errCh <- err }); err != nil {
		t.Fatalf("start sampler: %v", err)
	}
	defer s.Stop()

	source.PushError(ErrPermissionDenied)
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error delivered to onError")
	}
}
