package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

func TestTrackerForwardsAndRetainsLatest(t *testing.T) {
	em := &fakeEmitter{}
	tr := NewTracker(em, nil)

	var seen []models.LocationSample
	tr.SetOnSample(func(s models.LocationSample) { seen = append(seen, s) })

	samples := make(chan models.LocationSample)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { tr.Run(ctx, samples); close(done) }()

	samples <- models.LocationSample{Lat: 51.50, Lon: -0.12, Timestamp: time.Now()}
	samples <- models.LocationSample{Lat: 51.51, Lon: -0.11, Timestamp: time.Now()}
	cancel()
	<-done

	latest, ok := tr.Latest()
	if !ok || latest.Lat != 51.51 {
		t.Fatalf("expected last sample retained, got %+v ok=%v", latest, ok)
	}
	if got := em.byEvent(models.EventLocationUpdate); len(got) != 2 {
		t.Fatalf("expected 2 emissions, got %d", len(got))
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(seen))
	}
}

func TestTrackerDropsInvalidSamples(t *testing.T) {
	em := &fakeEmitter{}
	tr := NewTracker(em, nil)

	samples := make(chan models.LocationSample)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { tr.Run(ctx, samples); close(done) }()

	samples <- models.LocationSample{Lat: 123.0, Lon: 0, Timestamp: time.Now()}
	samples <- models.LocationSample{Lat: 0, Lon: -200.0, Timestamp: time.Now()}
	cancel()
	<-done

	if _, ok := tr.Latest(); ok {
		t.Fatal("invalid samples must not be retained")
	}
	if got := em.byEvent(models.EventLocationUpdate); len(got) != 0 {
		t.Fatalf("invalid samples must not be emitted, got %d", len(got))
	}
}

func TestTrackerToleratesEmitFailure(t *testing.T) {
	em := &fakeEmitter{down: true}
	tr := NewTracker(em, nil)

	samples := make(chan models.LocationSample)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { tr.Run(ctx, samples); close(done) }()

	samples <- models.LocationSample{Lat: 51.50, Lon: -0.12, Timestamp: time.Now()}
	cancel()
	<-done

	// the sample is still retained for distance/ETA while offline
	if latest, ok := tr.Latest(); !ok || latest.Lat != 51.50 {
		t.Fatalf("expected sample retained despite emit failure, got %+v ok=%v", latest, ok)
	}
}
