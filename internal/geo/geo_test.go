package geo

import (
	"testing"

	"github.com/example/rider-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := Haversine(51.5072, -0.1276, 48.8566, 2.3522)
	b := Haversine(48.8566, 2.3522, 51.5072, -0.1276)
	if a != b {
		t.Fatalf("expected symmetric distance, got %f vs %f", a, b)
	}
}

func TestHaversineLondonParis(t *testing.T) {
	d := Haversine(51.5072, -0.1276, 48.8566, 2.3522)
	if d < 330_000 || d > 350_000 {
		t.Fatalf("expected ~334km, got %f m", d)
	}
}

func TestEstimateSecondsMonotonic(t *testing.T) {
	origin := models.Coord{Lat: 0, Lon: 0}
	near := models.Coord{Lat: 0.01, Lon: 0}
	far := models.Coord{Lat: 0.1, Lon: 0}
	if EstimateSeconds(origin, origin, 10) != 0 {
		t.Fatal("expected zero ETA at destination")
	}
	if EstimateSeconds(origin, near, 10) >= EstimateSeconds(origin, far, 10) {
		t.Fatal("expected ETA to grow with distance")
	}
	// non-positive speed falls back to the default, not a panic
	if EstimateSeconds(origin, near, 0) <= 0 {
		t.Fatal("expected positive ETA with default speed")
	}
}

func TestIndexNearestSkipsOffline(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("r1", models.LocationSample{Lat: 0.001, Lon: 0})
	idx.SetOnline("r1", true)
	idx.Upsert("r2", models.LocationSample{Lat: 0.0001, Lon: 0})
	// r2 closer but never online
	got := idx.Nearest(0, 0, 5)
	if len(got) != 1 || got[0].RiderID != "r1" {
		t.Fatalf("expected only online rider r1, got %+v", got)
	}
}

func TestIndexNearestOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	for id, lat := range map[string]float64{"far": 0.5, "near": 0.01, "mid": 0.1} {
		idx.Upsert(id, models.LocationSample{Lat: lat, Lon: 0})
		idx.SetOnline(id, true)
	}
	got := idx.Nearest(0, 0, 2)
	if len(got) != 2 || got[0].RiderID != "near" || got[1].RiderID != "mid" {
		t.Fatalf("expected [near mid], got %+v", got)
	}
}
