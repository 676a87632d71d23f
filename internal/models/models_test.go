package models

import (
	"testing"
	"time"
)

func TestStatusRankOrdering(t *testing.T) {
	seq := []OrderStatus{StatusAccepted, StatusArrivedAtRestaurant, StatusPickedUp, StatusOnTheWay, StatusDelivered}
	for i := 1; i < len(seq); i++ {
		if seq[i].Rank() <= seq[i-1].Rank() {
			t.Fatalf("%s must rank above %s", seq[i], seq[i-1])
		}
	}
	if OrderStatus("BOGUS").Rank() >= 0 {
		t.Fatal("unknown status must rank negative")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusDelivered.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("delivered and cancelled are terminal")
	}
	if StatusAccepted.Terminal() || StatusOnTheWay.Terminal() {
		t.Fatal("in-flight statuses are not terminal")
	}
}

func TestLocationSampleValid(t *testing.T) {
	good := LocationSample{Lat: 51.5, Lon: -0.12, Timestamp: time.Now()}
	if !good.Valid() {
		t.Fatal("expected a valid sample")
	}
	for _, bad := range []LocationSample{
		{Lat: 91, Lon: 0, Timestamp: time.Now()},
		{Lat: -91, Lon: 0, Timestamp: time.Now()},
		{Lat: 0, Lon: 181, Timestamp: time.Now()},
		{Lat: 0, Lon: -181, Timestamp: time.Now()},
	} {
		if bad.Valid() {
			t.Fatalf("expected invalid sample %+v", bad)
		}
	}
}

func TestOfferMaterialization(t *testing.T) {
	now := time.Now()
	p := NewOrderPayload{
		OrderID:          "o1",
		RestaurantName:   "Tandoori Palace",
		DeliveryAddress:  "1 Main St",
		DistanceKm:       2.4,
		DeliveryFee:      3.5,
		EstimatedMinutes: 18,
	}
	o := p.Offer(now)
	if o.OrderID != "o1" || o.RestaurantName != "Tandoori Palace" || o.DistanceKm != 2.4 {
		t.Fatalf("unexpected offer %+v", o)
	}
	if !o.CreatedAt.Equal(now) {
		t.Fatalf("expected receipt time %v, got %v", now, o.CreatedAt)
	}
}
