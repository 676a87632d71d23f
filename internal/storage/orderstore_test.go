package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	o := &Order{
		ID:          "o1",
		RiderID:     "r1",
		PickupOTP:   "1234",
		DeliveryOTP: "5678",
		Status:      StatusOffered,
		Items:       []models.OrderItem{{Name: "biryani", Quantity: 2, Price: 250}},
		CreatedAt:   time.Now(),
	}
	if err := m.SaveOrder(o); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.GetOrder("o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PickupOTP != "1234" || len(got.Items) != 1 {
		t.Fatalf("unexpected order %+v", got)
	}
	// returned copy must not alias the stored record
	got.Status = "mutated"
	again, _ := m.GetOrder("o1")
	if again.Status != StatusOffered {
		t.Fatal("store leaked internal pointer")
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	m := NewMemoryStore()
	_ = m.SaveOrder(&Order{ID: "o1", Status: StatusOffered})
	if err := m.UpdateStatus("o1", string(models.StatusAccepted), "r9"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := m.GetOrder("o1")
	if got.Status != string(models.StatusAccepted) || got.RiderID != "r9" {
		t.Fatalf("unexpected order %+v", got)
	}
	if err := m.UpdateStatus("missing", "X", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
