package dispatch

import (
	"log/slog"

	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/ingest"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
	"github.com/example/rider-dispatch/internal/storage"
)

// Backend applies inbound rider events to the geo index, the order
// store, and the location firehose.
type Backend struct {
	index    geo.RiderIndex
	store    storage.OrderStore
	producer *ingest.KafkaProducer // optional
	log      *slog.Logger
}

func NewBackend(index geo.RiderIndex, store storage.OrderStore, producer *ingest.KafkaProducer, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{index: index, store: store, producer: producer, log: logger}
}

func (b *Backend) RiderJoined(riderID string) {
	b.log.Debug("rider joined", "rider_id", riderID)
}

func (b *Backend) RiderOnline(riderID string, online bool) {
	b.index.SetOnline(riderID, online)
	if online {
		observability.RidersOnline.Inc()
	} else {
		observability.RidersOnline.Dec()
	}
}

func (b *Backend) RiderLocation(riderID string, s models.LocationSample) {
	b.index.Upsert(riderID, s)
	observability.LocationUpdatesIngested.Inc()
	if b.producer != nil {
		if err := b.producer.PublishLocation(riderID, s); err != nil {
			b.log.Warn("kafka publish failed", "rider_id", riderID, "error", err)
		}
	}
}

func (b *Backend) OrderAccepted(riderID, orderID string) {
	if err := b.store.UpdateStatus(orderID, string(models.StatusAccepted), riderID); err != nil {
		b.log.Error("accept update failed", "order_id", orderID, "error", err)
		return
	}
	b.log.Info("order accepted", "order_id", orderID, "rider_id", riderID)
}

func (b *Backend) OrderRejected(riderID, orderID, reason string) {
	if err := b.store.UpdateStatus(orderID, storage.StatusRejected, ""); err != nil {
		b.log.Error("reject update failed", "order_id", orderID, "error", err)
		return
	}
	b.log.Info("order rejected", "order_id", orderID, "rider_id", riderID, "reason", reason)
}

func (b *Backend) OrderStatus(riderID, orderID string, status models.OrderStatus) {
	if status.Rank() < 0 {
		b.log.Warn("ignoring unknown status", "order_id", orderID, "status", string(status))
		return
	}
	if err := b.store.UpdateStatus(orderID, string(status), riderID); err != nil {
		b.log.Error("status update failed", "order_id", orderID, "error", err)
		return
	}
	b.log.Info("order status", "order_id", orderID, "status", string(status))
}
