package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
	"github.com/example/rider-dispatch/internal/socket"
)

// Tracker consumes the device position stream, forwards each sample
// outbound, and retains only the most recent one for distance/ETA.
// Sampling cadence belongs to the device layer; the tracker only
// consumes whatever stream it is handed.
type Tracker struct {
	emitter  Emitter
	log      *slog.Logger
	onSample func(models.LocationSample)

	mu     sync.Mutex
	latest *models.LocationSample
}

func NewTracker(emitter Emitter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{emitter: emitter, log: logger}
}

// SetOnSample registers the orchestrator callback. Wiring time only.
func (t *Tracker) SetOnSample(fn func(models.LocationSample)) { t.onSample = fn }

// Latest returns the most recent valid sample, if any.
func (t *Tracker) Latest() (models.LocationSample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return models.LocationSample{}, false
	}
	return *t.latest, true
}

// Run pumps samples until ctx is cancelled or the stream closes.
// Emission is at-most-once: a sample dropped while disconnected is
// simply superseded by the next tick.
func (t *Tracker) Run(ctx context.Context, samples <-chan models.LocationSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if !s.Valid() {
				t.log.Warn("dropping invalid location sample", "lat", s.Lat, "lon", s.Lon)
				continue
			}
			t.mu.Lock()
			t.latest = &s
			t.mu.Unlock()

			if err := t.emitter.Emit(models.EventLocationUpdate, s); err != nil {
				if !errors.Is(err, socket.ErrDisconnected) {
					t.log.Warn("location emission failed", "error", err)
				}
			} else {
				observability.LocationUpdatesSent.Inc()
			}
			if t.onSample != nil {
				t.onSample(s)
			}
		}
	}
}
