package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/delivery"
	"github.com/example/rider-dispatch/internal/logging"
	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/offer"
	"github.com/example/rider-dispatch/internal/rest"
	"github.com/example/rider-dispatch/internal/socket"
)

func main() {
	// device GPS stand-in for local runs; real builds feed the tracker
	// from the platform location service
	var startLat, startLon float64
	flag.Float64Var(&startLat, "start-lat", 51.5072, "simulated start latitude")
	flag.Float64Var(&startLon, "start-lon", -0.1276, "simulated start longitude")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadRiderConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ch := socket.New(socket.Options{
		URL:           cfg.SocketURL,
		RiderID:       cfg.RiderID,
		Token:         cfg.Token,
		DialTimeout:   cfg.DialTimeout,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
		MaxAttempts:   cfg.ReconnectAttempts,
		Logger:        logger,
	})
	api := rest.NewClient(cfg.APIBase, cfg.Token)
	gate := offer.NewGate(ch, cfg.OfferTTL, cfg.CountdownTick, logger)
	sm := delivery.NewStateMachine(api, ch, logger)
	tracker := delivery.NewTracker(ch, logger)
	orch := delivery.NewOrchestrator(ch, gate, sm, tracker, api, cfg.AvgSpeedMps, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch.Connect(ctx)
	defer ch.Disconnect()

	samples := make(chan models.LocationSample, 1)
	go simulateLocations(ctx, cfg.LocationInterval, startLat, startLon, samples)
	go tracker.Run(ctx, samples)

	go func() {
		for ev := range orch.Events() {
			switch ev.Kind {
			case delivery.EventCompleted:
				logger.Info("order delivered, back to idle", "order_id", ev.OrderID)
			case delivery.EventCancelled:
				logger.Info("order cancelled by backend, back to idle", "order_id", ev.OrderID)
			case delivery.EventConnectionLost:
				logger.Warn("dispatch link down after retries")
			}
		}
	}()

	go func() {
		updates, cancel := orch.Observe()
		defer cancel()
		for d := range updates {
			logger.Debug("derived state",
				"order_id", d.OrderID,
				"status", string(d.Status),
				"leg", string(d.ActiveLeg),
				"distance_m", int(d.DistanceMeters),
				"eta_s", int(d.EtaSeconds),
				"next", d.NextAction,
			)
		}
	}()

	logger.Info("riderd running", "rider_id", cfg.RiderID, "socket", cfg.SocketURL)
	orch.Run(ctx)
}

// simulateLocations emits a slow random walk on a fixed cadence.
func simulateLocations(ctx context.Context, interval time.Duration, lat, lon float64, out chan<- models.LocationSample) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(out)
			return
		case <-ticker.C:
			lat += (rand.Float64() - 0.5) * 0.0005
			lon += (rand.Float64() - 0.5) * 0.0005
			s := models.LocationSample{
				Lat:       lat,
				Lon:       lon,
				Bearing:   rand.Float64() * 360,
				Speed:     4 + rand.Float64()*6,
				Timestamp: time.Now(),
			}
			select {
			case out <- s:
			default: // tracker busy: this sample is superseded anyway
			}
		}
	}
}
