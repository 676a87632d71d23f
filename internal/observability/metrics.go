package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SocketReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "socket_reconnects_total", Help: "Total websocket reconnect attempts"})
	SocketConnected  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_dispatch", Name: "socket_connected", Help: "1 while the rider socket is connected"})

	OffersReceived = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "offers_received_total", Help: "Total order offers received"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "offers_accepted_total", Help: "Total order offers accepted"})
	OffersRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "offers_rejected_total", Help: "Total order offers rejected by the rider"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "offers_expired_total", Help: "Total order offers auto-rejected on countdown expiry"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "status_transitions_total", Help: "Successful delivery status transitions"},
		[]string{"status"},
	)
	OtpFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "otp_failures_total", Help: "OTP verification mismatches"})

	LocationUpdatesSent     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "location_updates_sent_total", Help: "Location updates emitted by the rider agent"})
	LocationUpdatesIngested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "location_updates_ingested_total", Help: "Location updates ingested by the dispatcher"})
	RidersOnline            = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_dispatch", Name: "riders_online", Help: "Riders currently marked online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rider_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
