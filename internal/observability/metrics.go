package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "rides_created_total", Help: "Total ride requests created"})
	RidesMatched   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "rides_matched_total", Help: "Rides accepted by a driver"})
	RidesExhausted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "rides_exhausted_total", Help: "Rides rejected after exhausting candidates"})

	OffersSent      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "dispatch_offers_total", Help: "Offers sent to drivers"})
	OffersDeclined  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "dispatch_offers_declined_total", Help: "Offers declined or timed out"})
	OffersRetracted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "riderapp", Name: "dispatch_offers_retracted_total", Help: "Offers retracted after another driver accepted"})

	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "riderapp", Name: "otp_verifications_total", Help: "Verification attempts by result"},
		[]string{"result"},
	)

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "riderapp", Name: "ws_connected_clients", Help: "Connected websocket clients"})
	DriversOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "riderapp", Name: "drivers_online", Help: "Drivers currently online"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riderapp",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from ride creation to driver acceptance",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
