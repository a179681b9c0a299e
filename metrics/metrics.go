// Package metrics holds the controller's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceRestarts counts supervised restarts per device.
	DeviceRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homectl_device_restarts_total",
		Help: "Supervised device loop restarts.",
	}, []string{"device", "type"})

	// ExchangerIterations counts forwarding iterations.
	ExchangerIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homectl_exchanger_iterations_total",
		Help: "Signal exchanger forwarding iterations.",
	})

	// ConnectionsDropped counts requested connections dropped at graph build.
	ConnectionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homectl_exchanger_connections_dropped_total",
		Help: "Requested connections rejected during graph build.",
	})

	// SSESubscribers tracks open gui-summary event streams.
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homectl_sse_subscribers",
		Help: "Open gui-summary SSE subscriptions.",
	})

	// BusTransactions counts rs485 master transactions by kind and outcome.
	BusTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homectl_rs485_transactions_total",
		Help: "RS-485 master transactions.",
	}, []string{"kind", "result"})
)
