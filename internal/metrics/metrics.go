// Package metrics provides Prometheus instrumentation for the app core. It
// exposes the active screen-state, stream transport counters, and payment
// intent activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScreenState is a one-hot gauge over screen-state names; the active
	// state has value 1 and all others 0.
	ScreenState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pocketsol_screen_state",
		Help: "Active screen-state (one-hot over the state label)",
	}, []string{"state"})

	// NetworkOnline is 1 while the connectivity monitor reports online.
	NetworkOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pocketsol_network_online",
		Help: "Whether the connectivity monitor currently reports online",
	})

	// StreamReconnects counts scheduled agent-stream reconnect attempts.
	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketsol_stream_reconnects_total",
		Help: "Total scheduled agent stream reconnect attempts",
	})

	// StreamMessages counts agent-stream frames, labeled by direction:
	// "in" or "out".
	StreamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsol_stream_messages_total",
		Help: "Total agent stream frames processed",
	}, []string{"direction"})

	// IntentsMaterialized counts deep-link payment intents converted into
	// confirmations.
	IntentsMaterialized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketsol_intents_materialized_total",
		Help: "Total payment intents materialized into confirmations",
	})
)

func init() {
	prometheus.MustRegister(
		ScreenState,
		NetworkOnline,
		StreamReconnects,
		StreamMessages,
		IntentsMaterialized,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
