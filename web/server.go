// Package web exposes the controller's HTTP surface: the device list, the
// aggregated gui-summary event stream and the metrics endpoint.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"homectl-go/runner"
)

// NewRouter builds the HTTP surface over a built runner.
func NewRouter(rn *runner.Runner) http.Handler {
	log := logrus.WithField("component", "web")

	r := chi.NewRouter()
	r.Get("/devices/list", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, rn.DeviceIDs())
	})

	events := guiSummaryEvents(log, rn.GUISummary())
	r.Get("/devices/gui-summary-events", events)
	r.Post("/devices/gui-summary-events", events)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
