package stream

import (
	"encoding/json"
	"net/http"
)

const (
	PathSteps   = "/ws/steps"
	PathHealth  = "/healthz"
	PathMetrics = "/debug/goroutines"
)

// HealthFunc adds fields to the /healthz response
type HealthFunc func() map[string]interface{}

// NewMux routes the websocket feed, the health check and optionally a metrics
// handler. metrics may be nil.
func NewMux(h *Hub, health HealthFunc, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(PathSteps, h.ServeWS)
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status": "ok",
			"stream": h.Stats(),
		}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	})
	if metrics != nil {
		mux.Handle(PathMetrics, metrics)
	}
	return mux
}
