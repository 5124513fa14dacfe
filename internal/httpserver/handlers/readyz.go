package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
)

const readyzTimeout = 2 * time.Second

type readyzResponse struct {
	Ready      bool   `json:"ready"`
	Configured bool   `json:"configured"`
	Connector  bool   `json:"connector"`
	Records    int64  `json:"records"`
	Store      string `json:"store,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Readyz reports store reachability and the bootstrap state. An unreachable
// store answers 503; an unconfigured service is ready but reports it.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()

		resp := readyzResponse{Store: d.StoreBackend}
		status := http.StatusOK

		if err := d.Registry.Ping(ctx); err != nil {
			d.Logger.Warn("readyz: store unreachable", logger.Error(err))
			resp.Error = "store unreachable"
			status = http.StatusServiceUnavailable
		} else if state, err := d.Registry.State(ctx); err != nil {
			d.Logger.Warn("readyz: failed to read bootstrap state", logger.Error(err))
			resp.Error = "state unavailable"
			status = http.StatusServiceUnavailable
		} else if resp.Records, err = d.Registry.Count(ctx); err != nil {
			d.Logger.Warn("readyz: failed to count records", logger.Error(err))
			resp.Error = "store unreachable"
			status = http.StatusServiceUnavailable
		} else {
			d.Logger.Debug("readyz",
				logger.Bool("configured", state.Configured()),
				logger.Int64("records", resp.Records))
			resp.Ready = true
			resp.Configured = state.Configured()
			resp.Connector = state.ConnectorPresent
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
