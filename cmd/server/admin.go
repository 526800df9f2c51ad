package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go-php-runner/server"
)

// workerAdmin is the part of *server.Server the admin endpoints use.
type workerAdmin interface {
	Health() server.HealthSummary
	ForceRecycleWorkers()
}

const adminPrefix = "/__runner/"

// adminHandler serves health, recycle and metrics endpoints. It is bound to
// its own listener so the application never shadows it.
func adminHandler(srv workerAdmin, metrics *Metrics, reload func() error, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(adminPrefix+"health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.Health())
	})

	// mark all workers dead so they respawn on next requests
	mux.HandleFunc(adminPrefix+"recycle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		srv.ForceRecycleWorkers()
		logger.Info("workers recycled", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"note":   "all workers marked dead; will respawn on next requests",
		})
	})

	mux.HandleFunc(adminPrefix+"reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := reload(); err != nil {
			logger.Error("reload", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(adminPrefix+"metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
