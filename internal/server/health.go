package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HandleHealth reports process liveness plus, when the relational
// backend is active, database reachability. db is nil for the in-memory
// backend.
func HandleHealth(logger *slog.Logger, db *sql.DB) http.HandlerFunc {
	type result struct {
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]result{
			"server": {Status: "ok"},
		}
		status := http.StatusOK

		if db != nil {
			checks["sqlite"] = result{Status: "ok"}
			if err := db.PingContext(ctx); err != nil {
				logger.Error("health check failed", "name", "sqlite", "error", err)
				checks["sqlite"] = result{Status: "error"}
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	}
}
