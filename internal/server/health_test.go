package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/playlobby/gamelobby/internal/database"
)

func TestHandleHealth(t *testing.T) {
	// Real SQLite in-memory DB — lightweight, no mocks needed.
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer db.Close()

	deadDB, err := sql.Open("libsql", "file:/nonexistent/dir/nope.db")
	if err != nil {
		t.Fatalf("opening dead db: %v", err)
	}
	defer deadDB.Close()

	tests := []struct {
		name       string
		db         *sql.DB
		wantStatus int
		wantSQLite string
	}{
		{
			name:       "memory backend",
			db:         nil,
			wantStatus: http.StatusOK,
		},
		{
			name:       "sqlite ok",
			db:         db,
			wantStatus: http.StatusOK,
			wantSQLite: "ok",
		},
		{
			name:       "sqlite down",
			db:         deadDB,
			wantStatus: http.StatusServiceUnavailable,
			wantSQLite: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HandleHealth(slog.Default(), tt.db)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			h(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body map[string]struct{ Status string }
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if got := body["server"].Status; got != "ok" {
				t.Errorf("server = %q, want ok", got)
			}
			if tt.db != nil {
				if got := body["sqlite"].Status; got != tt.wantSQLite {
					t.Errorf("sqlite = %q, want %q", got, tt.wantSQLite)
				}
			}
		})
	}
}
