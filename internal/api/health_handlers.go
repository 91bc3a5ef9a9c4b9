package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/pulsegrid/fusion/internal/model"
	"github.com/pulsegrid/fusion/internal/sessions"
)

const healthPingTimeout = 2 * time.Second

type HealthHandler struct {
	DB       *sql.DB
	Sessions *sessions.Manager
	Version  string
}

// Healthz reports process liveness plus a DB ping and a session summary.
// It returns 503 when the database is unreachable.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := h.DB.PingContext(ctx); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	summary := map[string]int{}
	var total int
	if h.Sessions != nil {
		for _, info := range h.Sessions.Snapshot() {
			summary[string(info.State)]++
			total++
		}
	}

	respondJSON(w, status, map[string]interface{}{
		"status":   statusWord(status),
		"version":  h.Version,
		"database": dbStatus,
		"sessions": map[string]interface{}{
			"total":     total,
			"connected": summary[string(model.SessionConnected)],
			"byState":   summary,
		},
	})
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
