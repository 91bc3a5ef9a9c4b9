package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const orgIDKey contextKey = "org_id"

// OrgContext requires the X-Org-ID header on every request and pins the
// resolved org onto the context. There is no fallback: a request without
// an org has no data to see.
func OrgContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Org-ID")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "X-Org-ID header is required")
			return
		}
		orgID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "X-Org-ID is not a valid UUID")
			return
		}

		ctx := context.WithValue(r.Context(), orgIDKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgID returns the org pinned by OrgContext.
func OrgID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(orgIDKey).(uuid.UUID)
	return id, ok
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
