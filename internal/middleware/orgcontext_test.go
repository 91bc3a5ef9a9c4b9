package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/pulsegrid/fusion/internal/middleware"
)

func TestOrgContextMissingHeader(t *testing.T) {
	handler := middleware.OrgContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without an org header")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Org-ID")
}

func TestOrgContextMalformedHeader(t *testing.T) {
	handler := middleware.OrgContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a malformed org header")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("X-Org-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrgContextPinsOrg(t *testing.T) {
	orgID := uuid.New()
	var seen uuid.UUID
	var ok bool

	handler := middleware.OrgContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = middleware.OrgID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("X-Org-ID", orgID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ok, "org missing from request context")
	assert.Equal(t, orgID, seen)
}

func TestOrgIDAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := middleware.OrgID(req.Context())
	assert.False(t, ok)
}
