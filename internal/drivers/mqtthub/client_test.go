package mqtthub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/model"
)

func refreshConfig(apiURL string) *Config {
	return &Config{
		APIBaseURL:   apiURL,
		BrokerURL:    "mqtts://broker.example:8883",
		TopicRoot:    "hub",
		ClientID:     "cid",
		ClientSecret: "secret",
		AccountID:    "acct-1",
		Creds:        &drivers.Credentials{AccessToken: "old-access", RefreshToken: "refresh-1"},
	}
}

func TestRefreshCredentials_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "refresh-1" {
			t.Errorf("bad form: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"refresh-2","expires_in":3600}`))
	}))
	defer srv.Close()

	d := &Driver{}
	creds, err := d.RefreshCredentials(context.Background(), refreshConfig(srv.URL))
	if err != nil {
		t.Fatalf("RefreshCredentials failed: %v", err)
	}
	if creds.AccessToken != "new-access" || creds.RefreshToken != "refresh-2" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if time.Until(creds.TokenExpiresAt) < 55*time.Minute {
		t.Errorf("expiry not honored: %v", creds.TokenExpiresAt)
	}
}

func TestRefreshCredentials_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"new-access","expires_in":600}`))
	}))
	defer srv.Close()

	d := &Driver{}
	creds, err := d.RefreshCredentials(context.Background(), refreshConfig(srv.URL))
	if err != nil {
		t.Fatalf("RefreshCredentials failed: %v", err)
	}
	if creds.RefreshToken != "refresh-1" {
		t.Errorf("refresh token should carry over, got %q", creds.RefreshToken)
	}
}

func TestRefreshCredentials_InvalidGrantIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	d := &Driver{}
	_, err := d.RefreshCredentials(context.Background(), refreshConfig(srv.URL))
	if !errors.Is(err, drivers.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestRefreshCredentials_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &Driver{}
	_, err := d.RefreshCredentials(context.Background(), refreshConfig(srv.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, drivers.ErrAuth) {
		t.Error("5xx must not be classified as an auth failure")
	}
}

func TestCommandClient_SetState(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &Driver{}
	client, err := d.Commands(drivers.ConnectorRef{}, refreshConfig(srv.URL))
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}

	if err := client.SetState(context.Background(), "lock-9", model.CommandLock); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if gotPath != "/v1/devices/lock-9/state" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer old-access" {
		t.Errorf("auth = %s", gotAuth)
	}
}

func TestCommandClient_UnsupportedOps(t *testing.T) {
	d := &Driver{}
	client, err := d.Commands(drivers.ConnectorRef{}, refreshConfig("http://unused"))
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}

	if err := client.CreateEvent(context.Background(), drivers.CreateEventRequest{}); !errors.Is(err, drivers.ErrNotSupported) {
		t.Errorf("CreateEvent: expected ErrNotSupported, got %v", err)
	}
	if _, _, err := client.FetchThumbnail(context.Background(), "cam", drivers.ThumbnailParams{}); !errors.Is(err, drivers.ErrNotSupported) {
		t.Errorf("FetchThumbnail: expected ErrNotSupported, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := refreshConfig("https://api.example")
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := *cfg
	bad.BrokerURL = "https://not-mqtt.example"
	if err := bad.Validate(); err == nil {
		t.Error("non-mqtt broker URL should fail validation")
	}

	bad = *cfg
	bad.AccountID = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing accountId should fail validation")
	}
}
