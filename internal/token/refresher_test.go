package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"genclient/internal/domain"
)

func newRefresherAgainst(t *testing.T, url string) (*Refresher, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	r := NewRefresher(RefresherOptions{BaseURL: url, Store: store})
	return r, store
}

func TestRefreshWithoutStoredTokenMakesNoRequest(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	r, _ := newRefresherAgainst(t, srv.URL)
	_, err := r.Refresh(context.Background())
	if !errors.Is(err, domain.ErrNoRefreshToken) {
		t.Fatalf("err = %v, want ErrNoRefreshToken", err)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("requests made = %d, want 0", got)
	}
}

func TestRefreshNotFoundLeavesTokensUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r, store := newRefresherAgainst(t, srv.URL)
	if err := store.SetPair("old-access", "old-refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	_, err := r.Refresh(context.Background())
	if !errors.Is(err, domain.ErrRefreshNotSupported) {
		t.Fatalf("err = %v, want ErrRefreshNotSupported", err)
	}
	if store.Access() != "old-access" || store.Refresh() != "old-refresh" {
		t.Fatalf("tokens changed on 404: access=%q refresh=%q", store.Access(), store.Refresh())
	}
}

func TestRefreshRejectionClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"refresh token expired"}`))
	}))
	defer srv.Close()

	r, store := newRefresherAgainst(t, srv.URL)
	if err := store.SetPair("old-access", "old-refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	_, err := r.Refresh(context.Background())
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want *RejectedError", err)
	}
	if rejected.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rejected.StatusCode)
	}
	if rejected.Message != "refresh token expired" {
		t.Fatalf("message = %q, want extracted detail", rejected.Message)
	}
	if store.Access() != "" || store.Refresh() != "" {
		t.Fatalf("tokens not cleared after rejection")
	}
}

func TestRefreshSuccessPersistsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token/refresh" {
			t.Errorf("path = %q, want /auth/token/refresh", r.URL.Path)
		}
		var body struct {
			Refresh string `json:"refresh"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh != "old-refresh" {
			t.Errorf("request refresh = %q (err %v), want old-refresh", body.Refresh, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access":  "new-access",
			"refresh": "new-refresh",
		})
	}))
	defer srv.Close()

	r, store := newRefresherAgainst(t, srv.URL)
	if err := store.SetPair("old-access", "old-refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	got, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got != "new-access" {
		t.Fatalf("returned access = %q, want new-access", got)
	}
	if store.Access() != "new-access" || store.Refresh() != "new-refresh" {
		t.Fatalf("stored tokens = %q/%q, want new pair", store.Access(), store.Refresh())
	}
}

func TestRefreshSuccessWithoutNewRefreshKeepsOld(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "new-access"})
	}))
	defer srv.Close()

	r, store := newRefresherAgainst(t, srv.URL)
	if err := store.SetPair("old-access", "old-refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.Refresh() != "old-refresh" {
		t.Fatalf("refresh token = %q, want old-refresh kept", store.Refresh())
	}
}

func TestRefreshNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	r, store := newRefresherAgainst(t, srv.URL)
	if err := store.SetPair("old-access", "old-refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	_, err := r.Refresh(context.Background())
	var transient *domain.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want *domain.TransientError", err)
	}
	if store.Access() != "old-access" || store.Refresh() != "old-refresh" {
		t.Fatalf("tokens changed on network failure")
	}
}
