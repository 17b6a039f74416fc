package token

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if got := s.Access(); got != "" {
		t.Fatalf("access on empty store = %q, want empty", got)
	}
	if err := s.SetPair("access-token", "refresh-token"); err != nil {
		t.Fatalf("set pair: %v", err)
	}
	if got := s.Access(); got != "access-token" {
		t.Fatalf("access = %q, want access-token", got)
	}
	if got := s.Refresh(); got != "refresh-token" {
		t.Fatalf("refresh = %q, want refresh-token", got)
	}

	if err := s.SetAccess("rotated"); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if got := s.Refresh(); got != "refresh-token" {
		t.Fatalf("refresh after access rotation = %q, want refresh-token", got)
	}

	s.Clear()
	if got := s.Access(); got != "" {
		t.Fatalf("access after clear = %q, want empty", got)
	}
	if got := s.Refresh(); got != "" {
		t.Fatalf("refresh after clear = %q, want empty", got)
	}
}

func TestStoreClearTwice(t *testing.T) {
	s := newTestStore(t)
	s.Clear()
	s.Clear()
}

func TestStoreObservesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	a := NewStore(path, nil)
	b := NewStore(path, nil)

	if err := a.SetPair("written-by-a", "r"); err != nil {
		t.Fatalf("set pair: %v", err)
	}
	if got := b.Access(); got != "written-by-a" {
		t.Fatalf("second store access = %q, want written-by-a", got)
	}
}

func TestStoreUnreadableFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	s := NewStore(path, nil)
	if got := s.Access(); got != "" {
		t.Fatalf("access from corrupt file = %q, want empty", got)
	}
}

func TestValidAccessTokenBoundary(t *testing.T) {
	exactly := strings.Repeat("a", MinAccessTokenLength)
	if ValidAccessToken(exactly) {
		t.Fatalf("token of length %d should be invalid", len(exactly))
	}
	if !ValidAccessToken(exactly + "a") {
		t.Fatalf("token of length %d should be valid", len(exactly)+1)
	}
	if ValidAccessToken("") {
		t.Fatalf("empty token should be invalid")
	}
}

func TestIsAccessTokenValidReadsStore(t *testing.T) {
	s := newTestStore(t)
	if s.IsAccessTokenValid() {
		t.Fatalf("empty store should not hold a valid token")
	}
	if err := s.SetAccess(strings.Repeat("x", MinAccessTokenLength+1)); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if !s.IsAccessTokenValid() {
		t.Fatalf("long token should be valid")
	}
	if err := s.SetAccess("short"); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if s.IsAccessTokenValid() {
		t.Fatalf("short token should be invalid")
	}
}
