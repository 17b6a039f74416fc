package token

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"genclient/internal/infra"
)

// MinAccessTokenLength is the validity threshold for stored access tokens.
// The backend never issues a token this short, so anything at or below the
// threshold is treated as corrupt or stale and cleared. This is a heuristic
// compatibility contract, not cryptographic verification.
const MinAccessTokenLength = 50

// Store persists the access/refresh token pair in a local JSON file. Every
// read goes back to disk so that a concurrent login or logout elsewhere in
// the process is observed immediately rather than through a stale snapshot.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *infra.Logger
}

type tokenFile struct {
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
}

// NewStore builds a store backed by the file at path. The file and its parent
// directory are created on first write.
func NewStore(path string, logger *infra.Logger) *Store {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Store{path: path, logger: logger}
}

// Access returns the stored access token, or "" when none is stored.
func (s *Store) Access() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().Access
}

// Refresh returns the stored refresh token, or "" when none is stored.
func (s *Store) Refresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().Refresh
}

// SetAccess persists a new access token, keeping the refresh token.
func (s *Store) SetAccess(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.read()
	cur.Access = tok
	return s.write(cur)
}

// SetRefresh persists a new refresh token, keeping the access token.
func (s *Store) SetRefresh(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.read()
	cur.Refresh = tok
	return s.write(cur)
}

// SetPair persists both tokens atomically.
func (s *Store) SetPair(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(tokenFile{Access: access, Refresh: refresh})
}

// Clear removes both tokens.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("token: failed to remove cache file")
	}
}

// IsAccessTokenValid reports whether a usable access token is stored. Tokens
// at or below MinAccessTokenLength characters are treated as invalid.
func (s *Store) IsAccessTokenValid() bool {
	return ValidAccessToken(s.Access())
}

// ValidAccessToken applies the length heuristic to a raw token value.
func ValidAccessToken(tok string) bool {
	return len(tok) > MinAccessTokenLength
}

func (s *Store) read() tokenFile {
	var tf tokenFile
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return tf
	}
	if err := json.Unmarshal(raw, &tf); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("token: cache file unreadable, treating as empty")
		return tokenFile{}
	}
	return tf
}

func (s *Store) write(tf tokenFile) error {
	raw, err := json.Marshal(tf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return err
	}
	// Verify the write round-trips. A mismatch is logged, not fatal.
	got := s.read()
	if got != tf {
		s.logger.Error().Str("path", s.path).Msg("token: persisted value does not match written value")
	}
	return nil
}
