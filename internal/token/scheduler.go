package token

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genclient/internal/domain"
	"genclient/internal/infra"
)

// Scheduler proactively refreshes the access token on a fixed interval. It
// owns exactly one timer: Start always cancels any previous run before
// arming a new one, and a failed scheduled refresh ends the current session
// instead of retrying forever against an endpoint that will not recover.
type Scheduler struct {
	store     *Store
	refresher *Refresher
	interval  time.Duration
	logger    *infra.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	loggedIn bool
}

// NewScheduler builds a scheduler; interval <= 0 defaults to 30 minutes.
func NewScheduler(store *Store, refresher *Refresher, interval time.Duration, logger *infra.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Scheduler{store: store, refresher: refresher, interval: interval, logger: logger}
}

// Start probes the refresh endpoint once and, if the backend supports it,
// arms the recurring timer. Safe to call repeatedly; each call cancels the
// previous timer first. Without a stored refresh token it does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.Stop()

	if s.store.Refresh() == "" {
		s.logger.Debug().Msg("token: no refresh token, auto-refresh not started")
		return
	}

	// Probe once to find out whether the backend implements refresh at all.
	if _, err := s.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, domain.ErrRefreshNotSupported) {
			s.logger.Warn().Msg("token: auto-refresh disabled, backend has no refresh endpoint")
		} else {
			s.logger.Warn().Err(err).Msg("token: auto-refresh disabled, probe refresh failed")
		}
		return
	}

	s.mu.Lock()
	s.loggedIn = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("token: auto-refresh started")
	go s.loop(ctx, stopCh)
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The refresh token may have been replaced or cleared since the
		// last tick; the refresher re-reads it from the store.
		if s.store.Refresh() == "" {
			s.logger.Debug().Msg("token: refresh token gone, stopping auto-refresh")
			s.disarm(stopCh, false)
			return
		}

		_, err := s.refresher.Refresh(ctx)
		switch {
		case err == nil:
			s.setLoggedIn(true)
		case errors.Is(err, domain.ErrRefreshNotSupported):
			s.logger.Warn().Msg("token: backend stopped supporting refresh, auto-refresh cancelled")
			s.disarm(stopCh, s.LoggedIn())
			return
		default:
			// A failed scheduled refresh ends the session: tokens are
			// cleared and no further attempt is made.
			s.logger.Error().Err(err).Msg("token: scheduled refresh failed, logging out")
			s.store.Clear()
			s.disarm(stopCh, false)
			return
		}
	}
}

// Stop cancels the timer if armed. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// LoggedIn reports the in-memory login state maintained by refresh outcomes.
func (s *Scheduler) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// SetLoggedIn lets login/logout flows update the in-memory state directly.
func (s *Scheduler) SetLoggedIn(v bool) { s.setLoggedIn(v) }

func (s *Scheduler) setLoggedIn(v bool) {
	s.mu.Lock()
	s.loggedIn = v
	s.mu.Unlock()
}

func (s *Scheduler) disarm(stopCh chan struct{}, loggedIn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == stopCh {
		s.stopCh = nil
	}
	s.loggedIn = loggedIn
}
