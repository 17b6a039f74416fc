package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genclient/internal/domain"
	"genclient/internal/infra"
)

// RejectedError reports that the refresh token itself was refused by the auth
// service. Callers must force a re-login; the refresher has already cleared
// the stored tokens by the time this is returned.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("token refresh rejected: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token refresh rejected: %d", e.StatusCode)
}

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	BaseURL    string
	Store      *Store
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Refresher exchanges the stored refresh token for a new access token.
type Refresher struct {
	baseURL    string
	store      *Store
	httpClient *http.Client
	logger     *infra.Logger
}

// NewRefresher constructs a refresher with sane defaults.
func NewRefresher(opts RefresherOptions) *Refresher {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Refresher{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		store:      opts.Store,
		httpClient: httpClient,
		logger:     logger,
	}
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Refresh performs one refresh round trip and returns the new access token.
//
// Failure classification:
//   - domain.ErrNoRefreshToken: nothing stored, no network call made.
//   - domain.ErrRefreshNotSupported: the endpoint answered 404; stored tokens
//     are left untouched and callers must stop scheduling refreshes.
//   - *RejectedError: any other non-2xx; both tokens are cleared.
//   - *domain.TransientError: transport failure; tokens untouched.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	refreshToken := r.store.Refresh()
	if refreshToken == "" {
		return "", domain.ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", fmt.Errorf("token: encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/token/refresh", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("token: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", &domain.TransientError{Msg: "token: refresh request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.TransientError{Msg: "token: read refresh response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		r.logger.Warn().Msg("token: refresh endpoint missing (404), backend does not support refresh")
		return "", domain.ErrRefreshNotSupported
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		r.store.Clear()
		return "", &RejectedError{StatusCode: resp.StatusCode, Message: extractDetail(raw)}
	}

	var decoded refreshResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Access == "" {
		return "", fmt.Errorf("token: refresh response missing access token")
	}

	if err := r.store.SetAccess(decoded.Access); err != nil {
		return "", fmt.Errorf("token: persist access token: %w", err)
	}
	if decoded.Refresh != "" {
		if err := r.store.SetRefresh(decoded.Refresh); err != nil {
			return "", fmt.Errorf("token: persist refresh token: %w", err)
		}
	}
	r.logger.Debug().Int("access_len", len(decoded.Access)).Msg("token: refreshed")
	return decoded.Access, nil
}

func extractDetail(raw []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
