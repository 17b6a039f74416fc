// Package auth talks to the authentication service: password and email-code
// login plus verification-code delivery. Successful logins persist the issued
// token pair in the shared token store.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genclient/internal/domain"
	"genclient/internal/infra"
	"genclient/internal/token"
)

// Options configures the auth client.
type Options struct {
	BaseURL    string
	Store      *token.Store
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Client performs HTTP calls to the auth service.
type Client struct {
	baseURL    string
	store      *token.Store
	httpClient *http.Client
	logger     *infra.Logger
}

// Tokens is the pair issued on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// loginResponse accepts both envelope shapes the backend has used: a nested
// {"tokens": {...}} object and the flat {"access": ..., "refresh": ...} form.
type loginResponse struct {
	Tokens  *Tokens `json:"tokens"`
	Access  string  `json:"access"`
	Refresh string  `json:"refresh"`
}

// NewClient constructs an auth client with sane defaults.
func NewClient(opts Options) *Client {
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
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		store:      opts.Store,
		httpClient: httpClient,
		logger:     logger,
	}
}

// LoginPassword exchanges email+password for a token pair and persists it.
func (c *Client) LoginPassword(ctx context.Context, email, password string) (Tokens, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Tokens{}, domain.Validationf("auth: email and password are required")
	}
	return c.login(ctx, "/auth/login-password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// LoginCode exchanges email+verification code for a token pair and persists it.
func (c *Client) LoginCode(ctx context.Context, email, code string) (Tokens, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		return Tokens{}, domain.Validationf("auth: email and code are required")
	}
	return c.login(ctx, "/auth/login-code", map[string]string{
		"email": email,
		"code":  code,
	})
}

// SendCode asks the auth service to mail a verification code.
func (c *Client) SendCode(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return domain.Validationf("auth: email is required")
	}
	resp, raw, err := c.post(ctx, "/auth/send-code", map[string]string{"email": email})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &domain.RequestFailedError{StatusCode: resp.StatusCode, Message: extractDetail(raw)}
	}
	return nil
}

func (c *Client) login(ctx context.Context, path string, payload map[string]string) (Tokens, error) {
	resp, raw, err := c.post(ctx, path, payload)
	if err != nil {
		return Tokens{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Tokens{}, &domain.RequestFailedError{StatusCode: resp.StatusCode, Message: extractDetail(raw)}
	}

	var decoded loginResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Tokens{}, fmt.Errorf("auth: decode login response: %w", err)
	}
	tokens := Tokens{Access: decoded.Access, Refresh: decoded.Refresh}
	if decoded.Tokens != nil {
		tokens = *decoded.Tokens
	}
	if tokens.Access == "" {
		return Tokens{}, errors.New("auth: login response contains no access token")
	}

	if err := c.store.SetPair(tokens.Access, tokens.Refresh); err != nil {
		return Tokens{}, fmt.Errorf("auth: persist tokens: %w", err)
	}
	c.logger.Info().Int("access_len", len(tokens.Access)).Msg("auth: logged in")
	return tokens, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &domain.TransientError{Msg: "auth: http request", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &domain.TransientError{Msg: "auth: read response", Err: err}
	}
	return resp, raw, nil
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
