// Package genapi submits generation jobs to the backend and carries them
// through to a normalized result: encode, submit with retries, poll the job
// until it finishes, fold whatever the backend answered into one shape.
package genapi

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
	"genclient/internal/token"
)

const (
	defaultPollInterval  = 3 * time.Second
	defaultNotFoundGrace = 30 * time.Second
	pollRequestTimeout   = 30 * time.Second
)

// Options configures the generation client. Zero values get the production
// defaults; tests shrink the intervals.
type Options struct {
	BaseURL    string
	Store      *token.Store
	HTTPClient *http.Client
	PollClient *http.Client
	Logger     *infra.Logger

	// Overrides for the per-variant tuning table. Zero means "use the table".
	RetryInterval time.Duration
	MaxRetries    int
	PollInterval  time.Duration
	NotFoundGrace time.Duration
}

// Client drives the submit/poll protocol against one backend.
type Client struct {
	baseURL    string
	store      *token.Store
	httpClient *http.Client
	pollClient *http.Client
	logger     *infra.Logger

	retryInterval time.Duration
	maxRetries    int
	pollInterval  time.Duration
	notFoundGrace time.Duration
}

// JobHandle identifies a queued job together with the submission response it
// came from, kept around as the fallback result if the status endpoint never
// learns about the job.
type JobHandle struct {
	PromptID  string
	Submitted json.RawMessage
}

// SubmitOutcome is the classified result of one accepted submission: either
// the job already finished and Body is the final payload, or it is queued and
// Handle names it for the poller.
type SubmitOutcome struct {
	Complete bool
	Body     json.RawMessage
	Handle   *JobHandle
}

// NewClient constructs a generation client with sane defaults. The submit
// client carries no global timeout; each attempt gets a context deadline from
// the variant table instead.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	pollClient := opts.PollClient
	if pollClient == nil {
		pollClient = &http.Client{Timeout: pollRequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	notFoundGrace := opts.NotFoundGrace
	if notFoundGrace <= 0 {
		notFoundGrace = defaultNotFoundGrace
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		store:         opts.Store,
		httpClient:    httpClient,
		pollClient:    pollClient,
		logger:        logger,
		retryInterval: opts.RetryInterval,
		maxRetries:    opts.MaxRetries,
		pollInterval:  pollInterval,
		notFoundGrace: notFoundGrace,
	}
}

// Generate runs the full pipeline for one request: validate, submit with
// retries, poll if the job was queued, normalize the final payload. The
// progress callback, if non-nil, receives cumulative elapsed seconds on every
// retry and every poll tick. An all-empty normalized payload is reported as
// domain.ErrNoOutput alongside the (empty) result.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest, onProgress func(elapsedSeconds int)) (domain.NormalizedResult, error) {
	cfg, ok := ConfigFor(req.Variant)
	if !ok {
		return domain.NormalizedResult{}, domain.Validationf("unknown variant %q", req.Variant)
	}
	if err := Validate(req); err != nil {
		return domain.NormalizedResult{}, err
	}

	out, err := c.Submit(ctx, req, onProgress)
	if err != nil {
		return domain.NormalizedResult{}, err
	}

	body := out.Body
	if !out.Complete {
		body, err = c.Poll(ctx, out.Handle, cfg.PollTimeout, onProgress)
		if err != nil {
			return domain.NormalizedResult{}, err
		}
	}

	result := Normalize(body)
	if result.Empty() {
		return result, domain.ErrNoOutput
	}
	return result, nil
}

func (c *Client) submitOnce(ctx context.Context, cfg VariantConfig, body []byte, contentType string) (SubmitOutcome, error) {
	// Credentials are read per attempt; a refresh between retries is
	// picked up automatically.
	accessToken := c.store.Access()
	if !token.ValidAccessToken(accessToken) {
		return SubmitOutcome{}, fmt.Errorf("genapi: %w", domain.ErrUnauthenticated)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cfg.SubmitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("genapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SubmitOutcome{}, &domain.TransientError{Msg: "genapi: submit request", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitOutcome{}, &domain.TransientError{Msg: "genapi: read submit response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.store.Clear()
		return SubmitOutcome{}, fmt.Errorf("genapi: %w", domain.ErrUnauthenticated)
	case resp.StatusCode == http.StatusPaymentRequired:
		return SubmitOutcome{}, fmt.Errorf("genapi: %w", domain.ErrInsufficientBalance)
	case resp.StatusCode == http.StatusInternalServerError:
		// The backend sometimes times out after queueing the job; if the
		// error body still names a prompt_id the job is live and pollable.
		if id, ok := ExtractPromptID(raw); ok {
			c.logger.Warn().Str("prompt_id", id).Msg("genapi: submit answered 500 but queued a job")
			return SubmitOutcome{Handle: &JobHandle{PromptID: id, Submitted: raw}}, nil
		}
		return SubmitOutcome{}, &domain.TransientError{Msg: "genapi: server error " + strings.TrimSpace(string(raw))}
	case resp.StatusCode == http.StatusBadGateway:
		return SubmitOutcome{}, fmt.Errorf("genapi: %w", domain.ErrUpstreamUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return SubmitOutcome{}, &domain.RequestFailedError{StatusCode: resp.StatusCode, Message: extractDetail(raw)}
	}

	return classifySubmitBody(raw)
}

type submitEnvelope struct {
	PromptID string          `json:"prompt_id"`
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
	Images   json.RawMessage `json:"images"`
	Videos   json.RawMessage `json:"videos"`
}

// classifySubmitBody decides whether a 2xx submission body already carries the
// finished result or merely acknowledges a queued job. Presence of an images
// or videos key, even an empty one, means the synchronous path ran and there
// is nothing to poll for.
func classifySubmitBody(raw []byte) (SubmitOutcome, error) {
	var env submitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SubmitOutcome{Complete: true, Body: raw}, nil
	}
	if env.PromptID == "" {
		return SubmitOutcome{Complete: true, Body: raw}, nil
	}
	switch env.Status {
	case string(domain.JobCompleted), "success":
		return SubmitOutcome{Complete: true, Body: raw}, nil
	case string(domain.JobFailed), "error":
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return SubmitOutcome{}, &domain.JobFailedError{Message: msg}
	}
	if env.Images != nil || env.Videos != nil {
		return SubmitOutcome{Complete: true, Body: raw}, nil
	}
	return SubmitOutcome{Handle: &JobHandle{PromptID: env.PromptID, Submitted: raw}}, nil
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
