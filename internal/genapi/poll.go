package genapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"genclient/internal/domain"
)

// Poll watches a queued job until it reaches a terminal state and returns the
// final response body. Intermediate failures never end the loop: an
// unparseable status body, a transport error, or an early 404 (the job may
// not have landed in the status index yet) all just mean "ask again". A 404
// past the grace window is different: the status endpoint will never know the
// job, so the submission response is returned as the best available result.
//
// The deadline is absolute from the first call, measured on the monotonic
// clock. Cancelling the context ends the loop with ctx.Err().
func (c *Client) Poll(ctx context.Context, handle *JobHandle, timeout time.Duration, onProgress func(elapsedSeconds int)) (json.RawMessage, error) {
	if handle == nil || handle.PromptID == "" {
		return nil, domain.Validationf("nothing to poll: empty job handle")
	}

	start := time.Now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.logger.Debug().Str("prompt_id", handle.PromptID).Dur("timeout", timeout).Msg("genapi: polling job")

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		if elapsed > timeout {
			return nil, fmt.Errorf("genapi: job %s: %w", handle.PromptID, domain.ErrPollTimeout)
		}
		if onProgress != nil {
			onProgress(int(elapsed.Seconds()))
		}

		status, raw, err := c.queryStatus(ctx, handle.PromptID)
		if err != nil {
			c.logger.Warn().Err(err).Str("prompt_id", handle.PromptID).Msg("genapi: status query failed, will retry")
			continue
		}

		switch {
		case status == http.StatusNotFound:
			if elapsed > c.notFoundGrace {
				c.logger.Warn().Str("prompt_id", handle.PromptID).
					Msg("genapi: job unknown to status endpoint, falling back to submission response")
				return handle.Submitted, nil
			}
			continue
		case status < 200 || status > 299:
			return nil, &domain.RequestFailedError{StatusCode: status, Message: extractDetail(raw)}
		}

		var env submitEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Status {
		case string(domain.JobCompleted), "success":
			return raw, nil
		case string(domain.JobFailed), "error":
			msg := env.Message
			if msg == "" {
				msg = env.Error
			}
			return nil, &domain.JobFailedError{Message: msg}
		}
	}
}

func (c *Client) queryStatus(ctx context.Context, promptID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusEndpoint+promptID, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("genapi: build status request: %w", err)
	}
	if accessToken := c.store.Access(); accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return 0, nil, &domain.TransientError{Msg: "genapi: status request", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &domain.TransientError{Msg: "genapi: read status response", Err: err}
	}
	return resp.StatusCode, raw, nil
}
