package genapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"genclient/internal/domain"
)

// Submit encodes the request and posts it, retrying transient failures on the
// variant's fixed interval until the attempt budget runs out. A 500 without a
// salvageable prompt_id and a transport failure are retried identically; every
// other failure aborts immediately.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest, onProgress func(elapsedSeconds int)) (SubmitOutcome, error) {
	cfg, ok := ConfigFor(req.Variant)
	if !ok {
		return SubmitOutcome{}, domain.Validationf("unknown variant %q", req.Variant)
	}
	body, contentType, err := buildBody(req, cfg)
	if err != nil {
		return SubmitOutcome{}, err
	}

	interval := cfg.RetryInterval
	if c.retryInterval > 0 {
		interval = c.retryInterval
	}
	maxAttempts := cfg.MaxRetries
	if c.maxRetries > 0 {
		maxAttempts = c.maxRetries
	}

	start := time.Now()
	attempt := 0
	var out SubmitOutcome

	operation := func() error {
		attempt++
		o, err := c.submitOnce(ctx, cfg, body, contentType)
		if err != nil {
			var transient *domain.TransientError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = o
		return nil
	}
	notify := func(err error, _ time.Duration) {
		if onProgress != nil {
			onProgress(int(time.Since(start).Seconds()))
		}
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("variant", string(req.Variant)).
			Msg("genapi: submit failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		var transient *domain.TransientError
		if errors.As(err, &transient) {
			return SubmitOutcome{}, fmt.Errorf("%w after %d attempts: %v", domain.ErrRetriesExhausted, attempt, err)
		}
		return SubmitOutcome{}, err
	}
	return out, nil
}
