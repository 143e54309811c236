package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Retryable is implemented by errors that may succeed when repeated.
type Retryable interface {
	Retryable() bool
}

// RetryAfterHint is implemented by errors that carry a server supplied delay.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}

func retryAfter(err error) time.Duration {
	var h RetryAfterHint
	if errors.As(err, &h) {
		return h.RetryAfter()
	}
	return 0
}

// Do runs fn once admitted by the limiter and repeats it on retryable
// errors, up to RetryAttempts extra tries. Every retryable failure goes
// through OnResult so the next admission honours the backoff.
func (l *Limiter) Do(ctx context.Context, stop <-chan struct{}, fn func(context.Context) error) error {
	logger := zerolog.Ctx(ctx)

	for attempt := 0; ; attempt++ {
		if err := l.Wait(ctx, stop); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			l.OnResult(true, 0)
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		l.OnResult(false, retryAfter(err))
		retries := l.Config().RetryAttempts
		if attempt >= retries {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", retries).
			Msg("retrying api call")
	}
}
