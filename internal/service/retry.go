package service

import (
	"context"
	"time"

	"tablepos/internal/apierror"

	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds the retries of read operations. Writes are never
// retried here: a repeated money write must come from the caller with the
// same external_ref.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// DefaultRetryPolicy is used when a service is built without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 50 * time.Millisecond}
}

// withReadRetry runs fn up to p.Attempts times, backing off base, 2*base,
// 4*base ... between attempts. Only Transient errors are retried.
func withReadRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := p.Base * time.Duration(1<<uint(i-1))
			log.Debug().Str("op", op).Int("attempt", i+1).Dur("wait", wait).Err(lastErr).Msg("retrying read")
			select {
			case <-ctx.Done():
				return apierror.Transient(op+" timed out", ctx.Err())
			case <-time.After(wait):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !apierror.IsKind(err, apierror.KindTransient) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
