package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transient MySQL errors are retried for at most this long.
const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// isRetryableError returns true for transient connection errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		// MySQL error 2013: mid-query disconnect
		"lost connection",
		// MySQL error 2006: idle connection timeout
		"gone away",
		"i/o timeout",
		// Error 1213
		"deadlock found",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

// withRetry executes op, retrying transient errors with exponential backoff.
func (s *MySQLStore) withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(s.newBackoff(), ctx))
}
