package gallery

import (
	"context"
	"errors"
	"time"

	"imagesearch/internal/models"
)

// withRetry runs op with a per-attempt timeout of cfg.OpTimeout and
// exponential backoff between attempts. Terminal validation errors and
// context cancellation surface immediately; transient errors are
// retried up to cfg.RetryAttempts times.
func (g *Gallery) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var err error
	delay := g.cfg.RetryBaseDelay

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
		err = op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if models.Terminal(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= g.cfg.RetryAttempts {
			return err
		}

		g.log.Warn("retrying operation", "op", name, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

// asUnavailable tags a store failure as ErrStoreUnavailable unless it
// already carries a domain sentinel.
func asUnavailable(err error) error {
	if err == nil || models.Terminal(err) || errors.Is(err, models.ErrStoreUnavailable) || errors.Is(err, models.ErrEmbeddingFailure) {
		return err
	}
	return &unavailableError{err: err}
}

type unavailableError struct{ err error }

func (e *unavailableError) Error() string { return "store unavailable: " + e.err.Error() }

func (e *unavailableError) Unwrap() []error {
	return []error{models.ErrStoreUnavailable, e.err}
}
