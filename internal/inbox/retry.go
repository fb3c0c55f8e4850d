package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nhle/notifier/internal/store"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 30 * time.Second

// newBackOff returns an exponential policy that starts at base, doubles
// without jitter up to maxBackoff and never gives up on its own.
func newBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// mutationPolicy allows retries extra attempts after the first, bound to ctx.
func mutationPolicy(ctx context.Context, retries int, base time.Duration) backoff.BackOff {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		b = backoff.WithMaxRetries(newBackOff(base), uint64(retries))
	}
	return backoff.WithContext(b, ctx)
}

// withRetry runs op under mutationPolicy. A missing record is final and is
// never retried.
func withRetry(ctx context.Context, retries int, base time.Duration, op func(context.Context) error) error {
	return backoff.Retry(func() error {
		err := op(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, mutationPolicy(ctx, retries, base))
}
