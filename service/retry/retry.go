// Package retry provides an attempt-based retry helper with linear backoff.
//
// This is deliberately distinct from the transaction re-broadcast loop in
// service/solana: that loop is bounded by wall clock and block height, while
// this helper is bounded by an attempt count. It is used for account
// resolution and other one-shot RPC calls that are usually transient
// failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultAttempts matches the original airdrop tooling's retry ceiling.
const DefaultAttempts = 5

// DefaultDelayUnit is the linear backoff step: attempt n waits n*unit.
const DefaultDelayUnit = time.Second

// Permanent marks an error as non-retryable. Do will stop immediately and
// return the wrapped error. Used for business-rule failures like off-curve
// destination addresses, where retrying can never succeed.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linearBackOff) Reset() { l.n = 0 }

// Do runs fn up to attempts times, sleeping linearly longer between
// attempts. It returns fn's first successful result, or the last error once
// attempts are exhausted. Errors wrapped with Permanent short-circuit.
// The context cancels both fn and the backoff sleeps.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), attempts int, delayUnit time.Duration) (T, error) {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if delayUnit <= 0 {
		delayUnit = DefaultDelayUnit
	}

	var out T
	op := func() error {
		var err error
		out, err = fn(ctx)
		return err
	}

	lin := &linearBackOff{step: delayUnit}
	b := backoff.WithContext(backoff.WithMaxRetries(lin, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
