package retry

import (
	"context"
	"errors"
	"time"
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retrier runs a function until it succeeds, fails permanently, runs out of
// attempts or the context ends.
type Retrier struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier. A policy with MaxAttempts < 1 makes a single attempt.
func New(policy Policy) *Retrier {
	return &Retrier{policy: policy, sleep: sleepContext}
}

// Do calls fn with the zero-based attempt index. It returns the last error
// with any Permanent marker removed.
func (r *Retrier) Do(ctx context.Context, key string, fn func(ctx context.Context, attempt int) error) error {
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return errors.Join(ctxErr, err)
			}
			return ctxErr
		}
		err = fn(ctx, i)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if i == attempts-1 {
			break
		}
		if sleepErr := r.sleep(ctx, ComputeBackoff(Params{Key: key, AttemptIndex: i}, r.policy)); sleepErr != nil {
			return errors.Join(sleepErr, err)
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
