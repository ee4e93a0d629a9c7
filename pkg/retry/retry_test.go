package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBackoff(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 1000}
	assert.Equal(t, 100*time.Millisecond, ComputeBackoff(Params{AttemptIndex: 0}, policy))
	assert.Equal(t, 200*time.Millisecond, ComputeBackoff(Params{AttemptIndex: 1}, policy))
	assert.Equal(t, 400*time.Millisecond, ComputeBackoff(Params{AttemptIndex: 2}, policy))
	assert.Equal(t, 1000*time.Millisecond, ComputeBackoff(Params{AttemptIndex: 10}, policy))
	assert.Equal(t, 1000*time.Millisecond, ComputeBackoff(Params{AttemptIndex: 99}, policy))
}

func TestDeterministicJitter(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 1000, MaxJitterMs: 50}
	p := Params{Key: "entitystore:fetch:D-1", AttemptIndex: 2}

	j := ComputeDeterministicJitter(p, policy)
	assert.Equal(t, j, ComputeDeterministicJitter(p, policy))
	assert.GreaterOrEqual(t, j, int64(0))
	assert.Less(t, j, int64(50))
	assert.Equal(t, 400*time.Millisecond+time.Duration(j)*time.Millisecond, ComputeBackoff(p, policy))
}

func noSleep(r *Retrier) *[]time.Duration {
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	r := New(Policy{BaseMs: 10, MaxMs: 100, MaxAttempts: 4})
	slept := noSleep(r)

	calls := 0
	err := r.Do(context.Background(), "k", func(_ context.Context, attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestDo_GivesUp(t *testing.T) {
	r := New(Policy{BaseMs: 1, MaxAttempts: 3})
	noSleep(r)
	calls := 0
	err := r.Do(context.Background(), "k", func(context.Context, int) error {
		calls++
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	r := New(Policy{BaseMs: 1, MaxAttempts: 5})
	noSleep(r)
	sentinel := errors.New("404")
	calls := 0
	err := r.Do(context.Background(), "k", func(context.Context, int) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(sentinel)))
	assert.NoError(t, Permanent(nil))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	r := New(Policy{BaseMs: 60_000, MaxAttempts: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Do(ctx, "k", func(context.Context, int) error {
		calls++
		return errors.New("unavailable")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(DefaultPolicy).Do(ctx, "k", func(context.Context, int) error {
		t.Fatal("must not be called")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
