package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPoller keeps real jitter but records sleeps instead of blocking.
func recordingPoller(sleeps *[]time.Duration) *Poller {
	return &Poller{
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		Jitter: uniformJitter,
	}
}

func TestPoll_SucceedsOnNthCall(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		var sleeps []time.Duration
		p := recordingPoller(&sleeps)

		calls := 0
		ok := p.Poll(context.Background(), Policy{MaxAttempts: 5, MaxBackoff: time.Second}, func(context.Context) bool {
			calls++
			return calls == n
		})

		assert.True(t, ok)
		assert.Equal(t, n, calls)
		assert.Len(t, sleeps, n-1)
	}
}

func TestPoll_ExhaustsBudget(t *testing.T) {
	var sleeps []time.Duration
	p := recordingPoller(&sleeps)
	policy := Policy{MaxAttempts: 4, MaxBackoff: 200 * time.Millisecond}

	calls := 0
	ok := p.Poll(context.Background(), policy, func(context.Context) bool {
		calls++
		return false
	})

	assert.False(t, ok)
	assert.Equal(t, 4, calls)
	require.Len(t, sleeps, 3)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, policy.MaxBackoff)
	}
}

func TestPoll_PanicCountsAsFalse(t *testing.T) {
	var sleeps []time.Duration
	p := recordingPoller(&sleeps)

	calls := 0
	ok := p.Poll(context.Background(), Policy{MaxAttempts: 3}, func(context.Context) bool {
		calls++
		if calls == 1 {
			panic("provider returned garbage")
		}
		return true
	})

	assert.True(t, ok)
	assert.Equal(t, 2, calls)
}

func TestPoll_ZeroBackoffNeverSleepsPositive(t *testing.T) {
	var sleeps []time.Duration
	p := recordingPoller(&sleeps)

	p.Poll(context.Background(), Policy{MaxAttempts: 3, MaxBackoff: 0}, func(context.Context) bool { return false })

	require.Len(t, sleeps, 2)
	for _, d := range sleeps {
		assert.Zero(t, d)
	}
}

func TestPoll_NonPositiveAttemptsRunsOnce(t *testing.T) {
	var sleeps []time.Duration
	p := recordingPoller(&sleeps)

	calls := 0
	p.Poll(context.Background(), Policy{MaxAttempts: 0}, func(context.Context) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestPoll_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	ok := New().Poll(ctx, Policy{MaxAttempts: 5, MaxBackoff: time.Second}, func(context.Context) bool {
		calls++
		return true
	})
	assert.False(t, ok)
	assert.Zero(t, calls)
}

func TestPollOutcome(t *testing.T) {
	t.Run("fatal stops immediately", func(t *testing.T) {
		var sleeps []time.Duration
		p := recordingPoller(&sleeps)
		fatal := errors.New("format failed")

		calls := 0
		err := p.PollOutcome(context.Background(), Policy{MaxAttempts: 5}, func(context.Context) Outcome {
			calls++
			if calls == 2 {
				return Abort(fatal)
			}
			return Retry(errors.New("not yet"))
		})

		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 2, calls)
		assert.Len(t, sleeps, 1)
	})

	t.Run("exhaustion reports last reason", func(t *testing.T) {
		var sleeps []time.Duration
		p := recordingPoller(&sleeps)

		err := p.PollOutcome(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) Outcome {
			return Retry(errors.New("no available volume"))
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Contains(t, err.Error(), "no available volume")
	})

	t.Run("success", func(t *testing.T) {
		err := New().PollOutcome(context.Background(), Policy{MaxAttempts: 1}, func(context.Context) Outcome {
			return Succeeded()
		})
		assert.NoError(t, err)
	})
}

func TestUniformJitterBounds(t *testing.T) {
	max := 10 * time.Millisecond
	for i := 0; i < 1000; i++ {
		d := uniformJitter(max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, max)
	}
	assert.Zero(t, uniformJitter(0))
	assert.Zero(t, uniformJitter(-time.Second))
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "transient", OutcomeTransient.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
}
