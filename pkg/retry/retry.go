// Package retry implements the bounded retry-with-random-backoff poller used
// wherever cluster state has to be awaited.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrExhausted is returned by PollOutcome when every attempt was transient.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds a poll: attempts run 1..MaxAttempts and the pause between
// two attempts is drawn uniformly from [0, MaxBackoff).
type Policy struct {
	MaxAttempts int
	MaxBackoff  time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// OutcomeKind classifies the result of one attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of a step. Err carries the reason for
// transient and fatal outcomes.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Succeeded reports a successful step.
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Retry reports a transient failure; the poller will try again.
func Retry(err error) Outcome {
	return Outcome{Kind: OutcomeTransient, Err: err}
}

// Abort reports a failure that must stop the poll immediately.
func Abort(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Poller drives attempts. Sleep and Jitter are swappable for tests.
type Poller struct {
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

// New returns a Poller using real timers and math/rand.
func New() *Poller {
	return &Poller{
		Sleep:  sleepContext,
		Jitter: uniformJitter,
	}
}

var defaultPoller = New()

// Poll runs check with the default poller.
func Poll(ctx context.Context, policy Policy, check func(context.Context) bool) bool {
	return defaultPoller.Poll(ctx, policy, check)
}

// PollOutcome runs step with the default poller.
func PollOutcome(ctx context.Context, policy Policy, step func(context.Context) Outcome) error {
	return defaultPoller.PollOutcome(ctx, policy, step)
}

// Poll invokes check up to policy.MaxAttempts times and returns true on the
// first true result. A panicking check counts as false for that attempt.
// It returns false when attempts are exhausted or ctx is done.
func (p *Poller) Poll(ctx context.Context, policy Policy, check func(context.Context) bool) bool {
	err := p.PollOutcome(ctx, policy, func(ctx context.Context) Outcome {
		if safeCheck(ctx, check) {
			return Succeeded()
		}
		return Retry(nil)
	})
	return err == nil
}

// PollOutcome invokes step until it succeeds, reports a fatal outcome, or the
// policy is exhausted. A fatal outcome's error is returned as is.
func (p *Poller) PollOutcome(ctx context.Context, policy Policy, step func(context.Context) Outcome) error {
	n := policy.attempts()
	var last error
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		out := safeStep(ctx, step)
		switch out.Kind {
		case OutcomeSuccess:
			return nil
		case OutcomeFatal:
			return out.Err
		}
		last = out.Err
		slog.Debug("retry_attempt_failed", "attempt", attempt, "max_attempts", n, "error", last)

		if attempt == n {
			break
		}
		if err := p.sleep(ctx, p.jitter(policy.MaxBackoff)); err != nil {
			return err
		}
	}

	if last != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, n, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, n)
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return sleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

func (p *Poller) jitter(max time.Duration) time.Duration {
	if p.Jitter == nil {
		return uniformJitter(max)
	}
	return p.Jitter(max)
}

func safeCheck(ctx context.Context, check func(context.Context) bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("retry_check_panicked", "panic", r)
			ok = false
		}
	}()
	return check(ctx)
}

func safeStep(ctx context.Context, step func(context.Context) Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("retry_step_panicked", "panic", r)
			out = Retry(fmt.Errorf("step panicked: %v", r))
		}
	}()
	return step(ctx)
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
