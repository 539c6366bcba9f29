package apiretry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultStep          = 2 * time.Second
	defaultMaxJitter     = 500 * time.Millisecond
	defaultMaxAttempts   = 3
	defaultQuotaAttempts = 2
)

// TerminalError is returned once retries are exhausted. UserNotified means
// the failure notice has already been delivered; callers must not message the
// user again.
type TerminalError struct {
	Kind         Kind
	UserNotified bool
	Err          error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal %s failure: %v", e.Kind, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Notifier delivers the single user-facing failure notice.
type Notifier interface {
	NotifyFailure(ctx context.Context, kind Kind, message string)
}

type NotifierFunc func(ctx context.Context, kind Kind, message string)

func (f NotifierFunc) NotifyFailure(ctx context.Context, kind Kind, message string) {
	f(ctx, kind, message)
}

// Client wraps one logical outbound call with classification, a linear
// backoff schedule and exactly-once failure notification.
type Client struct {
	Logger   *slog.Logger
	Notifier Notifier

	// Step is the backoff increment: waits of Step, 2*Step, ... between
	// attempts. Zero means 2s.
	Step      time.Duration
	MaxJitter time.Duration

	MaxAttempts   int
	QuotaAttempts int
}

// Do runs op until it succeeds or its error class forbids further attempts.
// The returned error is nil or a *TerminalError.
func (c *Client) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	quotaAttempts := c.QuotaAttempts
	if quotaAttempts <= 0 {
		quotaAttempts = defaultQuotaAttempts
	}
	step := c.Step
	if step <= 0 {
		step = defaultStep
	}
	maxJitter := c.MaxJitter
	if maxJitter < 0 {
		maxJitter = defaultMaxJitter
	}

	attempts := 0
	lastDelay := time.Duration(0)
	var lastKind Kind
	var lastErr error

	operation := func() error {
		attempts++
		logger.Info(name+"_attempt", "attempt", attempts, "delay", lastDelay.String())
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		lastKind = Classify(err)

		ceiling := maxAttempts
		switch lastKind {
		case KindPermanent:
			ceiling = 1
		case KindQuotaExhausted:
			ceiling = quotaAttempts
		}
		if attempts >= ceiling {
			return backoff.Permanent(err)
		}
		return err
	}

	schedule := backoff.WithContext(&linearBackOff{step: step, maxJitter: maxJitter}, ctx)
	notify := func(err error, delay time.Duration) {
		lastDelay = delay
		logger.Warn(name+"_retry_scheduled",
			"attempt", attempts,
			"kind", Classify(err).String(),
			"delay", delay.String(),
			"error", err.Error(),
		)
	}

	if err := backoff.RetryNotify(operation, schedule, notify); err != nil {
		if lastErr == nil {
			lastErr = err
			lastKind = Classify(err)
		}
		logger.Error(name+"_failed",
			"attempts", attempts,
			"kind", lastKind.String(),
			"error", lastErr.Error(),
		)
		notified := false
		if c.Notifier != nil {
			c.Notifier.NotifyFailure(ctx, lastKind, UserMessage(lastKind))
			notified = true
		}
		return &TerminalError{Kind: lastKind, UserNotified: notified, Err: lastErr}
	}
	return nil
}

// UserMessage is the short, fixed notice shown to the end user for a terminal
// failure of the given class. Never includes provider error text.
func UserMessage(kind Kind) string {
	switch kind {
	case KindQuotaExhausted:
		return "The analysis service is out of capacity right now. Please try again later."
	case KindPermanent:
		return "I couldn't process that message. Please try a different one."
	default:
		return "I couldn't reach the analysis service just now. Please try again in a minute."
	}
}

// linearBackOff waits step, 2*step, 3*step... plus jitter. Attempt ceilings
// are enforced by the caller, so it never returns Stop on its own.
type linearBackOff struct {
	step      time.Duration
	maxJitter time.Duration
	n         int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := time.Duration(b.n) * b.step
	if b.maxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.maxJitter)))
	}
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }
