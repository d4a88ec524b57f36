// Package retry runs an operation with bounded exponential backoff on
// transient failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop. Attempts counts the first try.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration

	// After is used to wait between attempts. Defaults to a real timer.
	After func(time.Duration) <-chan time.Time
}

// Default retries starting at 500ms, doubling up to 8s.
func Default(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: 500 * time.Millisecond, Max: 8 * time.Second}
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()
	return b
}

// Backoff returns the wait before the given retry (1-based).
func (p Policy) Backoff(retry int) time.Duration {
	b := p.exponential()
	var d time.Duration
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	return d
}

// afterTimer adapts Policy.After to backoff.Timer.
type afterTimer struct {
	after func(time.Duration) <-chan time.Time
	c     <-chan time.Time
}

func (t *afterTimer) Start(d time.Duration) { t.c = t.after(d) }
func (t *afterTimer) Stop() {}
func (t *afterTimer) C() <-chan time.Time { return t.c }

// Do calls fn until it succeeds, returns an error transient rejects, or the
// attempt budget runs out. The last error is returned. Context cancellation
// stops the loop between attempts.
func Do(ctx context.Context, p Policy, op string, transient func(error) bool, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.exponential()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "transient failure, retrying",
				"op", op,
				"error", err,
				"backoff", next,
			)
		}),
	}
	if p.After != nil {
		opts = append(opts, backoff.WithTimer(&afterTimer{after: p.After}))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !transient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
