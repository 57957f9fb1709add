// Package retry provides exponential backoff for the two places the relay
// retries: transient accept failures and dialling the reverse-tunnel
// gateway.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  [Backoff.Do] returns the inner
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements exponential backoff with optional jitter.  The zero
// value is usable: 1s initial delay, x2, capped at 60s, unlimited tries.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts counts the first try.  0 means retry until the context
	// is cancelled.
	MaxAttempts int
	// Jitter adds ±25% randomisation.
	Jitter bool
}

// DefaultBackoff is used for the SSH gateway dial.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// AcceptBackoff mirrors net/http's accept loop: 5ms doubling up to 1s.
func AcceptBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

func (b *Backoff) initialDelay() time.Duration {
	if b.InitialDelay <= 0 {
		return time.Second
	}
	return b.InitialDelay
}

func (b *Backoff) maxDelay() time.Duration {
	if b.MaxDelay <= 0 {
		return 60 * time.Second
	}
	return b.MaxDelay
}

func (b *Backoff) factor() float64 {
	if b.Multiplier <= 0 {
		return 2.0
	}
	return b.Multiplier
}

// Delay returns the wait before retry number attempt (1-based), without
// jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.initialDelay()) * math.Pow(b.factor(), float64(attempt-1))
	if d > float64(b.maxDelay()) {
		return b.maxDelay()
	}
	return time.Duration(d)
}

// Wait sleeps for the delay of the given attempt, or until ctx is done.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	wait := b.Delay(attempt)
	if b.Jitter {
		wait = addJitter(wait)
	}
	return Sleep(ctx, wait)
}

// Do executes fn until it succeeds, returns a permanent error, or the
// attempt budget or context is exhausted.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, err)
		}
		if werr := b.Wait(ctx, attempt); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// Sleep pauses for d or until ctx is done, whichever comes first.  A
// non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
