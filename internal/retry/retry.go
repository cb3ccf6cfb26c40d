// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy bounds the attempts of an operation. The wait before attempt n+1 is
// Min*2^(n-1), clamped to [Min, Max].
type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

// Default is three attempts waiting between 2 and 10 seconds.
var Default = Policy{Attempts: 3, Min: 2 * time.Second, Max: 10 * time.Second}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried.
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

// Backoff returns the wait before the given retry (1 for the first retry).
func (p Policy) Backoff(retry int) time.Duration {
	d := p.Min
	for i := 1; i < retry && d < p.Max; i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// spent or ctx is done. The last error is returned unwrapped from Permanent.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		slog.Warn("retrying after failure", "op", op, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}
