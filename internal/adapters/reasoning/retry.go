package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/retry"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
)

// DefaultCallTimeout bounds a single reasoning attempt.
const DefaultCallTimeout = 60 * time.Second

// Retrying retries failed calls of another service with exponential backoff.
type Retrying struct {
	next    ports.ReasoningService
	policy  retry.Policy
	timeout time.Duration
}

// NewRetrying wraps next. Zero values select retry.Default and
// DefaultCallTimeout.
func NewRetrying(next ports.ReasoningService, policy retry.Policy, timeout time.Duration) *Retrying {
	if policy.Attempts == 0 {
		policy = retry.Default
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Retrying{next: next, policy: policy, timeout: timeout}
}

func (r *Retrying) Reason(ctx context.Context, req ports.ReasoningRequest, out any) error {
	err := retry.Do(ctx, r.policy, "reasoning."+string(req.Task), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.next.Reason(callCtx, req, out)
	})
	if err == nil {
		return nil
	}

	telemetry.ReasoningFailures.WithLabelValues(string(req.Task)).Inc()
	slog.Error("reasoning call exhausted retries", "task", req.Task, "attempts", r.policy.Attempts, "error", err)
	if errors.Is(err, ports.ErrReasoningFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ports.ErrReasoningFailed, req.Task, err)
}
