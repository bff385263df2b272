package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/timeutil"
)

// Retrying retries failed batches on the same request. Backoff doubles
// after every failed attempt. Context errors are never retried.
type Retrying struct {
	next     Planner
	attempts int
	backoff  time.Duration
	clock    timeutil.Clock
}

// NewRetrying wraps next. attempts is the total number of calls (minimum
// 1); a nil clock uses the real clock.
func NewRetrying(next Planner, attempts int, backoff time.Duration, clock timeutil.Clock) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, clock: clock}
}

// Plan implements Planner.
func (r *Retrying) Plan(ctx context.Context, req Request) ([][]PlanAttempt, error) {
	var err error
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var plans [][]PlanAttempt
		plans, err = r.next.Plan(ctx, req)
		if err == nil {
			return plans, nil
		}
		if ctx.Err() != nil || attempt == r.attempts {
			break
		}

		monitoring.Logf("[planner] attempt %d/%d failed: %v; retrying in %s", attempt, r.attempts, err, delay)
		if sleepErr := r.clock.Sleep(ctx, delay); sleepErr != nil {
			break
		}
		delay *= 2
	}

	var oe *OracleError
	if !errors.As(err, &oe) {
		err = &OracleError{Transport: "planner", Err: err}
	}
	if r.attempts > 1 {
		return nil, fmt.Errorf("motion planning failed after %d attempts: %w", r.attempts, err)
	}
	return nil, err
}

// RateLimited caps the rate of planner calls. One limiter is shared by
// every caller of the wrapper.
type RateLimited struct {
	next    Planner
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
func NewRateLimited(next Planner, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Plan implements Planner.
func (r *RateLimited) Plan(ctx context.Context, req Request) ([][]PlanAttempt, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("planner rate limit: %w", err)
	}
	return r.next.Plan(ctx, req)
}
