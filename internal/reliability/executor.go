package reliability

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Policy controls how many attempts a call gets and how the wait between
// attempts grows per failure class.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	RateLimitFactor float64
	NetworkFactor   float64
}

// DefaultPolicy matches the provider's observed throttling behavior:
// rate limits back off harder than transient network blips.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       2 * time.Second,
		RateLimitFactor: 2,
		NetworkFactor:   1.5,
	}
}

// Delay returns the wait before retrying after the given failed attempt
// (1-based). Non-retryable classes get no delay because they get no retry.
func (p Policy) Delay(class Classification, attempt int) time.Duration {
	var factor float64
	switch class {
	case ClassRateLimited:
		factor = p.RateLimitFactor
	case ClassNetwork:
		factor = p.NetworkFactor
	default:
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	return time.Duration(d)
}

// Operation is a single provider call attempt.
type Operation func(ctx context.Context) error

// FinalError is the terminal outcome of a failed Run. It carries the
// classification, the attempt count, and the user-facing message.
type FinalError struct {
	Class       Classification
	Attempts    int
	UserMessage string
	Err         error
}

func (e *FinalError) Error() string {
	return fmt.Sprintf("call failed after %d attempt(s) (%s): %v", e.Attempts, e.Class, e.Err)
}

func (e *FinalError) Unwrap() error { return e.Err }

// Executor runs provider calls under the retry policy and keeps the
// health monitor in sync with every final outcome.
type Executor struct {
	policy Policy
	health *HealthMonitor
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor over the given policy and monitor.
func NewExecutor(policy Policy, health *HealthMonitor) *Executor {
	return &Executor{
		policy: policy,
		health: health,
		sleep:  sleepCtx,
	}
}

// Run invokes op until it succeeds, a non-retryable failure occurs, the
// attempt budget runs out, or ctx is cancelled. On failure it returns a
// *FinalError; the last attempt's classification decides the class.
func (e *Executor) Run(ctx context.Context, op Operation) error {
	var lastErr error
	var lastClass Classification
	attempts := 0

	for attempts < e.policy.MaxAttempts {
		attempts++
		err := op(ctx)
		if err == nil {
			e.health.publish(StatusNormal)
			return nil
		}
		lastErr = err
		lastClass = Classify(err)
		if !lastClass.Retryable() || attempts >= e.policy.MaxAttempts {
			break
		}
		delay := e.policy.Delay(lastClass, attempts)
		log.Printf("reliability: attempt %d/%d failed (%s), retrying in %s: %v",
			attempts, e.policy.MaxAttempts, lastClass, delay, err)
		// Cancellation during the wait ends the loop; the last provider
		// failure still decides the class and message.
		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	if lastClass == ClassRateLimited {
		e.health.publish(StatusRateLimited)
	} else {
		e.health.publish(StatusError)
	}
	return &FinalError{
		Class:       lastClass,
		Attempts:    attempts,
		UserMessage: UserMessage(lastClass, lastErr),
		Err:         lastErr,
	}
}

// Health exposes the monitor for status reporting.
func (e *Executor) Health() *HealthMonitor { return e.health }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
