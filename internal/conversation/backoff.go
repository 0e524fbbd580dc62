package conversation

import (
	"context"
	"time"
)

// maxBackoffShift keeps Delay from overflowing.
const maxBackoffShift = 16

// Delay is the wait before attempt (zero based): unit * 2^attempt.
func Delay(attempt int, unit time.Duration) time.Duration {
	if attempt <= 0 {
		return unit
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return unit << uint(attempt)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryState is the lifecycle of a bounded retry loop.
type RetryState int

const (
	Attempting RetryState = iota
	Succeeded
	Exhausted
)

func (s RetryState) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Retry drives at most attempts tries, sleeping Delay(n, unit) before try n.
//
//	r := NewRetry(3, time.Second, Sleep)
//	for r.Next(ctx) {
//		if err := try(); err == nil {
//			r.Succeed()
//		}
//	}
type Retry struct {
	attempts int
	unit     time.Duration
	sleep    SleepFunc

	attempt int
	state   RetryState
	err     error
}

func NewRetry(attempts int, unit time.Duration, sleep SleepFunc) *Retry {
	if sleep == nil {
		sleep = Sleep
	}
	return &Retry{attempts: attempts, unit: unit, sleep: sleep}
}

// Next waits for the next attempt. It returns false once the loop succeeded,
// ran out of attempts or ctx was cancelled (see Err).
func (r *Retry) Next(ctx context.Context) bool {
	if r.state != Attempting {
		return false
	}
	if r.attempt >= r.attempts {
		r.state = Exhausted
		return false
	}
	if err := r.sleep(ctx, Delay(r.attempt, r.unit)); err != nil {
		r.err = err
		r.state = Exhausted
		return false
	}
	r.attempt++
	return true
}

// Succeed ends the loop.
func (r *Retry) Succeed() {
	r.state = Succeeded
}

func (r *Retry) State() RetryState { return r.state }

// Attempt is the number of attempts started so far.
func (r *Retry) Attempt() int { return r.attempt }

// Err is the context error that interrupted a backoff, if any.
func (r *Retry) Err() error { return r.err }
