// Helpers for retrying remote calls with a linearly growing delay.
package boff

import (
	"context"
	"swap-metrics-indexer/logger"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Linear waits base*n before the (n+1)-th attempt.
type Linear struct {
	Base    time.Duration
	attempt int64
}

func NewLinear(base time.Duration) *Linear {
	return &Linear{Base: base}
}

func (l *Linear) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.Base
}

func (l *Linear) Reset() {
	l.attempt = 0
}

// Policy bounds a retried operation. MaxTries counts every attempt,
// including the first one.
type Policy struct {
	MaxTries uint
	Delay    time.Duration
}

func Retry[T any](ctx context.Context, policy Policy, operation func() (T, error), name string) (T, error) {
	maxTries := policy.MaxTries
	if maxTries == 0 {
		maxTries = 1
	}

	return backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(NewLinear(policy.Delay)),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(0), // 0 means no max elapsed time
		backoff.WithNotify(
			func(err error, d time.Duration) {
				logger.Debug("%s error: %s - retrying after %v", name, err, d)
			},
		),
	)
}

func RetryNoReturn(ctx context.Context, policy Policy, operation func() error, name string) error {
	_, err := Retry(
		ctx,
		policy,
		func() (struct{}, error) {
			return struct{}{}, operation()
		},
		name,
	)

	return err
}
